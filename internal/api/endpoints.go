package api

import (
	"context"
	"net/url"

	"github.com/flutter-oauth/flutter/internal/signing"
	"github.com/rs/zerolog/log"
)

const (
	VerifyCredentialsPath = "account/verify_credentials.json"
	MentionsTimelinePath  = "statuses/mentions_timeline.json"
	UsersLookupPath       = "users/lookup.json"
	SearchTweetsPath      = "search/tweets.json"
)

// Verify returns the account of the authenticated user.
func (f *Fetcher) Verify(ctx context.Context, creds signing.Credentials) (any, error) {
	log.Ctx(ctx).Debug().Msg("verifying credentials")
	return f.Fetch(ctx, VerifyCredentialsPath, nil, creds)
}

// Mentions returns the mentions timeline of the authenticated user.
func (f *Fetcher) Mentions(ctx context.Context, creds signing.Credentials, params url.Values) (any, error) {
	log.Ctx(ctx).Debug().Msg("getting mentions")
	return f.Fetch(ctx, MentionsTimelinePath, params, creds)
}

// Users looks up user details, typically by screen_name or user_id.
func (f *Fetcher) Users(ctx context.Context, creds signing.Credentials, params url.Values) (any, error) {
	log.Ctx(ctx).Debug().Msg("getting user details")
	return f.Fetch(ctx, UsersLookupPath, params, creds)
}

// Search runs a tweet search, typically with the q parameter.
func (f *Fetcher) Search(ctx context.Context, creds signing.Credentials, params url.Values) (any, error) {
	log.Ctx(ctx).Debug().Msg("searching")
	return f.Fetch(ctx, SearchTweetsPath, params, creds)
}
