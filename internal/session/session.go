// Package session keeps per-user OAuth state between requests. Sessions are
// identified by a signed cookie and their data is held in a cache.Cache, so
// they live exactly as long as the configured session TTL.
package session

import (
	"context"
	"fmt"
	"net/http"

	"github.com/flutter-oauth/flutter/internal/signing"
)

// Stage describes how far through the OAuth handshake a session is.
type Stage int

const (
	// StageStart: neither a request token nor credentials are held.
	StageStart Stage = iota
	// StageRequestTokenObtained: a request token awaits authorization.
	StageRequestTokenObtained
	// StageAccessTokenObtained: the session holds access credentials.
	StageAccessTokenObtained
)

func (s Stage) String() string {
	switch s {
	case StageStart:
		return "start"
	case StageRequestTokenObtained:
		return "request-token-obtained"
	case StageAccessTokenObtained:
		return "access-token-obtained"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// RequestTokenPending is the temporary token issued at the start of the
// handshake. It is consumed by the access token exchange.
type RequestTokenPending struct {
	RequestToken       string `json:"requestToken"`
	RequestTokenSecret string `json:"requestTokenSecret"`
}

// Data is the persisted form of a session. A nil field is an absent value.
type Data struct {
	Pending     *RequestTokenPending `json:"pending,omitempty"`
	Credentials *signing.Credentials `json:"credentials,omitempty"`
}

// Session is the state for a single user. It is not safe for concurrent
// use: callers serialize operations on the same session.
type Session struct {
	id        string
	data      Data
	store     *Store
	destroyed bool
}

func (s *Session) ID() string {
	return s.id
}

// Stage reports the handshake stage derived from the data held.
func (s *Session) Stage() Stage {
	switch {
	case s.data.Credentials != nil:
		return StageAccessTokenObtained
	case s.data.Pending != nil:
		return StageRequestTokenObtained
	default:
		return StageStart
	}
}

// Pending returns the pending request token, if one is held.
func (s *Session) Pending() (RequestTokenPending, bool) {
	if s.data.Pending == nil {
		return RequestTokenPending{}, false
	}
	return *s.data.Pending, true
}

func (s *Session) SetPending(p RequestTokenPending) {
	s.data.Pending = &p
}

// TakePending returns the pending request token and removes it from the
// session, so it can be used at most once.
func (s *Session) TakePending() (RequestTokenPending, bool) {
	p, ok := s.Pending()
	s.data.Pending = nil
	return p, ok
}

// Credentials returns the access credentials, if the handshake completed.
func (s *Session) Credentials() (signing.Credentials, bool) {
	if s.data.Credentials == nil {
		return signing.Credentials{}, false
	}
	return *s.data.Credentials, true
}

func (s *Session) SetCredentials(c signing.Credentials) {
	s.data.Credentials = &c
}

// Save persists the session data.
func (s *Session) Save(ctx context.Context) error {
	if s.destroyed {
		return fmt.Errorf("session %s has been destroyed", s.id)
	}
	return s.store.save(ctx, s)
}

// Renew moves the session data to a new identifier and sets a cookie naming
// it on w. The entry under the previous identifier is removed. On error the
// session keeps its previous identifier.
func (s *Session) Renew(ctx context.Context, w http.ResponseWriter) error {
	if s.destroyed {
		return fmt.Errorf("session %s has been destroyed", s.id)
	}
	return s.store.renew(ctx, w, s)
}

// ExpireCookie sets a cookie on w that makes the client drop its session
// cookie.
func (s *Session) ExpireCookie(w http.ResponseWriter) {
	s.store.expireCookie(w)
}

// Destroy removes the session from the store. If the store fails the
// session is left unchanged and the error returned.
func (s *Session) Destroy(ctx context.Context) error {
	if err := s.store.destroy(ctx, s); err != nil {
		return err
	}
	s.data = Data{}
	s.destroyed = true
	return nil
}

type sessionContextKey struct{}

// ContextWithSession returns a context carrying the session. The middleware
// does this for each request; it is exported for tests.
func ContextWithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// FromContext returns the session for the request, or nil if the session
// middleware did not run.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionContextKey{}).(*Session)
	return s
}

// RequireFromContext returns the session for the request and panics if it is
// absent, which only happens when used outside of the session middleware.
func RequireFromContext(ctx context.Context) *Session {
	s := FromContext(ctx)
	if s == nil {
		panic("session not present in context, likely used outside of the session middleware")
	}
	return s
}
