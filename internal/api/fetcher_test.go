package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/flutter-oauth/flutter/internal/api"
	"github.com/flutter-oauth/flutter/internal/audit"
	"github.com/flutter-oauth/flutter/internal/cache"
	"github.com/flutter-oauth/flutter/internal/signing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const prefix = "flutter:"

var creds = signing.Credentials{Token: "tok", Secret: "sec"}

// fakeGetter returns a canned response and records the URLs requested.
type fakeGetter struct {
	body   string
	header http.Header
	err    error
	urls   []string
}

func (g *fakeGetter) Get(_ context.Context, rawURL string, c signing.Credentials) ([]byte, http.Header, error) {
	g.urls = append(g.urls, rawURL)
	if g.err != nil {
		return nil, nil, g.err
	}
	return []byte(g.body), g.header, nil
}

func (g *fakeGetter) calls() int {
	return len(g.urls)
}

// brokenCache fails every operation.
type brokenCache struct {
	sets int
}

func (b *brokenCache) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("cache down")
}
func (b *brokenCache) Set(context.Context, string, string) error {
	b.sets++
	return errors.New("cache down")
}
func (b *brokenCache) Invalidate(context.Context, string) error { return nil }
func (b *brokenCache) Close() error                            { return nil }

func memoryCache(t *testing.T) *cache.Memory[string] {
	t.Helper()
	c, err := cache.NewMemory[string](time.Minute, 100)
	require.NoError(t, err)
	return c
}

func cachedFetcher(t *testing.T, g api.Getter) (*api.Fetcher, *cache.Memory[string]) {
	t.Helper()
	c := memoryCache(t)
	return api.NewFetcher(g, api.WithCache(c, prefix)), c
}

func TestURL(t *testing.T) {
	f := api.NewFetcher(&fakeGetter{})

	cases := []struct {
		name     string
		params   url.Values
		expected string
	}{
		{name: "nil params", params: nil, expected: "https://api.twitter.com/1.1/search/tweets.json"},
		{name: "empty params", params: url.Values{}, expected: "https://api.twitter.com/1.1/search/tweets.json"},
		{name: "single param", params: url.Values{"q": {"test"}}, expected: "https://api.twitter.com/1.1/search/tweets.json?q=test"},
		{name: "escaped", params: url.Values{"q": {"a b&c"}}, expected: "https://api.twitter.com/1.1/search/tweets.json?q=a+b%26c"},
		{name: "multiple", params: url.Values{"q": {"x"}, "count": {"5"}}, expected: "https://api.twitter.com/1.1/search/tweets.json?count=5&q=x"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, f.URL(api.SearchTweetsPath, tc.params))
		})
	}
}

func TestFetch_SearchScenario(t *testing.T) {
	g := &fakeGetter{body: `{"statuses":[]}`}
	f, c := cachedFetcher(t, g)
	ctx := context.Background()

	value, err := f.Fetch(ctx, "search/tweets.json", url.Values{"q": {"test"}}, creds)

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"statuses": []any{}}, value)

	fullURL := "https://api.twitter.com/1.1/search/tweets.json?q=test"
	assert.Equal(t, []string{fullURL}, g.urls)

	stored, found, err := c.Get(ctx, prefix+"tok."+fullURL)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"statuses":[]}`, stored)
}

func TestFetch_CachedWithinTTL(t *testing.T) {
	g := &fakeGetter{body: `[{"id":1,"text":"hello"}]`}
	f, _ := cachedFetcher(t, g)
	ctx := context.Background()
	params := url.Values{"count": {"1"}}

	first, err := f.Fetch(ctx, api.MentionsTimelinePath, params, creds)
	require.NoError(t, err)

	second, err := f.Fetch(ctx, api.MentionsTimelinePath, params, creds)
	require.NoError(t, err)

	assert.Equal(t, 1, g.calls())
	assert.Equal(t, first, second)
}

func TestFetch_CacheIsPerToken(t *testing.T) {
	g := &fakeGetter{body: `{"id":1}`}
	f, _ := cachedFetcher(t, g)
	ctx := context.Background()

	_, err := f.Fetch(ctx, api.VerifyCredentialsPath, nil, creds)
	require.NoError(t, err)

	_, err = f.Fetch(ctx, api.VerifyCredentialsPath, nil, signing.Credentials{Token: "other", Secret: "sec"})
	require.NoError(t, err)

	assert.Equal(t, 2, g.calls())
}

func TestFetch_CacheDisabled(t *testing.T) {
	g := &fakeGetter{body: `{"id":1}`}
	f := api.NewFetcher(g)
	ctx := context.Background()

	assert.False(t, f.CacheEnabled())

	for range 3 {
		value, err := f.Fetch(ctx, api.VerifyCredentialsPath, nil, creds)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"id": float64(1)}, value)
	}

	assert.Equal(t, 3, g.calls())
}

func TestFetch_CacheFailuresFallThrough(t *testing.T) {
	t.Run("read and write errors", func(t *testing.T) {
		g := &fakeGetter{body: `{"id":1}`}
		broken := &brokenCache{}
		f := api.NewFetcher(g, api.WithCache(broken, prefix))

		value, err := f.Fetch(context.Background(), api.VerifyCredentialsPath, nil, creds)

		require.NoError(t, err)
		assert.Equal(t, map[string]any{"id": float64(1)}, value)
		assert.Equal(t, 1, g.calls())
		assert.Equal(t, 1, broken.sets)
	})

	t.Run("invalid cached JSON", func(t *testing.T) {
		g := &fakeGetter{body: `{"id":2}`}
		f, c := cachedFetcher(t, g)
		ctx := context.Background()

		key := f.Key("tok", f.URL(api.VerifyCredentialsPath, nil))
		require.NoError(t, c.Set(ctx, key, "{not json"))

		value, err := f.Fetch(ctx, api.VerifyCredentialsPath, nil, creds)

		require.NoError(t, err)
		assert.Equal(t, map[string]any{"id": float64(2)}, value)
		assert.Equal(t, 1, g.calls())

		stored, _, _ := c.Get(ctx, key)
		assert.Equal(t, `{"id":2}`, stored, "live response replaces the invalid entry")
	})

	t.Run("empty cached value", func(t *testing.T) {
		g := &fakeGetter{body: `{"id":3}`}
		f, c := cachedFetcher(t, g)
		ctx := context.Background()

		require.NoError(t, c.Set(ctx, f.Key("tok", f.URL(api.VerifyCredentialsPath, nil)), ""))

		_, err := f.Fetch(ctx, api.VerifyCredentialsPath, nil, creds)
		require.NoError(t, err)
		assert.Equal(t, 1, g.calls())
	})
}

func TestRawGet_TransportErrorUnmodified(t *testing.T) {
	transportErr := &signing.StatusError{StatusCode: http.StatusUnauthorized}
	g := &fakeGetter{err: transportErr}
	f, _ := cachedFetcher(t, g)

	_, err := f.RawGet(context.Background(), "https://api.twitter.com/1.1/x.json", creds)

	assert.Same(t, transportErr, err)
}

func TestRawGet_RateLimit(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		header  string
		limited bool
	}{
		{name: "zero with valid JSON", body: `{"statuses":[]}`, header: "0", limited: true},
		{name: "zero with invalid JSON", body: `Rate limit exceeded`, header: "0", limited: true},
		{name: "zero with error object", body: `{"error":"limited"}`, header: "0", limited: true},
		{name: "zero with padding", body: `{}`, header: " 0 ", limited: true},
		{name: "zero with leading zeros", body: `{}`, header: "00", limited: true},
		{name: "remaining", body: `{"id":1}`, header: "1", limited: false},
		{name: "non numeric", body: `{"id":1}`, header: "unknown", limited: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := &fakeGetter{
				body:   tc.body,
				header: http.Header{"X-Rate-Limit-Remaining": {tc.header}},
			}
			f, c := cachedFetcher(t, g)
			ctx := context.Background()
			rawURL := f.URL(api.SearchTweetsPath, nil)

			_, err := f.RawGet(ctx, rawURL, creds)

			var limitErr *api.RateLimitError
			assert.Equal(t, tc.limited, errors.As(err, &limitErr))
			if !tc.limited {
				return
			}

			assert.Equal(t, &api.RateLimitError{LimitReached: true, Auth: tc.body}, limitErr)

			_, found, _ := c.Get(ctx, f.Key("tok", rawURL))
			assert.False(t, found, "rate limited responses are not cached")
		})
	}
}

func TestRateLimitError_JSON(t *testing.T) {
	data, err := json.Marshal(&api.RateLimitError{LimitReached: true, Auth: "body"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"limitReached":true,"auth":"body"}`, string(data))
}

func TestRawGet_InvalidJSON(t *testing.T) {
	for _, body := range []string{"<html>oops</html>", "", "null", "false", "0", `""`} {
		t.Run(body, func(t *testing.T) {
			g := &fakeGetter{body: body}
			f, c := cachedFetcher(t, g)
			ctx := context.Background()
			rawURL := f.URL(api.VerifyCredentialsPath, nil)

			value, err := f.RawGet(ctx, rawURL, creds)

			assert.Nil(t, value)
			var jsonErr *api.InvalidJSONError
			require.True(t, errors.As(err, &jsonErr))
			assert.Equal(t, "invalid json", err.Error())
			assert.Equal(t, body, jsonErr.Body)

			_, found, _ := c.Get(ctx, f.Key("tok", rawURL))
			assert.False(t, found, "invalid responses are not cached")
		})
	}
}

func TestRawGet_UpstreamErrorField(t *testing.T) {
	g := &fakeGetter{body: `{"error":"Not authorized.","request":"/1.1/x.json"}`}
	f, c := cachedFetcher(t, g)
	ctx := context.Background()
	rawURL := f.URL(api.VerifyCredentialsPath, nil)

	_, err := f.RawGet(ctx, rawURL, creds)

	var apiErr *api.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, map[string]any{"error": "Not authorized.", "request": "/1.1/x.json"}, apiErr.Payload)

	data, err := json.Marshal(apiErr)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"Not authorized.","request":"/1.1/x.json"}`, string(data))

	_, found, _ := c.Get(ctx, f.Key("tok", rawURL))
	assert.False(t, found, "error responses are not cached")
}

func TestRawGet_FalsyErrorFieldIsSuccess(t *testing.T) {
	g := &fakeGetter{body: `{"error":null,"id":1}`}
	f, _ := cachedFetcher(t, g)

	value, err := f.RawGet(context.Background(), f.URL(api.VerifyCredentialsPath, nil), creds)

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"error": nil, "id": float64(1)}, value)
}

func TestEndpoints(t *testing.T) {
	cases := []struct {
		name     string
		call     func(f *api.Fetcher) (any, error)
		expected string
	}{
		{
			name:     "verify",
			call:     func(f *api.Fetcher) (any, error) { return f.Verify(context.Background(), creds) },
			expected: "https://up.test/1.1/account/verify_credentials.json",
		},
		{
			name: "mentions",
			call: func(f *api.Fetcher) (any, error) {
				return f.Mentions(context.Background(), creds, url.Values{"count": {"10"}})
			},
			expected: "https://up.test/1.1/statuses/mentions_timeline.json?count=10",
		},
		{
			name: "users",
			call: func(f *api.Fetcher) (any, error) {
				return f.Users(context.Background(), creds, url.Values{"screen_name": {"a,b"}})
			},
			expected: "https://up.test/1.1/users/lookup.json?screen_name=a%2Cb",
		},
		{
			name: "search",
			call: func(f *api.Fetcher) (any, error) {
				return f.Search(context.Background(), creds, url.Values{"q": {"go"}})
			},
			expected: "https://up.test/1.1/search/tweets.json?q=go",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := &fakeGetter{body: `{"ok":true}`}
			f := api.NewFetcher(g, api.WithBaseURL("https://up.test/1.1"))

			_, err := tc.call(f)

			require.NoError(t, err)
			assert.Equal(t, []string{tc.expected}, g.urls)
		})
	}
}

func TestFetch_AuditEntry(t *testing.T) {
	g := &fakeGetter{body: `{"id":1}`}
	f, _ := cachedFetcher(t, g)

	ctx, entry := audit.Context(context.Background())
	_, err := f.Fetch(ctx, api.VerifyCredentialsPath, nil, creds)
	require.NoError(t, err)
	assert.Equal(t, "https://api.twitter.com/1.1/account/verify_credentials.json", entry.UpstreamURL)
	assert.False(t, entry.CacheHit)

	ctx, entry = audit.Context(context.Background())
	_, err = f.Fetch(ctx, api.VerifyCredentialsPath, nil, creds)
	require.NoError(t, err)
	assert.True(t, entry.CacheHit)
}

func TestRawGet_AuditUpstreamStatus(t *testing.T) {
	g := &fakeGetter{err: &signing.StatusError{StatusCode: http.StatusUnauthorized}}
	f := api.NewFetcher(g)

	ctx, entry := audit.Context(context.Background())
	_, err := f.RawGet(ctx, "https://up.test/x.json", creds)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, entry.UpstreamStatus)
}
