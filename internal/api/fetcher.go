// Package api reads from the upstream REST API on behalf of an authenticated
// user, with an optional read-through cache of raw responses.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/flutter-oauth/flutter/internal/audit"
	"github.com/flutter-oauth/flutter/internal/cache"
	"github.com/flutter-oauth/flutter/internal/signing"
	"github.com/rs/zerolog/log"
)

// DefaultBaseURL is the root of the upstream REST API. Paths given to Fetch
// are relative to it.
const DefaultBaseURL = "https://api.twitter.com/1.1/"

// RateLimitRemainingHeader reports the requests left in the current window.
const RateLimitRemainingHeader = "X-Rate-Limit-Remaining"

// Getter performs a signed GET, returning the body and response headers.
type Getter interface {
	Get(ctx context.Context, url string, creds signing.Credentials) ([]byte, http.Header, error)
}

// Fetcher reads from the upstream API. Responses are cached by credentials
// token and URL when a cache is configured.
//
// Concurrent identical fetches are not coalesced: each misses the cache
// independently and contacts the upstream.
type Fetcher struct {
	getter  Getter
	cache   cache.Cache[string]
	prefix  string
	baseURL string
}

type FetcherOption func(*Fetcher)

// WithCache enables response caching. The cache TTL is the cache duration.
func WithCache(c cache.Cache[string], prefix string) FetcherOption {
	return func(f *Fetcher) {
		f.cache = c
		f.prefix = prefix
	}
}

// WithBaseURL overrides DefaultBaseURL, used for testing.
func WithBaseURL(baseURL string) FetcherOption {
	return func(f *Fetcher) {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		f.baseURL = baseURL
	}
}

func NewFetcher(getter Getter, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		getter:  getter,
		baseURL: DefaultBaseURL,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// CacheEnabled reports whether responses are cached.
func (f *Fetcher) CacheEnabled() bool {
	return f.cache != nil
}

// Key is the cache key for a URL fetched with the given token.
func (f *Fetcher) Key(token, rawURL string) string {
	return f.prefix + token + "." + rawURL
}

// URL builds the absolute URL for a path. The query string is only added
// when params is non-empty.
func (f *Fetcher) URL(path string, params url.Values) string {
	u := f.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// Fetch reads the path from the upstream API, answering from the cache when
// possible. Cache failures of any kind fall through to a live read.
func (f *Fetcher) Fetch(ctx context.Context, path string, params url.Values, creds signing.Credentials) (any, error) {
	rawURL := f.URL(path, params)
	logger := log.Ctx(ctx).With().Str("path", path).Logger()

	if f.cache == nil {
		logger.Debug().Msg("cache disabled")
		return f.RawGet(ctx, rawURL, creds)
	}

	cached, found, err := f.cache.Get(ctx, f.Key(creds.Token, rawURL))
	if err != nil {
		logger.Debug().Err(err).Msg("cache read failed, fetching")
		return f.RawGet(ctx, rawURL, creds)
	}
	if !found || cached == "" {
		logger.Debug().Msg("not cached")
		return f.RawGet(ctx, rawURL, creds)
	}

	value, ok := parse([]byte(cached))
	if !ok {
		logger.Debug().Msg("invalid cached response, fetching")
		return f.RawGet(ctx, rawURL, creds)
	}

	logger.Debug().Msg("cache hit")
	entry := audit.Log(ctx)
	entry.UpstreamURL = rawURL
	entry.CacheHit = true

	return value, nil
}

// RawGet performs a single signed GET of the URL. Failures are reported as:
//
//   - the transport error, unmodified
//   - *RateLimitError when the remaining rate limit is zero
//   - *InvalidJSONError when the body is not a usable JSON value
//   - *APIError when the parsed body has an "error" field
//
// Only successful responses are cached. A failed cache write is logged and
// otherwise ignored.
func (f *Fetcher) RawGet(ctx context.Context, rawURL string, creds signing.Credentials) (any, error) {
	logger := log.Ctx(ctx)
	entry := audit.Log(ctx)
	entry.UpstreamURL = rawURL

	body, header, err := f.getter.Get(ctx, rawURL, creds)
	if err != nil {
		var statusErr *signing.StatusError
		if errors.As(err, &statusErr) {
			entry.UpstreamStatus = statusErr.StatusCode
		}
		logger.Debug().Err(err).Msg("error getting data")
		return nil, err
	}

	// the limit takes precedence: a limited response may still be valid JSON
	if rateLimitExhausted(header) {
		entry.RateLimited = true
		logger.Info().Msg("rate limit reached")
		return nil, newRateLimitError(body)
	}

	value, ok := parse(body)
	if !ok {
		logger.Debug().Msg("invalid json")
		return nil, &InvalidJSONError{Body: string(body)}
	}

	if obj, isObject := value.(map[string]any); isObject && truthy(obj["error"]) {
		logger.Debug().Msg("error found in response")
		return nil, &APIError{Payload: obj}
	}

	if f.cache != nil {
		if err := f.cache.Set(ctx, f.Key(creds.Token, rawURL), string(body)); err != nil {
			logger.Debug().Err(err).Msg("cache write failed")
		}
	}

	return value, nil
}

// rateLimitExhausted reports whether the remaining count header is present
// and numerically zero. Values that are not integers are ignored.
func rateLimitExhausted(header http.Header) bool {
	if header == nil {
		return false
	}

	values := header.Values(RateLimitRemainingHeader)
	if len(values) == 0 {
		return false
	}

	remaining, err := strconv.ParseInt(strings.TrimSpace(values[0]), 10, 64)
	return err == nil && remaining == 0
}

// parse decodes a JSON body. Bodies that decode to a falsy value (null,
// false, 0 or "") are not usable.
func parse(body []byte) (any, bool) {
	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return nil, false
	}
	return value, truthy(value)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}
