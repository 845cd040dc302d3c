package audit

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level is the level audit entries are written at. It sorts above every
// standard level so audit output cannot be filtered away.
const Level = zerolog.Level(20)

const levelName = "audit"

func init() {
	marshal := zerolog.LevelFieldMarshalFunc
	zerolog.LevelFieldMarshalFunc = func(l zerolog.Level) string {
		if l == Level {
			return levelName
		}
		return marshal(l)
	}
}

// Entry is the audit record for a single request. Handlers enrich it as the
// request proceeds; the middleware writes it once the response is complete.
type Entry struct {
	Method    string
	Path      string
	Status    int
	SourceIP  string
	UserAgent string

	// FlowStep names the OAuth handshake step handled, if any.
	FlowStep      string
	SessionStage  string
	Authenticated bool
	ScreenName    string
	UserID        string

	UpstreamURL    string
	UpstreamStatus int
	CacheHit       bool
	RateLimited    bool

	Error string
}

func (e *Entry) MarshalZerologObject(event *zerolog.Event) {
	event.Dict("request", zerolog.Dict().
		Str("method", e.Method).
		Str("path", e.Path).
		Int("status", e.Status).
		Str("sourceIP", e.SourceIP).
		Str("userAgent", e.UserAgent),
	)

	session := NewOptionalEvent(nil).
		Str("flowStep", e.FlowStep).
		Str("stage", e.SessionStage).
		Str("screenName", e.ScreenName).
		Str("userID", e.UserID)
	if e.Authenticated {
		session.Bool("authenticated", true)
	}
	session.Set(event, "session")

	upstream := NewOptionalEvent(nil).
		Str("url", e.UpstreamURL).
		Int("status", e.UpstreamStatus)
	if e.UpstreamURL != "" {
		upstream.Bool("cacheHit", e.CacheHit).Bool("rateLimited", e.RateLimited)
	}
	upstream.Set(event, "upstream")

	if e.Error != "" {
		event.Str("error", e.Error)
	}
}

// Begin captures the request details.
func (e *Entry) Begin(r *http.Request) {
	e.Method = r.Method
	e.Path = r.URL.Path
	e.UserAgent = r.UserAgent()
	e.SourceIP = sourceIP(r)
}

// End returns a function that writes the entry. Deferring the result inside
// a request ensures the entry is written when the handler panics.
func (e *Entry) End(ctx context.Context) func() {
	return func() {
		if p := recover(); p != nil {
			if e.Error != "" {
				e.Error += "; "
			}
			e.Error += fmt.Sprintf("panic: %v", p)
			e.write(ctx)
			panic(p)
		}
		e.write(ctx)
	}
}

func (e *Entry) write(ctx context.Context) {
	if e.Status == 0 {
		e.Status = http.StatusOK
	}
	log.Ctx(ctx).WithLevel(Level).EmbedObject(e).Msg("audit")
}

type contextKey struct{}

// Context returns the audit entry for the context, creating and attaching a
// new entry when none is present.
func Context(ctx context.Context) (context.Context, *Entry) {
	if e, ok := ctx.Value(contextKey{}).(*Entry); ok {
		return ctx, e
	}
	e := &Entry{}
	return context.WithValue(ctx, contextKey{}, e), e
}

// Log returns the audit entry for the context. Outside of the middleware a
// detached entry is returned, so callers never need to check for nil.
func Log(ctx context.Context) *Entry {
	_, e := Context(ctx)
	return e
}

// Middleware attaches an audit entry to each request and writes it once the
// wrapped handler returns.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, entry := Context(r.Context())
			entry.Begin(r)
			defer entry.End(ctx)()

			rec := &statusRecorder{ResponseWriter: w, entry: entry}
			next.ServeHTTP(rec, r.WithContext(ctx))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	entry *Entry
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.entry.Status == 0 {
		s.entry.Status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.entry.Status == 0 {
		s.entry.Status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func sourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
