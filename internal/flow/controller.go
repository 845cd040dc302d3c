// Package flow drives the three-legged OAuth 1.0A handshake: obtaining a
// request token, exchanging it for access credentials once the user has
// authorized, and discarding them on logout. State between the steps is kept
// in the request session.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/flutter-oauth/flutter/internal/audit"
	"github.com/flutter-oauth/flutter/internal/session"
	"github.com/flutter-oauth/flutter/internal/signing"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNoPendingRequestToken is reported by Auth when the session holds no
	// request token, e.g. the callback was replayed or Connect never ran.
	ErrNoPendingRequestToken = errors.New("no pending request token in session")

	// ErrAuthorizationDenied is reported by Auth when the user declined.
	ErrAuthorizationDenied = errors.New("authorization denied by user")

	// ErrRequestTokenMismatch is reported by Auth when the callback names a
	// request token other than the one issued to this session.
	ErrRequestTokenMismatch = errors.New("callback request token does not match session")
)

// TokenIssuer performs the signed token requests of the handshake.
type TokenIssuer interface {
	RequestToken(ctx context.Context) (token, secret string, err error)
	AccessToken(ctx context.Context, requestToken, requestSecret, verifier string) (signing.Credentials, url.Values, error)
	AuthenticateURL(requestToken string) string
}

// Outcome is the result of a handshake step, passed to the callbacks and
// attached to the request context.
type Outcome struct {
	// Err is set when the step failed.
	Err error

	// RequestToken is the token obtained by Connect.
	RequestToken string

	// Extra holds the non-credential values of the access token response,
	// such as user_id and screen_name.
	Extra url.Values
}

type outcomeContextKey struct{}

func ContextWithOutcome(ctx context.Context, o Outcome) context.Context {
	return context.WithValue(ctx, outcomeContextKey{}, o)
}

// OutcomeFromContext returns the outcome of the handshake step handled by
// the current request.
func OutcomeFromContext(ctx context.Context) (Outcome, bool) {
	o, ok := ctx.Value(outcomeContextKey{}).(Outcome)
	return o, ok
}

// Controller serves the handshake routes. Handlers require the session
// middleware.
type Controller struct {
	issuer TokenIssuer
	opts   Options
}

func NewController(issuer TokenIssuer, opts Options) *Controller {
	return &Controller{
		issuer: issuer,
		opts:   opts,
	}
}

// Connect obtains a request token and stores it in the session. Unless the
// connect callback responds itself, the user is redirected to authenticate.
func (c *Controller) Connect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := session.RequireFromContext(ctx)
	entry := audit.Log(ctx)
	entry.FlowStep = "connect"

	token, secret, err := c.issuer.RequestToken(ctx)
	if err == nil {
		sess.SetPending(session.RequestTokenPending{RequestToken: token, RequestTokenSecret: secret})
		err = sess.Save(ctx)
	}
	entry.SessionStage = sess.Stage().String()

	if err != nil {
		c.fail(w, r, c.opts.ConnectCallback, fmt.Errorf("connect: %w", err))
		return
	}

	outcome := Outcome{RequestToken: token}
	tw := &trackingWriter{ResponseWriter: w}
	c.opts.ConnectCallback(tw, r.WithContext(ContextWithOutcome(ctx, outcome)), outcome)
	if tw.written {
		return
	}

	http.Redirect(w, r, c.issuer.AuthenticateURL(token), http.StatusFound)
}

// Auth completes the handshake when the user returns from authorizing. The
// pending request token is removed from the session before the exchange, so
// it is never used twice. A successful exchange moves the session to a new
// identifier and cookie before the callback runs.
func (c *Controller) Auth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := session.RequireFromContext(ctx)
	entry := audit.Log(ctx)
	entry.FlowStep = "auth"

	extra, err := c.exchange(ctx, w, sess, r.URL.Query())
	entry.SessionStage = sess.Stage().String()
	if err != nil {
		c.fail(w, r, c.opts.AuthCallback, fmt.Errorf("auth: %w", err))
		return
	}

	entry.Authenticated = true
	entry.ScreenName = extra.Get("screen_name")
	entry.UserID = extra.Get("user_id")
	log.Ctx(ctx).Info().
		Str("screenName", extra.Get("screen_name")).
		Msg("access token obtained")

	outcome := Outcome{Extra: extra}
	c.opts.AuthCallback(w, r.WithContext(ContextWithOutcome(ctx, outcome)), outcome)
}

func (c *Controller) exchange(ctx context.Context, w http.ResponseWriter, sess *session.Session, query url.Values) (url.Values, error) {
	pending, ok := sess.TakePending()
	if !ok {
		return nil, ErrNoPendingRequestToken
	}
	if err := sess.Save(ctx); err != nil {
		return nil, err
	}

	if query.Has("denied") {
		return nil, ErrAuthorizationDenied
	}
	if t := query.Get("oauth_token"); t != "" && t != pending.RequestToken {
		return nil, ErrRequestTokenMismatch
	}

	creds, extra, err := c.issuer.AccessToken(ctx, pending.RequestToken, pending.RequestTokenSecret, query.Get("oauth_verifier"))
	if err != nil {
		return nil, err
	}

	sess.SetCredentials(creds)
	if err := sess.Renew(ctx, w); err != nil {
		return nil, err
	}

	return extra, nil
}

// Logout destroys the session and expires its cookie, responding with
// {"logout":true} or, when the session store fails, {"error":"error logging
// out"}.
func (c *Controller) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := session.RequireFromContext(ctx)
	entry := audit.Log(ctx)
	entry.FlowStep = "logout"
	entry.SessionStage = sess.Stage().String()

	if err := sess.Destroy(ctx); err != nil {
		entry.Error = err.Error()
		log.Ctx(ctx).Error().Err(err).Msg("logout failed")
		writeJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "error logging out"})
		return
	}

	sess.ExpireCookie(w)
	writeJSON(ctx, w, http.StatusOK, map[string]bool{"logout": true})
}

func (c *Controller) fail(w http.ResponseWriter, r *http.Request, cb Callback, err error) {
	audit.Log(r.Context()).Error = err.Error()

	outcome := Outcome{Err: err}
	cb(w, r.WithContext(ContextWithOutcome(r.Context(), outcome)), outcome)
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		// status already sent
		log.Ctx(ctx).Info().Err(err).Msg("failed to write JSON response")
	}
}

// trackingWriter records whether a response was started.
type trackingWriter struct {
	http.ResponseWriter
	written bool
}

func (t *trackingWriter) WriteHeader(code int) {
	t.written = true
	t.ResponseWriter.WriteHeader(code)
}

func (t *trackingWriter) Write(b []byte) (int, error) {
	t.written = true
	return t.ResponseWriter.Write(b)
}

func (t *trackingWriter) Unwrap() http.ResponseWriter {
	return t.ResponseWriter
}
