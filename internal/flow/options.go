package flow

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

const (
	connectFailureText = "Error getting oAuth Request Token"
	authFailureText    = "Error getting oAuth Access Token"
)

// Callback receives the outcome of a handshake step. On failure the
// callback alone is responsible for the response.
type Callback func(w http.ResponseWriter, r *http.Request, outcome Outcome)

// Options configure a Controller. They are fixed once built: use NewOptions
// to derive a value from the defaults.
type Options struct {
	// CompleteCallbackURL is where the default AuthCallback sends the user
	// once the access token is stored.
	CompleteCallbackURL string

	// ConnectCallback runs after a request token was requested. If it writes
	// nothing for a successful outcome, the user is redirected to the
	// authenticate endpoint.
	ConnectCallback Callback

	// AuthCallback runs after the access token exchange.
	AuthCallback Callback
}

type Option func(*Options)

// WithCompleteCallbackURL sets the post-authentication redirect.
func WithCompleteCallbackURL(u string) Option {
	return func(o *Options) {
		o.CompleteCallbackURL = u
	}
}

func WithConnectCallback(cb Callback) Option {
	return func(o *Options) {
		o.ConnectCallback = cb
	}
}

func WithAuthCallback(cb Callback) Option {
	return func(o *Options) {
		o.AuthCallback = cb
	}
}

// NewOptions merges the overrides onto the defaults. Nil callbacks are
// replaced by the defaults.
func NewOptions(overrides ...Option) Options {
	opts := Options{
		CompleteCallbackURL: "/",
	}
	for _, o := range overrides {
		o(&opts)
	}

	if opts.ConnectCallback == nil {
		opts.ConnectCallback = DefaultConnectCallback
	}
	if opts.AuthCallback == nil {
		opts.AuthCallback = defaultAuthCallback(opts.CompleteCallbackURL)
	}

	return opts
}

// DefaultConnectCallback reports failure as a 500 and otherwise leaves the
// response to the controller.
func DefaultConnectCallback(w http.ResponseWriter, r *http.Request, outcome Outcome) {
	if outcome.Err != nil {
		log.Ctx(r.Context()).Error().Err(outcome.Err).Msg("request token failed")
		http.Error(w, connectFailureText, http.StatusInternalServerError)
	}
}

func defaultAuthCallback(completeURL string) Callback {
	return func(w http.ResponseWriter, r *http.Request, outcome Outcome) {
		if outcome.Err != nil {
			log.Ctx(r.Context()).Error().Err(outcome.Err).Msg("access token failed")
			http.Error(w, authFailureText, http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, completeURL, http.StatusFound)
	}
}
