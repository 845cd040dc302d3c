// Package signing performs OAuth 1.0A signed requests against the upstream
// API: the request token and access token legs of the handshake, and signed
// reads on behalf of a user.
package signing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dghubble/oauth1"
	"github.com/rs/zerolog/log"
)

// DefaultBaseURL hosts the OAuth endpoints of the upstream API.
const DefaultBaseURL = "https://api.twitter.com"

// Credentials are the access token and secret issued to a user.
type Credentials struct {
	Token  string `json:"token"`
	Secret string `json:"secret"`
}

// Settings configure a Client.
type Settings struct {
	ConsumerKey    string
	ConsumerSecret string

	// CallbackURL is sent with the request token. Use "oob" for the PIN based
	// flow.
	CallbackURL string

	// BaseURL overrides DefaultBaseURL, used for testing.
	BaseURL string
}

// Client signs requests with the consumer credentials. It is safe for
// concurrent use.
type Client struct {
	config     oauth1.Config
	httpClient *http.Client
	baseURL    string
}

// New creates a client. A nil httpClient uses http.DefaultClient.
func New(settings Settings, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	baseURL := strings.TrimSuffix(settings.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		config: oauth1.Config{
			ConsumerKey:    settings.ConsumerKey,
			ConsumerSecret: settings.ConsumerSecret,
			CallbackURL:    settings.CallbackURL,
			Endpoint: oauth1.Endpoint{
				RequestTokenURL: baseURL + "/oauth/request_token",
				AuthorizeURL:    baseURL + "/oauth/authorize",
				AccessTokenURL:  baseURL + "/oauth/access_token",
			},
			HTTPClient: httpClient,
		},
		httpClient: httpClient,
		baseURL:    baseURL,
	}
}

// RequestToken obtains a temporary request token and secret.
func (c *Client) RequestToken(ctx context.Context) (string, string, error) {
	token, secret, err := c.config.RequestToken()
	if err != nil {
		return "", "", fmt.Errorf("request token failed: %w", err)
	}

	log.Ctx(ctx).Debug().Msg("obtained oauth request token")
	return token, secret, nil
}

// AccessToken exchanges an authorized request token and the user supplied
// verifier for access credentials. Any additional values in the upstream
// response (for example user_id and screen_name) are returned as extra.
func (c *Client) AccessToken(ctx context.Context, requestToken, requestSecret, verifier string) (Credentials, url.Values, error) {
	capture := &captureTransport{next: c.transport()}

	// the config is copied so that the response capture is local to this call
	cfg := c.config
	cfg.HTTPClient = &http.Client{
		Transport: capture,
		Timeout:   c.httpClient.Timeout,
	}

	token, secret, err := cfg.AccessToken(requestToken, requestSecret, verifier)
	if err != nil {
		return Credentials{}, nil, fmt.Errorf("access token failed: %w", err)
	}

	extra := url.Values{}
	if values, err := url.ParseQuery(string(capture.body)); err == nil {
		for k, v := range values {
			if k == "oauth_token" || k == "oauth_token_secret" {
				continue
			}
			extra[k] = v
		}
	}

	log.Ctx(ctx).Debug().Msg("obtained oauth access token")
	return Credentials{Token: token, Secret: secret}, extra, nil
}

// AuthenticateURL is the "sign in with" endpoint: users who have already
// authorized the application are redirected straight back.
func (c *Client) AuthenticateURL(requestToken string) string {
	return c.baseURL + "/oauth/authenticate?oauth_token=" + url.QueryEscape(requestToken)
}

// AuthorizeURL always asks the user to authorize the application. It is
// required for the PIN based flow.
func (c *Client) AuthorizeURL(requestToken string) string {
	return c.config.Endpoint.AuthorizeURL + "?oauth_token=" + url.QueryEscape(requestToken)
}

// Get performs a signed GET of the URL with the user credentials. Responses
// outside the 2xx range are returned as a *StatusError.
func (c *Client) Get(ctx context.Context, rawURL string, creds Credentials) ([]byte, http.Header, error) {
	// oauth1 takes the base client from the context
	ctx = context.WithValue(ctx, oauth1.HTTPClient, c.httpClient)
	client := c.config.Client(ctx, oauth1.NewToken(creds.Token, creds.Secret))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading response failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       body,
			Header:     resp.Header,
		}
	}

	return body, resp.Header, nil
}

func (c *Client) transport() http.RoundTripper {
	if c.httpClient.Transport != nil {
		return c.httpClient.Transport
	}
	return http.DefaultTransport
}

// StatusError is returned for upstream responses with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream responded with status %d", e.StatusCode)
}

// Status forwards client errors and reports everything else as a bad
// gateway.
func (e *StatusError) Status() (int, string) {
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return e.StatusCode, http.StatusText(e.StatusCode)
	}
	return http.StatusBadGateway, http.StatusText(http.StatusBadGateway)
}

// captureTransport keeps a copy of the last response body it relays.
type captureTransport struct {
	next http.RoundTripper
	body []byte
}

func (t *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}

	t.body = body
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}
