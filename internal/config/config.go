package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	OAuth   OAuthConfig
	API     APIConfig
	Cache   CacheConfig
	Session SessionConfig
	Observe ObserveConfig
	Server  ServerConfig
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`
}

// OAuthConfig holds the consumer credentials and the URLs that take part in
// the three-legged handshake.
type OAuthConfig struct {
	ConsumerKey    string `env:"OAUTH_CONSUMER_KEY, required"`
	ConsumerSecret string `env:"OAUTH_CONSUMER_SECRET"`

	// ConsumerSecretCiphertext is the base64 encoded, KMS encrypted consumer
	// secret. It is used in preference to ConsumerSecret when set.
	ConsumerSecretCiphertext string `env:"OAUTH_CONSUMER_SECRET_KMS_CIPHERTEXT"`

	// LoginCallbackURL is sent upstream with the request token: the user is
	// returned here after authorizing.
	LoginCallbackURL string `env:"OAUTH_LOGIN_CALLBACK_URL, required"`

	// CompleteCallbackURL is where the user is sent once access tokens are
	// stored in the session.
	CompleteCallbackURL string `env:"OAUTH_COMPLETE_CALLBACK_URL, default=/"`

	OAuthBaseURL string // internal only
}

// APIConfig controls reads against the upstream REST API.
type APIConfig struct {
	// CacheMillis is the response cache duration. Zero disables caching.
	CacheMillis int64 `env:"API_CACHE_MS, default=60000"`

	// CachePrefix is prepended to every response cache key.
	CachePrefix string `env:"API_CACHE_PREFIX, default=flutter:"`

	// CacheMaxEntries bounds the in-memory response cache.
	CacheMaxEntries int `env:"API_CACHE_MAX_ENTRIES, default=10000"`

	BaseURL string // internal only
}

// CacheTTL returns the response cache duration, zero when caching is off.
func (c APIConfig) CacheTTL() time.Duration {
	if c.CacheMillis <= 0 {
		return 0
	}
	return time.Duration(c.CacheMillis) * time.Millisecond
}

// CacheConfig specifies cache configuration.
type CacheConfig struct {
	// Type selects the cache implementation: "memory" (default) or "valkey"
	Type string `env:"CACHE_TYPE, default=memory"`

	// Valkey holds distributed cache settings.
	Valkey ValkeyConfig
}

// ValkeyConfig specifies distributed cache configuration.
type ValkeyConfig struct {
	// Address is the Valkey server address (host:port).
	Address string `env:"VALKEY_ADDRESS"`

	// TLS enables TLS connection to Valkey. Defaults to true so the secure option
	// is the default.
	TLS bool `env:"VALKEY_TLS, default=true"`

	// Username for Valkey authentication.
	Username string `env:"VALKEY_USERNAME"`

	// Password for Valkey authentication.
	Password string `env:"VALKEY_PASSWORD"`

	// Database selects the logical database.
	Database int `env:"VALKEY_DATABASE, default=0"`
}

type SessionConfig struct {
	// Secret signs the session cookie.
	Secret string `env:"SESSION_SECRET, required"`

	TTLSeconds   int    `env:"SESSION_TTL_SECS, default=86400"`
	CookieName   string `env:"SESSION_COOKIE_NAME, default=flutter_session"`
	CookieSecure bool   `env:"SESSION_COOKIE_SECURE, default=true"`
	MaxSessions  int    `env:"SESSION_MAX_ENTRIES, default=100000"`
}

func (c SessionConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=flutter"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.Cache.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid cache configuration: %w", err)
	}

	err = cfg.OAuth.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid oauth configuration: %w", err)
	}

	if cfg.Session.TTLSeconds <= 0 {
		return cfg, fmt.Errorf("SESSION_TTL_SECS must be positive")
	}

	return cfg, nil
}

// Validate checks that the cache configuration is valid.
func (c *CacheConfig) Validate() error {
	switch c.Type {
	case "memory":
		return nil
	case "valkey":
		if c.Valkey.Address == "" {
			return fmt.Errorf("VALKEY_ADDRESS required when CACHE_TYPE=valkey")
		}
		return nil
	default:
		return fmt.Errorf("CACHE_TYPE must be either \"memory\" or \"valkey\", got %q", c.Type)
	}
}

// Validate checks that exactly one source of the consumer secret is
// configured.
func (c *OAuthConfig) Validate() error {
	if c.ConsumerSecret == "" && c.ConsumerSecretCiphertext == "" {
		return fmt.Errorf("one of OAUTH_CONSUMER_SECRET or OAUTH_CONSUMER_SECRET_KMS_CIPHERTEXT is required")
	}
	if c.ConsumerSecret != "" && c.ConsumerSecretCiphertext != "" {
		return fmt.Errorf("OAUTH_CONSUMER_SECRET and OAUTH_CONSUMER_SECRET_KMS_CIPHERTEXT are mutually exclusive")
	}
	return nil
}
