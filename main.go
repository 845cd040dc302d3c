package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/flutter-oauth/flutter/internal/api"
	"github.com/flutter-oauth/flutter/internal/audit"
	"github.com/flutter-oauth/flutter/internal/cache"
	"github.com/flutter-oauth/flutter/internal/config"
	"github.com/flutter-oauth/flutter/internal/flow"
	"github.com/flutter-oauth/flutter/internal/observe"
	"github.com/flutter-oauth/flutter/internal/server"
	"github.com/flutter-oauth/flutter/internal/session"
	"github.com/flutter-oauth/flutter/internal/signing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/justinas/alice"
)

// services are the components serving the routes.
type services struct {
	sessions *session.Store
	flow     *flow.Controller
	fetcher  *api.Fetcher

	// caches are closed on shutdown
	caches []io.Closer
}

func newServices(cfg config.Config, backend *cache.Backend, httpClient *http.Client, consumerSecret string) (services, error) {
	signer := signing.New(signing.Settings{
		ConsumerKey:    cfg.OAuth.ConsumerKey,
		ConsumerSecret: consumerSecret,
		CallbackURL:    cfg.OAuth.LoginCallbackURL,
		BaseURL:        cfg.OAuth.OAuthBaseURL,
	}, httpClient)

	sessionData, err := cache.New[session.Data](backend, "session", cfg.Session.TTL(), cfg.Session.MaxSessions)
	if err != nil {
		return services{}, fmt.Errorf("session cache configuration failed: %w", err)
	}
	svc := services{caches: []io.Closer{sessionData}}

	svc.sessions = session.NewStore(sessionData, session.Settings{
		Secret:       []byte(cfg.Session.Secret),
		TTL:          cfg.Session.TTL(),
		CookieName:   cfg.Session.CookieName,
		CookieSecure: cfg.Session.CookieSecure,
		KeyPrefix:    cfg.API.CachePrefix,
	})

	var fetchOpts []api.FetcherOption
	if ttl := cfg.API.CacheTTL(); ttl > 0 {
		responses, err := cache.New[string](backend, "response", ttl, cfg.API.CacheMaxEntries)
		if err != nil {
			return services{}, fmt.Errorf("response cache configuration failed: %w", err)
		}
		svc.caches = append(svc.caches, responses)
		fetchOpts = append(fetchOpts, api.WithCache(responses, cfg.API.CachePrefix))
	}
	if cfg.API.BaseURL != "" {
		fetchOpts = append(fetchOpts, api.WithBaseURL(cfg.API.BaseURL))
	}
	svc.fetcher = api.NewFetcher(signer, fetchOpts...)

	svc.flow = flow.NewController(signer, flow.NewOptions(
		flow.WithCompleteCallbackURL(cfg.OAuth.CompleteCallbackURL),
	))

	return svc, nil
}

func configureServerRoutes(svc services) http.Handler {
	// The request body size is fairly limited: no route accepts a body of
	// any size.
	requestLimitBytes := int64(20 << 10) // 20 KB
	requestLimiter := maxRequestSize(requestLimitBytes)

	sessionRouteMiddleware := alice.New(requestLimiter, audit.Middleware(), svc.sessions.Middleware())
	standardRouteMiddleware := alice.New(requestLimiter)

	// wrap a mux such that HTTP telemetry is configured by default
	muxWithoutTelemetry := http.NewServeMux()
	mux := observe.NewMux(muxWithoutTelemetry, sessionRouteMiddleware)

	mux.HandleFunc("GET /connect", svc.flow.Connect)
	mux.HandleFunc("GET /callback", svc.flow.Auth)
	mux.HandleFunc("POST /logout", svc.flow.Logout)
	mux.HandleFunc("GET /logout", svc.flow.Logout)

	mux.Handle("GET /api/verify", handleAPIRead(verify(svc.fetcher), false))
	mux.Handle("GET /api/mentions", handleAPIRead(svc.fetcher.Mentions, true))
	mux.Handle("GET /api/users", handleAPIRead(svc.fetcher.Users, true))
	mux.Handle("GET /api/search", handleAPIRead(svc.fetcher.Search, true))

	// healthchecks are not included in telemetry, audit or sessions
	muxWithoutTelemetry.Handle("GET /healthcheck", standardRouteMiddleware.Then(handleHealthCheck()))

	return mux
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func launchServer() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}

	http.DefaultTransport = observe.HTTPTransport(
		configureHTTPTransport(cfg.Server),
		cfg.Observe,
	)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
	}

	consumerSecret, err := signing.ResolveConsumerSecret(ctx, cfg.OAuth, signing.NewKMSClient)
	if err != nil {
		return fmt.Errorf("consumer secret unavailable: %w", err)
	}

	backend, err := cache.NewBackend(ctx, cfg.Cache)
	if err != nil {
		return fmt.Errorf("cache configuration failed: %w", err)
	}

	svc, err := newServices(cfg, backend, http.DefaultClient, consumerSecret)
	if err != nil {
		backend.Close()
		return err
	}

	hooks := &server.ShutdownHooks{}
	for _, c := range svc.caches {
		hooks.AddCloser("cache", c)
	}
	hooks.Add("cache backend", func(context.Context) error {
		backend.Close()
		return nil
	})
	hooks.Add("telemetry", shutdownTelemetry)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           configureServerRoutes(svc),
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	return server.ListenAndServe(ctx, srv, shutdownTimeout, hooks)
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}
