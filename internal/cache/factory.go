package cache

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/flutter-oauth/flutter/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/valkey-io/valkey-go"
)

// Backend holds the storage shared by all caches built from one
// configuration: nothing for "memory", a single client connection for
// "valkey".
type Backend struct {
	cacheType string
	client    valkey.Client
}

// NewBackend creates the storage backend described by the configuration.
//
// The cache type must be either "memory" or "valkey". Any other value returns an error.
// For "valkey", the cacheConfig.Valkey.Address must be provided.
func NewBackend(ctx context.Context, cacheConfig config.CacheConfig) (*Backend, error) {
	switch cacheConfig.Type {
	case "valkey":
		log.Info().
			Str("cache_type", "valkey").
			Str("address", cacheConfig.Valkey.Address).
			Bool("tls", cacheConfig.Valkey.TLS).
			Int("database", cacheConfig.Valkey.Database).
			Msg("initializing distributed cache")

		if cacheConfig.Valkey.Address == "" {
			return nil, fmt.Errorf("valkey address is required when cache type is valkey")
		}

		valkeyOpts := valkey.ClientOption{
			InitAddress: []string{cacheConfig.Valkey.Address},
			Username:    cacheConfig.Valkey.Username,
			Password:    cacheConfig.Valkey.Password,
			SelectDB:    cacheConfig.Valkey.Database,
		}

		// Configure TLS if enabled
		if cacheConfig.Valkey.TLS {
			valkeyOpts.TLSConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
			}
		}

		valkeyClient, err := valkey.NewClient(valkeyOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to create valkey client: %w", err)
		}

		return &Backend{cacheType: "valkey", client: valkeyClient}, nil

	case "memory":
		log.Info().
			Str("cache_type", "memory").
			Msg("initializing in-memory cache")

		return &Backend{cacheType: "memory"}, nil

	default:
		return nil, fmt.Errorf("invalid cache type %q: must be either \"memory\" or \"valkey\"", cacheConfig.Type)
	}
}

// Type reports the backend type, "memory" or "valkey".
func (b *Backend) Type() string {
	return b.cacheType
}

// Close releases the backend connection, if any. Caches created from the
// backend must not be used afterwards.
func (b *Backend) Close() {
	if b.client != nil {
		b.client.Close()
	}
}

// New creates an instrumented cache on the backend. The name distinguishes
// caches in metrics. maxMemorySize bounds the entry count of memory caches
// and is ignored by valkey.
func New[T any](b *Backend, name string, ttl time.Duration, maxMemorySize int) (Cache[T], error) {
	switch b.cacheType {
	case "valkey":
		distributed, err := NewDistributed[T](b.client, ttl)
		if err != nil {
			return nil, fmt.Errorf("failed to create distributed cache %q: %w", name, err)
		}
		return NewInstrumented(distributed, "distributed", name), nil

	case "memory":
		memory, err := NewMemory[T](ttl, maxMemorySize)
		if err != nil {
			return nil, fmt.Errorf("failed to create memory cache %q: %w", name, err)
		}
		return NewInstrumented(memory, "memory", name), nil

	default:
		return nil, fmt.Errorf("invalid cache type %q", b.cacheType)
	}
}
