//go:build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/flutter-oauth/flutter/internal/cache"
	"github.com/flutter-oauth/flutter/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionLike struct {
	Token  string `json:"token"`
	Secret string `json:"secret"`
}

func TestDistributed_RoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := testhelpers.RunValkeyContainer(t)

	backend, err := cache.NewBackend(ctx, cfg)
	require.NoError(t, err)
	defer backend.Close()

	raw, err := cache.New[string](backend, "api", time.Minute, 0)
	require.NoError(t, err)

	structured, err := cache.New[sessionLike](backend, "session", time.Minute, 0)
	require.NoError(t, err)

	t.Run("raw strings", func(t *testing.T) {
		_, found, err := raw.Get(ctx, "flutter:tok.missing")
		require.NoError(t, err)
		assert.False(t, found)

		require.NoError(t, raw.Set(ctx, "flutter:tok.url", `{"statuses":[]}`))

		value, found, err := raw.Get(ctx, "flutter:tok.url")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, `{"statuses":[]}`, value)
	})

	t.Run("structured values", func(t *testing.T) {
		expected := sessionLike{Token: "t", Secret: "s"}
		require.NoError(t, structured.Set(ctx, "flutter:session:1", expected))

		value, found, err := structured.Get(ctx, "flutter:session:1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, expected, value)

		require.NoError(t, structured.Invalidate(ctx, "flutter:session:1"))

		_, found, err = structured.Get(ctx, "flutter:session:1")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestDistributed_Expiry(t *testing.T) {
	ctx := context.Background()
	cfg := testhelpers.RunValkeyContainer(t)

	backend, err := cache.NewBackend(ctx, cfg)
	require.NoError(t, err)
	defer backend.Close()

	c, err := cache.New[string](backend, "api", 200*time.Millisecond, 0)
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "short", "value"))

	assert.Eventually(t, func() bool {
		_, found, err := c.Get(ctx, "short")
		return err == nil && !found
	}, 3*time.Second, 50*time.Millisecond)
}
