package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvalidateIP(t *testing.T) {
	limiter, _ := newFallbackLimiter(t, DefaultConfig())
	ctx := context.Background()
	ip := "192.168.1.1"
	rateLimit := PerMinute(3)

	for i := 0; i < 3; i++ {
		_, err := limiter.Allow(ctx, Key("upload", ip), rateLimit)
		require.NoError(t, err)
	}
	_, err := limiter.Allow(ctx, Key("upload_path", ip), rateLimit)
	require.NoError(t, err)
	_, err = limiter.Allow(ctx, Key("upload", "192.168.1.10"), rateLimit)
	require.NoError(t, err)

	result, err := limiter.Allow(ctx, Key("upload", ip), rateLimit)
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	removed, err := limiter.InvalidateIP(ctx, ip)
	require.NoError(t, err)
	assert.Equal(t, 2, removed, "only keys ending in the exact IP are removed")

	result, err = limiter.Allow(ctx, Key("upload", ip), rateLimit)
	require.NoError(t, err)
	assert.True(t, result.Allowed, "request should be allowed after invalidation")
	assert.Equal(t, 2, result.Remaining)

	assert.Equal(t, 2, limiter.GetStats()["fallback_limiters"])
}

func TestInvalidateIPUnknown(t *testing.T) {
	limiter, _ := newFallbackLimiter(t, DefaultConfig())

	removed, err := limiter.InvalidateIP(context.Background(), "10.9.9.9")
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestInvalidateAll(t *testing.T) {
	limiter, _ := newFallbackLimiter(t, DefaultConfig())
	ctx := context.Background()

	for _, ip := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"} {
		_, err := limiter.Allow(ctx, Key("upload", ip), PerMinute(5))
		require.NoError(t, err)
	}

	removed, err := limiter.InvalidateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.Equal(t, 0, limiter.GetStats()["fallback_limiters"])
}
