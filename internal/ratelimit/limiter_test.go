package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/eco-classifier/internal/monitoring"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFallbackLimiter(t *testing.T, config Config) (*RateLimiter, *monitoring.Metrics) {
	t.Helper()
	metrics := monitoring.NewMetrics()
	limiter := NewRateLimiter(&RedisClient{enabled: false}, config, metrics)
	t.Cleanup(limiter.Close)
	return limiter, metrics
}

func TestRateLimiterFallbackMode(t *testing.T) {
	limiter, metrics := newFallbackLimiter(t, DefaultConfig())

	ctx := context.Background()
	key := Key("upload", "10.0.0.1")
	rateLimit := PerMinute(5)

	for i := 0; i < 5; i++ {
		result, err := limiter.Allow(ctx, key, rateLimit)
		require.NoError(t, err)
		assert.True(t, result.Allowed, "Request %d should be allowed", i+1)
		assert.Equal(t, 5, result.Limit)
		assert.Equal(t, 4-i, result.Remaining)
	}

	result, err := limiter.Allow(ctx, key, rateLimit)
	require.NoError(t, err)
	assert.False(t, result.Allowed, "6th request should be blocked")
	assert.Greater(t, result.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, result.RetryAfter, 12*time.Second)

	stats := metrics.GetRateLimitStats()
	assert.EqualValues(t, 6, stats["fallback_count"])
}

func TestRateLimiterPeekDoesNotConsume(t *testing.T) {
	limiter, _ := newFallbackLimiter(t, DefaultConfig())
	ctx := context.Background()
	key := Key("upload", "10.0.0.2")

	for i := 0; i < 3; i++ {
		result, err := limiter.Peek(ctx, key, PerMinute(2))
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, 2, result.Remaining)
	}

	_, err := limiter.Allow(ctx, key, PerMinute(2))
	require.NoError(t, err)

	result, err := limiter.Peek(ctx, key, PerMinute(2))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Remaining)
}

func TestRateLimiterMultipleKeys(t *testing.T) {
	limiter, _ := newFallbackLimiter(t, DefaultConfig())
	ctx := context.Background()
	rateLimit := PerMinute(3)

	for _, ip := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"} {
		key := Key("upload", ip)
		for i := 0; i < 3; i++ {
			result, err := limiter.Allow(ctx, key, rateLimit)
			require.NoError(t, err)
			assert.True(t, result.Allowed, "%s request %d should be allowed", ip, i+1)
		}

		result, err := limiter.Allow(ctx, key, rateLimit)
		require.NoError(t, err)
		assert.False(t, result.Allowed, "%s 4th request should be blocked", ip)
	}
}

func TestRateLimiterFallbackDisabled(t *testing.T) {
	config := DefaultConfig()
	config.EnableFallback = false
	limiter, _ := newFallbackLimiter(t, config)

	_, err := limiter.Allow(context.Background(), "k", PerMinute(1))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRateLimiterRedisErrorFallsBack(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 50 * time.Millisecond,
	})
	t.Cleanup(func() { _ = client.Close() })

	metrics := monitoring.NewMetrics()
	limiter := NewRateLimiter(NewRedisClientFrom(client), DefaultConfig(), metrics)
	t.Cleanup(limiter.Close)

	result, err := limiter.Allow(context.Background(), Key("upload", "10.0.0.3"), PerMinute(2))
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	stats := metrics.GetRateLimitStats()
	assert.EqualValues(t, 1, stats["redis_errors"])
	assert.EqualValues(t, 1, stats["fallback_count"])

	config := DefaultConfig()
	config.EnableFallback = false
	strict := NewRateLimiter(NewRedisClientFrom(client), config, nil)
	t.Cleanup(strict.Close)

	_, err = strict.Allow(context.Background(), "k", PerMinute(2))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRateLimiterStats(t *testing.T) {
	limiter, _ := newFallbackLimiter(t, DefaultConfig())

	for i := 0; i < 3; i++ {
		_, _ = limiter.Allow(context.Background(), "test:stats", PerMinute(5))
	}

	stats := limiter.GetStats()
	assert.False(t, stats["redis_enabled"].(bool))
	assert.True(t, stats["fallback_enabled"].(bool))
	assert.Equal(t, 1, stats["fallback_limiters"])

	statsConfig := stats["config"].(map[string]interface{})
	assert.Equal(t, 30, statsConfig["upload_limit_per_min"])
	assert.Equal(t, PerMinute(30), limiter.UploadRate())
}

func TestRateLimiterCleanup(t *testing.T) {
	config := DefaultConfig()
	config.IdleTTL = time.Minute
	limiter, _ := newFallbackLimiter(t, config)

	now := time.Now()
	limiter.allowFallback("stale", PerMinute(5), 1, now.Add(-2*time.Minute))
	limiter.allowFallback("fresh", PerMinute(5), 1, now)

	limiter.cleanup()

	stats := limiter.GetStats()
	assert.Equal(t, 1, stats["fallback_limiters"])
}

func TestRateLimiterCleanupCapsSize(t *testing.T) {
	limiter, _ := newFallbackLimiter(t, DefaultConfig())

	now := time.Now()
	for i := 0; i <= maxFallbackKeys; i++ {
		limiter.allowFallback(fmt.Sprintf("k%d", i), PerMinute(5), 1, now)
	}

	limiter.cleanup()
	assert.Equal(t, 0, limiter.GetStats()["fallback_limiters"])
}

func TestRateLimiterConcurrency(t *testing.T) {
	limiter, _ := newFallbackLimiter(t, DefaultConfig())
	ctx := context.Background()
	rateLimit := Rate{Limit: 100, Period: time.Hour}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				result, err := limiter.Allow(ctx, "test:concurrent", rateLimit)
				assert.NoError(t, err)
				if result != nil && result.Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, allowed)
}

func TestRateLimiterDifferentPeriods(t *testing.T) {
	limiter, _ := newFallbackLimiter(t, DefaultConfig())

	tests := []struct {
		name   string
		limit  int
		period time.Duration
	}{
		{"per second", 10, time.Second},
		{"per minute", 60, time.Minute},
		{"per hour", 1000, time.Hour},
		{"per day", 5000, 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := limiter.Allow(context.Background(), "test:"+tt.name, Rate{Limit: tt.limit, Period: tt.period})
			require.NoError(t, err)
			assert.True(t, result.Allowed)
			assert.Equal(t, tt.limit, result.Limit)
		})
	}
}
