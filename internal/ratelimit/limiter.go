package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/eco-classifier/internal/monitoring"
	"github.com/go-redis/redis_rate/v10"
	"golang.org/x/time/rate"
)

// ErrUnavailable is returned when Redis is down and the fallback is disabled.
var ErrUnavailable = errors.New("rate limiter unavailable")

// maxFallbackKeys caps the in-memory map when idle eviction is not enough.
const maxFallbackKeys = 10000

// Config holds rate limiter configuration
type Config struct {
	UploadLimit     int           // uploads per minute per IP
	EnableFallback  bool          // use in-memory buckets when Redis is unavailable
	CleanupInterval time.Duration // how often idle fallback buckets are evicted
	IdleTTL         time.Duration // how long a fallback bucket may sit unused
}

// DefaultConfig returns default rate limiting configuration
func DefaultConfig() Config {
	return Config{
		UploadLimit:     30,
		EnableFallback:  true,
		CleanupInterval: 10 * time.Minute,
		IdleTTL:         30 * time.Minute,
	}
}

// Rate is a number of requests allowed per period.
type Rate struct {
	Limit  int
	Period time.Duration
}

// PerMinute returns a Rate of n requests per minute
func PerMinute(n int) Rate {
	return Rate{Limit: n, Period: time.Minute}
}

// Result represents the result of a rate limit check
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

type fallbackEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter checks request budgets in Redis so every instance shares them,
// falling back to per-process token buckets when Redis is unavailable.
type RateLimiter struct {
	redisLimiter *redis_rate.Limiter
	redisClient  *RedisClient
	config       Config
	metrics      *monitoring.Metrics

	fallbackMutex    sync.Mutex
	fallbackLimiters map[string]*fallbackEntry

	stop chan struct{}
	once sync.Once
}

// NewRateLimiter creates a rate limiter and starts fallback cleanup
func NewRateLimiter(redisClient *RedisClient, config Config, metrics *monitoring.Metrics) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultConfig().CleanupInterval
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = DefaultConfig().IdleTTL
	}

	rl := &RateLimiter{
		redisClient:      redisClient,
		config:           config,
		metrics:          metrics,
		fallbackLimiters: make(map[string]*fallbackEntry),
		stop:             make(chan struct{}),
	}

	if redisClient.IsEnabled() {
		rl.redisLimiter = redis_rate.NewLimiter(redisClient.GetClient())
		slog.Info("Redis rate limiter initialized")
	} else {
		slog.Warn("Redis unavailable, using in-memory rate limiting only")
	}

	go rl.cleanupLoop()

	return rl
}

// UploadRate is the configured per-IP upload budget
func (rl *RateLimiter) UploadRate() Rate {
	return PerMinute(rl.config.UploadLimit)
}

// Key builds the storage key for an endpoint and client
func Key(endpoint, ip string) string {
	return fmt.Sprintf("ratelimit:%s:%s", endpoint, ip)
}

// Allow consumes one request from key's budget
func (rl *RateLimiter) Allow(ctx context.Context, key string, r Rate) (*Result, error) {
	return rl.allowN(ctx, key, r, 1)
}

// Peek reports key's budget without consuming from it
func (rl *RateLimiter) Peek(ctx context.Context, key string, r Rate) (*Result, error) {
	return rl.allowN(ctx, key, r, 0)
}

func (rl *RateLimiter) allowN(ctx context.Context, key string, r Rate, n int) (*Result, error) {
	if rl.redisClient.IsEnabled() && rl.redisLimiter != nil {
		result, err := rl.allowRedis(ctx, key, r, n)
		if err == nil {
			return result, nil
		}

		slog.Warn("Redis rate limit check failed", "key", key, "error", err)
		if rl.metrics != nil {
			rl.metrics.IncrementRateLimitRedisError()
		}
		if !rl.config.EnableFallback {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	} else if !rl.config.EnableFallback {
		return nil, ErrUnavailable
	}

	if rl.metrics != nil {
		rl.metrics.IncrementRateLimitFallback()
	}
	return rl.allowFallback(key, r, n, time.Now()), nil
}

func (rl *RateLimiter) allowRedis(ctx context.Context, key string, r Rate, n int) (*Result, error) {
	limit := redis_rate.Limit{
		Rate:   r.Limit,
		Burst:  r.Limit,
		Period: r.Period,
	}

	res, err := rl.redisLimiter.AllowN(ctx, key, limit, n)
	if err != nil {
		return nil, fmt.Errorf("redis rate limit check failed: %w", err)
	}

	result := &Result{
		Allowed:   n == 0 || res.Allowed > 0,
		Limit:     res.Limit.Rate,
		Remaining: res.Remaining,
		ResetAt:   time.Now().Add(res.ResetAfter),
	}
	if res.RetryAfter > 0 {
		result.RetryAfter = res.RetryAfter
	}
	return result, nil
}

// allowFallback uses a token bucket whose burst equals the limit, matching
// the GCRA budget Redis enforces.
func (rl *RateLimiter) allowFallback(key string, r Rate, n int, now time.Time) *Result {
	rl.fallbackMutex.Lock()
	defer rl.fallbackMutex.Unlock()

	entry, ok := rl.fallbackLimiters[key]
	if !ok {
		every := r.Period / time.Duration(max(r.Limit, 1))
		entry = &fallbackEntry{limiter: rate.NewLimiter(rate.Every(every), max(r.Limit, 1))}
		rl.fallbackLimiters[key] = entry
	}
	entry.lastSeen = now

	allowed := true
	if n > 0 {
		allowed = entry.limiter.AllowN(now, n)
	}

	tokens := entry.limiter.TokensAt(now)
	result := &Result{
		Allowed:   allowed,
		Limit:     r.Limit,
		Remaining: int(math.Max(0, math.Floor(tokens))),
	}

	perToken := float64(r.Period) / float64(max(r.Limit, 1))
	result.ResetAt = now.Add(time.Duration((float64(r.Limit) - tokens) * perToken))
	if !allowed {
		result.RetryAfter = time.Duration((1 - tokens) * perToken)
		if result.RetryAfter <= 0 {
			result.RetryAfter = time.Millisecond
		}
	}
	return result
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

// cleanup evicts idle fallback buckets, and everything if the map is still too large
func (rl *RateLimiter) cleanup() {
	rl.fallbackMutex.Lock()
	defer rl.fallbackMutex.Unlock()

	cutoff := time.Now().Add(-rl.config.IdleTTL)
	for key, entry := range rl.fallbackLimiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.fallbackLimiters, key)
		}
	}

	if len(rl.fallbackLimiters) > maxFallbackKeys {
		slog.Info("Clearing fallback rate limiters", "count", len(rl.fallbackLimiters))
		rl.fallbackLimiters = make(map[string]*fallbackEntry)
	}
}

// Close stops the cleanup goroutine
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

// GetStats returns rate limiter statistics
func (rl *RateLimiter) GetStats() map[string]interface{} {
	rl.fallbackMutex.Lock()
	fallbackCount := len(rl.fallbackLimiters)
	rl.fallbackMutex.Unlock()

	stats := map[string]interface{}{
		"redis_enabled":     rl.redisClient.IsEnabled(),
		"fallback_enabled":  rl.config.EnableFallback,
		"fallback_limiters": fallbackCount,
		"config": map[string]interface{}{
			"upload_limit_per_min": rl.config.UploadLimit,
		},
	}

	if rl.redisClient.IsEnabled() {
		stats["redis_pool"] = rl.redisClient.GetPoolStats()
	}

	return stats
}
