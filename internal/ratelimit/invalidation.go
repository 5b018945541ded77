package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// redis_rate stores every key under this prefix.
const redisKeyPrefix = "rate:"

// InvalidateIP clears every endpoint budget held by ip
func (rl *RateLimiter) InvalidateIP(ctx context.Context, ip string) (int, error) {
	suffix := ":" + ip
	if !rl.redisClient.IsEnabled() {
		rl.fallbackMutex.Lock()
		defer rl.fallbackMutex.Unlock()

		removed := 0
		for key := range rl.fallbackLimiters {
			if strings.HasPrefix(key, "ratelimit:") && strings.HasSuffix(key, suffix) {
				delete(rl.fallbackLimiters, key)
				removed++
			}
		}

		slog.Info("Invalidated IP rate limits (in-memory)", "ip", ip, "count", removed)
		return removed, nil
	}

	return rl.deleteByPattern(ctx, redisKeyPrefix+"ratelimit:*"+suffix)
}

// InvalidateAll removes every rate limit budget
func (rl *RateLimiter) InvalidateAll(ctx context.Context) (int, error) {
	if !rl.redisClient.IsEnabled() {
		rl.fallbackMutex.Lock()
		defer rl.fallbackMutex.Unlock()

		count := len(rl.fallbackLimiters)
		rl.fallbackLimiters = make(map[string]*fallbackEntry)

		slog.Warn("Invalidated all rate limits (in-memory)", "count", count)
		return count, nil
	}

	slog.Warn("Invalidating all rate limits")
	return rl.deleteByPattern(ctx, redisKeyPrefix+"ratelimit:*")
}

// deleteByPattern deletes all Redis keys matching a pattern using SCAN
func (rl *RateLimiter) deleteByPattern(ctx context.Context, pattern string) (int, error) {
	client := rl.redisClient.GetClient()

	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to scan keys: %w", err)
		}

		if len(keys) > 0 {
			n, err := client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("failed to delete keys: %w", err)
			}
			deleted += int(n)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	slog.Info("Deleted rate limit keys by pattern", "pattern", pattern, "count", deleted)
	return deleted, nil
}
