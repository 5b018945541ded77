package ratelimit

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/ZanzyTHEbar/eco-classifier/internal/errors"
	"github.com/gin-gonic/gin"
)

// EndpointRateLimitMiddleware limits each client IP to r on one endpoint.
// Limiter failures let the request through.
func (rl *RateLimiter) EndpointRateLimitMiddleware(endpoint string, r Rate) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		result, err := rl.Allow(c.Request.Context(), Key(endpoint, ip), r)
		if err != nil {
			slog.Error("Endpoint rate limit check failed", "endpoint", endpoint, "ip", ip, "error", err)
			c.Next()
			return
		}

		setHeaders(c, result)

		if !result.Allowed {
			if rl.metrics != nil {
				rl.metrics.IncrementRateLimitEndpoint(endpoint)
			}

			retryAfter := strconv.Itoa(retrySeconds(result.RetryAfter))
			c.Header("Retry-After", retryAfter)

			appErr := errors.NewRateLimitError(retryAfter)
			appErr.RequestID = c.GetHeader("X-Request-ID")
			c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.Response())
			return
		}

		c.Next()
	}
}

// HandleRateLimitStatus reports the caller's remaining budget for endpoint
func (rl *RateLimiter) HandleRateLimitStatus(endpoint string, r Rate) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		result, err := rl.Peek(c.Request.Context(), Key(endpoint, ip), r)
		if err != nil {
			_ = c.Error(errors.NewNetworkError("Rate limiter unavailable", err))
			return
		}

		setHeaders(c, result)
		c.JSON(http.StatusOK, gin.H{
			"success":   true,
			"endpoint":  endpoint,
			"limit":     result.Limit,
			"remaining": result.Remaining,
			"period":    r.Period.String(),
			"resetAt":   result.ResetAt.UTC().Format(time.RFC3339),
			"backend":   rl.backend(),
		})
	}
}

func (rl *RateLimiter) backend() string {
	if rl.redisClient.IsEnabled() {
		return "redis"
	}
	return "memory"
}

func setHeaders(c *gin.Context, result *Result) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func retrySeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
