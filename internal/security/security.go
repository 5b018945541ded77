package security

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ZanzyTHEbar/eco-classifier/internal/errors"
	"github.com/ZanzyTHEbar/eco-classifier/internal/monitoring"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// SecurityConfig holds security configuration
type SecurityConfig struct {
	MaxInputLength    int           `json:"max_input_length"`
	MaxRequestsPerMin int           `json:"max_requests_per_min"`
	RequestTimeout    time.Duration `json:"request_timeout"`
	LimiterIdleTTL    time.Duration `json:"limiter_idle_ttl"`
	// Query parameters run through ValidateInput by ValidateQuery.
	CheckedParams []string `json:"checked_params"`
}

// DefaultSecurityConfig returns secure defaults
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		MaxInputLength:    200,
		MaxRequestsPerMin: 120,
		RequestTimeout:    30 * time.Second,
		LimiterIdleTTL:    10 * time.Minute,
		// Category labels are free-form and only ever bound as values.
		CheckedParams: []string{"q", "search", "deviceId", "groupBy"},
	}
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// SecurityMiddleware provides request hardening for the public API
type SecurityMiddleware struct {
	config  SecurityConfig
	metrics *monitoring.Metrics

	mu         sync.Mutex
	ipLimiters map[string]*ipLimiter
}

// NewSecurityMiddleware creates a new security middleware instance
func NewSecurityMiddleware(config SecurityConfig) *SecurityMiddleware {
	if config.MaxRequestsPerMin <= 0 {
		config.MaxRequestsPerMin = DefaultSecurityConfig().MaxRequestsPerMin
	}
	if config.LimiterIdleTTL <= 0 {
		config.LimiterIdleTTL = DefaultSecurityConfig().LimiterIdleTTL
	}
	return &SecurityMiddleware{
		config:     config,
		ipLimiters: make(map[string]*ipLimiter),
	}
}

var (
	suspiciousPatterns = []string{
		`<script`, `</script>`, `javascript:`,
		`union select`, `drop table`, `alter table`,
		`$where`, `$ne`, `$gt`, `/*`, `*/`,
	}
	htmlTagPattern    = regexp.MustCompile(`<[^>]+>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// WithMetrics counts per-IP blocks in m
func (sm *SecurityMiddleware) WithMetrics(m *monitoring.Metrics) *SecurityMiddleware {
	sm.metrics = m
	return sm
}

// ValidateInput rejects query values that are too long, not UTF-8, or look
// like injection attempts
func (sm *SecurityMiddleware) ValidateInput(input string) error {
	if sm.config.MaxInputLength > 0 && len(input) > sm.config.MaxInputLength {
		return fmt.Errorf("input exceeds maximum length of %d characters", sm.config.MaxInputLength)
	}
	if strings.Contains(input, "\x00") {
		return fmt.Errorf("input contains invalid characters")
	}
	if !utf8.ValidString(input) {
		return fmt.Errorf("input contains invalid UTF-8 encoding")
	}

	lower := strings.ToLower(input)
	for _, pattern := range suspiciousPatterns {
		if strings.Contains(lower, pattern) {
			return fmt.Errorf("input contains suspicious patterns")
		}
	}

	return nil
}

// SanitizeInput trims, strips markup and collapses whitespace
func SanitizeInput(input string) string {
	input = htmlTagPattern.ReplaceAllString(input, "")
	input = whitespacePattern.ReplaceAllString(input, " ")
	return strings.TrimSpace(input)
}

// ValidateQuery checks the configured query parameters before any handler runs
func (sm *SecurityMiddleware) ValidateQuery(c *gin.Context) {
	query := c.Request.URL.Query()
	for _, param := range sm.config.CheckedParams {
		for _, value := range query[param] {
			if err := sm.ValidateInput(value); err != nil {
				abort(c, errors.NewValidationError(fmt.Sprintf("invalid %s: %v", param, err)))
				return
			}
		}
	}
	c.Next()
}

// RateLimitByIP implements per-IP rate limiting
func (sm *SecurityMiddleware) RateLimitByIP(c *gin.Context) {
	if !sm.limiterFor(c.ClientIP()).Allow() {
		if sm.metrics != nil {
			sm.metrics.IncrementRateLimitIPBlock()
		}
		c.Header("Retry-After", "60")
		abort(c, errors.NewRateLimitError("60"))
		return
	}
	c.Next()
}

func (sm *SecurityMiddleware) limiterFor(ip string) *rate.Limiter {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	entry, ok := sm.ipLimiters[ip]
	if !ok {
		burst := sm.config.MaxRequestsPerMin / 2
		if burst < 5 {
			burst = 5
		}
		entry = &ipLimiter{limiter: rate.NewLimiter(rate.Limit(float64(sm.config.MaxRequestsPerMin)/60.0), burst)}
		sm.ipLimiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// ValidateContentType rejects request bodies the API cannot parse
func (sm *SecurityMiddleware) ValidateContentType(c *gin.Context) {
	if c.Request.ContentLength == 0 || c.Request.Method == http.MethodGet {
		c.Next()
		return
	}

	contentType := strings.ToLower(c.GetHeader("Content-Type"))
	for _, allowed := range []string{"application/json", "multipart/form-data", "application/x-www-form-urlencoded"} {
		if strings.HasPrefix(contentType, allowed) {
			c.Next()
			return
		}
	}

	c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, gin.H{
		"success": false,
		"message": "unsupported content type",
	})
}

// RequestTimeout bounds the request context so store and model calls give up
func (sm *SecurityMiddleware) RequestTimeout(c *gin.Context) {
	if sm.config.RequestTimeout <= 0 {
		c.Next()
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), sm.config.RequestTimeout)
	defer cancel()

	c.Request = c.Request.WithContext(ctx)
	c.Header("X-Timeout", strconv.Itoa(int(sm.config.RequestTimeout.Seconds())))

	c.Next()
}

// Cleanup evicts idle per-IP limiters until ctx is done
func (sm *SecurityMiddleware) Cleanup(ctx context.Context) {
	ticker := time.NewTicker(sm.config.LimiterIdleTTL)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sm.cleanupOldLimiters(time.Now())
			}
		}
	}()
}

func (sm *SecurityMiddleware) cleanupOldLimiters(now time.Time) int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	removed := 0
	for ip, entry := range sm.ipLimiters {
		if now.Sub(entry.lastSeen) > sm.config.LimiterIdleTTL {
			delete(sm.ipLimiters, ip)
			removed++
		}
	}
	return removed
}

func abort(c *gin.Context, appErr *errors.AppError) {
	appErr.RequestID = c.GetHeader("X-Request-ID")
	c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.Response())
}
