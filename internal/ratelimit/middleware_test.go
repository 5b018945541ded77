package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/eco-classifier/internal/monitoring"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRateLimitedRouter(limiter *RateLimiter) *gin.Engine {
	router := gin.New()
	router.POST("/api/upload", limiter.EndpointRateLimitMiddleware("upload", PerMinute(2)), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true})
	})
	router.GET("/api/ratelimit", limiter.HandleRateLimitStatus("upload", PerMinute(2)))
	return router
}

func postUpload(router *gin.Engine, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/upload", nil)
	req.RemoteAddr = ip + ":4000"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestEndpointRateLimitMiddleware(t *testing.T) {
	limiter, metrics := newFallbackLimiter(t, DefaultConfig())
	router := newRateLimitedRouter(limiter)

	for i := 0; i < 2; i++ {
		w := postUpload(router, "10.1.1.1")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}

	w := postUpload(router, "10.1.1.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])

	w = postUpload(router, "10.1.1.2")
	assert.Equal(t, http.StatusOK, w.Code, "other clients keep their own budget")

	blocks := metrics.GetRateLimitStats()["endpoint_blocks"].(map[string]int64)
	assert.EqualValues(t, 1, blocks["upload"])
}

func TestEndpointRateLimitMiddlewareFailsOpen(t *testing.T) {
	config := DefaultConfig()
	config.EnableFallback = false
	limiter := NewRateLimiter(&RedisClient{enabled: false}, config, monitoring.NewMetrics())
	t.Cleanup(limiter.Close)
	router := newRateLimitedRouter(limiter)

	for i := 0; i < 5; i++ {
		w := postUpload(router, "10.1.1.3")
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestHandleRateLimitStatus(t *testing.T) {
	limiter, _ := newFallbackLimiter(t, DefaultConfig())
	router := newRateLimitedRouter(limiter)

	postUpload(router, "10.1.1.4")

	req := httptest.NewRequest(http.MethodGet, "/api/ratelimit", nil)
	req.RemoteAddr = "10.1.1.4:4000"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Success   bool   `json:"success"`
		Endpoint  string `json:"endpoint"`
		Limit     int    `json:"limit"`
		Remaining int    `json:"remaining"`
		Period    string `json:"period"`
		Backend   string `json:"backend"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "upload", body.Endpoint)
	assert.Equal(t, 2, body.Limit)
	assert.Equal(t, 1, body.Remaining)
	assert.Equal(t, time.Minute.String(), body.Period)
	assert.Equal(t, "memory", body.Backend)

	// The status check did not consume the last request.
	w = postUpload(router, "10.1.1.4")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRetrySeconds(t *testing.T) {
	assert.Equal(t, 1, retrySeconds(0))
	assert.Equal(t, 1, retrySeconds(200*time.Millisecond))
	assert.Equal(t, 12, retrySeconds(11500*time.Millisecond))
}
