package monitoring

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestMetricsPercentiles(t *testing.T) {
	m := NewMetrics()
	for i := 1; i <= 100; i++ {
		m.RecordResponseTime(time.Duration(i) * time.Millisecond)
	}

	assert.Equal(t, 50*time.Millisecond, m.GetPercentileResponseTime(50))
	assert.Equal(t, 99*time.Millisecond, m.GetPercentileResponseTime(99))
	assert.Equal(t, time.Duration(0), NewMetrics().GetPercentileResponseTime(50))
}

func TestMetricsUploads(t *testing.T) {
	m := NewMetrics()
	m.RecordUpload("web", "plastic", true)
	m.RecordUpload("web", "plastic", true)
	m.RecordUpload("path", "paper", true)
	m.RecordUpload("web", "", false)

	assert.Equal(t, map[string]int64{"plastic": 2, "paper": 1}, m.GetCategoryDistribution())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.classifications.WithLabelValues("plastic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploadsTotal.WithLabelValues("web", "failure")))

	stats := m.GetStats()
	assert.EqualValues(t, 4, stats["uploads"])
	assert.EqualValues(t, 1, stats["upload_failures"])
}

func TestMetricsHandlerExposesCollectors(t *testing.T) {
	m := NewMetrics()
	m.RecordStoreError("grouped_counts")
	m.ObserveRequest(http.MethodGet, "/api/stats", http.StatusOK, 10*time.Millisecond)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `eco_store_errors_total{operation="grouped_counts"} 1`)
	assert.Contains(t, body, `eco_http_requests_total{method="GET",route="/api/stats",status_code="200"} 1`)
}

func TestMonitoringMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, slog.LevelInfo)
	m := NewMetrics()

	router := gin.New()
	router.Use(MonitoringMiddleware(m, logger))
	router.GET("/api/events", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/events", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.EqualValues(t, 2, m.RequestCount)
	assert.EqualValues(t, 1, m.ErrorCount)
	assert.Equal(t, map[int]int64{200: 1, 404: 1}, m.GetStatusCodeDistribution())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "unmatched", "404")))

	line := strings.SplitN(buf.String(), "\n", 2)[0]
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "HTTP Request", entry["msg"])
	assert.Equal(t, "/api/events", entry["path"])
	assert.Contains(t, entry, "timestamp")
}

func TestSecurityMonitoringMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, slog.LevelInfo)

	router := gin.New()
	router.Use(SecurityMonitoringMiddleware(logger, 1024))
	router.GET("/api/events", func(c *gin.Context) { c.Status(http.StatusOK) })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/events?q=report", nil))
	assert.Empty(t, buf.String())

	req := httptest.NewRequest(http.MethodGet, "/api/events?q=1%27%20UNION%20SELECT%20*", nil)
	req.URL.RawQuery = "q=1' UNION SELECT password"
	router.ServeHTTP(httptest.NewRecorder(), req)
	assert.Contains(t, buf.String(), "potential_sql_injection")

	buf.Reset()
	req = httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.Header.Set("User-Agent", "sqlmap/1.7")
	router.ServeHTTP(httptest.NewRecorder(), req)
	assert.Contains(t, buf.String(), "suspicious_user_agent")
}
