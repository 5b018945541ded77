package monitoring

import (
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxResponseSamples = 1000

// Metrics holds application metrics. Counters are kept in-process for the
// JSON summary and mirrored into Prometheus collectors for scraping.
type Metrics struct {
	RequestCount        int64
	ErrorCount          int64
	UploadCount         int64
	UploadFailures      int64
	StatsQueries        int64
	StoreErrors         int64
	AverageResponseTime int64 // in nanoseconds
	StartTime           time.Time

	ResponseTimes      []time.Duration
	ResponseTimesMutex sync.RWMutex

	RequestCountByStatus map[int]int64
	StatusMutex          sync.RWMutex

	ClassificationsByCategory map[string]int64
	CategoryMutex             sync.RWMutex

	ExternalAPIRequests   map[string]int64
	ExternalAPIErrorCount map[string]int64
	ExternalAPIMutex      sync.RWMutex

	RateLimitIPBlocks       int64
	RateLimitRedisErrors    int64
	RateLimitFallbackCount  int64
	RateLimitEndpointBlocks map[string]int64
	RateLimitMutex          sync.RWMutex

	registry            *prometheus.Registry
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	uploadsTotal        *prometheus.CounterVec
	classifications     *prometheus.CounterVec
	storeErrors         *prometheus.CounterVec
	externalAPICalls    *prometheus.CounterVec
	rateLimitBlocks     *prometheus.CounterVec
}

// NewMetrics creates a metrics instance backed by its own Prometheus registry
func NewMetrics() *Metrics {
	m := &Metrics{
		StartTime:                 time.Now(),
		ResponseTimes:             make([]time.Duration, 0, maxResponseSamples),
		RequestCountByStatus:      make(map[int]int64),
		ClassificationsByCategory: make(map[string]int64),
		ExternalAPIRequests:       make(map[string]int64),
		ExternalAPIErrorCount:     make(map[string]int64),
		RateLimitEndpointBlocks:   make(map[string]int64),
		registry:                  prometheus.NewRegistry(),
	}

	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eco_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)
	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eco_http_request_duration_seconds",
			Help:    "Time taken for HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	m.uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eco_uploads_total",
			Help: "Classification uploads by source and outcome",
		},
		[]string{"source", "outcome"},
	)
	m.classifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eco_classifications_total",
			Help: "Recorded classification events by category",
		},
		[]string{"category"},
	)
	m.storeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eco_store_errors_total",
			Help: "Event store failures by operation",
		},
		[]string{"operation"},
	)
	m.externalAPICalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eco_external_api_calls_total",
			Help: "Calls to external services by outcome",
		},
		[]string{"api", "success"},
	)
	m.rateLimitBlocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eco_rate_limit_blocks_total",
			Help: "Requests rejected by rate limiting",
		},
		[]string{"scope"},
	)

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.uploadsTotal,
		m.classifications,
		m.storeErrors,
		m.externalAPICalls,
		m.rateLimitBlocks,
	)

	return m
}

// Registry exposes the Prometheus registry backing these metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncrementRequest increments the request count
func (m *Metrics) IncrementRequest() {
	atomic.AddInt64(&m.RequestCount, 1)
}

// IncrementError increments the error count
func (m *Metrics) IncrementError() {
	atomic.AddInt64(&m.ErrorCount, 1)
}

// ObserveRequest records one finished HTTP request
func (m *Metrics) ObserveRequest(method, route string, statusCode int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())

	m.RecordResponseTime(duration)
	m.RecordRequestByStatus(statusCode)
}

// RecordResponseTime records response time for averaging and percentiles
func (m *Metrics) RecordResponseTime(duration time.Duration) {
	current := atomic.LoadInt64(&m.AverageResponseTime)
	newAverage := (current + duration.Nanoseconds()) / 2
	atomic.StoreInt64(&m.AverageResponseTime, newAverage)

	m.ResponseTimesMutex.Lock()
	m.ResponseTimes = append(m.ResponseTimes, duration)
	if len(m.ResponseTimes) > maxResponseSamples {
		m.ResponseTimes = m.ResponseTimes[1:]
	}
	m.ResponseTimesMutex.Unlock()
}

// RecordRequestByStatus records request count by HTTP status code
func (m *Metrics) RecordRequestByStatus(statusCode int) {
	m.StatusMutex.Lock()
	defer m.StatusMutex.Unlock()
	m.RequestCountByStatus[statusCode]++
}

// RecordUpload records an upload attempt and, on success, its category
func (m *Metrics) RecordUpload(source, category string, success bool) {
	atomic.AddInt64(&m.UploadCount, 1)
	if !success {
		atomic.AddInt64(&m.UploadFailures, 1)
		m.uploadsTotal.WithLabelValues(source, "failure").Inc()
		return
	}

	m.uploadsTotal.WithLabelValues(source, "success").Inc()
	m.classifications.WithLabelValues(category).Inc()

	m.CategoryMutex.Lock()
	m.ClassificationsByCategory[category]++
	m.CategoryMutex.Unlock()
}

// IncrementStatsQuery counts one aggregation request
func (m *Metrics) IncrementStatsQuery() {
	atomic.AddInt64(&m.StatsQueries, 1)
}

// RecordStoreError counts a failed store operation
func (m *Metrics) RecordStoreError(operation string) {
	atomic.AddInt64(&m.StoreErrors, 1)
	m.storeErrors.WithLabelValues(operation).Inc()
}

// RecordExternalAPIRequest records an external API request
func (m *Metrics) RecordExternalAPIRequest(apiName string, success bool) {
	m.externalAPICalls.WithLabelValues(apiName, strconv.FormatBool(success)).Inc()

	m.ExternalAPIMutex.Lock()
	defer m.ExternalAPIMutex.Unlock()

	m.ExternalAPIRequests[apiName]++
	if !success {
		m.ExternalAPIErrorCount[apiName]++
	}
}

// IncrementRateLimitIPBlock increments IP-based rate limit blocks
func (m *Metrics) IncrementRateLimitIPBlock() {
	atomic.AddInt64(&m.RateLimitIPBlocks, 1)
	m.rateLimitBlocks.WithLabelValues("ip").Inc()
}

// IncrementRateLimitRedisError increments Redis error count for rate limiting
func (m *Metrics) IncrementRateLimitRedisError() {
	atomic.AddInt64(&m.RateLimitRedisErrors, 1)
}

// IncrementRateLimitFallback increments fallback rate limiter usage count
func (m *Metrics) IncrementRateLimitFallback() {
	atomic.AddInt64(&m.RateLimitFallbackCount, 1)
}

// IncrementRateLimitEndpoint increments rate limit blocks for a specific endpoint
func (m *Metrics) IncrementRateLimitEndpoint(endpoint string) {
	m.rateLimitBlocks.WithLabelValues(endpoint).Inc()

	m.RateLimitMutex.Lock()
	defer m.RateLimitMutex.Unlock()
	m.RateLimitEndpointBlocks[endpoint]++
}

// GetPercentileResponseTime calculates percentile response time
func (m *Metrics) GetPercentileResponseTime(percentile float64) time.Duration {
	m.ResponseTimesMutex.RLock()
	defer m.ResponseTimesMutex.RUnlock()

	if len(m.ResponseTimes) == 0 {
		return 0
	}

	times := make([]time.Duration, len(m.ResponseTimes))
	copy(times, m.ResponseTimes)

	sort.Slice(times, func(i, j int) bool {
		return times[i] < times[j]
	})

	index := int(float64(len(times)-1) * percentile / 100.0)
	if index >= len(times) {
		index = len(times) - 1
	}

	return times[index]
}

// GetStatusCodeDistribution returns request count by status code
func (m *Metrics) GetStatusCodeDistribution() map[int]int64 {
	m.StatusMutex.RLock()
	defer m.StatusMutex.RUnlock()

	distribution := make(map[int]int64, len(m.RequestCountByStatus))
	for code, count := range m.RequestCountByStatus {
		distribution[code] = count
	}
	return distribution
}

// GetCategoryDistribution returns recorded classifications by category
func (m *Metrics) GetCategoryDistribution() map[string]int64 {
	m.CategoryMutex.RLock()
	defer m.CategoryMutex.RUnlock()

	distribution := make(map[string]int64, len(m.ClassificationsByCategory))
	for category, count := range m.ClassificationsByCategory {
		distribution[category] = count
	}
	return distribution
}

// GetExternalAPIStats returns external API statistics
func (m *Metrics) GetExternalAPIStats() map[string]interface{} {
	m.ExternalAPIMutex.RLock()
	defer m.ExternalAPIMutex.RUnlock()

	stats := make(map[string]interface{})
	for api, requests := range m.ExternalAPIRequests {
		errors := m.ExternalAPIErrorCount[api]
		errorRate := float64(0)
		if requests > 0 {
			errorRate = float64(errors) / float64(requests) * 100
		}

		stats[api] = map[string]interface{}{
			"requests":   requests,
			"errors":     errors,
			"error_rate": errorRate,
		}
	}
	return stats
}

// GetRateLimitStats returns rate limiting statistics
func (m *Metrics) GetRateLimitStats() map[string]interface{} {
	m.RateLimitMutex.RLock()
	endpointBlocksCopy := make(map[string]int64, len(m.RateLimitEndpointBlocks))
	for k, v := range m.RateLimitEndpointBlocks {
		endpointBlocksCopy[k] = v
	}
	m.RateLimitMutex.RUnlock()

	return map[string]interface{}{
		"ip_blocks":       atomic.LoadInt64(&m.RateLimitIPBlocks),
		"redis_errors":    atomic.LoadInt64(&m.RateLimitRedisErrors),
		"fallback_count":  atomic.LoadInt64(&m.RateLimitFallbackCount),
		"endpoint_blocks": endpointBlocksCopy,
	}
}

// GetStats returns current metrics statistics
func (m *Metrics) GetStats() map[string]interface{} {
	requests := atomic.LoadInt64(&m.RequestCount)
	errors := atomic.LoadInt64(&m.ErrorCount)
	avgResponseTime := atomic.LoadInt64(&m.AverageResponseTime)

	errorRate := float64(0)
	if requests > 0 {
		errorRate = float64(errors) / float64(requests) * 100
	}

	return map[string]interface{}{
		"uptime_seconds":       time.Since(m.StartTime).Seconds(),
		"total_requests":       requests,
		"error_count":          errors,
		"error_rate_percent":   errorRate,
		"uploads":              atomic.LoadInt64(&m.UploadCount),
		"upload_failures":      atomic.LoadInt64(&m.UploadFailures),
		"stats_queries":        atomic.LoadInt64(&m.StatsQueries),
		"store_errors":         atomic.LoadInt64(&m.StoreErrors),
		"avg_response_time_ms": float64(avgResponseTime) / 1000000,
		"start_time":           m.StartTime.Format(time.RFC3339),

		"p50_response_time_ms":     float64(m.GetPercentileResponseTime(50)) / 1000000,
		"p95_response_time_ms":     float64(m.GetPercentileResponseTime(95)) / 1000000,
		"p99_response_time_ms":     float64(m.GetPercentileResponseTime(99)) / 1000000,
		"status_code_distribution": m.GetStatusCodeDistribution(),
		"classifications":          m.GetCategoryDistribution(),
		"external_api_stats":       m.GetExternalAPIStats(),
		"rate_limit":               m.GetRateLimitStats(),
	}
}
