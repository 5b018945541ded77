package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// CompressionConfig holds configuration for response compression
type CompressionConfig struct {
	MinSize          int      // Minimum response size to compress (bytes)
	CompressionLevel int      // Gzip compression level (1-9, 9 is best compression)
	ContentTypes     []string // Content types to compress
	ExcludedPaths    []string // Path prefixes that are never compressed
}

// DefaultCompressionConfig returns the default compression configuration
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		MinSize:          1024, // Compress responses >= 1KB
		CompressionLevel: 6,    // Balanced compression level
		ContentTypes: []string{
			"application/json",
			"text/plain",
			"text/html",
			"text/css",
			"text/csv",
			"application/javascript",
			"image/svg+xml",
		},
		// promhttp negotiates its own encoding
		ExcludedPaths: []string{"/metrics"},
	}
}

// CompressionMiddleware provides gzip compression for HTTP responses
type CompressionMiddleware struct {
	config CompressionConfig
	stats  *CompressionStats
	pool   sync.Pool // Pool of gzip writers for better performance
}

// NewCompressionMiddleware creates a new compression middleware
func NewCompressionMiddleware(config CompressionConfig) *CompressionMiddleware {
	if config.CompressionLevel < gzip.BestSpeed || config.CompressionLevel > gzip.BestCompression {
		config.CompressionLevel = gzip.DefaultCompression
	}

	cm := &CompressionMiddleware{
		config: config,
		stats:  NewCompressionStats(),
	}
	cm.pool.New = func() interface{} {
		gz, _ := gzip.NewWriterLevel(io.Discard, cm.config.CompressionLevel)
		return gz
	}
	return cm
}

// Handler returns a Gin middleware that gzips eligible responses. Bodies
// are buffered until MinSize is reached so small responses go out as-is.
func (cm *CompressionMiddleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodHead || !cm.clientAcceptsGzip(c.Request) || cm.excluded(c.Request.URL.Path) {
			c.Next()
			return
		}

		original := c.Writer
		gzw := &gzipResponseWriter{ResponseWriter: original, cm: cm}
		c.Writer = gzw
		defer func() {
			gzw.finish()
			c.Writer = original
		}()

		c.Next()
	}
}

// clientAcceptsGzip checks if the client accepts gzip compression
func (cm *CompressionMiddleware) clientAcceptsGzip(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		params := strings.Split(part, ";")
		coding := strings.TrimSpace(params[0])
		if coding != "gzip" && coding != "*" {
			continue
		}
		for _, param := range params[1:] {
			if q, ok := strings.CutPrefix(strings.TrimSpace(param), "q="); ok {
				if v, err := strconv.ParseFloat(q, 64); err == nil && v == 0 {
					return false
				}
			}
		}
		return true
	}
	return false
}

func (cm *CompressionMiddleware) excluded(path string) bool {
	for _, prefix := range cm.config.ExcludedPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// shouldCompress checks if the content type should be compressed
func (cm *CompressionMiddleware) shouldCompress(contentType string) bool {
	for _, ct := range cm.config.ContentTypes {
		if strings.Contains(contentType, ct) {
			return true
		}
	}
	return false
}

// getGzipWriter gets a gzip writer from the pool
func (cm *CompressionMiddleware) getGzipWriter(w io.Writer) *gzip.Writer {
	gz := cm.pool.Get().(*gzip.Writer)
	gz.Reset(w)
	return gz
}

// returnGzipWriter returns a gzip writer to the pool
func (cm *CompressionMiddleware) returnGzipWriter(gz *gzip.Writer) {
	gz.Reset(io.Discard)
	cm.pool.Put(gz)
}

// gzipResponseWriter holds the status and the first MinSize bytes back until
// it knows whether the response is worth compressing.
type gzipResponseWriter struct {
	gin.ResponseWriter
	cm *CompressionMiddleware

	status  int
	buf     bytes.Buffer
	decided bool
	gz      *gzip.Writer
	raw     int64
}

// WriteHeader records the status code; it is sent once the body decision is made
func (gzw *gzipResponseWriter) WriteHeader(statusCode int) {
	if gzw.decided {
		return
	}
	gzw.status = statusCode
}

// WriteHeaderNow commits the response uncompressed
func (gzw *gzipResponseWriter) WriteHeaderNow() {
	if !gzw.decided {
		gzw.decide(false)
	}
	gzw.ResponseWriter.WriteHeaderNow()
}

// Status reports the pending status before anything reaches the client
func (gzw *gzipResponseWriter) Status() int {
	if !gzw.decided && gzw.status != 0 {
		return gzw.status
	}
	return gzw.ResponseWriter.Status()
}

// Written reports whether the handler produced a response
func (gzw *gzipResponseWriter) Written() bool {
	return gzw.buf.Len() > 0 || gzw.ResponseWriter.Written()
}

// Write writes data through the gzip writer once the response qualifies
func (gzw *gzipResponseWriter) Write(data []byte) (int, error) {
	gzw.raw += int64(len(data))

	if !gzw.decided {
		gzw.buf.Write(data)
		if gzw.buf.Len() < gzw.cm.config.MinSize {
			return len(data), nil
		}
		if err := gzw.flushBuffer(gzw.eligible()); err != nil {
			return 0, err
		}
		return len(data), nil
	}

	if gzw.gz != nil {
		return gzw.gz.Write(data)
	}
	return gzw.ResponseWriter.Write(data)
}

// WriteString writes a string body
func (gzw *gzipResponseWriter) WriteString(s string) (int, error) {
	return gzw.Write([]byte(s))
}

// Flush flushes the gzip writer
func (gzw *gzipResponseWriter) Flush() {
	if !gzw.decided {
		_ = gzw.flushBuffer(gzw.eligible())
	}
	if gzw.gz != nil {
		_ = gzw.gz.Flush()
	}
	gzw.ResponseWriter.Flush()
}

func (gzw *gzipResponseWriter) eligible() bool {
	status := gzw.status
	if status == 0 {
		status = http.StatusOK
	}
	if status < 200 || status == http.StatusNoContent || status == http.StatusNotModified || status == http.StatusPartialContent {
		return false
	}

	header := gzw.Header()
	if header.Get("Content-Encoding") != "" {
		return false
	}

	contentType := header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(gzw.buf.Bytes())
		header.Set("Content-Type", contentType)
	}
	return gzw.cm.shouldCompress(contentType)
}

// decide fixes the encoding and sends the headers
func (gzw *gzipResponseWriter) decide(compress bool) {
	gzw.decided = true

	if compress {
		header := gzw.Header()
		header.Set("Content-Encoding", "gzip")
		header.Add("Vary", "Accept-Encoding")
		header.Del("Content-Length")
		gzw.gz = gzw.cm.getGzipWriter(gzw.ResponseWriter)
	}

	if gzw.status != 0 {
		gzw.ResponseWriter.WriteHeader(gzw.status)
	}
}

func (gzw *gzipResponseWriter) flushBuffer(compress bool) error {
	gzw.decide(compress)
	if gzw.buf.Len() == 0 {
		return nil
	}

	var err error
	if gzw.gz != nil {
		_, err = gzw.gz.Write(gzw.buf.Bytes())
	} else {
		_, err = gzw.ResponseWriter.Write(gzw.buf.Bytes())
	}
	gzw.buf.Reset()
	return err
}

// finish sends whatever is still buffered and closes the gzip stream
func (gzw *gzipResponseWriter) finish() {
	if !gzw.decided {
		if gzw.buf.Len() == 0 {
			gzw.decide(false)
		} else {
			_ = gzw.flushBuffer(gzw.buf.Len() >= gzw.cm.config.MinSize && gzw.eligible())
		}
	}

	compressed := gzw.gz != nil
	if compressed {
		_ = gzw.gz.Close()
		gzw.cm.returnGzipWriter(gzw.gz)
		gzw.gz = nil
	}

	if gzw.raw > 0 {
		sent := int64(gzw.ResponseWriter.Size())
		if sent < 0 {
			sent = 0
		}
		gzw.cm.stats.RecordRequest(gzw.raw, sent, compressed)
	}
}

// CompressionStats tracks compression statistics
type CompressionStats struct {
	TotalRequests      int64
	CompressedRequests int64
	TotalBytes         int64
	CompressedBytes    int64
	mutex              sync.RWMutex
}

// NewCompressionStats creates new compression statistics
func NewCompressionStats() *CompressionStats {
	return &CompressionStats{}
}

// RecordRequest records a request's compression stats
func (cs *CompressionStats) RecordRequest(originalSize, compressedSize int64, compressed bool) {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	cs.TotalRequests++
	cs.TotalBytes += originalSize

	if compressed {
		cs.CompressedRequests++
		cs.CompressedBytes += compressedSize
	} else {
		cs.CompressedBytes += originalSize
	}
}

// GetStats returns current compression statistics
func (cs *CompressionStats) GetStats() map[string]interface{} {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	compressionRatio := float64(1)
	if cs.TotalBytes > 0 {
		compressionRatio = float64(cs.CompressedBytes) / float64(cs.TotalBytes)
	}

	return map[string]interface{}{
		"total_requests":      cs.TotalRequests,
		"compressed_requests": cs.CompressedRequests,
		"total_bytes":         cs.TotalBytes,
		"compressed_bytes":    cs.CompressedBytes,
		"compression_ratio":   compressionRatio,
		"compression_savings": 1.0 - compressionRatio,
	}
}

// GetStats returns compression statistics
func (cm *CompressionMiddleware) GetStats() map[string]interface{} {
	return cm.stats.GetStats()
}
