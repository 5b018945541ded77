package security

import (
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContentSecurityPolicy allows the dashboard to load its own assets and
// images from the configured image host.
func ContentSecurityPolicy(imageHosts ...string) string {
	img := append([]string{"'self'", "data:", "blob:"}, imageHosts...)
	return strings.Join([]string{
		"default-src 'self'",
		"script-src 'self'",
		"style-src 'self' 'unsafe-inline'",
		"img-src " + strings.Join(img, " "),
		"font-src 'self' data:",
		"connect-src 'self'",
		"frame-ancestors 'none'",
		"base-uri 'self'",
		"form-action 'self'",
	}, "; ")
}

// SecurityHeadersMiddleware adds security headers to all responses
func SecurityHeadersMiddleware(csp string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

		// swagger-ui ships inline scripts
		if csp != "" && !strings.HasPrefix(c.Request.URL.Path, "/swagger/") {
			c.Header("Content-Security-Policy", csp)
		}

		if c.Request.TLS != nil || os.Getenv("ENABLE_HSTS") == "true" {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
