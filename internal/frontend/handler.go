package frontend

import (
	"io/fs"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ZanzyTHEbar/eco-classifier/internal/errors"
	"github.com/gin-gonic/gin"
)

// NewSPAHandler serves the dashboard build, falling back to index.html for
// client-side routes. Unknown API paths get a JSON 404 instead.
func NewSPAHandler(distFS fs.FS) gin.HandlerFunc {
	fileServer := http.FileServer(http.FS(distFS))

	return func(c *gin.Context) {
		path := c.Request.URL.Path

		if strings.HasPrefix(path, "/api/") {
			appErr := errors.NewNotFoundError("Route not found")
			appErr.RequestID = c.GetHeader("X-Request-ID")
			c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.Response())
			return
		}

		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.AbortWithStatus(http.StatusMethodNotAllowed)
			return
		}

		// Serve static assets directly with aggressive caching
		if strings.HasPrefix(path, "/assets/") {
			c.Header("Cache-Control", "public, max-age=31536000, immutable")
			fileServer.ServeHTTP(c.Writer, c.Request)
			return
		}

		cleanPath := strings.TrimPrefix(path, "/")
		if cleanPath != "" && cleanPath != "index.html" {
			if info, err := fs.Stat(distFS, cleanPath); err == nil && !info.IsDir() {
				c.Header("Cache-Control", "public, max-age=3600")
				fileServer.ServeHTTP(c.Writer, c.Request)
				return
			}
		}

		index, err := fs.ReadFile(distFS, "index.html")
		if err != nil {
			slog.Error("Failed to read index.html", "error", err, "path", path)
			c.AbortWithStatusJSON(http.StatusInternalServerError, errors.NewInternalError("failed to render page", err).Response())
			return
		}

		c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
		c.Data(http.StatusOK, "text/html; charset=utf-8", index)
	}
}
