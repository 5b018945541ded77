package main

import (
	"log/slog"
	"strings"
	"time"

	_ "github.com/ZanzyTHEbar/eco-classifier/docs"
	"github.com/ZanzyTHEbar/eco-classifier/internal/errors"
	"github.com/ZanzyTHEbar/eco-classifier/internal/frontend"
	"github.com/ZanzyTHEbar/eco-classifier/internal/imagestore"
	"github.com/ZanzyTHEbar/eco-classifier/internal/monitoring"
	"github.com/ZanzyTHEbar/eco-classifier/internal/security"
	"github.com/ZanzyTHEbar/eco-classifier/internal/upload"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const cloudinaryImageHost = "https://res.cloudinary.com"

func corsConfig(origins []string) cors.Config {
	config := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Disposition", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}
	return config
}

// newRouter builds the gin engine with the full middleware chain
func newRouter(a *app) *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = 8 << 20

	r.Use(a.compression.Handler())

	// Monitoring first so every request is counted
	r.Use(monitoring.MonitoringMiddleware(a.metrics, a.logger))
	r.Use(monitoring.SecurityMonitoringMiddleware(a.logger, upload.MaxWebBytes))

	r.Use(errors.ErrorHandler())
	r.Use(errors.RecoveryHandler())

	r.Use(cors.New(corsConfig(a.cfg.AllowedOrigins)))

	var imageHosts []string
	if a.uploader.Name() == "cloudinary" {
		imageHosts = append(imageHosts, cloudinaryImageHost)
	}
	r.Use(security.SecurityHeadersMiddleware(security.ContentSecurityPolicy(imageHosts...)))
	r.Use(a.security.RequestTimeout)
	r.Use(a.security.ValidateContentType)
	r.Use(a.security.RateLimitByIP)

	h := newAPI(a)

	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(a.metrics.Handler()))
	r.GET("/metrics/summary", h.metricsSummary)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	uploadRate := a.limiter.UploadRate()

	apiGroup := r.Group("/api", a.security.ValidateQuery)
	{
		apiGroup.POST("/upload", a.limiter.EndpointRateLimitMiddleware("upload", uploadRate), h.upload)
		apiGroup.POST("/upload/path", a.limiter.EndpointRateLimitMiddleware("upload_path", uploadRate), h.uploadFromPath)
		apiGroup.GET("/ratelimit", a.limiter.HandleRateLimitStatus("upload", uploadRate))

		apiGroup.GET("/events", h.listEvents)
		apiGroup.GET("/stats", h.stats)
		apiGroup.GET("/export", h.exportCSV)

		apiGroup.GET("/models", h.listModels)
		apiGroup.POST("/models", h.registerModel)
		apiGroup.GET("/models/deployed", h.deployedModel)
	}

	if disk, ok := a.uploader.(*imagestore.DiskUploader); ok {
		r.Static(strings.TrimSuffix(imagestore.PublicPrefix, "/"), disk.Dir())
	}

	distFS, err := frontend.GetDistFS()
	if err != nil {
		slog.Error("Embedded dashboard unavailable", "error", err)
	} else {
		r.NoRoute(frontend.NewSPAHandler(distFS))
	}

	return r
}
