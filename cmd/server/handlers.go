package main

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ZanzyTHEbar/eco-classifier/internal/classifier"
	"github.com/ZanzyTHEbar/eco-classifier/internal/database"
	"github.com/ZanzyTHEbar/eco-classifier/internal/domain"
	"github.com/ZanzyTHEbar/eco-classifier/internal/errors"
	"github.com/ZanzyTHEbar/eco-classifier/internal/export"
	"github.com/ZanzyTHEbar/eco-classifier/internal/middleware"
	"github.com/ZanzyTHEbar/eco-classifier/internal/monitoring"
	"github.com/ZanzyTHEbar/eco-classifier/internal/ratelimit"
	"github.com/ZanzyTHEbar/eco-classifier/internal/types"
	"github.com/ZanzyTHEbar/eco-classifier/internal/upload"
	"github.com/gin-gonic/gin"
)

const version = "1.0.0"

// api serves the HTTP endpoints
type api struct {
	service     *database.EventService
	store       domain.Store
	pipeline    *upload.Pipeline
	predictor   classifier.Predictor
	sampleDir   string
	metrics     *monitoring.Metrics
	limiter     *ratelimit.RateLimiter
	redis       *ratelimit.RedisClient
	compression *middleware.CompressionMiddleware
}

func newAPI(a *app) *api {
	return &api{
		service:     a.service,
		store:       a.store,
		pipeline:    a.pipeline,
		predictor:   a.predictor,
		sampleDir:   a.cfg.SampleUploadDir,
		metrics:     a.metrics,
		limiter:     a.limiter,
		redis:       a.redis,
		compression: a.compression,
	}
}

// upload godoc
// @Summary      Classify an uploaded image
// @Description  Stores the image, runs the classifier and records the resulting event.
// @Tags         upload
// @Accept       multipart/form-data
// @Produce      json
// @Param        image  formData  file  true  "Image file (max 5 MB)"
// @Success      200  {object}  types.RecordResponse
// @Failure      400  {object}  errors.ErrorResponse
// @Failure      429  {object}  errors.ErrorResponse
// @Failure      502  {object}  errors.ErrorResponse
// @Router       /api/upload [post]
func (h *api) upload(c *gin.Context) {
	// Leave room for the multipart envelope around the image.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, upload.MaxWebBytes+(1<<20))

	fileHeader, err := c.FormFile("image")
	if err != nil {
		var tooBig *http.MaxBytesError
		if stderrors.As(err, &tooBig) {
			_ = c.Error(upload.TooLargeError(upload.MaxWebBytes))
			return
		}
		_ = c.Error(errors.NewValidationError("No file provided"))
		return
	}
	if fileHeader.Size > upload.MaxWebBytes {
		_ = c.Error(upload.TooLargeError(upload.MaxWebBytes))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		_ = c.Error(errors.NewValidationError("Failed to read uploaded file", err))
		return
	}
	defer file.Close()

	event, err := h.pipeline.Process(c.Request.Context(), upload.Source{
		Kind:     upload.SourceWeb,
		Filename: fileHeader.Filename,
		Body:     file,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, types.RecordResponse{Success: true, Record: event})
}

// uploadFromPath godoc
// @Summary      Classify a sample file on the server
// @Description  Reads an image from the allowed sample directory and runs it through the upload pipeline.
// @Tags         upload
// @Accept       json
// @Produce      json
// @Param        request  body  types.UploadPathRequest  true  "Server-side path"
// @Success      200  {object}  types.RecordResponse
// @Failure      400  {object}  errors.ErrorResponse
// @Failure      403  {object}  errors.ErrorResponse
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /api/upload/path [post]
func (h *api) uploadFromPath(c *gin.Context) {
	var req types.UploadPathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewValidationError("Missing 'path' in request body."))
		return
	}

	event, err := h.pipeline.ProcessPath(c.Request.Context(), h.sampleDir, req.Path)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, types.RecordResponse{Success: true, Record: event})
}

// listEvents godoc
// @Summary      List classification events
// @Description  Newest first, paginated, optionally filtered by category and filename substring.
// @Tags         events
// @Produce      json
// @Param        page      query  int     false  "Page number (default 1)"
// @Param        limit     query  int     false  "Page size (default 50, max 500)"
// @Param        category  query  string  false  "Exact category"
// @Param        q         query  string  false  "Case-insensitive filename substring"
// @Success      200  {object}  types.EventsResponse
// @Failure      400  {object}  errors.ErrorResponse
// @Failure      503  {object}  errors.ErrorResponse
// @Router       /api/events [get]
func (h *api) listEvents(c *gin.Context) {
	var q types.EventsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(errors.NewValidationError("page and limit must be integers", err.Error()))
		return
	}

	page, err := h.service.ListEvents(c.Request.Context(), q.ListOptions())
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, types.EventsResponse{
		Success: true,
		Page:    page.Page,
		Limit:   page.Limit,
		Total:   page.Total,
		Events:  page.Events,
	})
}

// stats godoc
// @Summary      Aggregate events into a time series
// @Description  Counts events per bucket and category. Every category gets one value per group, zero where it has no events.
// @Tags         events
// @Produce      json
// @Param        rangeStart  query  string  false  "Inclusive lower bound (ISO-8601)"
// @Param        rangeEnd    query  string  false  "Inclusive upper bound (ISO-8601)"
// @Param        groupBy     query  string  false  "hour, day or month (default day)"
// @Param        categories  query  string  false  "Comma-separated categories"
// @Param        deviceId    query  string  false  "Device filter"
// @Success      200  {object}  types.StatsResponse
// @Failure      400  {object}  errors.ErrorResponse
// @Failure      503  {object}  errors.ErrorResponse
// @Router       /api/stats [get]
func (h *api) stats(c *gin.Context) {
	var q types.StatsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(errors.NewValidationError("invalid query", err.Error()))
		return
	}

	filter, err := q.Filter()
	if err != nil {
		_ = c.Error(errors.NewValidationError(err.Error()))
		return
	}

	result, err := h.service.Stats(c.Request.Context(), filter, domain.ParseGranularity(q.GroupBy))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, types.NewStatsResponse(result))
}

// exportCSV godoc
// @Summary      Export all events as CSV
// @Tags         events
// @Produce      text/csv
// @Success      200  {file}  file
// @Failure      503  {object}  errors.ErrorResponse
// @Router       /api/export [get]
func (h *api) exportCSV(c *gin.Context) {
	var buf bytes.Buffer
	if _, err := h.service.Export(c.Request.Context(), &buf); err != nil {
		_ = c.Error(err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// listModels godoc
// @Summary      List registered models
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelsResponse
// @Failure      503  {object}  errors.ErrorResponse
// @Router       /api/models [get]
func (h *api) listModels(c *gin.Context) {
	models, err := h.service.Models(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, types.ModelsResponse{Success: true, Models: models})
}

// registerModel godoc
// @Summary      Register a model artifact
// @Description  Registering with deployed=true marks every other model as not deployed.
// @Tags         models
// @Accept       json
// @Produce      json
// @Param        request  body  types.RegisterModelRequest  true  "Model metadata"
// @Success      201  {object}  types.ModelResponse
// @Failure      400  {object}  errors.ErrorResponse
// @Router       /api/models [post]
func (h *api) registerModel(c *gin.Context) {
	var req types.RegisterModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewValidationError("name and version are required", err.Error()))
		return
	}

	model := req.Model()
	if err := h.service.RegisterModel(c.Request.Context(), model); err != nil {
		if stderrors.Is(err, domain.ErrDuplicate) {
			_ = c.Error(errors.NewValidationError(fmt.Sprintf("model %s@%s already exists", model.Name, model.Version)))
			return
		}
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, types.ModelResponse{Success: true, Model: model})
}

// deployedModel godoc
// @Summary      Get the deployed model
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelResponse
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /api/models/deployed [get]
func (h *api) deployedModel(c *gin.Context) {
	model, err := h.service.DeployedModel(c.Request.Context())
	if err != nil {
		if stderrors.Is(err, domain.ErrNotFound) {
			_ = c.Error(errors.NewNotFoundError("No model is deployed"))
			return
		}
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, types.ModelResponse{Success: true, Model: model})
}

// health godoc
// @Summary      Service health
// @Description  The store must be reachable; a failing model service or Redis only degrades the service.
// @Tags         system
// @Produce      json
// @Success      200  {object}  types.HealthResponse
// @Failure      503  {object}  types.HealthResponse
// @Router       /health [get]
func (h *api) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	resp := types.HealthResponse{
		Status:     "ok",
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Version:    version,
		Components: map[string]types.ComponentHealth{},
	}

	store := types.ComponentHealth{Status: "ok", Name: h.service.Driver()}
	if err := h.service.Ping(ctx); err != nil {
		store.Status = "down"
		store.Error = err.Error()
		resp.Status = "unhealthy"
	}
	resp.Components["store"] = store

	model := types.ComponentHealth{Status: "ok", Name: h.predictor.Name()}
	if checker, ok := h.predictor.(classifier.HealthChecker); ok {
		serviceHealth, err := checker.Health(ctx)
		switch {
		case err != nil:
			model.Status = "down"
			model.Error = err.Error()
		case !serviceHealth.OK || !serviceHealth.ModelLoaded:
			model.Status = "degraded"
		}
		if serviceHealth != nil {
			model.Details = map[string]interface{}{
				"model_loaded": serviceHealth.ModelLoaded,
				"model_path":   serviceHealth.ModelPath,
			}
		}
	}
	if model.Status != "ok" && resp.Status == "ok" {
		resp.Status = "degraded"
	}
	resp.Components["model"] = model

	if h.redis.IsEnabled() {
		redisHealth := types.ComponentHealth{Status: "ok"}
		if err := h.redis.HealthCheck(ctx); err != nil {
			redisHealth.Status = "down"
			redisHealth.Error = err.Error()
			if resp.Status == "ok" {
				resp.Status = "degraded"
			}
		}
		resp.Components["redis"] = redisHealth
	}

	status := http.StatusOK
	if resp.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// metricsSummary godoc
// @Summary      In-process metrics summary
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /metrics/summary [get]
func (h *api) metricsSummary(c *gin.Context) {
	summary := gin.H{
		"requests":      h.metrics.GetStats(),
		"categories":    h.metrics.GetCategoryDistribution(),
		"external_apis": h.metrics.GetExternalAPIStats(),
		"rate_limit":    h.metrics.GetRateLimitStats(),
		"limiter":       h.limiter.GetStats(),
		"compression":   h.compression.GetStats(),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	}
	if pooled, ok := h.store.(interface{ PoolStats() map[string]interface{} }); ok {
		summary["store_pool"] = pooled.PoolStats()
	}
	if remote, ok := h.predictor.(*classifier.HTTPPredictor); ok {
		summary["model_breaker"] = remote.Breaker().Stats()
	}
	c.JSON(http.StatusOK, summary)
}
