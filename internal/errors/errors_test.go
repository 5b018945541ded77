package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/eco-classifier/internal/domain"
	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestAppErrorMessages(t *testing.T) {
	validationErr := NewValidationError("bad groupBy", "groupBy=week")
	assert.Equal(t, "[VALIDATION_ERROR] bad groupBy", validationErr.Error())
	assert.Equal(t, CategoryValidation, validationErr.Category)
	assert.Equal(t, http.StatusBadRequest, validationErr.HTTPStatus)

	cause := errors.New("connection refused")
	networkErr := NewNetworkError("connection failed", cause)
	assert.Equal(t, CategoryNetwork, networkErr.Category)
	assert.ErrorIs(t, networkErr, cause)

	builder := errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg("Custom error message")
	customErr := NewAppError(builder, CategoryValidation, http.StatusBadRequest)
	assert.Equal(t, "Custom error message", customErr.Msg)
}

func TestToAppError(t *testing.T) {
	start := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		err      error
		category ErrorCategory
		status   int
	}{
		{"invalid range", &domain.InvalidRangeError{Start: start, End: end}, CategoryValidation, http.StatusBadRequest},
		{"query failure", domain.NewQueryError("grouped counts", errors.New("server selection error")), CategoryStore, http.StatusServiceUnavailable},
		{"wrapped query failure", fmt.Errorf("stats: %w", domain.NewQueryError("points", errors.New("boom"))), CategoryStore, http.StatusServiceUnavailable},
		{"query deadline", domain.NewQueryError("points", context.DeadlineExceeded), CategoryTimeout, http.StatusGatewayTimeout},
		{"malformed input", &domain.MalformedInputError{Index: 2, Reason: "count is negative"}, CategoryMalformedInput, http.StatusInternalServerError},
		{"model service down", &domain.ExternalError{Service: "model service", Err: errors.New("status 503")}, CategoryExternalAPI, http.StatusBadGateway},
		{"model service deadline", &domain.ExternalError{Service: "model service", Err: context.DeadlineExceeded}, CategoryTimeout, http.StatusGatewayTimeout},
		{"not found", domain.ErrNotFound, CategoryNotFound, http.StatusNotFound},
		{"duplicate", domain.ErrDuplicate, CategoryValidation, http.StatusBadRequest},
		{"network string", errors.New("dial tcp: connection refused"), CategoryNetwork, http.StatusBadGateway},
		{"timeout string", errors.New("i/o timeout"), CategoryTimeout, http.StatusGatewayTimeout},
		{"cancelled", context.Canceled, CategoryTimeout, http.StatusGatewayTimeout},
		{"unknown", errors.New("something odd"), CategoryInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := ToAppError(tt.err)
			require.NotNil(t, appErr)
			assert.Equal(t, tt.category, appErr.Category)
			assert.Equal(t, tt.status, appErr.HTTPStatus)
		})
	}

	assert.Nil(t, ToAppError(nil))

	existing := NewForbiddenError("outside base directory")
	assert.Same(t, existing, ToAppError(fmt.Errorf("wrapped: %w", existing)))
}

func TestErrorHandler(t *testing.T) {
	router := gin.New()
	router.Use(ErrorHandler())
	router.GET("/fail", func(c *gin.Context) {
		_ = c.Error(NewNotFoundError("File not found"))
	})
	router.GET("/ok", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/fail", nil)
	req.Header.Set("X-Request-ID", "req-1")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "File not found", body.Message)
	assert.Equal(t, CategoryNotFound, body.Category)
	assert.Equal(t, "req-1", body.RequestID)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRecoveryHandler(t *testing.T) {
	router := gin.New()
	router.Use(RecoveryHandler())
	router.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, CategoryInternal, body.Category)
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, WrapError(nil, "ignored"))

	cause := errors.New("disk full")
	err := WrapError(cause, "saving %s", "upload.jpg")
	assert.EqualError(t, err, "saving upload.jpg: disk full")
	assert.ErrorIs(t, err, cause)
}
