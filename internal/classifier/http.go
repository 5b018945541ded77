package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/eco-classifier/internal/domain"
	"github.com/ZanzyTHEbar/eco-classifier/internal/monitoring"
	"github.com/ZanzyTHEbar/eco-classifier/internal/resilience"
)

// ServiceName labels model service calls in errors, logs and metrics.
const ServiceName = "model_service"

// HTTPConfig points the predictor at a model service.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPPredictor calls the YOLO model service over JSON.
type HTTPPredictor struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *resilience.CircuitBreaker
	logger  *monitoring.Logger
	metrics *monitoring.Metrics
}

type predictRequest struct {
	ImageURL string `json:"imageUrl"`
}

type predictResponse struct {
	Success    *bool       `json:"success"`
	Message    string      `json:"message"`
	Category   string      `json:"category"`
	Confidence *float64    `json:"confidence"`
	Uncertain  bool        `json:"uncertain"`
	Notes      string      `json:"notes"`
	Detections []Detection `json:"raw_prediction"`
}

// NewHTTPPredictor creates a model service client. logger and metrics may be nil.
func NewHTTPPredictor(cfg HTTPConfig, logger *monitoring.Logger, metrics *monitoring.Metrics) *HTTPPredictor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
	}

	return &HTTPPredictor{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Transport: transport, Timeout: timeout},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
			SuccessThreshold: 1,
		}),
		logger:  logger,
		metrics: metrics,
	}
}

// Name identifies the predictor in logs and health output
func (p *HTTPPredictor) Name() string {
	return "http"
}

// Breaker exposes the circuit breaker for diagnostics
func (p *HTTPPredictor) Breaker() *resilience.CircuitBreaker {
	return p.breaker
}

// Predict posts the image URL to /predict
func (p *HTTPPredictor) Predict(ctx context.Context, imageURL string) (*Prediction, error) {
	body, err := json.Marshal(predictRequest{ImageURL: imageURL})
	if err != nil {
		return nil, fmt.Errorf("failed to encode predict request: %w", err)
	}

	var prediction *Prediction
	err = p.breaker.Call(func() error {
		var callErr error
		prediction, callErr = p.predict(ctx, body)
		return callErr
	})
	if err != nil {
		return nil, &domain.ExternalError{Service: ServiceName, Err: err}
	}

	return prediction, nil
}

func (p *HTTPPredictor) predict(ctx context.Context, body []byte) (*Prediction, error) {
	endpoint := p.baseURL + "/predict"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("X-Model-Key", p.apiKey)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		p.observe(http.MethodPost, endpoint, 0, start, false)
		return nil, err
	}
	defer resp.Body.Close()

	var decoded predictResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&decoded)

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300 && decodeErr == nil &&
		(decoded.Success == nil || *decoded.Success)
	p.observe(http.MethodPost, endpoint, resp.StatusCode, start, ok)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := decoded.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode prediction: %w", decodeErr)
	}
	if decoded.Success != nil && !*decoded.Success {
		if decoded.Message == "" {
			return nil, errors.New("prediction was not successful")
		}
		return nil, errors.New(decoded.Message)
	}

	prediction := &Prediction{
		Category:   decoded.Category,
		Uncertain:  decoded.Uncertain,
		Notes:      decoded.Notes,
		Detections: decoded.Detections,
	}
	if decoded.Confidence != nil {
		prediction.Confidence = *decoded.Confidence
	}
	prediction.normalize()

	return prediction, nil
}

// Health asks the model service whether its model is loaded
func (p *HTTPPredictor) Health(ctx context.Context) (*ServiceHealth, error) {
	endpoint := p.baseURL + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		p.observe(http.MethodGet, endpoint, 0, start, false)
		return nil, &domain.ExternalError{Service: ServiceName, Err: err}
	}
	defer resp.Body.Close()

	ok := resp.StatusCode == http.StatusOK
	p.observe(http.MethodGet, endpoint, resp.StatusCode, start, ok)
	if !ok {
		return nil, &domain.ExternalError{Service: ServiceName, Err: fmt.Errorf("health status %d", resp.StatusCode)}
	}

	var health ServiceHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, &domain.ExternalError{Service: ServiceName, Err: fmt.Errorf("failed to decode health: %w", err)}
	}
	return &health, nil
}

func (p *HTTPPredictor) observe(method, endpoint string, status int, start time.Time, ok bool) {
	if p.metrics != nil {
		p.metrics.RecordExternalAPIRequest(ServiceName, ok)
	}
	if p.logger != nil {
		p.logger.ExternalAPILogger(ServiceName, method, endpoint, status, time.Since(start), ok)
	}
}
