// Package upload validates an image, stores it, classifies it and records
// the resulting event.
package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/eco-classifier/internal/classifier"
	"github.com/ZanzyTHEbar/eco-classifier/internal/domain"
	"github.com/ZanzyTHEbar/eco-classifier/internal/errors"
	"github.com/ZanzyTHEbar/eco-classifier/internal/imagestore"
	"github.com/ZanzyTHEbar/eco-classifier/internal/monitoring"
	"github.com/gabriel-vasile/mimetype"
)

// SourceKind tells where an image came from.
type SourceKind string

const (
	SourceWeb  SourceKind = "web"
	SourcePath SourceKind = "path"
)

const (
	MaxWebBytes  int64 = 5 << 20
	MaxPathBytes int64 = 10 << 20
)

// MaxBytes is the largest image accepted from this source
func (k SourceKind) MaxBytes() int64 {
	if k == SourcePath {
		return MaxPathBytes
	}
	return MaxWebBytes
}

// Origin returns the device and location stamped on events from this source
func (k SourceKind) Origin() (deviceID, location string) {
	if k == SourcePath {
		return "server-sample", "Demo (server)"
	}
	return domain.DefaultDeviceID, domain.DefaultLocation
}

// Source is one image to process.
type Source struct {
	Kind     SourceKind
	Filename string
	Body     io.Reader
}

// EventRecorder persists a classification event.
type EventRecorder interface {
	Record(ctx context.Context, event *domain.Event) error
}

// Pipeline runs upload, predict and persist in sequence. A failure at any
// step aborts the rest; nothing is retried or rolled back.
type Pipeline struct {
	uploader  imagestore.Uploader
	predictor classifier.Predictor
	events    EventRecorder
	logger    *monitoring.Logger
	metrics   *monitoring.Metrics
}

// NewPipeline wires the pipeline. logger and metrics may be nil.
func NewPipeline(uploader imagestore.Uploader, predictor classifier.Predictor, events EventRecorder, logger *monitoring.Logger, metrics *monitoring.Metrics) *Pipeline {
	return &Pipeline{
		uploader:  uploader,
		predictor: predictor,
		events:    events,
		logger:    logger,
		metrics:   metrics,
	}
}

// Process classifies one image and returns the stored event
func (p *Pipeline) Process(ctx context.Context, src Source) (*domain.Event, error) {
	start := time.Now()

	event, size, err := p.process(ctx, src)
	if p.metrics != nil {
		category := ""
		if event != nil {
			category = event.Category
		}
		p.metrics.RecordUpload(string(src.Kind), category, err == nil)
	}
	if err != nil {
		return nil, err
	}

	if p.logger != nil {
		p.logger.UploadLogger(string(src.Kind), event.Filename, event.Category, event.Confidence, size, time.Since(start))
	}
	return event, nil
}

func (p *Pipeline) process(ctx context.Context, src Source) (*domain.Event, int64, error) {
	if src.Body == nil {
		return nil, 0, errors.NewValidationError("No file provided")
	}

	data, err := readLimited(src.Body, src.Kind.MaxBytes())
	if err != nil {
		return nil, 0, err
	}
	if err := validateImage(data); err != nil {
		return nil, 0, err
	}

	stored, err := p.uploader.Upload(ctx, bytes.NewReader(data), src.Filename)
	if err != nil {
		return nil, 0, err
	}

	prediction, err := p.predictor.Predict(ctx, stored.URL)
	if err != nil {
		return nil, 0, err
	}

	category := strings.TrimSpace(prediction.Category)
	if category == "" {
		category = classifier.DefaultCategory
	}

	event := domain.NewEvent(category, prediction.Confidence)
	event.DeviceID, event.Location = src.Kind.Origin()
	event.Filename = src.Filename
	event.ImageURL = stored.URL
	event.RawPrediction = prediction.Raw()

	if err := p.events.Record(ctx, event); err != nil {
		return nil, 0, err
	}

	return event, int64(len(data)), nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, errors.NewValidationError("Failed to read uploaded file", err)
	}
	if int64(len(data)) > limit {
		return nil, TooLargeError(limit)
	}
	if len(data) == 0 {
		return nil, errors.NewValidationError("No file provided")
	}
	return data, nil
}

func validateImage(data []byte) error {
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return errors.NewValidationError("Only images are allowed", mt.String())
	}
	return nil
}

// TooLargeError is the validation error for an image over limit bytes
func TooLargeError(limit int64) error {
	return errors.NewValidationError(fmt.Sprintf("File exceeds maximum allowed size (%d MB).", limit>>20))
}
