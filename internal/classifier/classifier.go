// Package classifier turns an uploaded image URL into a waste category.
package classifier

import (
	"context"
	"strings"
)

// DefaultCategory is used when a prediction carries no category.
const DefaultCategory = "general"

// Predictor classifies the image behind a URL.
type Predictor interface {
	Predict(ctx context.Context, imageURL string) (*Prediction, error)
	Name() string
}

// HealthChecker is implemented by predictors backed by a remote service.
type HealthChecker interface {
	Health(ctx context.Context) (*ServiceHealth, error)
}

// Detection is a single box reported by the detector.
type Detection struct {
	ClassID    int       `json:"class_id"`
	ClassName  string    `json:"class_name"`
	Confidence float64   `json:"confidence"`
	Box        []float64 `json:"box"`
}

// Prediction is the decided category for one image.
type Prediction struct {
	Category   string      `json:"category"`
	Confidence float64     `json:"confidence"`
	Uncertain  bool        `json:"uncertain,omitempty"`
	Notes      string      `json:"notes,omitempty"`
	Detections []Detection `json:"detections,omitempty"`
}

// ServiceHealth is the model service's own view of its readiness.
type ServiceHealth struct {
	OK          bool   `json:"ok"`
	ModelLoaded bool   `json:"model_loaded"`
	ModelPath   string `json:"model_path,omitempty"`
}

func (p *Prediction) normalize() {
	p.Category = strings.ToLower(strings.TrimSpace(p.Category))
	if p.Category == "" {
		p.Category = DefaultCategory
	}
}

// Raw renders the prediction as the loosely typed payload stored with the
// event. Only plain JSON-compatible types are used so every store can
// round-trip it.
func (p *Prediction) Raw() map[string]any {
	raw := map[string]any{
		"category":   p.Category,
		"confidence": p.Confidence,
	}
	if p.Uncertain {
		raw["uncertain"] = true
	}
	if p.Notes != "" {
		raw["notes"] = p.Notes
	}
	if len(p.Detections) > 0 {
		detections := make([]any, 0, len(p.Detections))
		for _, d := range p.Detections {
			box := make([]any, len(d.Box))
			for i, v := range d.Box {
				box[i] = v
			}
			detections = append(detections, map[string]any{
				"class_id":   d.ClassID,
				"class_name": d.ClassName,
				"confidence": d.Confidence,
				"box":        box,
			})
		}
		raw["detections"] = detections
	}
	return raw
}
