package domain

import (
	"time"

	"github.com/google/uuid"
)

// ModelMetrics summarises the evaluation of a trained classifier.
type ModelMetrics struct {
	MAP       *float64 `json:"mAP,omitempty" bson:"mAP,omitempty"`
	Precision *float64 `json:"precision,omitempty" bson:"precision,omitempty"`
	Recall    *float64 `json:"recall,omitempty" bson:"recall,omitempty"`
	Loss      *float64 `json:"loss,omitempty" bson:"loss,omitempty"`
}

// Model is a registry entry for a classifier artifact. (Name, Version) is unique.
type Model struct {
	ID          string       `json:"_id" bson:"_id"`
	Name        string       `json:"name" bson:"name" binding:"required"`
	Version     string       `json:"version" bson:"version" binding:"required"`
	ArtifactURL string       `json:"artifactUrl,omitempty" bson:"artifactUrl,omitempty"`
	Framework   string       `json:"framework" bson:"framework"`
	Classes     []string     `json:"classes" bson:"classes"`
	InputSize   int          `json:"inputSize" bson:"inputSize"`
	Metrics     ModelMetrics `json:"metrics" bson:"metrics"`
	Deployed    bool         `json:"deployed" bson:"deployed"`
	Notes       string       `json:"notes,omitempty" bson:"notes,omitempty"`
	UploadedBy  string       `json:"uploadedBy,omitempty" bson:"uploadedBy,omitempty"`
	UploadedAt  time.Time    `json:"uploadedAt" bson:"uploadedAt"`
	UpdatedAt   time.Time    `json:"updatedAt" bson:"updatedAt"`
}

// Prepare assigns an ID and defaults and bumps UpdatedAt.
func (m *Model) Prepare() {
	now := time.Now().UTC()
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Framework == "" {
		m.Framework = "yolov8"
	}
	if m.InputSize == 0 {
		m.InputSize = 640
	}
	if m.Classes == nil {
		m.Classes = []string{}
	}
	if m.UploadedAt.IsZero() {
		m.UploadedAt = now
	}
	m.UpdatedAt = now
}
