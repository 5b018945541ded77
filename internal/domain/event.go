package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	DefaultDeviceID = "demo-web"
	DefaultLocation = "Demo"
)

// Event is a single persisted classification result. Events are append-only.
type Event struct {
	ID            string         `json:"_id" bson:"_id"`
	Timestamp     time.Time      `json:"timestamp" bson:"timestamp"`
	Category      string         `json:"category" bson:"category"`
	Confidence    float64        `json:"confidence" bson:"confidence"`
	DeviceID      string         `json:"deviceId" bson:"deviceId"`
	Location      string         `json:"location" bson:"location"`
	Filename      string         `json:"filename" bson:"filename"`
	ImageURL      string         `json:"imageUrl" bson:"imageUrl"`
	RawPrediction map[string]any `json:"raw_prediction,omitempty" bson:"raw_prediction,omitempty"`
}

// NewEvent creates an event with a generated ID, stamped with the current time.
func NewEvent(category string, confidence float64) *Event {
	return &Event{
		ID:         uuid.New().String(),
		Timestamp:  time.Now().UTC(),
		Category:   category,
		Confidence: confidence,
		DeviceID:   DefaultDeviceID,
		Location:   DefaultLocation,
	}
}

// ApplyDefaults fills the fields the store would otherwise default.
func (e *Event) ApplyDefaults() {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.DeviceID == "" {
		e.DeviceID = DefaultDeviceID
	}
	if e.Location == "" {
		e.Location = DefaultLocation
	}
}

// Point is the projection of an event needed for aggregation.
type Point struct {
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	Category  string    `json:"category" bson:"category"`
}

// ListOptions controls paginated event listing.
type ListOptions struct {
	Page     int
	Limit    int
	Category string
	Search   string // case-insensitive filename substring
}

// Skip returns the number of rows to skip for the requested page.
func (o ListOptions) Skip() int {
	if o.Page < 1 {
		return 0
	}
	return (o.Page - 1) * o.Limit
}

// EventPage is one page of events plus the total matching count.
type EventPage struct {
	Page   int     `json:"page"`
	Limit  int     `json:"limit"`
	Total  int64   `json:"total"`
	Events []Event `json:"events"`
}
