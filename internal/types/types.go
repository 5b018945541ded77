// Package types holds the request and response bodies of the HTTP API.
package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/eco-classifier/internal/domain"
	"github.com/ZanzyTHEbar/eco-classifier/internal/reporting"
)

// UploadPathRequest is the body of POST /api/upload/path
type UploadPathRequest struct {
	Path string `json:"path" example:"/mnt/data/samples/bottle.jpg"`
}

// RecordResponse carries the event created by an upload
type RecordResponse struct {
	Success bool          `json:"success"`
	Record  *domain.Event `json:"record"`
}

// EventsQuery is the query string of GET /api/events
type EventsQuery struct {
	Page     int    `form:"page"`
	Limit    int    `form:"limit"`
	Category string `form:"category"`
	Q        string `form:"q"`
}

// ListOptions converts the query into store paging options
func (q EventsQuery) ListOptions() domain.ListOptions {
	return domain.ListOptions{
		Page:     q.Page,
		Limit:    q.Limit,
		Category: q.Category,
		Search:   q.Q,
	}
}

// EventsResponse is one page of events
type EventsResponse struct {
	Success bool           `json:"success"`
	Page    int            `json:"page"`
	Limit   int            `json:"limit"`
	Total   int64          `json:"total"`
	Events  []domain.Event `json:"events"`
}

// StatsQuery is the query string of GET /api/stats
type StatsQuery struct {
	RangeStart string `form:"rangeStart"`
	RangeEnd   string `form:"rangeEnd"`
	GroupBy    string `form:"groupBy"`
	Categories string `form:"categories"`
	DeviceID   string `form:"deviceId"`
}

// Filter parses the range bounds and splits the category list. Empty
// values leave the corresponding constraint unset.
func (q StatsQuery) Filter() (domain.Filter, error) {
	var f domain.Filter

	if s := strings.TrimSpace(q.RangeStart); s != "" {
		t, err := ParseInstant(s)
		if err != nil {
			return f, fmt.Errorf("invalid rangeStart: %w", err)
		}
		f.Start = &t
	}
	if s := strings.TrimSpace(q.RangeEnd); s != "" {
		t, err := ParseInstant(s)
		if err != nil {
			return f, fmt.Errorf("invalid rangeEnd: %w", err)
		}
		f.End = &t
	}

	for _, c := range strings.Split(q.Categories, ",") {
		if c = strings.TrimSpace(c); c != "" {
			f.Categories = append(f.Categories, c)
		}
	}
	f.DeviceID = strings.TrimSpace(q.DeviceID)

	return f, nil
}

var instantLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseInstant accepts ISO-8601 timestamps, dates and epoch milliseconds.
// Values without an offset are read as UTC.
func ParseInstant(s string) (time.Time, error) {
	for _, layout := range instantLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%q is not an ISO-8601 instant", s)
}

// StatsResponse is the dashboard chart payload
type StatsResponse struct {
	Success      bool               `json:"success"`
	GroupBy      string             `json:"groupBy"`
	Groups       []string           `json:"groups"`
	GroupsMillis []int64            `json:"groupsMillis"`
	Categories   []string           `json:"categories"`
	Series       map[string][]int64 `json:"series"`
}

// NewStatsResponse renders an aggregation for the dashboard
func NewStatsResponse(result *domain.AggregationResult) StatsResponse {
	return StatsResponse{
		Success:      true,
		GroupBy:      string(result.GroupBy),
		Groups:       reporting.FormatGroups(result.Groups),
		GroupsMillis: reporting.GroupMillis(result.Groups),
		Categories:   result.Categories,
		Series:       result.Series,
	}
}

// RegisterModelRequest is the body of POST /api/models
type RegisterModelRequest struct {
	Name        string              `json:"name" binding:"required"`
	Version     string              `json:"version" binding:"required"`
	ArtifactURL string              `json:"artifactUrl"`
	Framework   string              `json:"framework"`
	Classes     []string            `json:"classes"`
	InputSize   int                 `json:"inputSize" binding:"gte=0"`
	Metrics     domain.ModelMetrics `json:"metrics"`
	Deployed    bool                `json:"deployed"`
	Notes       string              `json:"notes"`
	UploadedBy  string              `json:"uploadedBy"`
}

// Model builds the registry entry
func (r RegisterModelRequest) Model() *domain.Model {
	return &domain.Model{
		Name:        r.Name,
		Version:     r.Version,
		ArtifactURL: r.ArtifactURL,
		Framework:   r.Framework,
		Classes:     r.Classes,
		InputSize:   r.InputSize,
		Metrics:     r.Metrics,
		Deployed:    r.Deployed,
		Notes:       r.Notes,
		UploadedBy:  r.UploadedBy,
	}
}

// ModelsResponse lists the registry
type ModelsResponse struct {
	Success bool           `json:"success"`
	Models  []domain.Model `json:"models"`
}

// ModelResponse carries a single registry entry
type ModelResponse struct {
	Success bool          `json:"success"`
	Model   *domain.Model `json:"model"`
}

// ComponentHealth is the state of one dependency in GET /health
type ComponentHealth struct {
	Status  string                 `json:"status"`
	Name    string                 `json:"name,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status     string                     `json:"status"`
	Timestamp  string                     `json:"timestamp"`
	Version    string                     `json:"version"`
	Components map[string]ComponentHealth `json:"components"`
}
