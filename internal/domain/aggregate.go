package domain

import (
	"strings"
	"time"
)

// Granularity selects the bucket width of a time series.
type Granularity string

const (
	GranularityHour  Granularity = "hour"
	GranularityDay   Granularity = "day"
	GranularityMonth Granularity = "month"
)

// ParseGranularity maps a groupBy value to a Granularity.
// Unrecognised values fall back to day rather than failing.
func ParseGranularity(s string) Granularity {
	switch Granularity(strings.ToLower(strings.TrimSpace(s))) {
	case GranularityHour:
		return GranularityHour
	case GranularityMonth:
		return GranularityMonth
	default:
		return GranularityDay
	}
}

// Valid reports whether g is one of the three supported values.
func (g Granularity) Valid() bool {
	return g == GranularityHour || g == GranularityDay || g == GranularityMonth
}

// Filter selects events for aggregation. Nil bounds are unbounded; both are inclusive.
type Filter struct {
	Start      *time.Time
	End        *time.Time
	Categories []string
	DeviceID   string
}

// Validate rejects a range whose start is after its end.
func (f Filter) Validate() error {
	if f.Start != nil && f.End != nil && f.Start.After(*f.End) {
		return &InvalidRangeError{Start: *f.Start, End: *f.End}
	}
	return nil
}

// Matches reports whether a point (and its device) satisfies the filter.
func (f Filter) Matches(ts time.Time, category, deviceID string) bool {
	if f.Start != nil && ts.Before(*f.Start) {
		return false
	}
	if f.End != nil && ts.After(*f.End) {
		return false
	}
	if f.DeviceID != "" && deviceID != f.DeviceID {
		return false
	}
	if len(f.Categories) == 0 {
		return true
	}
	for _, c := range f.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// GroupedCount is the number of events of one category inside one bucket.
type GroupedCount struct {
	Bucket   time.Time `json:"truncatedDate" bson:"truncatedDate"`
	Category string    `json:"category" bson:"category"`
	Count    int64     `json:"count" bson:"count"`
}

// AggregationResult is a dense multi-series table aligned on Groups.
// len(Series[c]) == len(Groups) for every category c.
type AggregationResult struct {
	GroupBy    Granularity        `json:"groupBy"`
	Groups     []time.Time        `json:"-"`
	Categories []string           `json:"categories"`
	Series     map[string][]int64 `json:"series"`
}
