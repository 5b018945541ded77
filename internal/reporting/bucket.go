package reporting

import (
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/eco-classifier/internal/domain"
)

// ISOMillis is the canonical rendering of a bucket boundary.
const ISOMillis = "2006-01-02T15:04:05.000Z"

// LoadLocation resolves a timezone name; empty means UTC.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "UTC") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", name, err)
	}
	return loc, nil
}

// Truncate returns the start of the bucket containing t, computed in loc
// and expressed as a UTC instant.
func Truncate(t time.Time, g domain.Granularity, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	y, m, d := local.Date()

	var start time.Time
	switch g {
	case domain.GranularityHour:
		// Step back from t itself: a repeated local hour after a DST
		// fall-back must stay a separate bucket.
		start = t.Add(-time.Duration(local.Minute())*time.Minute -
			time.Duration(local.Second())*time.Second -
			time.Duration(local.Nanosecond()))
	case domain.GranularityMonth:
		start = time.Date(y, m, 1, 0, 0, 0, 0, loc)
	default:
		start = time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
	return start.UTC()
}

type bucketKey struct {
	bucket   int64
	category string
}

// GroupPoints counts points per (bucket, category). Output follows first-seen order.
func GroupPoints(points []domain.Point, g domain.Granularity, loc *time.Location) []domain.GroupedCount {
	index := make(map[bucketKey]int, len(points))
	counts := make([]domain.GroupedCount, 0)

	for _, p := range points {
		bucket := Truncate(p.Timestamp, g, loc)
		key := bucketKey{bucket: bucket.UnixNano(), category: p.Category}
		if i, ok := index[key]; ok {
			counts[i].Count++
			continue
		}
		index[key] = len(counts)
		counts = append(counts, domain.GroupedCount{Bucket: bucket, Category: p.Category, Count: 1})
	}

	return counts
}

// FormatGroups renders bucket boundaries as ISO-8601 UTC strings.
func FormatGroups(groups []time.Time) []string {
	out := make([]string, len(groups))
	for i, g := range groups {
		out[i] = g.UTC().Format(ISOMillis)
	}
	return out
}

// GroupMillis renders bucket boundaries as epoch milliseconds.
func GroupMillis(groups []time.Time) []int64 {
	out := make([]int64, len(groups))
	for i, g := range groups {
		out[i] = g.UnixMilli()
	}
	return out
}
