// Package reporting turns grouped event counts into dense, chart-ready series.
package reporting

import (
	"sort"
	"time"

	"github.com/ZanzyTHEbar/eco-classifier/internal/domain"
)

// Aggregate builds a dense AggregationResult from sparse grouped counts.
//
// Bucket boundaries are trusted to be already truncated to g. Groups are the
// distinct boundaries in ascending order; every category discovered in the
// input gets a series of len(Groups) entries, zero where it has no tuple.
// A negative count or an unset bucket fails the whole call.
func Aggregate(g domain.Granularity, counts []domain.GroupedCount) (*domain.AggregationResult, error) {
	for i, c := range counts {
		if c.Bucket.IsZero() {
			return nil, &domain.MalformedInputError{Index: i, Reason: "bucket boundary is unset"}
		}
		if c.Count < 0 {
			return nil, &domain.MalformedInputError{Index: i, Reason: "count is negative"}
		}
	}

	result := &domain.AggregationResult{
		GroupBy:    g,
		Groups:     []time.Time{},
		Categories: []string{},
		Series:     map[string][]int64{},
	}
	if len(counts) == 0 {
		return result, nil
	}

	seen := make(map[int64]struct{}, len(counts))
	for _, c := range counts {
		key := c.Bucket.UnixNano()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result.Groups = append(result.Groups, c.Bucket.UTC())
	}
	sort.Slice(result.Groups, func(i, j int) bool {
		return result.Groups[i].Before(result.Groups[j])
	})

	position := make(map[int64]int, len(result.Groups))
	for i, g := range result.Groups {
		position[g.UnixNano()] = i
	}

	for _, c := range counts {
		if _, ok := result.Series[c.Category]; ok {
			continue
		}
		result.Categories = append(result.Categories, c.Category)
		result.Series[c.Category] = make([]int64, len(result.Groups))
	}

	for _, c := range counts {
		idx, ok := position[c.Bucket.UnixNano()]
		if !ok {
			continue
		}
		result.Series[c.Category][idx] = c.Count
	}

	return result, nil
}
