package reporting

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/ZanzyTHEbar/eco-classifier/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	ts := time.Date(2025, 3, 17, 14, 42, 31, 123456789, time.UTC)
	plus530 := time.FixedZone("UTC+5:30", 5*3600+1800)
	minus5 := time.FixedZone("UTC-5", -5*3600)

	tests := []struct {
		name     string
		g        domain.Granularity
		loc      *time.Location
		expected time.Time
	}{
		{"hour utc", domain.GranularityHour, time.UTC, time.Date(2025, 3, 17, 14, 0, 0, 0, time.UTC)},
		{"day utc", domain.GranularityDay, time.UTC, time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC)},
		{"month utc", domain.GranularityMonth, time.UTC, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"nil location is utc", domain.GranularityDay, nil, time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC)},
		{"hour in half-hour zone", domain.GranularityHour, plus530, time.Date(2025, 3, 17, 14, 30, 0, 0, time.UTC)},
		{"day ahead of utc", domain.GranularityDay, plus530, time.Date(2025, 3, 17, 18, 30, 0, 0, time.UTC).Add(-24 * time.Hour)},
		{"day behind utc", domain.GranularityDay, minus5, time.Date(2025, 3, 17, 5, 0, 0, 0, time.UTC)},
		{"month behind utc", domain.GranularityMonth, minus5, time.Date(2025, 3, 1, 5, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(ts, tt.g, tt.loc)
			assert.True(t, tt.expected.Equal(got), "expected %s, got %s", tt.expected, got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestTruncate_RepeatedHourAtFallBack(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 01:30 EDT and 01:30 EST on 2025-11-02 are an hour apart.
	first := time.Date(2025, 11, 2, 5, 30, 0, 0, time.UTC)
	second := time.Date(2025, 11, 2, 6, 30, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2025, 11, 2, 5, 0, 0, 0, time.UTC), Truncate(first, domain.GranularityHour, ny))
	assert.Equal(t, time.Date(2025, 11, 2, 6, 0, 0, 0, time.UTC), Truncate(second, domain.GranularityHour, ny))

	points := []domain.Point{
		{Timestamp: first, Category: "plastic"},
		{Timestamp: second, Category: "plastic"},
	}
	result, err := Aggregate(domain.GranularityHour, GroupPoints(points, domain.GranularityHour, ny))
	require.NoError(t, err)
	assert.Len(t, result.Groups, 2)
	assert.Equal(t, []int64{1, 1}, result.Series["plastic"])

	// Both still fall in the same local day.
	assert.Equal(t, time.Date(2025, 11, 2, 4, 0, 0, 0, time.UTC), Truncate(second, domain.GranularityDay, ny))
}

func TestTruncate_MonthBoundaryDependsOnZone(t *testing.T) {
	// 2025-02-01T02:00Z is still January in UTC-5.
	ts := time.Date(2025, 2, 1, 2, 0, 0, 0, time.UTC)
	minus5 := time.FixedZone("UTC-5", -5*3600)

	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), Truncate(ts, domain.GranularityMonth, time.UTC))
	assert.Equal(t, time.Date(2025, 1, 1, 5, 0, 0, 0, time.UTC), Truncate(ts, domain.GranularityMonth, minus5))
}

func TestGroupPoints(t *testing.T) {
	points := []domain.Point{
		{Timestamp: time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC), Category: "paper"},
		{Timestamp: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC), Category: "plastic"},
		{Timestamp: time.Date(2025, 1, 1, 23, 59, 0, 0, time.UTC), Category: "plastic"},
		{Timestamp: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), Category: "plastic"},
		{Timestamp: time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC), Category: "plastic"},
		{Timestamp: time.Date(2025, 1, 2, 18, 0, 0, 0, time.UTC), Category: "plastic"},
	}

	counts := GroupPoints(points, domain.GranularityDay, time.UTC)
	assert.Equal(t, []domain.GroupedCount{
		{Bucket: day(2), Category: "paper", Count: 1},
		{Bucket: day(1), Category: "plastic", Count: 2},
		{Bucket: day(2), Category: "plastic", Count: 3},
	}, counts)

	result, err := Aggregate(domain.GranularityDay, counts)
	require.NoError(t, err)
	assert.Equal(t, map[string][]int64{
		"paper":   {0, 1},
		"plastic": {2, 3},
	}, result.Series)

	assert.Empty(t, GroupPoints(nil, domain.GranularityDay, time.UTC))
}

func TestFormatGroups(t *testing.T) {
	groups := []time.Time{
		time.Date(2025, 11, 26, 19, 0, 0, 0, time.UTC),
		time.Date(2025, 11, 27, 0, 30, 0, 0, time.FixedZone("UTC+5:30", 5*3600+1800)),
	}

	assert.Equal(t, []string{"2025-11-26T19:00:00.000Z", "2025-11-26T19:00:00.000Z"}, FormatGroups(groups))
	assert.Equal(t, []int64{1764183600000, 1764183600000}, GroupMillis(groups))
	assert.Empty(t, FormatGroups(nil))
}

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	loc, err = LoadLocation("utc")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	_, err = LoadLocation("Not/AZone")
	assert.Error(t, err)
}
