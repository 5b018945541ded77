package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/eco-classifier/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	db, err := NewDB(t.TempDir())
	require.NoError(t, err)

	store := NewSQLiteStore(db)
	t.Cleanup(func() { store.Close() })
	return store
}

func insertEvent(t *testing.T, store *SQLiteStore, ts time.Time, category, filename, device string) *domain.Event {
	t.Helper()

	e := &domain.Event{
		Timestamp:  ts,
		Category:   category,
		Confidence: 0.9,
		Filename:   filename,
		DeviceID:   device,
	}
	require.NoError(t, store.Insert(context.Background(), e))
	return e
}

func ptr(t time.Time) *time.Time { return &t }

func TestSQLiteStore_InsertAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	first := &domain.Event{
		Timestamp:     base,
		Category:      "plastic",
		Confidence:    0.95,
		Filename:      "cup.jpg",
		ImageURL:      "https://img.example.com/cup.jpg",
		RawPrediction: map[string]any{"category": "plastic", "boxes": []any{1.0, 2.0}},
	}
	require.NoError(t, store.Insert(ctx, first))
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, domain.DefaultDeviceID, first.DeviceID)
	assert.Equal(t, domain.DefaultLocation, first.Location)

	insertEvent(t, store, base.Add(time.Hour), "paper", "napkin.png", "")
	insertEvent(t, store, base.Add(2*time.Hour), "plastic", "Bottle.JPG", "")

	events, total, err := store.List(ctx, domain.ListOptions{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, events, 2)
	assert.Equal(t, "Bottle.JPG", events[0].Filename, "newest first")
	assert.Equal(t, "napkin.png", events[1].Filename)

	events, _, err = store.List(ctx, domain.ListOptions{Page: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, first.ID, events[0].ID)
	assert.True(t, base.Equal(events[0].Timestamp))
	assert.Equal(t, "https://img.example.com/cup.jpg", events[0].ImageURL)
	assert.Equal(t, map[string]any{"category": "plastic", "boxes": []any{1.0, 2.0}}, events[0].RawPrediction)
}

func TestSQLiteStore_ListFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	insertEvent(t, store, base, "plastic", "cup.jpg", "")
	insertEvent(t, store, base.Add(time.Minute), "plastic", "BIG_CUP.jpg", "")
	insertEvent(t, store, base.Add(2*time.Minute), "paper", "cupboard.png", "")
	insertEvent(t, store, base.Add(3*time.Minute), "paper", "100%_recycled.png", "")

	tests := []struct {
		name     string
		opts     domain.ListOptions
		expected []string
	}{
		{"category", domain.ListOptions{Category: "plastic"}, []string{"BIG_CUP.jpg", "cup.jpg"}},
		{"search is case-insensitive", domain.ListOptions{Search: "cup"}, []string{"cupboard.png", "BIG_CUP.jpg", "cup.jpg"}},
		{"category and search", domain.ListOptions{Category: "paper", Search: "cup"}, []string{"cupboard.png"}},
		{"wildcards are literal", domain.ListOptions{Search: "%_"}, []string{"100%_recycled.png"}},
		{"underscore is literal", domain.ListOptions{Search: "g_c"}, []string{"BIG_CUP.jpg"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Page, tt.opts.Limit = 1, 50
			events, total, err := store.List(ctx, tt.opts)
			require.NoError(t, err)
			assert.EqualValues(t, len(tt.expected), total)

			names := make([]string, len(events))
			for i, e := range events {
				names[i] = e.Filename
			}
			assert.Equal(t, tt.expected, names)
		})
	}
}

func TestSQLiteStore_Points(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	insertEvent(t, store, base, "plastic", "a.jpg", "cam-1")
	insertEvent(t, store, base.Add(24*time.Hour), "paper", "b.jpg", "cam-1")
	insertEvent(t, store, base.Add(48*time.Hour), "plastic", "c.jpg", "cam-2")

	tests := []struct {
		name   string
		filter domain.Filter
		count  int
	}{
		{"unbounded", domain.Filter{}, 3},
		{"inclusive bounds", domain.Filter{Start: ptr(base), End: ptr(base.Add(24 * time.Hour))}, 2},
		{"start only", domain.Filter{Start: ptr(base.Add(time.Second))}, 2},
		{"categories", domain.Filter{Categories: []string{"plastic"}}, 2},
		{"device", domain.Filter{DeviceID: "cam-2"}, 1},
		{"no match", domain.Filter{Categories: []string{"glass"}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			points, err := store.Points(ctx, tt.filter)
			require.NoError(t, err)
			assert.Len(t, points, tt.count)
			for _, p := range points {
				assert.True(t, tt.filter.Matches(p.Timestamp, p.Category, tt.filter.DeviceID))
			}
		})
	}
}

func TestSQLiteStore_InvalidRange(t *testing.T) {
	store := newTestStore(t)
	start := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := store.Points(context.Background(), domain.Filter{Start: &start, End: &end})
	var rangeErr *domain.InvalidRangeError
	assert.True(t, errors.As(err, &rangeErr))

	_, err = store.GroupedCounts(context.Background(), domain.Filter{Start: &start, End: &end}, domain.GranularityDay, time.UTC)
	assert.True(t, errors.As(err, &rangeErr))
}

func TestSQLiteStore_QueryErrorAfterClose(t *testing.T) {
	db, err := NewDB(t.TempDir())
	require.NoError(t, err)
	store := NewSQLiteStore(db)
	require.NoError(t, store.Close())

	_, err = store.Points(context.Background(), domain.Filter{})
	var queryErr *domain.QueryError
	require.True(t, errors.As(err, &queryErr))
	assert.Equal(t, "points", queryErr.Op)
}

func TestSQLiteStore_GroupedCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	insertEvent(t, store, time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC), "plastic", "", "")
	insertEvent(t, store, time.Date(2025, 1, 1, 17, 0, 0, 0, time.UTC), "plastic", "", "")
	insertEvent(t, store, time.Date(2025, 1, 2, 8, 0, 0, 0, time.UTC), "paper", "", "")

	counts, err := store.GroupedCounts(ctx, domain.Filter{}, domain.GranularityDay, time.UTC)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.GroupedCount{
		{Bucket: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), Category: "plastic", Count: 2},
		{Bucket: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), Category: "paper", Count: 1},
	}, counts)

	// 17:00 UTC is already Jan 2 in UTC+8.
	plus8 := time.FixedZone("UTC+8", 8*3600)
	counts, err = store.GroupedCounts(ctx, domain.Filter{}, domain.GranularityDay, plus8)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.GroupedCount{
		{Bucket: time.Date(2024, 12, 31, 16, 0, 0, 0, time.UTC), Category: "plastic", Count: 1},
		{Bucket: time.Date(2025, 1, 1, 16, 0, 0, 0, time.UTC), Category: "plastic", Count: 1},
		{Bucket: time.Date(2025, 1, 1, 16, 0, 0, 0, time.UTC), Category: "paper", Count: 1},
	}, counts)
}

func TestSQLiteStore_Each(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		insertEvent(t, store, base.Add(time.Duration(i)*time.Hour), "general", "", "")
	}

	var seen []time.Time
	require.NoError(t, store.Each(context.Background(), func(e domain.Event) error {
		seen = append(seen, e.Timestamp)
		return nil
	}))
	require.Len(t, seen, 3)
	assert.True(t, seen[0].After(seen[1]))
	assert.True(t, seen[1].After(seen[2]))

	stop := errors.New("stop")
	calls := 0
	err := store.Each(context.Background(), func(e domain.Event) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestSQLiteStore_Models(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.DeployedModel(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	mAP := 0.81
	v1 := &domain.Model{Name: "waste-yolo", Version: "1.0.0", Deployed: true, Classes: []string{"plastic", "paper"}, Metrics: domain.ModelMetrics{MAP: &mAP}}
	require.NoError(t, store.SaveModel(ctx, v1))
	assert.Equal(t, "yolov8", v1.Framework)
	assert.Equal(t, 640, v1.InputSize)

	dup := &domain.Model{Name: "waste-yolo", Version: "1.0.0"}
	assert.ErrorIs(t, store.SaveModel(ctx, dup), domain.ErrDuplicate)

	v2 := &domain.Model{Name: "waste-yolo", Version: "1.1.0", Deployed: true, Notes: "retrained"}
	require.NoError(t, store.SaveModel(ctx, v2))

	deployed, err := store.DeployedModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, deployed.ID)
	assert.Equal(t, "retrained", deployed.Notes)
	assert.Equal(t, []string{}, deployed.Classes)

	models, err := store.ListModels(ctx)
	require.NoError(t, err)
	require.Len(t, models, 2)

	var first domain.Model
	for _, m := range models {
		if m.ID == v1.ID {
			first = m
		}
	}
	assert.False(t, first.Deployed, "deploying v2 retires v1")
	require.NotNil(t, first.Metrics.MAP)
	assert.InDelta(t, 0.81, *first.Metrics.MAP, 1e-9)
	assert.Nil(t, first.Metrics.Loss)
	assert.Equal(t, []string{"plastic", "paper"}, first.Classes)
}
