package database

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/eco-classifier/internal/domain"
	"github.com/ZanzyTHEbar/eco-classifier/internal/monitoring"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore records calls and returns canned results.
type fakeStore struct {
	domain.Store

	counts     []domain.GroupedCount
	err        error
	listOpts   domain.ListOptions
	groupCalls int
	lastGroup  domain.Granularity
	lastLoc    *time.Location
}

func (f *fakeStore) GroupedCounts(ctx context.Context, filter domain.Filter, g domain.Granularity, loc *time.Location) ([]domain.GroupedCount, error) {
	f.groupCalls++
	f.lastGroup = g
	f.lastLoc = loc
	return f.counts, f.err
}

func (f *fakeStore) List(ctx context.Context, opts domain.ListOptions) ([]domain.Event, int64, error) {
	f.listOpts = opts
	return []domain.Event{}, 0, f.err
}

func (f *fakeStore) DeployedModel(ctx context.Context) (*domain.Model, error) {
	return nil, f.err
}

func newTestService(store domain.Store) (*EventService, *monitoring.Metrics) {
	metrics := monitoring.NewMetrics()
	logger := monitoring.NewLoggerTo(io.Discard, slog.LevelDebug)
	return NewEventService(store, "fake", nil, logger, metrics), metrics
}

func TestEventService_Stats(t *testing.T) {
	store := &fakeStore{counts: []domain.GroupedCount{
		{Bucket: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), Category: "plastic", Count: 3},
		{Bucket: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), Category: "plastic", Count: 5},
		{Bucket: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), Category: "paper", Count: 2},
	}}
	svc, _ := newTestService(store)

	result, err := svc.Stats(context.Background(), domain.Filter{}, domain.GranularityDay)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, store.lastLoc)
	assert.Len(t, result.Groups, 2)
	assert.Equal(t, []int64{3, 5}, result.Series["plastic"])
	assert.Equal(t, []int64{0, 2}, result.Series["paper"])
}

func TestEventService_StatsInvalidRangeSkipsStore(t *testing.T) {
	store := &fakeStore{}
	svc, _ := newTestService(store)

	start := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	result, err := svc.Stats(context.Background(), domain.Filter{Start: &start, End: &end}, domain.GranularityDay)
	assert.Nil(t, result)

	var rangeErr *domain.InvalidRangeError
	require.True(t, errors.As(err, &rangeErr))
	assert.Zero(t, store.groupCalls)
}

func TestEventService_StatsFallsBackToDay(t *testing.T) {
	store := &fakeStore{}
	svc, _ := newTestService(store)

	result, err := svc.Stats(context.Background(), domain.Filter{}, domain.Granularity("fortnight"))
	require.NoError(t, err)
	assert.Equal(t, domain.GranularityDay, store.lastGroup)
	assert.Equal(t, domain.GranularityDay, result.GroupBy)
	assert.Empty(t, result.Groups)
}

func TestEventService_StatsQueryErrorIsCounted(t *testing.T) {
	store := &fakeStore{err: domain.NewQueryError("grouped counts", errors.New("connection reset"))}
	svc, metrics := newTestService(store)

	_, err := svc.Stats(context.Background(), domain.Filter{}, domain.GranularityHour)
	var queryErr *domain.QueryError
	require.True(t, errors.As(err, &queryErr))

	count, err := testutil.GatherAndCount(metrics.Registry(), "eco_store_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEventService_ListEventsClampsPaging(t *testing.T) {
	tests := []struct {
		name          string
		opts          domain.ListOptions
		expectedPage  int
		expectedLimit int
	}{
		{"defaults", domain.ListOptions{}, DefaultPage, DefaultLimit},
		{"negative values", domain.ListOptions{Page: -3, Limit: -1}, DefaultPage, DefaultLimit},
		{"limit capped", domain.ListOptions{Page: 4, Limit: 10000}, 4, MaxLimit},
		{"kept", domain.ListOptions{Page: 2, Limit: 20}, 2, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{}
			svc, _ := newTestService(store)

			page, err := svc.ListEvents(context.Background(), tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedPage, page.Page)
			assert.Equal(t, tt.expectedLimit, page.Limit)
			assert.Equal(t, tt.expectedLimit, store.listOpts.Limit)
			assert.NotNil(t, page.Events)
		})
	}
}

func TestNormalizeListOptions_TrimsFilters(t *testing.T) {
	opts := NormalizeListOptions(domain.ListOptions{Category: " plastic ", Search: "\tcup "})
	assert.Equal(t, "plastic", opts.Category)
	assert.Equal(t, "cup", opts.Search)
}

func TestEventService_DeployedModelNotFoundIsNotAStoreError(t *testing.T) {
	store := &fakeStore{err: domain.ErrNotFound}
	svc, metrics := newTestService(store)

	_, err := svc.DeployedModel(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	count, err := testutil.GatherAndCount(metrics.Registry(), "eco_store_errors_total")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestEventService_WithSQLite(t *testing.T) {
	store := newTestStore(t)
	svc, _ := newTestService(store)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, category := range []string{"plastic", "plastic", "paper", "general"} {
		e := domain.NewEvent(category, 0.9)
		e.Timestamp = base.Add(time.Duration(i) * 24 * time.Hour)
		e.Filename = category + ".jpg"
		require.NoError(t, svc.Record(ctx, e))
	}

	result, err := svc.Stats(ctx, domain.Filter{Categories: []string{"plastic", "paper"}}, domain.GranularityMonth)
	require.NoError(t, err)
	require.Len(t, result.Groups, 1)
	assert.Equal(t, []int64{2}, result.Series["plastic"])
	assert.Equal(t, []int64{1}, result.Series["paper"])
	assert.NotContains(t, result.Series, "general")

	var buf bytes.Buffer
	rows, err := svc.Export(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 4, rows)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 5)
	assert.Contains(t, lines[1], "general.jpg", "newest first")

	model := &domain.Model{Name: "  waste-yolo ", Version: " 2.0 ", Deployed: true}
	require.NoError(t, svc.RegisterModel(ctx, model))
	deployed, err := svc.DeployedModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, "waste-yolo", deployed.Name)
	assert.Equal(t, "2.0", deployed.Version)

	assert.NoError(t, svc.Ping(ctx))
	assert.Equal(t, "fake", svc.Driver())
}
