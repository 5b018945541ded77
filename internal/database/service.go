package database

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/eco-classifier/internal/domain"
	"github.com/ZanzyTHEbar/eco-classifier/internal/export"
	"github.com/ZanzyTHEbar/eco-classifier/internal/monitoring"
	"github.com/ZanzyTHEbar/eco-classifier/internal/reporting"
)

const (
	DefaultPage  = 1
	DefaultLimit = 50
	MaxLimit     = 500
)

// EventService provides the read and write operations behind the API
type EventService struct {
	store   domain.Store
	driver  string
	loc     *time.Location
	logger  *monitoring.Logger
	metrics *monitoring.Metrics
}

// NewEventService creates a new event service. loc is the timezone used
// for bucket boundaries; nil means UTC.
func NewEventService(store domain.Store, driver string, loc *time.Location, logger *monitoring.Logger, metrics *monitoring.Metrics) *EventService {
	if loc == nil {
		loc = time.UTC
	}
	return &EventService{
		store:   store,
		driver:  driver,
		loc:     loc,
		logger:  logger,
		metrics: metrics,
	}
}

// Location returns the timezone used for bucketing
func (s *EventService) Location() *time.Location {
	return s.loc
}

// Record persists a classification event
func (s *EventService) Record(ctx context.Context, event *domain.Event) error {
	start := time.Now()
	err := s.store.Insert(ctx, event)
	s.observe("insert_event", start, err)
	return err
}

// ListEvents returns one page of events. Out-of-range paging values are
// clamped rather than rejected.
func (s *EventService) ListEvents(ctx context.Context, opts domain.ListOptions) (*domain.EventPage, error) {
	opts = NormalizeListOptions(opts)

	start := time.Now()
	events, total, err := s.store.List(ctx, opts)
	s.observe("list_events", start, err)
	if err != nil {
		return nil, err
	}

	return &domain.EventPage{
		Page:   opts.Page,
		Limit:  opts.Limit,
		Total:  total,
		Events: events,
	}, nil
}

// NormalizeListOptions applies paging defaults and trims filters
func NormalizeListOptions(opts domain.ListOptions) domain.ListOptions {
	if opts.Page < 1 {
		opts.Page = DefaultPage
	}
	if opts.Limit < 1 {
		opts.Limit = DefaultLimit
	}
	if opts.Limit > MaxLimit {
		opts.Limit = MaxLimit
	}
	opts.Category = strings.TrimSpace(opts.Category)
	opts.Search = strings.TrimSpace(opts.Search)
	return opts
}

// Stats computes a dense time series over the filtered events. Nothing is
// cached; each call reads the store afresh.
func (s *EventService) Stats(ctx context.Context, filter domain.Filter, g domain.Granularity) (*domain.AggregationResult, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if !g.Valid() {
		g = domain.GranularityDay
	}

	start := time.Now()
	counts, err := s.store.GroupedCounts(ctx, filter, g, s.loc)
	s.observe("grouped_counts", start, err)
	if err != nil {
		return nil, err
	}

	result, err := reporting.Aggregate(g, counts)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementStatsQuery()
	}
	if s.logger != nil {
		s.logger.StatsLogger(string(g), len(result.Groups), len(result.Categories), time.Since(start))
	}

	return result, nil
}

// Export writes every event as CSV, newest first
func (s *EventService) Export(ctx context.Context, w io.Writer) (int, error) {
	start := time.Now()
	rows, err := export.WriteCSV(ctx, w, s.store)
	s.observe("export_events", start, err)
	return rows, err
}

// RegisterModel adds a model to the registry
func (s *EventService) RegisterModel(ctx context.Context, model *domain.Model) error {
	model.Name = strings.TrimSpace(model.Name)
	model.Version = strings.TrimSpace(model.Version)

	start := time.Now()
	err := s.store.SaveModel(ctx, model)
	s.observe("save_model", start, err)
	return err
}

// Models lists the registry
func (s *EventService) Models(ctx context.Context) ([]domain.Model, error) {
	start := time.Now()
	models, err := s.store.ListModels(ctx)
	s.observe("list_models", start, err)
	return models, err
}

// DeployedModel returns the model currently marked as deployed
func (s *EventService) DeployedModel(ctx context.Context) (*domain.Model, error) {
	start := time.Now()
	model, err := s.store.DeployedModel(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		s.observe("deployed_model", start, nil)
		return nil, err
	}
	s.observe("deployed_model", start, err)
	return model, err
}

// Ping checks the store is reachable
func (s *EventService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Driver names the backing store
func (s *EventService) Driver() string {
	return s.driver
}

func (s *EventService) observe(op string, start time.Time, err error) {
	var queryErr *domain.QueryError
	if err != nil && errors.As(err, &queryErr) && s.metrics != nil {
		s.metrics.RecordStoreError(op)
	}
	if s.logger != nil {
		s.logger.StoreLogger(s.driver, op, time.Since(start), err)
	}
}
