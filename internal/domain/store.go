package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique key is already taken.
var ErrDuplicate = errors.New("duplicate")

// EventStore is the read/append interface over persisted classification events.
//
// Points and GroupedCounts validate the filter before any I/O and return
// *InvalidRangeError for start > end; store failures surface as *QueryError.
// Neither guarantees ordering.
type EventStore interface {
	Insert(ctx context.Context, event *Event) error
	List(ctx context.Context, opts ListOptions) ([]Event, int64, error)
	Each(ctx context.Context, fn func(Event) error) error
	Points(ctx context.Context, filter Filter) ([]Point, error)
	GroupedCounts(ctx context.Context, filter Filter, g Granularity, loc *time.Location) ([]GroupedCount, error)
	Ping(ctx context.Context) error
	Close() error
}

// ModelRegistry persists classifier model metadata.
type ModelRegistry interface {
	SaveModel(ctx context.Context, model *Model) error
	ListModels(ctx context.Context) ([]Model, error)
	DeployedModel(ctx context.Context) (*Model, error)
}

// Store is what the service needs from a backend.
type Store interface {
	EventStore
	ModelRegistry
}
