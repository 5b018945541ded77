package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/eco-classifier/internal/domain"
	"github.com/ZanzyTHEbar/eco-classifier/internal/reporting"
	"github.com/mattn/go-sqlite3"
)

// SQLiteStore is the embedded event store. SQLite has no date truncation
// that honours IANA timezones, so grouping happens in Go.
type SQLiteStore struct {
	db *DB
}

var _ domain.Store = (*SQLiteStore)(nil)

// NewSQLiteStore wraps an opened database
func NewSQLiteStore(db *DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Insert appends an event, filling defaults first
func (s *SQLiteStore) Insert(ctx context.Context, event *domain.Event) error {
	event.ApplyDefaults()

	raw, err := encodeRaw(event.RawPrediction)
	if err != nil {
		return err
	}

	stmt, err := s.db.GetPreparedStatement("insert_event")
	if err != nil {
		return err
	}

	_, err = stmt.ExecContext(ctx, event.ID, toNanos(event.Timestamp), event.Category, event.Confidence,
		event.DeviceID, event.Location, event.Filename, event.ImageURL, raw)
	if err != nil {
		return domain.NewQueryError("insert event", err)
	}

	return nil
}

// List returns one page of events, newest first, and the total match count
func (s *SQLiteStore) List(ctx context.Context, opts domain.ListOptions) ([]domain.Event, int64, error) {
	where, args := listClause(opts)

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`+where, args...).Scan(&total); err != nil {
		return nil, 0, domain.NewQueryError("count events", err)
	}

	query := `SELECT ` + eventColumns + ` FROM events` + where + ` ORDER BY timestamp DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, opts.Limit, opts.Skip())...)
	if err != nil {
		return nil, 0, domain.NewQueryError("list events", err)
	}
	defer rows.Close()

	events := make([]domain.Event, 0, opts.Limit)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, domain.NewQueryError("list events", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, domain.NewQueryError("list events", err)
	}

	return events, total, nil
}

// Each streams every event newest first. An error from fn stops iteration
// and is returned unchanged.
func (s *SQLiteStore) Each(ctx context.Context, fn func(domain.Event) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY timestamp DESC`)
	if err != nil {
		return domain.NewQueryError("export events", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return domain.NewQueryError("export events", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return domain.NewQueryError("export events", err)
	}

	return nil
}

// Points returns the timestamp and category of every matching event
func (s *SQLiteStore) Points(ctx context.Context, filter domain.Filter) ([]domain.Point, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	where, args := filterClause(filter)
	rows, err := s.db.QueryContext(ctx, `SELECT timestamp, category FROM events`+where, args...)
	if err != nil {
		return nil, domain.NewQueryError("points", err)
	}
	defer rows.Close()

	points := make([]domain.Point, 0)
	for rows.Next() {
		var (
			ts int64
			p  domain.Point
		)
		if err := rows.Scan(&ts, &p.Category); err != nil {
			return nil, domain.NewQueryError("points", err)
		}
		p.Timestamp = fromNanos(ts)
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewQueryError("points", err)
	}

	return points, nil
}

// GroupedCounts counts matching events per (bucket, category)
func (s *SQLiteStore) GroupedCounts(ctx context.Context, filter domain.Filter, g domain.Granularity, loc *time.Location) ([]domain.GroupedCount, error) {
	points, err := s.Points(ctx, filter)
	if err != nil {
		return nil, err
	}
	return reporting.GroupPoints(points, g, loc), nil
}

// SaveModel registers a model. A deployed model replaces any previously deployed one.
func (s *SQLiteStore) SaveModel(ctx context.Context, model *domain.Model) error {
	model.Prepare()

	classes, err := json.Marshal(model.Classes)
	if err != nil {
		return fmt.Errorf("failed to encode classes: %w", err)
	}

	insert, err := s.db.GetPreparedStatement("insert_model")
	if err != nil {
		return err
	}
	undeploy, err := s.db.GetPreparedStatement("undeploy_models")
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.NewQueryError("save model", err)
	}
	defer tx.Rollback()

	_, err = tx.StmtContext(ctx, insert).ExecContext(ctx,
		model.ID, model.Name, model.Version, nullString(model.ArtifactURL), model.Framework, string(classes), model.InputSize,
		floatArg(model.Metrics.MAP), floatArg(model.Metrics.Precision), floatArg(model.Metrics.Recall), floatArg(model.Metrics.Loss),
		model.Deployed, nullString(model.Notes), nullString(model.UploadedBy), toNanos(model.UploadedAt), toNanos(model.UpdatedAt))
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("model %s@%s: %w", model.Name, model.Version, domain.ErrDuplicate)
		}
		return domain.NewQueryError("save model", err)
	}

	if model.Deployed {
		if _, err := tx.StmtContext(ctx, undeploy).ExecContext(ctx, toNanos(model.UpdatedAt), model.ID); err != nil {
			return domain.NewQueryError("save model", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.NewQueryError("save model", err)
	}
	return nil
}

// ListModels returns every registered model, most recently uploaded first
func (s *SQLiteStore) ListModels(ctx context.Context) ([]domain.Model, error) {
	stmt, err := s.db.GetPreparedStatement("list_models")
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, domain.NewQueryError("list models", err)
	}
	defer rows.Close()

	models := make([]domain.Model, 0)
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, domain.NewQueryError("list models", err)
		}
		models = append(models, m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewQueryError("list models", err)
	}

	return models, nil
}

// DeployedModel returns the currently deployed model or domain.ErrNotFound
func (s *SQLiteStore) DeployedModel(ctx context.Context) (*domain.Model, error) {
	stmt, err := s.db.GetPreparedStatement("get_deployed_model")
	if err != nil {
		return nil, err
	}

	m, err := scanModel(stmt.QueryRowContext(ctx))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.NewQueryError("deployed model", err)
	}
	return &m, nil
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return domain.NewQueryError("ping", err)
	}
	return nil
}

// Close releases the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// PoolStats exposes connection pool statistics for diagnostics
func (s *SQLiteStore) PoolStats() map[string]interface{} {
	return s.db.GetPoolStats()
}
