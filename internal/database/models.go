package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/eco-classifier/internal/domain"
)

const eventColumns = `id, timestamp, category, confidence, device_id, location, filename, image_url, raw_prediction`

const modelColumns = `id, name, version, artifact_url, framework, classes, input_size,
	metric_map, metric_precision, metric_recall, metric_loss,
	deployed, notes, uploaded_by, uploaded_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func scanEvent(row rowScanner) (domain.Event, error) {
	var (
		e   domain.Event
		ts  int64
		raw sql.NullString
	)

	if err := row.Scan(&e.ID, &ts, &e.Category, &e.Confidence, &e.DeviceID, &e.Location,
		&e.Filename, &e.ImageURL, &raw); err != nil {
		return e, err
	}
	e.Timestamp = fromNanos(ts)

	if raw.Valid && raw.String != "" {
		if err := json.Unmarshal([]byte(raw.String), &e.RawPrediction); err != nil {
			return e, fmt.Errorf("failed to decode raw prediction for event %s: %w", e.ID, err)
		}
	}

	return e, nil
}

func encodeRaw(raw map[string]any) (sql.NullString, error) {
	if raw == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode raw prediction: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func scanModel(row rowScanner) (domain.Model, error) {
	var (
		m                            domain.Model
		artifact, notes, uploadedBy  sql.NullString
		classes                      string
		mAP, precision, recall, loss sql.NullFloat64
		uploadedAt, updatedAt        int64
	)

	if err := row.Scan(&m.ID, &m.Name, &m.Version, &artifact, &m.Framework, &classes, &m.InputSize,
		&mAP, &precision, &recall, &loss,
		&m.Deployed, &notes, &uploadedBy, &uploadedAt, &updatedAt); err != nil {
		return m, err
	}

	m.ArtifactURL = artifact.String
	m.Notes = notes.String
	m.UploadedBy = uploadedBy.String
	m.UploadedAt = fromNanos(uploadedAt)
	m.UpdatedAt = fromNanos(updatedAt)
	m.Metrics = domain.ModelMetrics{
		MAP:       nullFloat(mAP),
		Precision: nullFloat(precision),
		Recall:    nullFloat(recall),
		Loss:      nullFloat(loss),
	}

	if err := json.Unmarshal([]byte(classes), &m.Classes); err != nil {
		return m, fmt.Errorf("failed to decode classes for model %s: %w", m.ID, err)
	}

	return m, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func floatArg(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// filterClause renders a domain filter as a WHERE clause with positional args.
func filterClause(f domain.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)

	if f.Start != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, toNanos(*f.Start))
	}
	if f.End != nil {
		conds = append(conds, "timestamp <= ?")
		args = append(args, toNanos(*f.End))
	}
	if len(f.Categories) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.Categories)), ",")
		conds = append(conds, "category IN ("+placeholders+")")
		for _, c := range f.Categories {
			args = append(args, c)
		}
	}
	if f.DeviceID != "" {
		conds = append(conds, "device_id = ?")
		args = append(args, f.DeviceID)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// listClause renders list options as a WHERE clause with positional args.
func listClause(opts domain.ListOptions) (string, []any) {
	var (
		conds []string
		args  []any
	)

	if opts.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, opts.Category)
	}
	if opts.Search != "" {
		conds = append(conds, `filename LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(opts.Search)+"%")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
