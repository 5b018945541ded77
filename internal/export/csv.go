// Package export renders classification events as CSV.
package export

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/ZanzyTHEbar/eco-classifier/internal/domain"
)

// Filename is the attachment name used for downloads.
const Filename = "ecoclassifier_export.csv"

// Header lists the exported columns in order.
var Header = []string{"timestamp", "filename", "imageUrl", "category", "confidence", "deviceId", "location"}

// EventSource streams events in the order they should appear.
type EventSource interface {
	Each(ctx context.Context, fn func(domain.Event) error) error
}

// WriteCSV writes the header followed by one row per event and returns
// the number of rows written.
func WriteCSV(ctx context.Context, w io.Writer, source EventSource) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return 0, err
	}

	rows := 0
	err := source.Each(ctx, func(e domain.Event) error {
		if err := cw.Write(Row(e)); err != nil {
			return err
		}
		rows++
		return nil
	})
	if err != nil {
		return rows, err
	}

	cw.Flush()
	return rows, cw.Error()
}

// Row renders one event as CSV fields.
func Row(e domain.Event) []string {
	return []string{
		e.Timestamp.UTC().Format(time.RFC3339),
		e.Filename,
		e.ImageURL,
		e.Category,
		strconv.FormatFloat(e.Confidence, 'f', -1, 64),
		e.DeviceID,
		e.Location,
	}
}
