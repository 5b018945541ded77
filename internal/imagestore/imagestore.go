// Package imagestore persists uploaded images and hands back a public URL.
package imagestore

import (
	"context"
	"io"
)

// Stored describes an image after upload.
type Stored struct {
	URL      string `json:"url"`
	PublicID string `json:"publicId"`
}

// Uploader stores image bytes somewhere the model service can fetch them.
type Uploader interface {
	Upload(ctx context.Context, r io.Reader, filename string) (*Stored, error)
	Name() string
}
