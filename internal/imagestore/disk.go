package imagestore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// PublicPrefix is the URL path the server mounts the upload directory on.
const PublicPrefix = "/uploads/"

var safeExt = regexp.MustCompile(`^\.[a-z0-9]{1,5}$`)

// DiskUploader writes images to a local directory. It is the fallback
// when no Cloudinary account is configured.
type DiskUploader struct {
	dir     string
	baseURL string
}

// NewDiskUploader creates the directory if needed. baseURL is prefixed to
// the public path so the model service can reach the file; it may be empty.
func NewDiskUploader(dir, baseURL string) (*DiskUploader, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &DiskUploader{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Name identifies the uploader in logs and health output
func (d *DiskUploader) Name() string {
	return "disk"
}

// Dir returns the directory served under PublicPrefix
func (d *DiskUploader) Dir() string {
	return d.dir
}

// Upload copies r to a uuid-named file, keeping a safe extension.
func (d *DiskUploader) Upload(ctx context.Context, r io.Reader, filename string) (*Stored, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !safeExt.MatchString(ext) {
		ext = ""
	}
	name := uuid.New().String() + ext

	f, err := os.CreateTemp(d.dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create upload file: %w", err)
	}
	tmp := f.Name()

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("failed to write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("failed to write upload: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(d.dir, name)); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	return &Stored{
		URL:      d.baseURL + path.Join(PublicPrefix, name),
		PublicID: strings.TrimSuffix(name, ext),
	}, nil
}
