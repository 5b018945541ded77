package upload

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/eco-classifier/internal/domain"
	"github.com/ZanzyTHEbar/eco-classifier/internal/errors"
)

// ResolveSamplePath maps a requested server path to a regular file under
// base. Relative paths are taken relative to base. Symlinks are followed
// and must also stay under base.
func ResolveSamplePath(base, requested string) (string, os.FileInfo, error) {
	if strings.TrimSpace(requested) == "" {
		return "", nil, errors.NewValidationError("Missing 'path' in request body.")
	}

	root, err := filepath.Abs(base)
	if err != nil {
		return "", nil, errors.NewConfigurationError("invalid sample upload directory", err)
	}

	resolved := requested
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(root, resolved)
	}
	resolved = filepath.Clean(resolved)

	if !within(root, resolved) {
		return "", nil, errors.NewForbiddenError("Access to the requested path is forbidden.")
	}

	target, err := filepath.EvalSymlinks(resolved)
	if err != nil {
		return "", nil, errors.NewNotFoundError("File not found.")
	}
	targetRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", nil, errors.NewNotFoundError("File not found.")
	}
	if !within(targetRoot, target) {
		return "", nil, errors.NewForbiddenError("Access to the requested path is forbidden.")
	}

	info, err := os.Stat(target)
	if err != nil {
		return "", nil, errors.NewNotFoundError("File not found.")
	}
	if !info.Mode().IsRegular() {
		return "", nil, errors.NewValidationError("Requested path is not a file.")
	}
	if info.Size() > MaxPathBytes {
		return "", nil, TooLargeError(MaxPathBytes)
	}

	return target, info, nil
}

func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ProcessPath classifies a file already present on the server
func (p *Pipeline) ProcessPath(ctx context.Context, base, requested string) (*domain.Event, error) {
	path, _, err := ResolveSamplePath(base, requested)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewNotFoundError("File not found.")
	}
	defer f.Close()

	return p.Process(ctx, Source{Kind: SourcePath, Filename: filepath.Base(path), Body: f})
}
