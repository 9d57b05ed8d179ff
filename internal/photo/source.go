// internal/photo/source.go
package photo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"mcp-meal-vision/internal/failure"
	"mcp-meal-vision/internal/models"
)

// Source resolves an opaque photo reference to the captured bytes. It only
// reads; the caller never owns the photo's lifecycle.
type Source interface {
	Open(ctx context.Context, ref string) ([]byte, error)
}

// FileSource reads photos from the local filesystem. A reference is either a
// plain path or a file:// URI.
type FileSource struct {
	maxBytes int64
}

func NewFileSource(maxBytes int64) *FileSource {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &FileSource{maxBytes: maxBytes}
}

func (s *FileSource) Open(ctx context.Context, ref string) ([]byte, error) {
	path, err := resolvePath(ref)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrPermission):
			return nil, &failure.CameraAccessError{Err: err}
		case errors.Is(err, os.ErrNotExist):
			return nil, &models.ValidationError{Field: "photo", Reason: "file does not exist"}
		default:
			return nil, fmt.Errorf("failed to open photo: %w", err)
		}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat photo: %w", err)
	}
	if info.IsDir() {
		return nil, &models.ValidationError{Field: "photo", Reason: "reference is a directory"}
	}

	limited := &io.LimitedReader{R: f, N: s.maxBytes + 1}
	buf := bytes.NewBuffer(make([]byte, 0, min(info.Size(), s.maxBytes)+1))
	if _, err := io.Copy(buf, limited); err != nil {
		return nil, fmt.Errorf("failed to read photo: %w", err)
	}
	if limited.N <= 0 {
		return nil, &models.ValidationError{
			Field:  "photo",
			Reason: fmt.Sprintf("exceeds maximum size of %d bytes", s.maxBytes),
		}
	}
	return buf.Bytes(), nil
}

func resolvePath(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", &models.ValidationError{Field: "photo", Reason: "reference is empty"}
	}
	if !strings.HasPrefix(ref, "file://") {
		return ref, nil
	}

	u, err := url.Parse(ref)
	if err != nil || u.Path == "" {
		return "", &models.ValidationError{Field: "photo", Reason: "malformed file URI"}
	}
	return u.Path, nil
}
