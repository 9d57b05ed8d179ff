package photo

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcp-meal-vision/internal/failure"
	"mcp-meal-vision/internal/models"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 200, G: 120, B: 40, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func writePhoto(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func quietLogger() *log.Logger {
	return log.NewWithOptions(&bytes.Buffer{}, log.Options{})
}

func requirePhotoValidation(t *testing.T, err error) {
	t.Helper()
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "photo", verr.Field)
}

func TestEncoder_Encode(t *testing.T) {
	enc := NewEncoder(Limits{}, quietLogger())
	raw := pngBytes(t, 4, 3)

	got, err := enc.Encode(raw)
	require.NoError(t, err)
	assert.Equal(t, "png", got.Format)
	assert.Equal(t, 4, got.Width)
	assert.Equal(t, 3, got.Height)
	assert.Equal(t, len(raw), got.Size)

	prefix := "data:image/png;base64,"
	require.True(t, strings.HasPrefix(got.DataURL, prefix))
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(got.DataURL, prefix))
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
}

func TestEncoder_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		limits Limits
		raw    func(t *testing.T) []byte
	}{
		{
			name: "empty",
			raw:  func(*testing.T) []byte { return nil },
		},
		{
			name: "not an image",
			raw:  func(*testing.T) []byte { return []byte("%PDF-1.7 receipt") },
		},
		{
			name:   "too large",
			limits: Limits{MaxBytes: 16},
			raw:    func(t *testing.T) []byte { return pngBytes(t, 8, 8) },
		},
		{
			name:   "format not allowed",
			limits: Limits{AllowedFormats: []string{"png"}},
			raw:    func(t *testing.T) []byte { return jpegBytes(t, 8, 8) },
		},
		{
			name:   "too wide",
			limits: Limits{MaxWidth: 10, MaxHeight: 10},
			raw:    func(t *testing.T) []byte { return pngBytes(t, 11, 2) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEncoder(tt.limits, quietLogger()).Encode(tt.raw(t))
			requirePhotoValidation(t, err)
			assert.Equal(t, failure.ValidationError{Field: "photo", Reason: err.(*models.ValidationError).Reason}, failure.Classify(err))
		})
	}
}

func TestEncoder_JPGAlias(t *testing.T) {
	got, err := NewEncoder(Limits{AllowedFormats: []string{"JPG"}}, quietLogger()).Encode(jpegBytes(t, 2, 2))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", got.Format)
	assert.True(t, strings.HasPrefix(got.DataURL, "data:image/jpeg;base64,"))
}

func TestFileSource_Open(t *testing.T) {
	raw := pngBytes(t, 2, 2)
	path := writePhoto(t, "lunch.png", raw)
	src := NewFileSource(0)

	got, err := src.Open(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = src.Open(context.Background(), "file://"+path)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestFileSource_Errors(t *testing.T) {
	dir := t.TempDir()
	big := writePhoto(t, "big.png", bytes.Repeat([]byte{1}, 64))

	tests := []struct {
		name string
		src  *FileSource
		ref  string
	}{
		{name: "empty reference", src: NewFileSource(0), ref: "  "},
		{name: "missing file", src: NewFileSource(0), ref: filepath.Join(dir, "nope.jpg")},
		{name: "directory", src: NewFileSource(0), ref: dir},
		{name: "over limit", src: NewFileSource(32), ref: big},
		{name: "bad uri", src: NewFileSource(0), ref: "file://"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.src.Open(context.Background(), tt.ref)
			requirePhotoValidation(t, err)
		})
	}
}

func TestFileSource_PermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores file permissions")
	}
	path := writePhoto(t, "locked.png", pngBytes(t, 2, 2))
	require.NoError(t, os.Chmod(path, 0))

	_, err := NewFileSource(0).Open(context.Background(), path)
	var camErr *failure.CameraAccessError
	require.ErrorAs(t, err, &camErr)
	assert.Equal(t, failure.CameraPermissionDenied{}, failure.Classify(err))
}

func TestFileSource_Cancelled(t *testing.T) {
	path := writePhoto(t, "lunch.png", pngBytes(t, 2, 2))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFileSource(0).Open(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIntake_Load(t *testing.T) {
	path := writePhoto(t, "lunch.png", pngBytes(t, 3, 3))
	intake := NewIntake(NewFileSource(0), NewEncoder(Limits{}, quietLogger()))

	got, err := intake.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "png", got.Format)

	_, err = intake.Load(context.Background(), path+".missing")
	requirePhotoValidation(t, err)
}
