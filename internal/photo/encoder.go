// internal/photo/encoder.go
package photo

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/charmbracelet/log"
	_ "golang.org/x/image/webp"

	"mcp-meal-vision/internal/models"
)

const (
	DefaultMaxBytes  = 10 * 1024 * 1024
	DefaultMaxWidth  = 8192
	DefaultMaxHeight = 8192
)

var DefaultFormats = []string{"jpeg", "png", "webp", "gif"}

// Limits bounds what the encoder accepts.
type Limits struct {
	MaxBytes       int64
	MaxWidth       int
	MaxHeight      int
	AllowedFormats []string
}

// Encoded is a validated photo ready to embed in a request.
type Encoded struct {
	Format  string
	Width   int
	Height  int
	Size    int
	DataURL string
}

type Encoder struct {
	limits Limits
	logger *log.Logger
}

func NewEncoder(limits Limits, logger *log.Logger) *Encoder {
	if limits.MaxBytes <= 0 {
		limits.MaxBytes = DefaultMaxBytes
	}
	if limits.MaxWidth <= 0 {
		limits.MaxWidth = DefaultMaxWidth
	}
	if limits.MaxHeight <= 0 {
		limits.MaxHeight = DefaultMaxHeight
	}
	if len(limits.AllowedFormats) == 0 {
		limits.AllowedFormats = DefaultFormats
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Encoder{limits: limits, logger: logger.WithPrefix("photo")}
}

// Encode checks size, format and dimensions and returns the photo as a
// data:image/<format>;base64 URL. Rejections are *models.ValidationError on
// the photo field.
func (e *Encoder) Encode(raw []byte) (Encoded, error) {
	if len(raw) == 0 {
		return Encoded{}, invalidPhoto("image is empty")
	}
	if int64(len(raw)) > e.limits.MaxBytes {
		e.logger.Warn("oversized photo", "size", len(raw), "max_size", e.limits.MaxBytes)
		return Encoded{}, invalidPhoto(fmt.Sprintf("exceeds maximum size of %d bytes", e.limits.MaxBytes))
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		e.logger.Warn("photo did not decode", "header", fmt.Sprintf("%x", raw[:min(len(raw), 16)]), "err", err)
		return Encoded{}, invalidPhoto("unsupported or corrupt image")
	}
	if !e.allowed(format) {
		return Encoded{}, invalidPhoto(fmt.Sprintf("format %s is not allowed", format))
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > e.limits.MaxWidth || cfg.Height > e.limits.MaxHeight {
		return Encoded{}, invalidPhoto(fmt.Sprintf("dimensions %dx%d are out of bounds", cfg.Width, cfg.Height))
	}

	return Encoded{
		Format:  format,
		Width:   cfg.Width,
		Height:  cfg.Height,
		Size:    len(raw),
		DataURL: "data:image/" + format + ";base64," + base64.StdEncoding.EncodeToString(raw),
	}, nil
}

func (e *Encoder) allowed(format string) bool {
	for _, f := range e.limits.AllowedFormats {
		f = strings.ToLower(f)
		if f == "jpg" {
			f = "jpeg"
		}
		if f == format {
			return true
		}
	}
	return false
}

func invalidPhoto(reason string) error {
	return &models.ValidationError{Field: "photo", Reason: reason}
}

// Intake loads a reference from a Source and encodes it.
type Intake struct {
	source  Source
	encoder *Encoder
}

func NewIntake(source Source, encoder *Encoder) *Intake {
	return &Intake{source: source, encoder: encoder}
}

func (i *Intake) Load(ctx context.Context, ref string) (Encoded, error) {
	raw, err := i.source.Open(ctx, ref)
	if err != nil {
		return Encoded{}, err
	}
	return i.encoder.Encode(raw)
}
