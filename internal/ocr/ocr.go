// Package ocr extracts positioned words from images.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/straja-ai/straja-dlp/internal/safety"
)

// Token is one recognized word. Line groups words that share an OCR text
// line; tokens are returned in reading order.
type Token struct {
	Text       string          `json:"text"`
	Box        image.Rectangle `json:"box"`
	Confidence float32         `json:"confidence"`
	Line       int             `json:"line"`
}

// Engine extracts word tokens from encoded image bytes. Engines must be safe
// for concurrent use. A failure to read the image is reported as an error
// wrapping safety.ErrDetectionUnavailable.
type Engine interface {
	Name() string
	Extract(ctx context.Context, img []byte) ([]Token, error)
}

// Decode parses png, jpeg, gif, bmp or webp data and reports the format.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("decode image: empty input")
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

// DecodeConfig reads only the header.
func DecodeConfig(data []byte) (image.Config, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, "", fmt.Errorf("decode image header: %w", err)
	}
	return cfg, format, nil
}

func unavailable(engine string, err error) error {
	return fmt.Errorf("%w: ocr %s: %v", safety.ErrDetectionUnavailable, engine, err)
}
