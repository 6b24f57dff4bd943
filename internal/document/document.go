// Package document rasterizes PDF pages for OCR and stitches page images
// back into a PDF once boxes have been painted over them.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/straja-ai/straja-dlp/internal/safety"
)

// Renderer turns a PDF into one PNG per page.
type Renderer interface {
	Name() string
	// DPI is the resolution pages are rendered at. Stitch needs it to
	// restore the original page size.
	DPI() float64
	Render(ctx context.Context, pdf []byte) ([][]byte, error)
}

// RenderOptions tunes a Renderer.
type RenderOptions struct {
	// DPI defaults to 216, three times the PDF unit resolution, which keeps
	// small print legible to OCR.
	DPI float64
	// MaxPages bounds the work for one document; longer documents are
	// reported as unscannable.
	MaxPages int
}

func (o RenderOptions) withDefaults() RenderOptions {
	if o.DPI <= 0 {
		o.DPI = 216
	}
	if o.MaxPages <= 0 {
		o.MaxPages = 50
	}
	return o
}

var (
	ErrNotPDF       = errors.New("not a PDF document")
	ErrTooManyPages = errors.New("pdf has too many pages")
)

// IsPDF reports whether data starts with the PDF header.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

func unavailable(renderer string, err error) error {
	if errors.Is(err, safety.ErrDetectionUnavailable) {
		return err
	}
	return fmt.Errorf("%w: render %s: %v", safety.ErrDetectionUnavailable, renderer, err)
}

// Static returns fixed pages regardless of input. It backs tests.
type Static struct {
	Pages [][]byte
	Err   error
	// Resolution defaults to 72.
	Resolution float64
}

func (s *Static) Name() string { return "static" }

func (s *Static) DPI() float64 {
	if s.Resolution <= 0 {
		return 72
	}
	return s.Resolution
}

func (s *Static) Render(ctx context.Context, pdf []byte) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, unavailable(s.Name(), s.Err)
	}
	return s.Pages, nil
}
