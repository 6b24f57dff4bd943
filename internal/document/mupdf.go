//go:build mupdf

package document

import (
	"bytes"
	"context"
	"fmt"
	"image/png"

	"github.com/gen2brain/go-fitz"
)

// MuPDF renders pages through go-fitz. Each call opens its own document
// handle, so one MuPDF serves concurrent scans.
type MuPDF struct {
	opts RenderOptions
}

func NewRenderer(opts RenderOptions) Renderer {
	return &MuPDF{opts: opts.withDefaults()}
}

func (m *MuPDF) Name() string { return "mupdf" }

func (m *MuPDF) DPI() float64 { return m.opts.DPI }

func (m *MuPDF) Render(ctx context.Context, data []byte) ([][]byte, error) {
	if !IsPDF(data) {
		return nil, unavailable(m.Name(), ErrNotPDF)
	}
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, unavailable(m.Name(), err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if n > m.opts.MaxPages {
		return nil, unavailable(m.Name(), fmt.Errorf("%w: %d > %d", ErrTooManyPages, n, m.opts.MaxPages))
	}
	pages := make([][]byte, 0, n)
	for i := range n {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.ImageDPI(i, m.opts.DPI)
		if err != nil {
			return nil, unavailable(m.Name(), fmt.Errorf("page %d: %w", i+1, err))
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, unavailable(m.Name(), fmt.Errorf("page %d: %w", i+1, err))
		}
		pages = append(pages, buf.Bytes())
	}
	return pages, nil
}
