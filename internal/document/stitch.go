package document

import (
	"bytes"
	"errors"
	"fmt"
	"image/png"
	"io"

	"github.com/go-pdf/fpdf"
)

// Stitch writes a PDF with one full-bleed page per PNG. Page sizes are
// derived from the pixel size at dpi, so a document rendered and stitched
// at the same resolution keeps its page geometry.
func Stitch(w io.Writer, pages [][]byte, dpi float64) error {
	if len(pages) == 0 {
		return errors.New("stitch: no pages")
	}
	if dpi <= 0 {
		dpi = 72
	}
	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetCompression(true)
	pdf.SetAutoPageBreak(false, 0)
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	for i, page := range pages {
		cfg, err := png.DecodeConfig(bytes.NewReader(page))
		if err != nil {
			return fmt.Errorf("stitch page %d: %w", i+1, err)
		}
		wd := float64(cfg.Width) * 72 / dpi
		ht := float64(cfg.Height) * 72 / dpi
		pdf.AddPageFormat("P", fpdf.SizeType{Wd: wd, Ht: ht})
		name := fmt.Sprintf("page-%d", i+1)
		pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(page))
		pdf.ImageOptions(name, 0, 0, wd, ht, false, opts, 0, "")
		if err := pdf.Error(); err != nil {
			return fmt.Errorf("stitch page %d: %w", i+1, err)
		}
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("stitch: %w", err)
	}
	return nil
}
