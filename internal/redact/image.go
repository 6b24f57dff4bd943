package redact

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/straja-ai/straja-dlp/internal/policy"
	"github.com/straja-ai/straja-dlp/internal/safety"
)

const DefaultMargin = 4

// ImageOptions controls box painting.
type ImageOptions struct {
	// Margin grows every box on each side, in pixels. Negative means none.
	Margin int
	Fill   color.Color
}

func (o ImageOptions) withDefaults() ImageOptions {
	if o.Margin == 0 {
		o.Margin = DefaultMargin
	}
	if o.Margin < 0 {
		o.Margin = 0
	}
	if o.Fill == nil {
		o.Fill = color.Black
	}
	return o
}

// Image paints an opaque box over every masked match. The source image is
// never modified; a masked copy is returned. A blocked outcome returns the
// source unchanged.
func Image(src image.Image, ds []policy.Decision, opts ImageOptions) (Outcome, image.Image) {
	if types := blockedTypes(ds); len(types) > 0 {
		return Outcome{Blocked: true, BlockedTypes: types}, src
	}
	opts = opts.withDefaults()

	var boxes []image.Rectangle
	for _, d := range ds {
		if d.Action != safety.ActionMask || d.Match.Box == nil {
			continue
		}
		r := d.Match.Box.Rect().Inset(-opts.Margin).Intersect(src.Bounds())
		if r.Empty() {
			continue
		}
		boxes = append(boxes, r)
	}
	if len(boxes) == 0 {
		return Outcome{}, src
	}

	dst := image.NewRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	fill := image.NewUniform(opts.Fill)
	for _, r := range boxes {
		draw.Draw(dst, r, fill, image.Point{}, draw.Src)
	}
	return Outcome{Masked: len(boxes)}, dst
}

// EncodeLike encodes img in format ("png", "jpeg", "gif", "bmp", "tiff").
// Formats without an encoder, webp among them, fall back to png; the
// returned format names what was written.
func EncodeLike(format string, img image.Image) ([]byte, string, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95})
	case "gif":
		err = gif.Encode(&buf, img, nil)
	case "bmp":
		err = bmp.Encode(&buf, img)
	case "tiff":
		err = tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		format = "png"
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return nil, "", fmt.Errorf("encode %s: %w", format, err)
	}
	return buf.Bytes(), format, nil
}
