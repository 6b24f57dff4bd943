//go:build tesseract

package ocr

import (
	"context"
	"errors"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract runs libtesseract through gosseract. A client is created per
// call; gosseract clients are not safe for concurrent use.
type Tesseract struct {
	opts TesseractOptions
}

func NewTesseract(opts TesseractOptions) Engine {
	if opts.Language == "" {
		opts.Language = "eng"
	}
	return &Tesseract{opts: opts}
}

func (t *Tesseract) Name() string { return "tesseract" }

func (t *Tesseract) Extract(ctx context.Context, img []byte) ([]Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, _, err := DecodeConfig(img); err != nil {
		return nil, unavailable(t.Name(), err)
	}

	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetLanguage(strings.Split(t.opts.Language, "+")...); err != nil {
		return nil, unavailable(t.Name(), err)
	}
	if err := client.SetImageFromBytes(img); err != nil {
		return nil, unavailable(t.Name(), err)
	}
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, unavailable(t.Name(), err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type lineKey struct{ block, par, line int }
	lines := map[lineKey]int{}
	out := make([]Token, 0, len(boxes))
	for _, b := range boxes {
		word := strings.TrimSpace(b.Word)
		if word == "" {
			continue
		}
		conf := float32(b.Confidence / 100)
		if conf < t.opts.MinConfidence {
			continue
		}
		key := lineKey{b.BlockNum, b.ParNum, b.LineNum}
		idx, ok := lines[key]
		if !ok {
			idx = len(lines)
			lines[key] = idx
		}
		out = append(out, Token{Text: word, Box: b.Box, Confidence: conf, Line: idx})
	}
	if len(out) == 0 && len(boxes) > 0 {
		return nil, unavailable(t.Name(), errors.New("no tokens above confidence floor"))
	}
	return out, nil
}
