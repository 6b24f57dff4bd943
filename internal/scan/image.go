package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/straja-ai/straja-dlp/internal/ocr"
	"github.com/straja-ai/straja-dlp/internal/safety"
)

// ImageResult is the outcome of one image scan. Every match carries a Box.
type ImageResult struct {
	Matches     []safety.Match
	Diagnostics []Diagnostic
	Tokens      int
	Unavailable bool
}

// ImagePipeline runs OCR and feeds the recognized words through the text
// pipeline, mapping text matches back to pixel regions.
type ImagePipeline struct {
	text   *Pipeline
	engine ocr.Engine
	tracer trace.Tracer
}

func NewImagePipeline(text *Pipeline, engine ocr.Engine) *ImagePipeline {
	return &ImagePipeline{text: text, engine: engine, tracer: text.tracer}
}

// tokenSpan places one OCR token in the synthetic text buffer.
type tokenSpan struct {
	span safety.Span
	box  safety.Box
}

// buildBuffer joins tokens with a single space, or a newline where the OCR
// line changes, and records where each token landed.
func buildBuffer(tokens []ocr.Token) (string, []tokenSpan) {
	var b strings.Builder
	index := make([]tokenSpan, 0, len(tokens))
	prevLine := 0
	for _, tok := range tokens {
		word := strings.TrimSpace(tok.Text)
		if word == "" {
			continue
		}
		if len(index) > 0 {
			if tok.Line != prevLine {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		}
		start := b.Len()
		b.WriteString(word)
		index = append(index, tokenSpan{
			span: safety.Span{Start: start, End: b.Len()},
			box:  safety.BoxFromRect(tok.Box),
		})
		prevLine = tok.Line
	}
	return b.String(), index
}

// boxFor unions the boxes of every token the span touches.
func boxFor(s safety.Span, index []tokenSpan) (safety.Box, bool) {
	var box safety.Box
	hit := false
	for _, ts := range index {
		if ts.span.Start >= s.End {
			break
		}
		if ts.span.Overlaps(s) {
			box = box.Union(ts.box)
			hit = true
		}
	}
	return box, hit
}

// ScanImage extracts text from img and returns matches located on the
// image. OCR failure or an image without recognizable text is reported as
// safety.ErrDetectionUnavailable, never as "no match".
func (p *ImagePipeline) ScanImage(ctx context.Context, img []byte, modelID string, opts ...ScanOption) (ImageResult, error) {
	ctx, span := p.tracer.Start(ctx, "scan.image", trace.WithAttributes(
		attribute.String("straja.model", modelID),
		attribute.String("straja.ocr_engine", p.engine.Name()),
		attribute.Int("straja.image_bytes", len(img)),
	))
	defer span.End()

	tokens, err := p.engine.Extract(ctx, img)
	if err != nil {
		span.SetStatus(codes.Error, "ocr failed")
		if !errors.Is(err, safety.ErrDetectionUnavailable) {
			err = fmt.Errorf("%w: ocr %s: %v", safety.ErrDetectionUnavailable, p.engine.Name(), err)
		}
		return ImageResult{Unavailable: true}, fmt.Errorf("scan image: %w", err)
	}

	text, index := buildBuffer(tokens)
	span.SetAttributes(attribute.Int("straja.ocr_tokens", len(index)))
	if len(index) == 0 {
		span.SetStatus(codes.Error, "no text recognized")
		return ImageResult{Unavailable: true}, fmt.Errorf("scan image: %w: no text recognized", safety.ErrDetectionUnavailable)
	}

	res, err := p.text.Scan(ctx, text, modelID, opts...)
	out := ImageResult{Diagnostics: res.Diagnostics, Tokens: len(index), Unavailable: res.Unavailable}
	if err != nil {
		return out, fmt.Errorf("scan image: %w", err)
	}
	for _, m := range res.Matches {
		box, ok := boxFor(m.Span, index)
		if !ok {
			continue
		}
		out.Matches = append(out.Matches, m.WithBox(box))
	}
	return out, nil
}
