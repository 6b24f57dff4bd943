// Package scan runs the detectors over text and OCR output and resolves
// overlapping findings into one ordered, non-overlapping match list.
package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/straja-ai/straja-dlp/internal/intel"
	"github.com/straja-ai/straja-dlp/internal/safety"
)

// Diagnostic records a detector that failed during a scan. The scan itself
// continues with the remaining detectors.
type Diagnostic struct {
	Detector string `json:"detector"`
	Err      error  `json:"-"`
}

func (d Diagnostic) String() string {
	return d.Detector + ": " + d.Err.Error()
}

// Result is the outcome of one text scan.
type Result struct {
	Matches     []safety.Match
	Diagnostics []Diagnostic
	// Unavailable means the text was not actually inspected.
	Unavailable bool
}

// Options configures a Pipeline.
type Options struct {
	Logger *zap.Logger
	Tracer trace.Tracer
}

// ScanOption adjusts a single Scan call.
type ScanOption func(*scanConfig)

type scanConfig struct {
	keep func(safety.PIIType) bool
}

// OnlyTypes discards detector output of any type keep rejects before
// overlapping matches are merged, so an ignored type never displaces a
// wanted one.
func OnlyTypes(keep func(safety.PIIType) bool) ScanOption {
	return func(c *scanConfig) { c.keep = keep }
}

func newScanConfig(opts []ScanOption) scanConfig {
	var c scanConfig
	for _, o := range opts {
		o(&c)
	}
	return c
}

// Pipeline runs primary detectors concurrently, merges their findings, then
// gives coverage-aware detectors the remaining uncovered text. Noop
// placeholders for disabled detectors are listed but never run.
type Pipeline struct {
	all      []intel.Detector
	primary  []intel.Detector
	coverage []intel.CoverageAware
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewPipeline sorts detectors into primary and coverage-aware groups.
func NewPipeline(detectors []intel.Detector, opts Options) *Pipeline {
	p := &Pipeline{logger: opts.Logger, tracer: opts.Tracer}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.tracer == nil {
		p.tracer = noop.NewTracerProvider().Tracer("")
	}
	for _, d := range detectors {
		if d == nil {
			continue
		}
		p.all = append(p.all, d)
		if intel.IsNoop(d) {
			continue
		}
		if ca, ok := d.(intel.CoverageAware); ok {
			p.coverage = append(p.coverage, ca)
			continue
		}
		p.primary = append(p.primary, d)
	}
	return p
}

// Detectors lists every configured detector in configuration order,
// disabled ones included.
func (p *Pipeline) Detectors() []intel.Detector {
	return append([]intel.Detector(nil), p.all...)
}

// Scan returns the merged matches for text ordered by start offset. It
// returns an error wrapping safety.ErrDetectionUnavailable when no detector
// is enabled, every enabled detector failed, or ctx ended before the scan
// finished.
func (p *Pipeline) Scan(ctx context.Context, text, modelID string, opts ...ScanOption) (Result, error) {
	cfg := newScanConfig(opts)
	if strings.TrimSpace(text) == "" {
		return Result{}, nil
	}
	if len(p.primary)+len(p.coverage) == 0 {
		return Result{Unavailable: true}, fmt.Errorf("scan text: %w: no detector enabled", safety.ErrDetectionUnavailable)
	}
	ctx, span := p.tracer.Start(ctx, "scan.text", trace.WithAttributes(
		attribute.String("straja.model", modelID),
		attribute.Int("straja.text_bytes", len(text)),
	))
	defer span.End()

	found := make([][]safety.Match, len(p.primary))
	errs := make([]error, len(p.primary))
	var g errgroup.Group
	for i, d := range p.primary {
		g.Go(func() error {
			found[i], errs[i] = d.Detect(ctx, text)
			return nil
		})
	}
	_ = g.Wait()

	var res Result
	var candidates []safety.Match
	for i, d := range p.primary {
		if errs[i] != nil {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{Detector: d.Name(), Err: errs[i]})
			continue
		}
		candidates = append(candidates, cfg.valid(found[i], len(text))...)
	}
	merged := Merge(candidates)

	if len(p.coverage) > 0 {
		covered := Spans(merged)
		extra := make([]safety.Match, 0)
		for _, d := range p.coverage {
			ms, err := d.DetectUncovered(ctx, text, covered)
			if err != nil {
				res.Diagnostics = append(res.Diagnostics, Diagnostic{Detector: d.Name(), Err: err})
				continue
			}
			extra = append(extra, cfg.valid(ms, len(text))...)
		}
		if len(extra) > 0 {
			merged = Merge(append(merged, extra...))
		}
	}
	res.Matches = merged

	for _, d := range res.Diagnostics {
		p.logger.Warn("detector failed", zap.String("detector", d.Detector), zap.Error(d.Err))
	}
	span.SetAttributes(
		attribute.Int("straja.matches", len(res.Matches)),
		attribute.Int("straja.detector_failures", len(res.Diagnostics)),
	)

	total := len(p.primary) + len(p.coverage)
	switch {
	case ctx.Err() != nil:
		res.Unavailable = true
		res.Matches = nil
		span.SetStatus(codes.Error, "scan interrupted")
		return res, fmt.Errorf("scan text: %w: %v", safety.ErrDetectionUnavailable, ctx.Err())
	case len(res.Diagnostics) == total:
		res.Unavailable = true
		span.SetStatus(codes.Error, "all detectors failed")
		return res, fmt.Errorf("scan text: %w: %w", safety.ErrDetectionUnavailable, joinDiagnostics(res.Diagnostics))
	}
	return res, nil
}

// valid drops matches whose spans fall outside the text and matches of
// filtered-out types.
func (c scanConfig) valid(ms []safety.Match, n int) []safety.Match {
	out := ms[:0:0]
	for _, m := range ms {
		if m.Span.Start < 0 || m.Span.End > n || m.Span.Start >= m.Span.End {
			continue
		}
		if c.keep != nil && !c.keep(m.Type) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func joinDiagnostics(ds []Diagnostic) error {
	errs := make([]error, 0, len(ds))
	for _, d := range ds {
		errs = append(errs, fmt.Errorf("%s: %w", d.Detector, d.Err))
	}
	return errors.Join(errs...)
}
