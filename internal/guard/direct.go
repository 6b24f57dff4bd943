package guard

import (
	"bytes"
	"context"
	"fmt"

	"go.opentelemetry.io/otel/codes"

	"github.com/straja-ai/straja-dlp/internal/audit"
	"github.com/straja-ai/straja-dlp/internal/config"
	"github.com/straja-ai/straja-dlp/internal/document"
	"github.com/straja-ai/straja-dlp/internal/policy"
	"github.com/straja-ai/straja-dlp/internal/safety"
)

// TextResult is the outcome of a standalone text scan.
type TextResult struct {
	// Content is the text to forward: masked when masks applied, the input
	// otherwise. Empty when blocked.
	Content     string
	Decisions   []policy.Decision
	Masked      int
	Warning     bool
	Unavailable bool
	Event       *audit.Event
}

// ImageResult is the outcome of a standalone image scan.
type ImageResult struct {
	// Image holds the bytes to forward, re-encoded when boxes were painted.
	Image       []byte
	Format      string
	Decisions   []policy.Decision
	Masked      int
	Warning     bool
	Unavailable bool
	Event       *audit.Event
}

// ScanText runs one text through the full decision path. A block returns
// a *safety.BlockedError alongside the result.
func (g *Guard) ScanText(ctx context.Context, text string, meta Meta) (*TextResult, error) {
	snap := g.snapshots.Current()
	if meta.Unit == "" {
		meta.Unit = audit.UnitRequest
	}
	ctx, span := g.tracer.Start(ctx, "guard.scan_text")
	defer span.End()

	o := g.scanText(ctx, snap, meta, text)
	res := &TextResult{
		Decisions:   o.decisions,
		Masked:      o.masked,
		Warning:     o.warning,
		Unavailable: o.unavailable,
		Event:       o.event,
	}
	if o.blocked {
		return res, &safety.BlockedError{Types: o.blockedTypes, Unavailable: o.unavailable}
	}
	res.Content = text
	if o.masked > 0 {
		res.Content = o.content
	}
	return res, nil
}

// ScanImage runs one encoded image through OCR, policy and redaction.
func (g *Guard) ScanImage(ctx context.Context, img []byte, meta Meta) (*ImageResult, error) {
	snap := g.snapshots.Current()
	meta.Unit = audit.UnitImage
	ctx, span := g.tracer.Start(ctx, "guard.scan_image")
	defer span.End()

	o := g.scanImage(ctx, snap, meta, img)
	res := &ImageResult{
		Format:      o.format,
		Decisions:   o.decisions,
		Masked:      o.masked,
		Warning:     o.warning,
		Unavailable: o.unavailable,
		Event:       o.event,
	}
	if o.blocked {
		return res, &safety.BlockedError{Types: o.blockedTypes, Unavailable: o.unavailable}
	}
	res.Image = img
	if o.masked > 0 {
		res.Image = o.image
	}
	return res, nil
}

// PDFResult is the outcome of a PDF scan.
type PDFResult struct {
	// Document is the PDF to forward: the input when nothing was masked, a
	// rasterized copy with every masked region painted over otherwise.
	Document    []byte
	Pages       int
	Decisions   []policy.Decision
	Masked      int
	Warning     bool
	Unavailable bool
	Events      []*audit.Event
}

// ScanPDF renders every page, scans each one as an image and, when any
// page needs masking, rebuilds the document from the painted pages. A
// block on any page rejects the whole document.
func (g *Guard) ScanPDF(ctx context.Context, data []byte, meta Meta) (*PDFResult, error) {
	snap := g.snapshots.Current()
	ctx, span := g.tracer.Start(ctx, "guard.scan_pdf")
	defer span.End()

	res := &PDFResult{}
	pages, renderErr := g.renderPDF(ctx, snap, data)
	var jobs []job
	if renderErr != nil {
		jobs = append(jobs, job{
			scan: func(ctx context.Context, g *Guard, snap *config.Snapshot, meta Meta) unitOutcome {
				return g.unscannable(ctx, snap, meta, audit.UnitDocument, renderErr)
			},
			apply: func(unitOutcome) {},
		})
	}
	out := make([][]byte, len(pages))
	for i, page := range pages {
		out[i] = page
		jobs = append(jobs, job{
			scan: func(ctx context.Context, g *Guard, snap *config.Snapshot, meta Meta) unitOutcome {
				return g.scanRaster(ctx, snap, meta, page)
			},
			apply: func(o unitOutcome) {
				res.Decisions = append(res.Decisions, o.decisions...)
				if o.masked > 0 {
					out[i] = o.image
				}
			},
		})
	}

	v, err := g.run(ctx, snap, meta, audit.UnitDocument, jobs)
	if err != nil {
		span.SetStatus(codes.Error, "blocked")
		return res, fmt.Errorf("scan pdf: %w", err)
	}
	res.Pages = len(pages)
	res.Masked = v.Masked
	res.Warning = v.Warning
	res.Unavailable = v.Unavailable
	res.Events = v.Events
	res.Document = data
	if v.Masked == 0 {
		return res, nil
	}

	var buf bytes.Buffer
	if err := document.Stitch(&buf, out, g.documents.DPI()); err != nil {
		// Pages that cannot be stitched leave the document uninspected.
		o := g.unscannable(ctx, snap, meta, audit.UnitDocument, fmt.Errorf("%w: %v", safety.ErrDetectionUnavailable, err))
		res.Unavailable = true
		res.Masked = 0
		if o.event != nil {
			res.Events = append(res.Events, o.event)
		}
		if o.blocked {
			span.SetStatus(codes.Error, "blocked")
			return res, fmt.Errorf("scan pdf: %w", &safety.BlockedError{Unavailable: true})
		}
		return res, nil
	}
	res.Document = buf.Bytes()
	return res, nil
}

func (g *Guard) renderPDF(ctx context.Context, snap *config.Snapshot, data []byte) ([][]byte, error) {
	if g.documents == nil {
		return nil, fmt.Errorf("%w: pdf scanning disabled", safety.ErrDetectionUnavailable)
	}
	if !document.IsPDF(data) {
		return nil, fmt.Errorf("%w: %v", safety.ErrDetectionUnavailable, document.ErrNotPDF)
	}
	ctx, cancel := context.WithTimeout(ctx, snap.ScanTimeout)
	defer cancel()
	pages, err := g.documents.Render(ctx, data)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: pdf has no pages", safety.ErrDetectionUnavailable)
	}
	return pages, nil
}
