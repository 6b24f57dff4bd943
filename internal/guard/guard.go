// Package guard composes detection, policy, redaction and audit over chat
// requests and responses. It decides, for every message, whether content is
// forwarded untouched, forwarded masked, or blocked.
package guard

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/straja-ai/straja-dlp/internal/audit"
	"github.com/straja-ai/straja-dlp/internal/config"
	"github.com/straja-ai/straja-dlp/internal/document"
	"github.com/straja-ai/straja-dlp/internal/inference"
	"github.com/straja-ai/straja-dlp/internal/intel"
	"github.com/straja-ai/straja-dlp/internal/metrics"
	"github.com/straja-ai/straja-dlp/internal/redact"
	"github.com/straja-ai/straja-dlp/internal/safety"
	"github.com/straja-ai/straja-dlp/internal/scan"
	"github.com/straja-ai/straja-dlp/internal/telemetry"
)

// WarningHeader is set on responses whose content violated policy in warn
// mode.
const (
	WarningHeader = "X-Straja-DLP-Warning"
	WarningValue  = "violations_detected"
)

// Engine is the hook pair wrapped around a model call.
type Engine interface {
	BeforeModel(ctx context.Context, req *inference.Request) (*Verdict, error)
	AfterModel(ctx context.Context, req *inference.Request, resp *inference.Response) (*Verdict, error)
}

// Verdict summarizes a hook that let content through.
type Verdict struct {
	// Warning is set in warn mode when any unit violated policy.
	Warning     bool
	Masked      int
	Unavailable bool
	Events      []*audit.Event
}

// SnapshotSource yields the configuration snapshot for a new request.
type SnapshotSource interface {
	Current() *config.Snapshot
}

// EventEmitter accepts audit events without blocking.
type EventEmitter interface {
	Emit(context.Context, *audit.Event)
}

// Options wires a Guard.
type Options struct {
	Text  *scan.Pipeline
	Image *scan.ImagePipeline
	// Snapshots defaults to the built-in configuration.
	Snapshots SnapshotSource
	Audit     EventEmitter
	Metrics   *metrics.Collector
	Telemetry *telemetry.Provider
	Logger    *zap.Logger
	Redact    redact.ImageOptions
	// Documents renders PDFs for ScanPDF. Nil makes every PDF unscannable.
	Documents document.Renderer
	// Concurrency bounds the units of one request scanned at once.
	Concurrency int
}

// Guard implements Engine.
type Guard struct {
	text        *scan.Pipeline
	image       *scan.ImagePipeline
	snapshots   SnapshotSource
	audit       EventEmitter
	metrics     *metrics.Collector
	telemetry   *telemetry.Provider
	tracer      trace.Tracer
	log         *zap.Logger
	redact      redact.ImageOptions
	documents   document.Renderer
	concurrency int
}

var _ Engine = (*Guard)(nil)

// New builds a Guard. Text is required.
func New(opts Options) (*Guard, error) {
	if opts.Text == nil {
		return nil, fmt.Errorf("guard: text pipeline is required")
	}
	g := &Guard{
		text:        opts.Text,
		image:       opts.Image,
		snapshots:   opts.Snapshots,
		audit:       opts.Audit,
		metrics:     opts.Metrics,
		telemetry:   opts.Telemetry,
		log:         opts.Logger,
		redact:      opts.Redact,
		documents:   opts.Documents,
		concurrency: opts.Concurrency,
	}
	if g.snapshots == nil {
		g.snapshots = config.NewStore(config.DefaultSnapshot())
	}
	if g.log == nil {
		g.log = zap.NewNop()
	}
	if g.concurrency <= 0 {
		g.concurrency = 4
	}
	g.tracer = g.telemetry.Tracer()
	return g, nil
}

// Snapshot returns the configuration the next request will use.
func (g *Guard) Snapshot() *config.Snapshot { return g.snapshots.Current() }

// Detectors reports every configured text detector and whether images can
// be scanned.
func (g *Guard) Detectors() (statuses []intel.Status, images bool) {
	for _, d := range g.text.Detectors() {
		statuses = append(statuses, intel.StatusOf(d))
	}
	return statuses, g.image != nil
}

// BeforeModel scans every text part and inline image of req. A block in any
// unit rejects the whole request and leaves req untouched; otherwise masked
// content is written back into req.
func (g *Guard) BeforeModel(ctx context.Context, req *inference.Request) (*Verdict, error) {
	snap := g.snapshots.Current()
	ctx, span := g.tracer.Start(ctx, "guard.before_model")
	defer span.End()

	meta := Meta{UserID: req.UserID, RequestID: req.RequestID, Model: req.Model}
	var jobs []job
	for i := range req.Messages {
		msg := &req.Messages[i]
		for _, slot := range msg.Texts() {
			jobs = append(jobs, textJob(slot))
		}
		for j := range msg.Parts {
			if msg.Parts[j].Type.IsImage() {
				jobs = append(jobs, imageJob(&msg.Parts[j]))
			}
		}
	}

	v, err := g.run(ctx, snap, meta, audit.UnitRequest, jobs)
	if err != nil {
		span.SetStatus(codes.Error, "blocked")
		return nil, fmt.Errorf("before model: %w", err)
	}
	return v, nil
}

// AfterModel scans the model's reply.
func (g *Guard) AfterModel(ctx context.Context, req *inference.Request, resp *inference.Response) (*Verdict, error) {
	snap := g.snapshots.Current()
	ctx, span := g.tracer.Start(ctx, "guard.after_model")
	defer span.End()

	meta := Meta{UserID: req.UserID, RequestID: req.RequestID, Model: req.Model}
	var jobs []job
	for _, slot := range resp.Message.Texts() {
		jobs = append(jobs, textJob(slot))
	}

	v, err := g.run(ctx, snap, meta, audit.UnitResponse, jobs)
	if err != nil {
		span.SetStatus(codes.Error, "blocked")
		return nil, fmt.Errorf("after model: %w", err)
	}
	return v, nil
}

// job scans one unit and, once every unit passed, writes its result back.
type job struct {
	scan  func(ctx context.Context, g *Guard, snap *config.Snapshot, meta Meta) unitOutcome
	apply func(unitOutcome)
}

func textJob(slot *string) job {
	text := *slot
	return job{
		scan: func(ctx context.Context, g *Guard, snap *config.Snapshot, meta Meta) unitOutcome {
			return g.scanText(ctx, snap, meta, text)
		},
		apply: func(o unitOutcome) {
			if o.masked > 0 {
				*slot = o.content
			}
		},
	}
}

func imageJob(part *inference.ContentPart) job {
	url := part.ImageURL
	return job{
		scan: func(ctx context.Context, g *Guard, snap *config.Snapshot, meta Meta) unitOutcome {
			_, data, err := inference.DecodeDataURL(url)
			if err != nil {
				return g.unscannable(ctx, snap, meta, audit.UnitImage, fmt.Errorf("%w: %v", safety.ErrDetectionUnavailable, err))
			}
			return g.scanImage(ctx, snap, meta, data)
		},
		apply: func(o unitOutcome) {
			if o.masked > 0 {
				part.ImageURL = inference.EncodeDataURL("image/"+o.format, o.image)
			}
		},
	}
}

// run scans every job, then either rejects the request or applies masks.
func (g *Guard) run(ctx context.Context, snap *config.Snapshot, meta Meta, unit audit.Unit, jobs []job) (*Verdict, error) {
	meta.Unit = unit
	outcomes := make([]unitOutcome, len(jobs))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i, j := range jobs {
		eg.Go(func() error {
			outcomes[i] = j.scan(egCtx, g, snap, meta)
			return nil
		})
	}
	_ = eg.Wait()

	v := &Verdict{}
	blocked := &safety.BlockedError{}
	seen := map[safety.PIIType]struct{}{}
	for _, o := range outcomes {
		if o.event != nil {
			v.Events = append(v.Events, o.event)
		}
		v.Warning = v.Warning || o.warning
		v.Unavailable = v.Unavailable || o.unavailable
		if !o.blocked {
			continue
		}
		if o.unavailable {
			blocked.Unavailable = true
		}
		for _, t := range o.blockedTypes {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				blocked.Types = append(blocked.Types, t)
			}
		}
	}
	isBlocked := len(blocked.Types) > 0 || blocked.Unavailable
	annotate(ctx, snap, unit, len(jobs), v, blocked, isBlocked)
	if isBlocked {
		g.log.Info("request blocked",
			zap.String("request_id", meta.RequestID),
			zap.String("unit", string(unit)),
			zap.Stringers("pii_types", blocked.Types),
			zap.Bool("detection_unavailable", blocked.Unavailable))
		return nil, blocked
	}

	for i, j := range jobs {
		j.apply(outcomes[i])
		v.Masked += outcomes[i].masked
	}
	return v, nil
}

// annotate records the hook's outcome on the current span. Only counts,
// labels and type names are attached.
func annotate(ctx context.Context, snap *config.Snapshot, unit audit.Unit, units int, v *Verdict, blocked *safety.BlockedError, isBlocked bool) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	types := make([]string, 0, len(blocked.Types))
	for _, t := range blocked.Types {
		types = append(types, string(t))
	}
	span.SetAttributes(telemetry.SafeAttributes(map[string]any{
		"straja.unit":          string(unit),
		"straja.mode":          string(snap.Mode),
		"straja.units":         units,
		"straja.events":        len(v.Events),
		"straja.warning":       v.Warning,
		"straja.unavailable":   v.Unavailable,
		"straja.blocked":       isBlocked,
		"straja.blocked_types": types,
	})...)
}
