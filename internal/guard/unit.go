package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/straja-ai/straja-dlp/internal/audit"
	"github.com/straja-ai/straja-dlp/internal/config"
	"github.com/straja-ai/straja-dlp/internal/logging"
	"github.com/straja-ai/straja-dlp/internal/metrics"
	"github.com/straja-ai/straja-dlp/internal/ocr"
	"github.com/straja-ai/straja-dlp/internal/policy"
	"github.com/straja-ai/straja-dlp/internal/redact"
	"github.com/straja-ai/straja-dlp/internal/safety"
	"github.com/straja-ai/straja-dlp/internal/scan"
)

// Meta identifies the request a unit belongs to.
type Meta struct {
	UserID    string
	RequestID string
	Model     string
	Unit      audit.Unit
}

// unitOutcome is the decided result for one scanned unit.
type unitOutcome struct {
	decisions    []policy.Decision
	content      string
	image        []byte
	format       string
	masked       int
	blocked      bool
	blockedTypes []safety.PIIType
	unavailable  bool
	warning      bool
	event        *audit.Event
}

func (g *Guard) scanText(ctx context.Context, snap *config.Snapshot, meta Meta, text string) unitOutcome {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, snap.ScanTimeout)
	defer cancel()

	res, err := g.text.Scan(ctx, text, meta.Model, scan.OnlyTypes(snap.Tracks))
	g.countFailures(res.Diagnostics)
	if err != nil {
		return g.finish(ctx, snap, meta, unavailableOutcome(snap, meta, err, g.log), start)
	}

	o := unitOutcome{decisions: g.resolve(snap, meta, res.Matches)}
	out, err := redact.Text(text, o.decisions)
	if err != nil {
		// Merged spans never fall outside the text; if they do the content
		// was not reliably inspected.
		return g.finish(ctx, snap, meta, unavailableOutcome(snap, meta, fmt.Errorf("%w: %v", safety.ErrDetectionUnavailable, err), g.log), start)
	}
	o.content = out.Content
	o.masked = out.Masked
	o.blocked = out.Blocked
	o.blockedTypes = out.BlockedTypes
	return g.finish(ctx, snap, meta, o, start)
}

func (g *Guard) scanImage(ctx context.Context, snap *config.Snapshot, meta Meta, data []byte) unitOutcome {
	meta.Unit = audit.UnitImage
	return g.scanRaster(ctx, snap, meta, data)
}

// scanRaster OCRs, decides and paints one encoded image under meta.Unit.
func (g *Guard) scanRaster(ctx context.Context, snap *config.Snapshot, meta Meta, data []byte) unitOutcome {
	start := time.Now()
	if g.image == nil {
		return g.finish(ctx, snap, meta, unavailableOutcome(snap, meta, fmt.Errorf("%w: image scanning disabled", safety.ErrDetectionUnavailable), g.log), start)
	}
	src, format, err := ocr.Decode(data)
	if err != nil {
		return g.finish(ctx, snap, meta, unavailableOutcome(snap, meta, fmt.Errorf("%w: %v", safety.ErrDetectionUnavailable, err), g.log), start)
	}

	ctx, cancel := context.WithTimeout(ctx, snap.ScanTimeout)
	defer cancel()
	res, err := g.image.ScanImage(ctx, data, meta.Model, scan.OnlyTypes(snap.Tracks))
	g.countFailures(res.Diagnostics)
	if err != nil {
		return g.finish(ctx, snap, meta, unavailableOutcome(snap, meta, err, g.log), start)
	}

	o := unitOutcome{decisions: g.resolve(snap, meta, res.Matches), image: data, format: format}
	out, masked := redact.Image(src, o.decisions, g.redact)
	o.blocked = out.Blocked
	o.blockedTypes = out.BlockedTypes
	if out.Masked > 0 {
		encoded, written, err := redact.EncodeLike(format, masked)
		if err != nil {
			return g.finish(ctx, snap, meta, unavailableOutcome(snap, meta, fmt.Errorf("%w: %v", safety.ErrDetectionUnavailable, err), g.log), start)
		}
		o.image, o.format, o.masked = encoded, written, out.Masked
	}
	return g.finish(ctx, snap, meta, o, start)
}

// unscannable records a unit that could not even be handed to a scanner.
func (g *Guard) unscannable(ctx context.Context, snap *config.Snapshot, meta Meta, unit audit.Unit, err error) unitOutcome {
	meta.Unit = unit
	return g.finish(ctx, snap, meta, unavailableOutcome(snap, meta, err, g.log), time.Now())
}

// unavailableOutcome applies the fail-closed rule: only enforce mode with
// on_unavailable=block rejects content that was not inspected.
func unavailableOutcome(snap *config.Snapshot, meta Meta, err error, log *zap.Logger) unitOutcome {
	if !errors.Is(err, safety.ErrDetectionUnavailable) {
		err = fmt.Errorf("%w: %v", safety.ErrDetectionUnavailable, err)
	}
	o := unitOutcome{
		unavailable: true,
		blocked:     snap.Mode == safety.ModeEnforce && snap.FailClosed,
	}
	log.Warn("content not scanned",
		zap.String("request_id", meta.RequestID),
		zap.String("unit", string(meta.Unit)),
		zap.Bool("fail_closed", o.blocked),
		logging.Error(err))
	return o
}

// resolve applies policy and mode. Untracked types were already dropped by
// the scan.
func (g *Guard) resolve(snap *config.Snapshot, meta Meta, ms []safety.Match) []policy.Decision {
	return policy.ResolveAll(ms, meta.Model, snap.Policies, snap.Mode)
}

// finish sets the warning flag, emits the audit event and records metrics.
func (g *Guard) finish(ctx context.Context, snap *config.Snapshot, meta Meta, o unitOutcome, start time.Time) unitOutcome {
	if snap.Mode == safety.ModeWarn {
		for _, d := range o.decisions {
			if d.Action != safety.ActionLog {
				o.warning = true
				break
			}
		}
	}

	o.event = audit.Build(o.decisions, audit.Context{
		UserID:      meta.UserID,
		RequestID:   meta.RequestID,
		Unit:        meta.Unit,
		Model:       meta.Model,
		Mode:        snap.Mode,
		Salt:        snap.AuditSalt,
		Unavailable: o.unavailable,
		Blocked:     o.blocked,
	})
	if o.event != nil && g.audit != nil {
		// The request context may already be done; delivery must not be.
		g.audit.Emit(context.WithoutCancel(ctx), o.event)
	}

	outcome := outcomeLabel(o)
	g.metrics.ObserveScan(string(meta.Unit), outcome, time.Since(start))
	actions := make(map[string]int, 3)
	for _, d := range o.decisions {
		g.metrics.ObserveDecision(string(d.Match.Type), string(d.Action), string(d.Reason))
		actions[string(d.Action)]++
	}
	g.telemetry.RecordScan(ctx, string(meta.Unit), outcome, float64(time.Since(start).Microseconds())/1000, actions)
	if o.event != nil {
		g.log.Debug("unit decided",
			zap.String("request_id", meta.RequestID),
			zap.String("unit", string(meta.Unit)),
			zap.String("action", string(o.event.Action)),
			zap.Stringers("pii_types", o.event.PIITypes),
			zap.Bool("warning", o.warning))
	}
	return o
}

func outcomeLabel(o unitOutcome) string {
	switch {
	case o.unavailable:
		return metrics.OutcomeUnavailable
	case o.blocked:
		return metrics.OutcomeBlocked
	case o.masked > 0:
		return metrics.OutcomeMasked
	case len(o.decisions) > 0:
		return metrics.OutcomeLogged
	default:
		return metrics.OutcomeClean
	}
}

func (g *Guard) countFailures(ds []scan.Diagnostic) {
	for _, d := range ds {
		g.metrics.DetectorFailed(d.Detector)
	}
}
