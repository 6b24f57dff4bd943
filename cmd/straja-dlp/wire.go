package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/straja-ai/straja-dlp/internal/audit"
	"github.com/straja-ai/straja-dlp/internal/config"
	"github.com/straja-ai/straja-dlp/internal/document"
	"github.com/straja-ai/straja-dlp/internal/entity"
	"github.com/straja-ai/straja-dlp/internal/guard"
	"github.com/straja-ai/straja-dlp/internal/intel"
	"github.com/straja-ai/straja-dlp/internal/metrics"
	"github.com/straja-ai/straja-dlp/internal/ocr"
	"github.com/straja-ai/straja-dlp/internal/safety"
	"github.com/straja-ai/straja-dlp/internal/scan"
	"github.com/straja-ai/straja-dlp/internal/telemetry"
)

// app holds everything built from one configuration.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	store     *config.Store
	metrics   *metrics.Collector
	telemetry *telemetry.Provider
	emitter   *audit.Emitter
	guard     *guard.Guard
	closers   []func(context.Context) error
}

type buildOptions struct {
	// OCR replaces the configured OCR engine.
	OCR ocr.Engine
	// Documents replaces the configured PDF renderer.
	Documents document.Renderer
}

func buildApp(ctx context.Context, cfg *config.Config, log *zap.Logger, opts buildOptions) (*app, error) {
	snap, err := cfg.Snapshot()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, store: config.NewStore(snap)}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New(metrics.Config{Namespace: cfg.Metrics.Namespace, RuntimeCollectors: true})
	}

	a.telemetry, err = telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:  cfg.Telemetry.Enabled,
		Endpoint: cfg.Telemetry.Endpoint,
		Protocol: cfg.Telemetry.Protocol,
		Service:  "straja-dlp",
		Version:  Version,
	}, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.telemetry.Shutdown)

	sinks, err := buildSinks(cfg)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	a.emitter = audit.NewEmitter(audit.EmitterConfig{
		QueueSize: cfg.Audit.QueueSize,
		Workers:   cfg.Audit.Workers,
		Logger:    log.Named("audit"),
		Observer:  a.metrics.AuditDelivered,
	}, sinks)
	a.closers = append(a.closers, a.emitter.Close)

	dets := buildDetectors(cfg.Detectors, log)
	for _, d := range dets {
		if ent, ok := d.(*entity.Detector); ok {
			a.closers = append(a.closers, func(context.Context) error { return ent.Close() })
		}
	}

	scanOpts := scan.Options{Logger: log.Named("scan"), Tracer: a.telemetry.Tracer()}
	text := scan.NewPipeline(dets, scanOpts)

	engine := opts.OCR
	if engine == nil {
		engine, err = buildOCR(cfg.Detectors.OCR)
		if err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
	}
	var img *scan.ImagePipeline
	if engine != nil {
		img = scan.NewImagePipeline(text, engine)
	}

	var docs document.Renderer
	if img != nil && cfg.Detectors.PDF.Enabled {
		docs = document.NewRenderer(document.RenderOptions{
			DPI:      cfg.Detectors.PDF.DPI,
			MaxPages: cfg.Detectors.PDF.MaxPages,
		})
	}
	if opts.Documents != nil {
		docs = opts.Documents
	}

	a.guard, err = guard.New(guard.Options{
		Text:      text,
		Image:     img,
		Documents: docs,
		Snapshots: a.store,
		Audit:     a.emitter,
		Metrics:   a.metrics,
		Telemetry: a.telemetry,
		Logger:    log.Named("guard"),
	})
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

// Close flushes audit events and shuts exporters down, newest first.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func buildSinks(cfg *config.Config) ([]audit.Sink, error) {
	var sinks []audit.Sink
	if cfg.AuditLogPath != "" {
		fs, err := audit.NewFileSink(cfg.AuditLogPath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, fs)
	}
	if cfg.Audit.WebhookURL != "" {
		ws, err := audit.NewWebhookSink(cfg.Audit.WebhookURL, audit.WebhookOptions{
			Headers: cfg.Audit.WebhookHeaders,
			Timeout: cfg.Audit.WebhookTimeout,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, ws)
	}
	return sinks, nil
}

func buildDetectors(cfg config.DetectorsConfig, log *zap.Logger) []intel.Detector {
	disabled := make([]safety.PIIType, 0, len(cfg.Patterns.Disabled))
	for _, name := range cfg.Patterns.Disabled {
		disabled = append(disabled, safety.ParseType(name))
	}
	dets := []intel.Detector{intel.NewRegexBundle(intel.BundleOptions{Disabled: disabled})}

	// Disabled detectors stay in the pipeline as noops so health output
	// lists them.
	if cfg.Gitleaks.Enabled {
		dets = append(dets, intel.NewGitleaksDetector())
	} else {
		dets = append(dets, intel.NewNoop("gitleaks"))
	}
	if cfg.Entity.Enabled {
		dets = append(dets, entity.New(entity.Options{
			ModelDir:      cfg.Entity.ModelDir,
			MaxTokens:     cfg.Entity.MaxTokens,
			MinConfidence: cfg.Entity.MinConfidence,
			PoolSize:      cfg.Entity.PoolSize,
			Logger:        log.Named("entity"),
		}))
	} else {
		dets = append(dets, intel.NewNoop("entity"))
	}
	if cfg.Entropy.Enabled {
		dets = append(dets, intel.NewEntropyDetector(intel.EntropyOptions{
			Threshold: cfg.Entropy.Threshold,
			MinLength: cfg.Entropy.MinLength,
		}))
	} else {
		dets = append(dets, intel.NewNoop("entropy"))
	}
	return dets
}

// buildOCR returns nil when OCR is disabled; images are then unavailable.
func buildOCR(cfg config.OCRConfig) (ocr.Engine, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.TokensFile != "" {
		s, err := ocr.LoadStatic(cfg.TokensFile)
		if err != nil {
			return nil, fmt.Errorf("ocr tokens file: %w", err)
		}
		return s, nil
	}
	return ocr.NewTesseract(ocr.TesseractOptions{
		Language:      cfg.Language,
		MinConfidence: cfg.MinConfidence,
	}), nil
}
