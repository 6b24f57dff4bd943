// Package telemetry wires OpenTelemetry tracing and metrics. When disabled
// every accessor returns a no-op implementation.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/straja-ai/straja-dlp"

// Config controls telemetry setup.
type Config struct {
	Enabled  bool
	Endpoint string
	Protocol string // grpc | http
	Service  string
	Version  string
}

// Provider wires tracer/meter providers and exposes helpers.
type Provider struct {
	Enabled bool
	tracer  trace.Tracer
	meter   metric.Meter

	scansCounter     metric.Int64Counter
	scanDuration     metric.Float64Histogram
	decisionsCounter metric.Int64Counter

	shutdownTraceProvider func(context.Context) error
	shutdownMeterProvider func(context.Context) error
}

// NewProvider configures OTLP exporters and providers.
func NewProvider(ctx context.Context, cfg Config, log *zap.Logger) (*Provider, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if !cfg.Enabled {
		return Noop(), nil
	}

	protocol := strings.ToLower(cfg.Protocol)
	log.Info("telemetry enabled",
		zap.String("protocol", protocol),
		zap.String("endpoint", cfg.Endpoint))

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.Service),
			attribute.String("service.version", cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	var (
		traceExp  sdktrace.SpanExporter
		metricExp sdkmetric.Exporter
	)
	switch protocol {
	case "", "grpc":
		traceExp, err = otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure())
		if err == nil {
			metricExp, err = otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(cfg.Endpoint), otlpmetricgrpc.WithInsecure())
		}
	case "http":
		traceExp, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure())
		if err == nil {
			metricExp, err = otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(cfg.Endpoint), otlpmetrichttp.WithInsecure())
		}
	default:
		return nil, fmt.Errorf("telemetry: unknown protocol %q", cfg.Protocol)
	}
	if err != nil {
		return nil, fmt.Errorf("telemetry exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
	)
	otel.SetMeterProvider(mp)

	p := &Provider{
		Enabled:               true,
		tracer:                tp.Tracer(instrumentationName),
		meter:                 mp.Meter(instrumentationName),
		shutdownTraceProvider: tp.Shutdown,
		shutdownMeterProvider: mp.Shutdown,
	}
	p.initInstruments()
	return p, nil
}

// Noop returns a disabled provider.
func Noop() *Provider {
	p := &Provider{
		tracer: tracenoop.NewTracerProvider().Tracer(""),
		meter:  metricnoop.NewMeterProvider().Meter(""),
	}
	p.initInstruments()
	return p
}

// NewWithProviders builds a provider over caller-supplied SDK providers.
// Tests use it with in-memory exporters and readers.
func NewWithProviders(tp trace.TracerProvider, mp metric.MeterProvider) *Provider {
	p := &Provider{
		Enabled: true,
		tracer:  tp.Tracer(instrumentationName),
		meter:   mp.Meter(instrumentationName),
	}
	p.initInstruments()
	return p
}

func (p *Provider) initInstruments() {
	// Best effort: a failed instrument falls back to a no-op one.
	var err error
	if p.scansCounter, err = p.meter.Int64Counter("straja_dlp.scans",
		metric.WithDescription("Scanned units")); err != nil {
		p.scansCounter = metricnoop.Int64Counter{}
	}
	if p.scanDuration, err = p.meter.Float64Histogram("straja_dlp.scan.duration",
		metric.WithUnit("ms"), metric.WithDescription("Scan latency per unit")); err != nil {
		p.scanDuration = metricnoop.Float64Histogram{}
	}
	if p.decisionsCounter, err = p.meter.Int64Counter("straja_dlp.decisions",
		metric.WithDescription("Effective decisions by action")); err != nil {
		p.decisionsCounter = metricnoop.Int64Counter{}
	}
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil {
		return tracenoop.NewTracerProvider().Tracer("")
	}
	return p.tracer
}

// Meter returns the meter.
func (p *Provider) Meter() metric.Meter {
	if p == nil {
		return metricnoop.NewMeterProvider().Meter("")
	}
	return p.meter
}

// Shutdown flushes providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.shutdownTraceProvider != nil {
		errs = append(errs, p.shutdownTraceProvider(ctx))
	}
	if p.shutdownMeterProvider != nil {
		errs = append(errs, p.shutdownMeterProvider(ctx))
	}
	return errors.Join(errs...)
}

// RecordScan emits counters for one scanned unit. Labels are limited to
// low-cardinality values that never carry content.
func (p *Provider) RecordScan(ctx context.Context, unit, outcome string, durMs float64, actions map[string]int) {
	if p == nil {
		return
	}
	labels := metric.WithAttributes(
		attribute.String("straja.unit", unit),
		attribute.String("straja.outcome", outcome),
	)
	p.scansCounter.Add(ctx, 1, labels)
	p.scanDuration.Record(ctx, durMs, labels)
	for action, n := range actions {
		if n <= 0 {
			continue
		}
		p.decisionsCounter.Add(ctx, int64(n), metric.WithAttributes(
			attribute.String("straja.unit", unit),
			attribute.String("straja.action", action),
		))
	}
}
