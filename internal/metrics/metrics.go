// Package metrics exposes scan and decision counters in the Prometheus
// exposition format on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Scan outcomes used for the outcome label.
const (
	OutcomeClean       = "clean"
	OutcomeLogged      = "logged"
	OutcomeMasked      = "masked"
	OutcomeBlocked     = "blocked"
	OutcomeUnavailable = "unavailable"
)

// Config controls collector registration.
type Config struct {
	Namespace string
	// RuntimeCollectors adds the Go and process collectors.
	RuntimeCollectors bool
}

// Collector owns every instrument. A nil *Collector is valid and records
// nothing.
type Collector struct {
	registry *prometheus.Registry

	scans            *prometheus.CounterVec
	decisions        *prometheus.CounterVec
	detectorFailures *prometheus.CounterVec
	scanDuration     *prometheus.HistogramVec
	auditDeliveries  *prometheus.CounterVec
}

// New creates and registers the collector's instruments.
func New(cfg Config) *Collector {
	ns := cfg.Namespace
	if ns == "" {
		ns = "straja_dlp"
	}
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "scans_total",
			Help:      "Scanned units by unit kind and outcome.",
		}, []string{"unit", "outcome"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "decisions_total",
			Help:      "Effective decisions by PII type, action and reason.",
		}, []string{"pii_type", "action", "reason"}),
		detectorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "detector_failures_total",
			Help:      "Detector errors observed during scans.",
		}, []string{"detector"}),
		scanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "scan_duration_seconds",
			Help:      "Time spent scanning one unit.",
			// OCR dominates the tail.
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"unit"}),
		auditDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "audit_deliveries_total",
			Help:      "Audit event deliveries by sink and result.",
		}, []string{"sink", "result"}),
	}
	reg.MustRegister(c.scans, c.decisions, c.detectorFailures, c.scanDuration, c.auditDeliveries)
	if cfg.RuntimeCollectors {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return c
}

// ObserveScan records one scanned unit.
func (c *Collector) ObserveScan(unit, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.scans.WithLabelValues(unit, outcome).Inc()
	c.scanDuration.WithLabelValues(unit).Observe(d.Seconds())
}

// ObserveDecision records one effective decision.
func (c *Collector) ObserveDecision(piiType, action, reason string) {
	if c == nil {
		return
	}
	c.decisions.WithLabelValues(piiType, action, reason).Inc()
}

// DetectorFailed records a detector error.
func (c *Collector) DetectorFailed(detector string) {
	if c == nil {
		return
	}
	c.detectorFailures.WithLabelValues(detector).Inc()
}

// AuditDelivered matches audit.DeliveryObserver.
func (c *Collector) AuditDelivered(sink string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.auditDeliveries.WithLabelValues(sink, result).Inc()
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry. A nil collector serves 404.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
