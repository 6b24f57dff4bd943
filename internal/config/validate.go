package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/straja-ai/straja-dlp/internal/policy"
	"github.com/straja-ai/straja-dlp/internal/safety"
)

// Validate checks the loaded config for required fields and safe values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if _, err := safety.ParseMode(cfg.Mode); err != nil {
		return fmt.Errorf("mode: %w", err)
	}
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return errors.New("server.addr must be set")
	}
	switch cfg.OnUnavailable {
	case OnUnavailableBlock, OnUnavailableAllow:
	default:
		return fmt.Errorf("on_unavailable must be block or allow, got %q", cfg.OnUnavailable)
	}
	if cfg.ScanTimeout <= 0 {
		return errors.New("scan_timeout must be positive")
	}
	if _, err := policySpecs(cfg.Policies); err != nil {
		return err
	}
	if _, err := piiTypes("enabled_pii_types", cfg.EnabledPIITypes); err != nil {
		return err
	}
	if _, err := piiTypes("detectors.patterns.disabled", cfg.Detectors.Patterns.Disabled); err != nil {
		return err
	}
	if err := validateAuditConfig(cfg.Audit); err != nil {
		return err
	}
	if err := validateDetectorsConfig(cfg.Detectors); err != nil {
		return err
	}
	if err := validateTelemetryConfig(cfg.Telemetry); err != nil {
		return err
	}

	seen := map[string]struct{}{}
	for i, k := range cfg.APIKeys {
		if strings.TrimSpace(k.Key) == "" {
			return fmt.Errorf("api_keys[%d].key must be set", i)
		}
		if _, dup := seen[k.Key]; dup {
			return fmt.Errorf("api_keys[%d] duplicates an earlier key", i)
		}
		seen[k.Key] = struct{}{}
	}
	return nil
}

// policySpecs overlays configured policies on the defaults and compiles
// them, surfacing bad actions and model patterns at load time.
func policySpecs(in map[string]policy.Spec) (*policy.Set, error) {
	specs := policy.DefaultSpecs()
	for name, spec := range in {
		typ := safety.ParseType(name)
		if !typ.Known() {
			return nil, fmt.Errorf("policies: unknown pii type %q", name)
		}
		specs[typ] = spec
	}
	set, err := policy.NewSet(specs)
	if err != nil {
		return nil, fmt.Errorf("policies: %w", err)
	}
	return set, nil
}

func piiTypes(field string, names []string) ([]safety.PIIType, error) {
	out := make([]safety.PIIType, 0, len(names))
	for _, n := range names {
		typ := safety.ParseType(n)
		if !typ.Known() {
			return nil, fmt.Errorf("%s: unknown pii type %q", field, n)
		}
		out = append(out, typ)
	}
	return out, nil
}

func validateAuditConfig(a AuditConfig) error {
	if a.WebhookURL == "" {
		return nil
	}
	u, err := url.Parse(a.WebhookURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("audit.webhook_url is invalid")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("audit.webhook_url must be http or https")
	}
	return nil
}

func validateDetectorsConfig(d DetectorsConfig) error {
	if d.Entity.Enabled && strings.TrimSpace(d.Entity.ModelDir) == "" {
		return errors.New("detectors.entity.model_dir must be set when the entity detector is enabled")
	}
	if d.Entity.MinConfidence > 1 {
		return fmt.Errorf("detectors.entity.min_confidence must be in (0,1], got %v", d.Entity.MinConfidence)
	}
	if d.OCR.MinConfidence < 0 || d.OCR.MinConfidence > 1 {
		return fmt.Errorf("detectors.ocr.min_confidence must be in [0,1], got %v", d.OCR.MinConfidence)
	}
	if d.PDF.DPI > 600 {
		return fmt.Errorf("detectors.pdf.dpi must be at most 600, got %v", d.PDF.DPI)
	}
	return nil
}

func validateTelemetryConfig(t TelemetryConfig) error {
	if !t.Enabled {
		return nil
	}
	if strings.TrimSpace(t.Endpoint) == "" {
		return errors.New("telemetry enabled but endpoint is empty")
	}
	switch strings.ToLower(strings.TrimSpace(t.Protocol)) {
	case "grpc", "http":
	default:
		return fmt.Errorf("telemetry.protocol must be grpc or http, got %q", t.Protocol)
	}
	return nil
}
