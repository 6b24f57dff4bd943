// Package config loads the YAML configuration, applies defaults and
// environment overrides, and produces the immutable Snapshot every scan
// runs against.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/straja-ai/straja-dlp/internal/logging"
	"github.com/straja-ai/straja-dlp/internal/policy"
	"github.com/straja-ai/straja-dlp/internal/safety"
)

// Environment overrides.
const (
	EnvMode         = "STRAJA_DLP_MODE"
	EnvAuditLogPath = "STRAJA_DLP_AUDIT_LOG_PATH"
)

const (
	OnUnavailableBlock = "block"
	OnUnavailableAllow = "allow"
)

// Config holds the straja-dlp configuration.
type Config struct {
	Mode            string                 `yaml:"mode"`
	Policies        map[string]policy.Spec `yaml:"policies"`
	// EnabledPIITypes restricts enforcement to these types. Empty means all.
	EnabledPIITypes []string               `yaml:"enabled_pii_types"`
	AuditLogPath    string                 `yaml:"audit_log_path"`
	Audit           AuditConfig            `yaml:"audit"`
	Detectors       DetectorsConfig        `yaml:"detectors"`
	ScanTimeout     time.Duration          `yaml:"scan_timeout"`
	OnUnavailable   string                 `yaml:"on_unavailable"`
	Server          ServerConfig           `yaml:"server"`
	Logging         logging.Config         `yaml:"logging"`
	Telemetry       TelemetryConfig        `yaml:"telemetry"`
	Metrics         MetricsConfig          `yaml:"metrics"`
	APIKeys         []APIKeyConfig         `yaml:"api_keys"`
}

type ServerConfig struct {
	Addr         string `yaml:"addr"` // HTTP listen address, e.g. ":8080"
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

type AuditConfig struct {
	// Salt keys the value fingerprints. Unset means fingerprints are plain
	// SHA-256 and correlate across deployments.
	Salt           string            `yaml:"salt"`
	WebhookURL     string            `yaml:"webhook_url"`
	WebhookHeaders map[string]string `yaml:"webhook_headers"`
	WebhookTimeout time.Duration     `yaml:"webhook_timeout"`
	QueueSize      int               `yaml:"queue_size"`
	Workers        int               `yaml:"workers"`
}

type DetectorsConfig struct {
	Patterns PatternsConfig `yaml:"patterns"`
	Gitleaks ToggleConfig   `yaml:"gitleaks"`
	Entropy  EntropyConfig  `yaml:"entropy"`
	Entity   EntityConfig   `yaml:"entity"`
	OCR      OCRConfig      `yaml:"ocr"`
	PDF      PDFConfig      `yaml:"pdf"`
}

type ToggleConfig struct {
	Enabled bool `yaml:"enabled"`
}

type PatternsConfig struct {
	Disabled []string `yaml:"disabled"`
}

type EntropyConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Threshold float64 `yaml:"threshold"`
	MinLength int     `yaml:"min_length"`
}

type EntityConfig struct {
	Enabled       bool    `yaml:"enabled"`
	ModelDir      string  `yaml:"model_dir"`
	MaxTokens     int     `yaml:"max_tokens"`
	MinConfidence float32 `yaml:"min_confidence"`
	PoolSize      int     `yaml:"pool_size"`
}

type OCRConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Language      string  `yaml:"language"`
	MinConfidence float32 `yaml:"min_confidence"`
	// TokensFile serves a fixed token list instead of running tesseract.
	TokensFile    string  `yaml:"tokens_file"`
}

// PDFConfig controls page rendering for PDF scans. Rendered pages go
// through OCR, so PDFs are unscannable while OCR is disabled.
type PDFConfig struct {
	Enabled  bool    `yaml:"enabled"`
	DPI      float64 `yaml:"dpi"`
	MaxPages int     `yaml:"max_pages"`
}

type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Protocol string `yaml:"protocol"` // grpc | http
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

type APIKeyConfig struct {
	Key    string `yaml:"key"`
	UserID string `yaml:"user_id"`
}

// Load reads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides apply in both cases.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if cfg, err = Parse(data); err != nil {
				return nil, err
			}
		}
	}
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML and fills defaults without consulting the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{
		Mode: string(safety.ModeEnforce),
		Detectors: DetectorsConfig{
			Gitleaks: ToggleConfig{Enabled: true},
			Entropy:  EntropyConfig{Enabled: true},
			Entity:   EntityConfig{Enabled: false},
			OCR:      OCRConfig{Enabled: true, Language: "eng"},
			PDF:      PDFConfig{Enabled: true},
		},
		Metrics: MetricsConfig{Enabled: true},
	}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Mode) == "" {
		cfg.Mode = string(safety.ModeEnforce)
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		cfg.Server.MaxBodyBytes = 20 << 20
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = 10 * time.Second
	}
	if cfg.OnUnavailable == "" {
		cfg.OnUnavailable = OnUnavailableBlock
	}
	if cfg.AuditLogPath == "" {
		cfg.AuditLogPath = "logs/audit.jsonl"
	}
	if cfg.Audit.QueueSize <= 0 {
		cfg.Audit.QueueSize = 1000
	}
	if cfg.Audit.Workers <= 0 {
		cfg.Audit.Workers = 1
	}
	if cfg.Audit.WebhookTimeout <= 0 {
		cfg.Audit.WebhookTimeout = 2 * time.Second
	}
	if cfg.Detectors.Entity.MaxTokens <= 0 {
		cfg.Detectors.Entity.MaxTokens = 256
	}
	if cfg.Detectors.Entity.MinConfidence <= 0 {
		cfg.Detectors.Entity.MinConfidence = 0.80
	}
	if cfg.Detectors.Entropy.Threshold <= 0 {
		cfg.Detectors.Entropy.Threshold = 3.5
	}
	if cfg.Detectors.Entropy.MinLength <= 0 {
		cfg.Detectors.Entropy.MinLength = 20
	}
	if cfg.Detectors.OCR.Language == "" {
		cfg.Detectors.OCR.Language = "eng"
	}
	if cfg.Detectors.PDF.DPI <= 0 {
		cfg.Detectors.PDF.DPI = 216
	}
	if cfg.Detectors.PDF.MaxPages <= 0 {
		cfg.Detectors.PDF.MaxPages = 50
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "straja_dlp"
	}
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvMode)); v != "" {
		cfg.Mode = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAuditLogPath)); v != "" {
		cfg.AuditLogPath = v
	}
}
