package config

import (
	"fmt"
	"time"

	"github.com/straja-ai/straja-dlp/internal/policy"
	"github.com/straja-ai/straja-dlp/internal/safety"
)

// Snapshot is the request-scoped, immutable view of the configuration that
// decides what happens to matches. Reloads build a new Snapshot; one in use
// is never modified.
type Snapshot struct {
	Mode         safety.Mode
	Policies     *policy.Set
	Enabled      map[safety.PIIType]struct{}
	ScanTimeout  time.Duration
	FailClosed   bool
	AuditSalt    string
	AuditLogPath string
	LoadedAt     time.Time
}

// Snapshot compiles cfg into a Snapshot.
func (cfg *Config) Snapshot() (*Snapshot, error) {
	mode, err := safety.ParseMode(cfg.Mode)
	if err != nil {
		return nil, fmt.Errorf("mode: %w", err)
	}
	set, err := policySpecs(cfg.Policies)
	if err != nil {
		return nil, err
	}
	types, err := piiTypes("enabled_pii_types", cfg.EnabledPIITypes)
	if err != nil {
		return nil, err
	}
	var enabled map[safety.PIIType]struct{}
	if len(types) > 0 {
		enabled = make(map[safety.PIIType]struct{}, len(types))
		for _, t := range types {
			enabled[t] = struct{}{}
		}
	}
	return &Snapshot{
		Mode:         mode,
		Policies:     set,
		Enabled:      enabled,
		ScanTimeout:  cfg.ScanTimeout,
		FailClosed:   cfg.OnUnavailable != OnUnavailableAllow,
		AuditSalt:    cfg.Audit.Salt,
		AuditLogPath: cfg.AuditLogPath,
		LoadedAt:     time.Now().UTC(),
	}, nil
}

// Tracks reports whether matches of typ are enforced.
func (s *Snapshot) Tracks(typ safety.PIIType) bool {
	if s.Enabled == nil {
		return true
	}
	_, ok := s.Enabled[typ]
	return ok
}

// DefaultSnapshot compiles the built-in configuration.
func DefaultSnapshot() *Snapshot {
	snap, err := Default().Snapshot()
	if err != nil {
		panic("config: default snapshot does not compile: " + err.Error())
	}
	return snap
}
