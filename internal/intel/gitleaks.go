package intel

import (
	"context"
	"fmt"
	"strings"
	"sync"

	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"

	"github.com/straja-ai/straja-dlp/internal/safety"
)

// GitleaksDetector runs the gitleaks default rule set over text. The rule
// config is parsed once; each scan gets a fresh detector because a
// gitleaks detector accumulates findings across calls.
type GitleaksDetector struct {
	once    sync.Once
	cfg     gitleaksconfig.Config
	loadErr error
}

func NewGitleaksDetector() *GitleaksDetector {
	return &GitleaksDetector{}
}

func (d *GitleaksDetector) Name() string { return "gitleaks" }

func (d *GitleaksDetector) Status() Status {
	d.load()
	return Status{Name: d.Name(), Enabled: d.loadErr == nil, Version: fmt.Sprintf("rules=%d", len(d.cfg.Rules))}
}

func (d *GitleaksDetector) load() {
	d.once.Do(func() {
		base, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			d.loadErr = fmt.Errorf("gitleaks default config: %w", err)
			return
		}
		d.cfg = base.Config
	})
}

func (d *GitleaksDetector) Detect(ctx context.Context, text string) ([]safety.Match, error) {
	if text == "" {
		return nil, nil
	}
	d.load()
	if d.loadErr != nil {
		return nil, d.loadErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	findings := detect.NewDetector(d.cfg).DetectString(text)

	var out []safety.Match
	used := map[safety.Span]struct{}{}
	for _, f := range findings {
		if f.Secret == "" {
			continue
		}
		span, ok := locateSecret(text, f.Secret, used)
		if !ok {
			continue
		}
		used[span] = struct{}{}
		out = append(out, safety.Match{
			Type:       gitleaksType(f.RuleID),
			Value:      f.Secret,
			Confidence: 0.9,
			Span:       span,
			Source:     safety.SourceGitleaks,
			Priority:   safety.PriorityPattern,
		})
	}
	return out, nil
}

// locateSecret finds the first occurrence of secret not already claimed by
// an earlier finding. Gitleaks reports line/column positions, which are
// ambiguous once the text contains multi-byte runes.
func locateSecret(text, secret string, used map[safety.Span]struct{}) (safety.Span, bool) {
	from := 0
	for from <= len(text) {
		i := strings.Index(text[from:], secret)
		if i < 0 {
			return safety.Span{}, false
		}
		span := safety.Span{Start: from + i, End: from + i + len(secret)}
		if _, taken := used[span]; !taken {
			return span, true
		}
		from = span.Start + 1
	}
	return safety.Span{}, false
}

func gitleaksType(ruleID string) safety.PIIType {
	switch {
	case ruleID == "private-key" || strings.HasSuffix(ruleID, "-private-key"):
		return safety.TypePrivateKey
	case ruleID == "jwt" || strings.HasPrefix(ruleID, "jwt-"):
		return safety.TypeJWT
	case ruleID == "generic-api-key" || strings.HasPrefix(ruleID, "generic"):
		return safety.TypeSecret
	default:
		return safety.TypeAPIKey
	}
}
