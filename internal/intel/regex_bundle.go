package intel

import (
	"context"
	"regexp"
	"sort"

	"github.com/straja-ai/straja-dlp/internal/safety"
)

// pattern is one compiled structured detector.
type pattern struct {
	id         string
	typ        safety.PIIType
	re         *regexp.Regexp
	group      int               // submatch holding the sensitive value, 0 = whole match
	validate   func(string) bool // nil = accept every regex hit
	checksum   bool              // a passing validate is a checksum verification
	// rescue proposes sub-spans, relative to a hit that failed validate,
	// to validate instead.
	rescue     func(value string) [][2]int
	confidence float32
}

// RegexBundle holds the deterministic detectors for structured PII and
// secrets. A bundle is immutable after construction.
type RegexBundle struct {
	id       string
	version  string
	patterns []pattern
}

// BundleOptions toggles individual types off.
type BundleOptions struct {
	Disabled []safety.PIIType
}

// NewRegexBundle compiles the default pattern set minus disabled types.
func NewRegexBundle(opts BundleOptions) *RegexBundle {
	disabled := make(map[safety.PIIType]struct{}, len(opts.Disabled))
	for _, t := range opts.Disabled {
		disabled[t] = struct{}{}
	}

	all := defaultPatterns()
	patterns := make([]pattern, 0, len(all))
	for _, p := range all {
		if _, off := disabled[p.typ]; off {
			continue
		}
		patterns = append(patterns, p)
	}

	return &RegexBundle{
		id:       "straja-dlp-patterns",
		version:  "0.3.0",
		patterns: patterns,
	}
}

func defaultPatterns() []pattern {
	return []pattern{
		{
			id:         "credit_card",
			typ:        safety.TypeCreditCard,
			re:         regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`),
			validate:   luhnValid,
			checksum:   true,
			rescue:     cardRuns,
			confidence: 1.0,
		},
		{
			id:         "us_ssn",
			typ:        safety.TypeSSN,
			re:         regexp.MustCompile(`\b\d{3}[- ]\d{2}[- ]\d{4}\b`),
			validate:   ssnValid,
			confidence: 0.9,
		},
		{
			id:         "anthropic_key",
			typ:        safety.TypeAPIKey,
			re:         regexp.MustCompile(`\bsk-ant-(?:api\d{2}-|admin\d{2}-)?[A-Za-z0-9_\-]{20,}`),
			confidence: 0.99,
		},
		{
			id:         "openai_key",
			typ:        safety.TypeAPIKey,
			re:         regexp.MustCompile(`\bsk-(?:proj-|svcacct-|admin-)?[A-Za-z0-9_\-]{20,}`),
			confidence: 0.95,
		},
		{
			id:         "aws_access_key",
			typ:        safety.TypeAPIKey,
			re:         regexp.MustCompile(`\b(?:AKIA|ASIA|AGPA|AIDA|AROA)[0-9A-Z]{16}\b`),
			confidence: 0.99,
		},
		{
			id:         "github_token",
			typ:        safety.TypeAPIKey,
			re:         regexp.MustCompile(`\b(?:(?:ghp|gho|ghu|ghs|ghr)_[A-Za-z0-9]{36}|github_pat_[A-Za-z0-9_]{22,})\b`),
			confidence: 0.99,
		},
		{
			id:         "slack_token",
			typ:        safety.TypeAPIKey,
			re:         regexp.MustCompile(`\bxox[abposr]-[A-Za-z0-9-]{10,}`),
			confidence: 0.95,
		},
		{
			id:         "stripe_key",
			typ:        safety.TypeAPIKey,
			re:         regexp.MustCompile(`\b(?:sk|rk)_(?:live|test)_[A-Za-z0-9]{16,}\b`),
			confidence: 0.99,
		},
		{
			id:         "google_api_key",
			typ:        safety.TypeAPIKey,
			re:         regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{35}`),
			confidence: 0.95,
		},
		{
			id:         "pem_private_key",
			typ:        safety.TypePrivateKey,
			re:         regexp.MustCompile(`-----BEGIN (?:[A-Z0-9]+ )*PRIVATE KEY-----[\s\S]*?-----END (?:[A-Z0-9]+ )*PRIVATE KEY-----`),
			confidence: 1.0,
		},
		{
			// Truncated keys (no END line) still leak the key material.
			id:         "pem_private_key_header",
			typ:        safety.TypePrivateKey,
			re:         regexp.MustCompile(`-----BEGIN (?:[A-Z0-9]+ )*PRIVATE KEY-----(?:\s*[A-Za-z0-9+/=]{8,})*`),
			confidence: 0.9,
		},
		{
			id:         "ssh_private_key_putty",
			typ:        safety.TypePrivateKey,
			re:         regexp.MustCompile(`PuTTY-User-Key-File-\d: [\s\S]*?Private-MAC: [0-9a-f]+`),
			confidence: 1.0,
		},
		{
			id:         "jwt",
			typ:        safety.TypeJWT,
			re:         regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]{5,}\.eyJ[A-Za-z0-9_\-]{5,}\.[A-Za-z0-9_\-]{10,}`),
			validate:   jwtValid,
			confidence: 0.98,
		},
		{
			id:         "database_url",
			typ:        safety.TypeDatabaseURL,
			re:         regexp.MustCompile(`\b(?:postgres(?:ql)?|mysql|mariadb|mongodb(?:\+srv)?|rediss?|mssql|sqlserver|amqps?)://[^\s:@/]+:[^\s@/]+@[^\s/"'<>]+(?:/[^\s"'<>]*)?`),
			confidence: 0.95,
		},
		{
			id:         "cloud_credential",
			typ:        safety.TypeCloudCredential,
			re:         regexp.MustCompile(`(?i)\b(?:aws_secret_access_key|aws_session_token|azure_client_secret|azure_storage_key|gcp_private_key|client_secret)\s*[=:]\s*["']?([A-Za-z0-9/+=_\-]{16,})`),
			group:      1,
			confidence: 0.95,
		},
		{
			id:         "email",
			typ:        safety.TypeEmail,
			re:         regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
			confidence: 0.95,
		},
		{
			id:         "phone",
			typ:        safety.TypePhone,
			re:         regexp.MustCompile(`(?:\+\d{1,3}[ .-]?)?(?:\(\d{3}\)[ .-]?|\b\d{3}[ .-]?)\d{3}[ .-]?\d{4}\b`),
			confidence: 0.7,
		},
		{
			id:         "ipv4",
			typ:        safety.TypeIPAddress,
			re:         regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\.){3}(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\b`),
			confidence: 0.8,
		},
		{
			id:         "iban",
			typ:        safety.TypeIBAN,
			re:         regexp.MustCompile(`\b[A-Z]{2}\d{2}(?: ?[A-Z0-9]{4}){2,7}(?: ?[A-Z0-9]{1,3})?\b`),
			validate:   ibanValid,
			checksum:   true,
			confidence: 1.0,
		},
	}
}

func (b *RegexBundle) Name() string { return "patterns" }

func (b *RegexBundle) Status() Status {
	return Status{
		Name:    b.Name(),
		Enabled: len(b.patterns) > 0,
		Version: b.id + "@" + b.version,
	}
}

// Types lists the categories this bundle can emit.
func (b *RegexBundle) Types() []safety.PIIType {
	seen := map[safety.PIIType]struct{}{}
	var out []safety.PIIType
	for _, p := range b.patterns {
		if _, ok := seen[p.typ]; ok {
			continue
		}
		seen[p.typ] = struct{}{}
		out = append(out, p.typ)
	}
	return out
}

// Detect runs every pattern over text. Overlaps between patterns are left to
// the scan pipeline.
func (b *RegexBundle) Detect(ctx context.Context, text string) ([]safety.Match, error) {
	if text == "" {
		return nil, nil
	}
	var out []safety.Match
	for _, p := range b.patterns {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		for _, loc := range p.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[0], loc[1]
			if p.group > 0 {
				if len(loc) < 2*p.group+2 || loc[2*p.group] < 0 {
					continue
				}
				start, end = loc[2*p.group], loc[2*p.group+1]
			}
			for _, sp := range p.accept(text[start:end]) {
				out = append(out, p.match(text, start+sp[0], start+sp[1]))
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Span.Start < out[j].Span.Start
	})
	return out, nil
}

// accept returns the spans of value, relative to it, that pass validation.
func (p pattern) accept(value string) [][2]int {
	if p.validate == nil || p.validate(value) {
		return [][2]int{{0, len(value)}}
	}
	if p.rescue == nil {
		return nil
	}
	var out [][2]int
	for _, sp := range p.rescue(value) {
		if p.validate(value[sp[0]:sp[1]]) {
			out = append(out, sp)
		}
	}
	return out
}

func (p pattern) match(text string, start, end int) safety.Match {
	m := safety.Match{
		Type:       p.typ,
		Value:      text[start:end],
		Confidence: p.confidence,
		Span:       safety.Span{Start: start, End: end},
		Source:     safety.SourcePattern,
		Priority:   safety.PriorityPattern,
	}
	if p.validate != nil && p.checksum {
		m.Source = safety.SourcePatternChecksum
		m.Priority = safety.PriorityChecksum
	}
	return m
}
