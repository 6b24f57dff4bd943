package intel

import (
	"context"
	"fmt"
	"math"
	"regexp"

	"github.com/straja-ai/straja-dlp/internal/safety"
)

const (
	DefaultEntropyThreshold = 3.5
	DefaultEntropyMinLength = 20
)

var entropyTokenRe = regexp.MustCompile(`[A-Za-z0-9+/=_\-]+`)

// EntropyDetector flags long random-looking tokens that no structured
// pattern recognizes.
type EntropyDetector struct {
	threshold float64
	minLength int
}

// EntropyOptions tunes the heuristic. Zero values take the defaults.
type EntropyOptions struct {
	Threshold float64
	MinLength int
}

func NewEntropyDetector(opts EntropyOptions) *EntropyDetector {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultEntropyThreshold
	}
	if opts.MinLength <= 0 {
		opts.MinLength = DefaultEntropyMinLength
	}
	return &EntropyDetector{threshold: opts.Threshold, minLength: opts.MinLength}
}

func (d *EntropyDetector) Name() string { return "entropy" }

func (d *EntropyDetector) Status() Status {
	return Status{Name: d.Name(), Enabled: true, Version: fmt.Sprintf("shannon>=%.2f,len>=%d", d.threshold, d.minLength)}
}

func (d *EntropyDetector) Detect(ctx context.Context, text string) ([]safety.Match, error) {
	return d.DetectUncovered(ctx, text, nil)
}

// DetectUncovered skips every token that touches a covered span.
func (d *EntropyDetector) DetectUncovered(ctx context.Context, text string, covered []safety.Span) ([]safety.Match, error) {
	if len(text) < d.minLength {
		return nil, nil
	}
	var out []safety.Match
	for _, loc := range entropyTokenRe.FindAllStringIndex(text, -1) {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		span := safety.Span{Start: loc[0], End: loc[1]}
		if span.Len() < d.minLength || overlapsAny(span, covered) {
			continue
		}
		token := text[span.Start:span.End]
		if charClasses(token) < 2 {
			continue
		}
		h := ShannonEntropy(token)
		if h < d.threshold {
			continue
		}
		out = append(out, safety.Match{
			Type:       safety.TypeHighEntropySecret,
			Value:      token,
			Confidence: float32(math.Min(1, h/5.0)),
			Span:       span,
			Source:     safety.SourceEntropy,
			Priority:   safety.PriorityEntropy,
		})
	}
	return out, nil
}

// ShannonEntropy returns bits per byte of s.
func ShannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	var counts [256]int
	for i := 0; i < len(s); i++ {
		counts[s[i]]++
	}
	n := float64(len(s))
	h := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}

func charClasses(s string) int {
	var lower, upper, digit, other bool
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
			lower = true
		case c >= 'A' && c <= 'Z':
			upper = true
		case c >= '0' && c <= '9':
			digit = true
		default:
			other = true
		}
	}
	n := 0
	for _, b := range []bool{lower, upper, digit, other} {
		if b {
			n++
		}
	}
	return n
}

func overlapsAny(span safety.Span, covered []safety.Span) bool {
	for _, c := range covered {
		if span.Overlaps(c) {
			return true
		}
	}
	return false
}
