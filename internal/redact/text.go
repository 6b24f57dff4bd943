// Package redact applies resolved decisions to content: a block anywhere is
// terminal, otherwise masked spans are replaced and masked boxes painted
// over.
package redact

import (
	"fmt"
	"sort"
	"strings"

	"github.com/straja-ai/straja-dlp/internal/policy"
	"github.com/straja-ai/straja-dlp/internal/safety"
)

// Outcome describes what happened to one unit of content.
type Outcome struct {
	Content      string           `json:"content,omitempty"`
	Blocked      bool             `json:"blocked"`
	BlockedTypes []safety.PIIType `json:"blocked_types,omitempty"`
	Masked       int              `json:"masked"`
}

// Err returns the BlockedError for a blocked outcome, nil otherwise.
func (o Outcome) Err() error {
	if !o.Blocked {
		return nil
	}
	return &safety.BlockedError{Types: o.BlockedTypes}
}

// Placeholder is the marker that replaces a masked span.
func Placeholder(t safety.PIIType) string {
	return "[REDACTED_" + strings.ToUpper(string(t)) + "]"
}

// blockedTypes returns the distinct types of block decisions in first-seen
// order.
func blockedTypes(ds []policy.Decision) []safety.PIIType {
	var out []safety.PIIType
	seen := map[safety.PIIType]struct{}{}
	for _, d := range ds {
		if d.Action != safety.ActionBlock {
			continue
		}
		if _, ok := seen[d.Match.Type]; ok {
			continue
		}
		seen[d.Match.Type] = struct{}{}
		out = append(out, d.Match.Type)
	}
	return out
}

// Text applies decisions to text. Spans are byte offsets into text; a span
// outside the text is an error and leaves the content untouched.
func Text(text string, ds []policy.Decision) (Outcome, error) {
	if types := blockedTypes(ds); len(types) > 0 {
		return Outcome{Content: text, Blocked: true, BlockedTypes: types}, nil
	}

	masks := make([]safety.Span, 0, len(ds))
	for _, d := range ds {
		if d.Action != safety.ActionMask {
			continue
		}
		s := d.Match.Span
		if s.Start < 0 || s.End > len(text) || s.Start >= s.End {
			return Outcome{Content: text}, fmt.Errorf("mask span [%d,%d) outside text of %d bytes", s.Start, s.End, len(text))
		}
		masks = append(masks, s)
	}
	if len(masks) == 0 {
		return Outcome{Content: text}, nil
	}

	order := make([]int, 0, len(ds))
	for i, d := range ds {
		if d.Action == safety.ActionMask {
			order = append(order, i)
		}
	}
	// Back to front so earlier offsets stay valid.
	sort.SliceStable(order, func(a, b int) bool {
		return ds[order[a]].Match.Span.Start > ds[order[b]].Match.Span.Start
	})

	out := text
	lowest := len(text) + 1
	masked := 0
	for _, i := range order {
		s := ds[i].Match.Span
		if s.End > lowest {
			// Overlaps a span already replaced; the merge step should have
			// prevented this.
			continue
		}
		out = out[:s.Start] + Placeholder(ds[i].Match.Type) + out[s.End:]
		lowest = s.Start
		masked++
	}
	return Outcome{Content: out, Masked: masked}, nil
}
