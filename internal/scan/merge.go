package scan

import (
	"sort"

	"github.com/straja-ai/straja-dlp/internal/safety"
)

// outranks extends safety.Match.Outranks with type and source tie-breakers
// so the order is total and the merge does not depend on input order.
func outranks(a, b safety.Match) bool {
	if a.Priority != b.Priority || a.Span != b.Span {
		return a.Outranks(b)
	}
	if a.Type != b.Type {
		return a.Type < b.Type
	}
	return a.Source < b.Source
}

// Merge resolves overlapping candidates: the highest-ranked candidate wins
// each overlap, and the survivors are returned sorted by start offset.
func Merge(candidates []safety.Match) []safety.Match {
	if len(candidates) == 0 {
		return nil
	}
	ranked := make([]safety.Match, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool { return outranks(ranked[i], ranked[j]) })

	accepted := make([]safety.Match, 0, len(ranked))
	for _, m := range ranked {
		if m.Span.Len() <= 0 {
			continue
		}
		if overlapsAccepted(m.Span, accepted) {
			continue
		}
		accepted = append(accepted, m)
	}
	sort.Slice(accepted, func(i, j int) bool { return accepted[i].Span.Start < accepted[j].Span.Start })
	return accepted
}

func overlapsAccepted(s safety.Span, accepted []safety.Match) bool {
	for _, a := range accepted {
		if a.Span.Overlaps(s) {
			return true
		}
	}
	return false
}

// Spans lists the spans of ms in order.
func Spans(ms []safety.Match) []safety.Span {
	out := make([]safety.Span, len(ms))
	for i, m := range ms {
		out[i] = m.Span
	}
	return out
}
