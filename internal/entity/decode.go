package entity

import (
	"math"
	"sort"
	"strings"

	"github.com/straja-ai/straja-dlp/internal/safety"
)

// labelTypes maps model entity labels (without the B-/I- prefix) onto PII
// categories. Labels not listed are ignored.
var labelTypes = map[string]safety.PIIType{
	"PER":          safety.TypePersonName,
	"PERSON":       safety.TypePersonName,
	"NAME":         safety.TypePersonName,
	"FIRSTNAME":    safety.TypePersonName,
	"LASTNAME":     safety.TypePersonName,
	"GIVENNAME":    safety.TypePersonName,
	"SURNAME":      safety.TypePersonName,
	"LOC":          safety.TypeLocation,
	"LOCATION":     safety.TypeLocation,
	"GPE":          safety.TypeLocation,
	"ADDRESS":      safety.TypeLocation,
	"STREET":       safety.TypeLocation,
	"CITY":         safety.TypeLocation,
	"ORG":          safety.TypeOrganization,
	"ORGANIZATION": safety.TypeOrganization,
	"COMPANY":      safety.TypeOrganization,
	"DOB":          safety.TypeDateOfBirth,
	"DATEOFBIRTH":  safety.TypeDateOfBirth,
	"BIRTHDATE":    safety.TypeDateOfBirth,
	"EMAIL":        safety.TypeEmail,
	"PHONE":        safety.TypePhone,
	"TELEPHONENUM": safety.TypePhone,
}

// TypeForLabel resolves a model label such as "B-PER" to a PII category.
func TypeForLabel(label string) (safety.PIIType, bool) {
	_, name := splitLabel(label)
	name = strings.ToUpper(strings.NewReplacer("_", "", "-", "").Replace(name))
	t, ok := labelTypes[name]
	return t, ok
}

func splitLabel(lbl string) (prefix, name string) {
	lbl = strings.TrimSpace(lbl)
	if lbl == "" || strings.EqualFold(lbl, "O") {
		return "", ""
	}
	if len(lbl) > 2 && lbl[1] == '-' {
		switch p := strings.ToUpper(lbl[:1]); p {
		case "B", "I", "E", "S":
			return p, lbl[2:]
		}
	}
	return "", lbl
}

// hit is a decoded entity before conversion to a Match.
type hit struct {
	name  string
	span  safety.Span
	probs []float32
}

func (h hit) confidence() float32 {
	if len(h.probs) == 0 {
		return 0
	}
	var sum float32
	for _, p := range h.probs {
		sum += p
	}
	return sum / float32(len(h.probs))
}

// decodeBIO turns per-position logits into entity spans. Positions without
// an offset (special tokens, padding) are skipped and do not break an
// entity. Confidence of an entity is the mean softmax probability of its
// member tokens.
func decodeBIO(rows [][]float32, offsets []safety.Span, labels []string) []hit {
	var out []hit
	var cur *hit
	closeCur := func() {
		if cur != nil {
			out = append(out, *cur)
			cur = nil
		}
	}
	for i, row := range rows {
		if i >= len(offsets) {
			break
		}
		off := offsets[i]
		if off.Start < 0 || off.End <= off.Start {
			continue
		}
		best, prob := argmaxSoftmax(row)
		if best < 0 || best >= len(labels) {
			closeCur()
			continue
		}
		prefix, name := splitLabel(labels[best])
		if name == "" {
			closeCur()
			continue
		}
		continues := cur != nil && strings.EqualFold(cur.name, name) &&
			(prefix == "I" || prefix == "E" || prefix == "")
		if !continues {
			closeCur()
			cur = &hit{name: name, span: off}
		}
		if off.End > cur.span.End {
			cur.span.End = off.End
		}
		cur.probs = append(cur.probs, prob)
		if prefix == "E" || prefix == "S" {
			closeCur()
		}
	}
	closeCur()
	return mergeHits(out)
}

// mergeHits joins overlapping or touching hits of the same label.
func mergeHits(in []hit) []hit {
	if len(in) == 0 {
		return nil
	}
	sort.SliceStable(in, func(i, j int) bool {
		if in[i].span.Start == in[j].span.Start {
			return in[i].span.End < in[j].span.End
		}
		return in[i].span.Start < in[j].span.Start
	})
	out := make([]hit, 0, len(in))
	cur := in[0]
	for _, h := range in[1:] {
		if h.span.Start <= cur.span.End && strings.EqualFold(h.name, cur.name) {
			if h.span.End > cur.span.End {
				cur.span.End = h.span.End
			}
			cur.probs = append(cur.probs, h.probs...)
			continue
		}
		out = append(out, cur)
		cur = h
	}
	return append(out, cur)
}

func argmaxSoftmax(logits []float32) (int, float32) {
	if len(logits) == 0 {
		return -1, 0
	}
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	sum := 0.0
	for _, v := range logits {
		sum += math.Exp(float64(v - logits[best]))
	}
	return best, float32(1 / sum)
}
