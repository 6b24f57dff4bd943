package safety

import "image"

// Source identifies the detector family that produced a match.
type Source string

const (
	SourcePattern         Source = "pattern"
	SourcePatternChecksum Source = "pattern_checksum"
	SourceGitleaks        Source = "gitleaks"
	SourceEntity          Source = "entity_ner"
	SourceEntropy         Source = "entropy"
)

// Priority orders detectors when their spans overlap. Higher wins.
type Priority int

const (
	PriorityEntropy  Priority = 1
	PriorityEntity   Priority = 2
	PriorityPattern  Priority = 3
	PriorityChecksum Priority = 4
)

// Span is a half-open byte range [Start, End) in a text buffer.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of bytes covered.
func (s Span) Len() int { return s.End - s.Start }

// Overlaps reports whether the two spans share at least one byte.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Box is an axis-aligned image region in pixels.
type Box struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// BoxFromRect converts an image.Rectangle.
func BoxFromRect(r image.Rectangle) Box {
	r = r.Canon()
	return Box{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}
}

// Rect converts the box back to an image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.W, b.Y+b.H)
}

// Union returns the smallest box covering both.
func (b Box) Union(o Box) Box {
	if b.W == 0 && b.H == 0 {
		return o
	}
	if o.W == 0 && o.H == 0 {
		return b
	}
	return BoxFromRect(b.Rect().Union(o.Rect()))
}

// Match is one detected sensitive span. Matches are values: once a pipeline
// returns them nothing mutates them.
type Match struct {
	Type       PIIType  `json:"type"`
	Value      string   `json:"-"`
	Confidence float32  `json:"confidence"`
	Span       Span     `json:"span"`
	Box        *Box     `json:"box,omitempty"`
	Source     Source   `json:"source"`
	Priority   Priority `json:"priority"`
}

// Outranks reports whether m wins an overlap against o: higher priority,
// then longer span, then earlier start.
func (m Match) Outranks(o Match) bool {
	if m.Priority != o.Priority {
		return m.Priority > o.Priority
	}
	if m.Span.Len() != o.Span.Len() {
		return m.Span.Len() > o.Span.Len()
	}
	return m.Span.Start < o.Span.Start
}

// WithBox returns a copy of m located at box.
func (m Match) WithBox(box Box) Match {
	b := box
	m.Box = &b
	return m
}
