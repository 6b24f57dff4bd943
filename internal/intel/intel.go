package intel

import (
	"context"

	"github.com/straja-ai/straja-dlp/internal/safety"
)

// Detector finds sensitive spans in a text buffer. Implementations must be
// safe for concurrent use and must not retain the text.
type Detector interface {
	Name() string
	Detect(ctx context.Context, text string) ([]safety.Match, error)
}

// CoverageAware detectors run after the primary detectors have been merged
// and must not report anything inside the covered spans.
type CoverageAware interface {
	Detector
	DetectUncovered(ctx context.Context, text string, covered []safety.Span) ([]safety.Match, error)
}

// Status describes a detector for health endpoints.
type Status struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Version string `json:"version,omitempty"`
}

// Statuser is implemented by detectors that expose extra state.
type Statuser interface {
	Status() Status
}

// StatusOf returns the detector's status, defaulting to enabled.
func StatusOf(d Detector) Status {
	if s, ok := d.(Statuser); ok {
		return s.Status()
	}
	return Status{Name: d.Name(), Enabled: true}
}
