package intel

import (
	"context"

	"github.com/straja-ai/straja-dlp/internal/safety"
)

type noopDetector struct {
	name string
}

// NewNoop returns a detector that never finds anything. It stands in for a
// disabled detector so pipelines keep a stable shape.
func NewNoop(name string) Detector {
	if name == "" {
		name = "noop"
	}
	return &noopDetector{name: name}
}

// IsNoop reports whether d is a placeholder from NewNoop. Pipelines list
// such detectors but never count them as inspecting anything.
func IsNoop(d Detector) bool {
	_, ok := d.(*noopDetector)
	return ok
}

func (d *noopDetector) Name() string { return d.name }

func (d *noopDetector) Status() Status {
	return Status{Name: d.name, Enabled: false}
}

func (d *noopDetector) Detect(ctx context.Context, text string) ([]safety.Match, error) {
	return nil, nil
}
