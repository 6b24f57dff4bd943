package safety

import (
	"errors"
	"strings"
)

var (
	// ErrDetectionUnavailable means the content was not actually inspected.
	ErrDetectionUnavailable = errors.New("detection unavailable")

	// ErrPolicyBlocked matches any *BlockedError via errors.Is.
	ErrPolicyBlocked = errors.New("policy blocked")
)

// BlockedError is returned when a block decision was reached.
type BlockedError struct {
	Types []PIIType
	// Unavailable is set when the block is a fail-closed reaction to content
	// that could not be scanned.
	Unavailable bool
}

func (e *BlockedError) Error() string {
	if e.Unavailable && len(e.Types) == 0 {
		return "Request blocked: Sensitive data detection unavailable"
	}
	names := make([]string, 0, len(e.Types))
	for _, t := range e.Types {
		names = append(names, string(t))
	}
	return "Request blocked: Detected sensitive data (" + strings.Join(names, ", ") + ")"
}

func (e *BlockedError) Is(target error) bool {
	return target == ErrPolicyBlocked
}

// Unwrap exposes ErrDetectionUnavailable for fail-closed blocks.
func (e *BlockedError) Unwrap() error {
	if e.Unavailable {
		return ErrDetectionUnavailable
	}
	return nil
}
