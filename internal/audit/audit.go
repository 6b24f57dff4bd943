// Package audit builds and delivers the record of every non-trivial
// detection decision. Events never carry matched values, only salted
// fingerprints of them.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/straja-ai/straja-dlp/internal/policy"
	"github.com/straja-ai/straja-dlp/internal/safety"
)

// Outcome is the audited result of one scanned unit.
type Outcome string

const (
	OutcomeBlocked Outcome = "blocked"
	OutcomeMasked  Outcome = "masked"
	OutcomeLogged  Outcome = "logged"
)

// OutcomeFor maps an effective action to its audit label.
func OutcomeFor(a safety.Action) Outcome {
	switch a {
	case safety.ActionBlock:
		return OutcomeBlocked
	case safety.ActionMask:
		return OutcomeMasked
	default:
		return OutcomeLogged
	}
}

// Unit names what was scanned.
type Unit string

const (
	UnitRequest  Unit = "request"
	UnitResponse Unit = "response"
	UnitImage    Unit = "image"
	// UnitDocument is one rendered PDF page.
	UnitDocument Unit = "document"
)

// Finding is the per-match part of an event.
type Finding struct {
	Type        safety.PIIType `json:"type"`
	Action      safety.Action  `json:"action"`
	Reason      policy.Reason  `json:"reason"`
	Source      safety.Source  `json:"source"`
	Confidence  float32        `json:"confidence"`
	Span        safety.Span    `json:"span"`
	Box         *safety.Box    `json:"box,omitempty"`
	Fingerprint string         `json:"fingerprint"`
}

// Event is one audit record. It serializes to a single JSON object.
type Event struct {
	ID                   string           `json:"id"`
	Timestamp            time.Time        `json:"timestamp"`
	RequestID            string           `json:"request_id"`
	UserID               string           `json:"user_id"`
	Unit                 Unit             `json:"unit,omitempty"`
	Model                string           `json:"model,omitempty"`
	Mode                 safety.Mode      `json:"mode"`
	Action               Outcome          `json:"action"`
	PIITypes             []safety.PIIType `json:"pii_types"`
	Reasons              []policy.Reason  `json:"reasons,omitempty"`
	Warning              bool             `json:"warning,omitempty"`
	DetectionUnavailable bool             `json:"detection_unavailable,omitempty"`
	MatchCount           int              `json:"match_count"`
	Findings             []Finding        `json:"findings,omitempty"`
}

// Context is the request-level information an event is stamped with.
type Context struct {
	UserID    string
	RequestID string
	Unit      Unit
	Model     string
	Mode      safety.Mode
	Salt      string
	// Unavailable marks a unit that could not be scanned.
	Unavailable bool
	// Blocked forces a blocked outcome, used when an unavailable unit is
	// failed closed.
	Blocked bool
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Build assembles the event for one unit. It returns nil when nothing was
// detected and the unit was scanned normally.
func Build(ds []policy.Decision, c Context) *Event {
	if len(ds) == 0 && !c.Unavailable {
		return nil
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	requestID := c.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	action := policy.MostSevere(ds)
	if c.Blocked {
		action = safety.ActionBlock
	}

	ev := &Event{
		ID:                   uuid.NewString(),
		Timestamp:            now().UTC(),
		RequestID:            requestID,
		UserID:               c.UserID,
		Unit:                 c.Unit,
		Model:                c.Model,
		Mode:                 c.Mode,
		Action:               OutcomeFor(action),
		PIITypes:             []safety.PIIType{},
		DetectionUnavailable: c.Unavailable,
		MatchCount:           len(ds),
	}

	types := map[safety.PIIType]struct{}{}
	reasons := map[policy.Reason]struct{}{}
	for _, d := range ds {
		types[d.Match.Type] = struct{}{}
		reasons[d.Reason] = struct{}{}
		if d.Warning {
			ev.Warning = true
		}
		ev.Findings = append(ev.Findings, Finding{
			Type:        d.Match.Type,
			Action:      d.Action,
			Reason:      d.Reason,
			Source:      d.Match.Source,
			Confidence:  d.Match.Confidence,
			Span:        d.Match.Span,
			Box:         d.Match.Box,
			Fingerprint: Fingerprint(c.Salt, d.Match.Value),
		})
	}
	for t := range types {
		ev.PIITypes = append(ev.PIITypes, t)
	}
	sort.Slice(ev.PIITypes, func(i, j int) bool { return ev.PIITypes[i] < ev.PIITypes[j] })
	for r := range reasons {
		ev.Reasons = append(ev.Reasons, r)
	}
	sort.Slice(ev.Reasons, func(i, j int) bool { return ev.Reasons[i] < ev.Reasons[j] })
	return ev
}

// Fingerprint is the hex SHA-256 of salt and value. Equal values under the
// same salt correlate across events without being recoverable.
func Fingerprint(salt, value string) string {
	h := sha256.New()
	h.Write([]byte(salt))
	h.Write([]byte{0})
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}
