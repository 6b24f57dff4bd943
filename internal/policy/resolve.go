package policy

import (
	"github.com/straja-ai/straja-dlp/internal/safety"
)

// Reason records which rule produced a decision's final action.
type Reason string

const (
	ReasonNoPolicy      Reason = "no_policy"
	ReasonDisabled      Reason = "disabled"
	ReasonModelSkip     Reason = "model_skip"
	ReasonModeDowngrade Reason = "mode_downgrade"
	ReasonDirect        Reason = "direct"
)

// Decision is the effective action for one match.
type Decision struct {
	Match  safety.Match  `json:"match"`
	Action safety.Action `json:"action"`
	// Configured is the policy's action before overrides; empty when no
	// policy exists for the type.
	Configured safety.Action `json:"configured,omitempty"`
	Reason     Reason        `json:"reason"`
	// Warning marks a block that warn mode downgraded to mask.
	Warning bool `json:"warning,omitempty"`
}

// Resolve computes the effective action for m sent to modelID.
func Resolve(m safety.Match, modelID string, set *Set, mode safety.Mode) Decision {
	d := Decision{Match: m, Action: safety.ActionLog}

	p := set.Lookup(m.Type)
	if p == nil {
		d.Reason = ReasonNoPolicy
		return d
	}
	d.Configured = p.Action
	if !p.Enabled {
		d.Reason = ReasonDisabled
		return d
	}
	if !p.AppliesTo(modelID) {
		d.Reason = ReasonModelSkip
		return d
	}

	d.Action = p.Action
	d.Reason = ReasonDirect
	switch mode {
	case safety.ModeObserve:
		if d.Action != safety.ActionLog {
			d.Action = safety.ActionLog
			d.Reason = ReasonModeDowngrade
		}
	case safety.ModeWarn:
		if d.Action == safety.ActionBlock {
			d.Action = safety.ActionMask
			d.Reason = ReasonModeDowngrade
			d.Warning = true
		}
	}
	return d
}

// ResolveAll resolves every match, preserving order.
func ResolveAll(ms []safety.Match, modelID string, set *Set, mode safety.Mode) []Decision {
	out := make([]Decision, len(ms))
	for i, m := range ms {
		out[i] = Resolve(m, modelID, set, mode)
	}
	return out
}

// MostSevere returns the strongest action among decisions, log when empty.
func MostSevere(ds []Decision) safety.Action {
	action := safety.ActionLog
	for _, d := range ds {
		if d.Action.Severity() > action.Severity() {
			action = d.Action
		}
	}
	return action
}
