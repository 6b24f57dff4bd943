package safety

import (
	"fmt"
	"strings"
)

// Action is what the redactor does with a match.
type Action string

const (
	ActionLog   Action = "log"
	ActionMask  Action = "mask"
	ActionBlock Action = "block"
)

// ParseAction validates a configured action.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionLog, ActionMask, ActionBlock:
		return a, nil
	default:
		return "", fmt.Errorf("unknown action %q (want block, mask or log)", s)
	}
}

// Severity ranks actions: block > mask > log.
func (a Action) Severity() int {
	switch a {
	case ActionBlock:
		return 2
	case ActionMask:
		return 1
	default:
		return 0
	}
}

// Mode is the operational strictness for a request context.
type Mode string

const (
	ModeObserve Mode = "observe"
	ModeWarn    Mode = "warn"
	ModeEnforce Mode = "enforce"
)

// ParseMode validates a configured mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeObserve, ModeWarn, ModeEnforce:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want observe, warn or enforce)", s)
	}
}
