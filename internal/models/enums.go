package models

import (
	"fmt"
	"strings"
)

// Priority ranks how urgently a bug needs attention. Values are ordered.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityMedium Priority = 2
	PriorityHigh   Priority = 3

	// Aliases used by older installs.
	PriorityHold   = PriorityLow
	PriorityNormal = PriorityMedium
	PriorityUrgent = PriorityHigh
)

// AllPriorities returns every priority, lowest first.
func AllPriorities() []Priority {
	return []Priority{PriorityLow, PriorityMedium, PriorityHigh}
}

// Label returns the display label.
func (p Priority) Label() string {
	switch p {
	case PriorityLow:
		return "Low"
	case PriorityMedium:
		return "Medium"
	case PriorityHigh:
		return "High"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}

func (p Priority) String() string { return p.Label() }

// IsValid reports whether p is one of the known priorities.
func (p Priority) IsValid() bool {
	return p >= PriorityLow && p <= PriorityHigh
}

// ParsePriority accepts a numeric value ("3"), a label ("high") or an alias ("urgent").
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "low", "hold":
		return PriorityLow, nil
	case "2", "medium", "normal":
		return PriorityMedium, nil
	case "3", "high", "urgent":
		return PriorityHigh, nil
	}
	return 0, fmt.Errorf("invalid priority: %q", s)
}

// State is a bug's lifecycle stage. The string value is the stable wire value.
type State string

const (
	StateNew                    State = "new"
	StateClosed                 State = "closed"
	StateEntrusted              State = "entrusted"
	StateVerified               State = "verified"
	StateReopened               State = "reopened"
	StateLive                   State = "live"
	StateResolvedFixed          State = "resolved-fixed"
	StateResolvedUnreproducible State = "resolved-unreproducible"
	StateResolvedDuplicate      State = "resolved-duplicate"
	StateResolvedImpossible     State = "resolved-impossible"
	StateResolvedNotABug        State = "resolved-notabug"
)

// AllStates returns every state in declaration order.
func AllStates() []State {
	return []State{
		StateNew,
		StateClosed,
		StateEntrusted,
		StateVerified,
		StateReopened,
		StateLive,
		StateResolvedFixed,
		StateResolvedUnreproducible,
		StateResolvedDuplicate,
		StateResolvedImpossible,
		StateResolvedNotABug,
	}
}

// ResolvedStates is the named subset of states reached through "resolve".
func ResolvedStates() []State {
	return []State{
		StateResolvedFixed,
		StateResolvedUnreproducible,
		StateResolvedDuplicate,
		StateResolvedImpossible,
		StateResolvedNotABug,
	}
}

// IsResolved reports whether s is one of the resolved-* states.
func (s State) IsResolved() bool {
	switch s {
	case StateResolvedFixed, StateResolvedUnreproducible, StateResolvedDuplicate,
		StateResolvedImpossible, StateResolvedNotABug:
		return true
	}
	return false
}

// IsValid reports whether s is a known state.
func (s State) IsValid() bool {
	for _, known := range AllStates() {
		if s == known {
			return true
		}
	}
	return false
}

// Label returns a human-readable representation of the state.
func (s State) Label() string {
	switch s {
	case StateNew:
		return "New"
	case StateClosed:
		return "Closed"
	case StateEntrusted:
		return "Entrusted"
	case StateVerified:
		return "Verified"
	case StateReopened:
		return "Reopened"
	case StateLive:
		return "Live"
	case StateResolvedFixed:
		return "Fixed"
	case StateResolvedUnreproducible:
		return "Unreproducible"
	case StateResolvedDuplicate:
		return "Duplicate"
	case StateResolvedImpossible:
		return "Impossible"
	case StateResolvedNotABug:
		return "Not a bug"
	default:
		return string(s)
	}
}

// ExpandStateFilter turns filter values into concrete states. The pseudo
// value "resolved" matches every resolved-* state. Unknown values are dropped.
func ExpandStateFilter(values []string) []State {
	seen := make(map[State]bool)
	var states []State
	for _, s := range AllStates() {
		for _, v := range values {
			if string(s) == v || strings.HasPrefix(string(s), v+"-") {
				if !seen[s] {
					seen[s] = true
					states = append(states, s)
				}
			}
		}
	}
	return states
}

// DefaultListStates is the state filter applied when a listing names none:
// everything except closed bugs.
func DefaultListStates() []State {
	var states []State
	for _, s := range AllStates() {
		if s != StateClosed {
			states = append(states, s)
		}
	}
	return states
}
