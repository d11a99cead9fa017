// Package workflow is the bug state machine. It decides which actions are
// legal for a bug and translates a submitted action into queued operations.
package workflow

import (
	"slices"

	"github.com/joescharf/buggy/internal/models"
)

// ActionID names a high-level action a user can take on a bug. Leaf actions
// that move the bug use the target state's wire value.
type ActionID string

const (
	ActionCreate  ActionID = "create"
	ActionComment ActionID = "comment"
	// ActionResolve groups the five resolved-* leaves; it cannot be submitted.
	ActionResolve ActionID = "resolve"

	ActionEntrust  = ActionID(models.StateEntrusted)
	ActionVerify   = ActionID(models.StateVerified)
	ActionReopen   = ActionID(models.StateReopened)
	ActionPushLive = ActionID(models.StateLive)
	ActionClose    = ActionID(models.StateClosed)

	ActionResolveFixed          = ActionID(models.StateResolvedFixed)
	ActionResolveDuplicate      = ActionID(models.StateResolvedDuplicate)
	ActionResolveImpossible     = ActionID(models.StateResolvedImpossible)
	ActionResolveUnreproducible = ActionID(models.StateResolvedUnreproducible)
	ActionResolveNotABug        = ActionID(models.StateResolvedNotABug)
)

// State returns the state the action moves the bug to, if any.
func (a ActionID) State() (models.State, bool) {
	s := models.State(a)
	if s.IsValid() {
		return s, true
	}
	return "", false
}

// IsResolve reports whether a is one of the resolved-* leaves.
func (a ActionID) IsResolve() bool {
	s, ok := a.State()
	return ok && s.IsResolved()
}

// resolveLeaves is the display order of the resolve sub-actions.
var resolveLeaves = []ActionID{
	ActionResolveFixed,
	ActionResolveDuplicate,
	ActionResolveImpossible,
	ActionResolveUnreproducible,
	ActionResolveNotABug,
}

var afterResolve = []ActionID{ActionVerify, ActionReopen, ActionPushLive, ActionClose, ActionComment}

// transitions maps a bug state to the top-level actions legal from it.
var transitions = map[models.State][]ActionID{
	models.StateNew:       {ActionResolve, ActionEntrust, ActionComment},
	models.StateEntrusted: {ActionResolve, ActionComment},
	models.StateReopened:  {ActionResolve, ActionEntrust, ActionComment},
	models.StateLive:      {ActionReopen, ActionClose, ActionComment},
	models.StateClosed:    {ActionReopen, ActionComment},
	models.StateVerified:  {ActionReopen, ActionPushLive, ActionClose, ActionComment},

	models.StateResolvedFixed:          afterResolve,
	models.StateResolvedUnreproducible: afterResolve,
	models.StateResolvedDuplicate:      afterResolve,
	models.StateResolvedImpossible:     afterResolve,
	models.StateResolvedNotABug:        afterResolve,
}

// TopLevel returns the top-level actions for a bug in state s. A nil s means
// the bug does not exist yet.
func TopLevel(s *models.State) []ActionID {
	if s == nil {
		return []ActionID{ActionCreate}
	}
	return transitions[*s]
}

// Legal returns the submittable actions for a bug in state s, with the
// resolve group expanded into its leaves.
func Legal(s *models.State) []ActionID {
	var out []ActionID
	for _, id := range TopLevel(s) {
		if id == ActionResolve {
			out = append(out, resolveLeaves...)
			continue
		}
		out = append(out, id)
	}
	return out
}

// Choice is one entry of the action picker.
type Choice struct {
	ID         ActionID `json:"action"`
	Label      string   `json:"label"`
	HelpText   string   `json:"help_text"`
	SubActions []Choice `json:"sub_actions,omitempty"`
}

// Leaves flattens a choice tree into its submittable entries.
func Leaves(choices []Choice) []Choice {
	var out []Choice
	for _, c := range choices {
		if len(c.SubActions) > 0 {
			out = append(out, Leaves(c.SubActions)...)
			continue
		}
		out = append(out, c)
	}
	return out
}

// Intersection returns the actions present in every set, keeping the order
// of the first. It is used to decide what a bulk edit may do.
func Intersection(sets ...[]ActionID) []ActionID {
	if len(sets) == 0 {
		return nil
	}
	var out []ActionID
	for _, id := range sets[0] {
		inAll := true
		for _, other := range sets[1:] {
			if !slices.Contains(other, id) {
				inAll = false
				break
			}
		}
		if inAll {
			out = append(out, id)
		}
	}
	return out
}
