package workflow

import (
	"fmt"
	"slices"
	"strings"

	"github.com/joescharf/buggy/internal/models"
)

// ValidationError lists every rule a submission broke. Nothing has been
// queued or persisted when it is returned.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Messages, " ")
}

// Submission is a validated request to perform one action.
type Submission struct {
	Action  ActionID
	Comment string
	// Title is required on create. On edit an empty title leaves it unchanged.
	Title string
	// Priority zero means unchanged on edit and medium on create.
	Priority models.Priority
	// Project is only read on create.
	Project  *models.Project
	AssignTo *models.User
	// Attachments are staged attachment keys.
	Attachments []string
}

// Mutator evaluates actions for one user on one bug. Build a new one per
// request: the latest resolver is computed once from history.
type Mutator struct {
	user           *models.User
	bug            *models.Bug
	history        []*models.Action
	latestResolver *models.User
}

// NewMutator returns a mutator for bug. Pass a nil bug to create one.
// history must hold the bug's committed actions.
func NewMutator(user *models.User, bug *models.Bug, history []*models.Action) *Mutator {
	return &Mutator{
		user:           user,
		bug:            bug,
		history:        history,
		latestResolver: models.LatestResolver(history),
	}
}

// LatestResolver is the user who last moved the bug into a resolved state.
func (m *Mutator) LatestResolver() *models.User { return m.latestResolver }

func (m *Mutator) state() *models.State {
	if m.bug == nil {
		return nil
	}
	return &m.bug.State
}

// Actions returns the submittable actions.
func (m *Mutator) Actions() []ActionID {
	return Legal(m.state())
}

// Allows reports whether id can be submitted now.
func (m *Mutator) Allows(id ActionID) bool {
	return slices.Contains(m.Actions(), id)
}

// Choices returns the action picker tree with help texts.
func (m *Mutator) Choices() []Choice {
	var out []Choice
	for _, id := range TopLevel(m.state()) {
		out = append(out, m.choice(id))
	}
	return out
}

func (m *Mutator) assignText(u *models.User) string {
	if m.bug == nil || u == nil {
		return ""
	}
	return fmt.Sprintf(" Unless you pick another assignee, the bug will be assigned to %s.", u.ShortName())
}

func (m *Mutator) choice(id ActionID) Choice {
	switch id {
	case ActionCreate:
		return Choice{ID: id, Label: "Create", HelpText: "Create a bug."}
	case ActionComment:
		return Choice{ID: id, Label: "Comment", HelpText: "Leave a comment on the bug or change its priority or assignee."}
	case ActionVerify:
		return Choice{ID: id, Label: "Verify",
			HelpText: "You have verified that this bug is fixed." + m.assignText(m.latestResolver)}
	case ActionPushLive:
		return Choice{ID: id, Label: "Pushed live", HelpText: "You have made the change on the live site."}
	case ActionReopen:
		return Choice{ID: id, Label: "Reopen",
			HelpText: "The bug is not resolved. A comment is required to reopen." + m.assignText(m.latestResolver)}
	case ActionClose:
		return Choice{ID: id, Label: "Close",
			HelpText: "This bug has been resolved and verified, it is no longer an issue. " +
				"The bug will no longer be in the default view."}
	case ActionEntrust:
		return Choice{ID: id, Label: "Entrust", HelpText: "You would like to make someone responsible for the bug."}
	case ActionResolve:
		var creator *models.User
		if m.bug != nil {
			creator = m.bug.CreatedBy
		}
		c := Choice{ID: id, Label: "Resolve",
			HelpText: "You have fixed the bug, or there is a problem with the bug that its creator must rectify." +
				m.assignText(creator)}
		for _, leaf := range resolveLeaves {
			c.SubActions = append(c.SubActions, m.choice(leaf))
		}
		return c
	case ActionResolveFixed:
		return Choice{ID: id, Label: models.StateResolvedFixed.Label(), HelpText: "You have fixed the bug."}
	case ActionResolveDuplicate:
		return Choice{ID: id, Label: models.StateResolvedDuplicate.Label(),
			HelpText: "The bug is a duplicate of another. Consider leaving a comment with #bugnumber."}
	case ActionResolveImpossible:
		return Choice{ID: id, Label: models.StateResolvedImpossible.Label(), HelpText: "It is not possible to fix the bug."}
	case ActionResolveUnreproducible:
		return Choice{ID: id, Label: models.StateResolvedUnreproducible.Label(),
			HelpText: "You could not reproduce the bug, or require more information to do so."}
	case ActionResolveNotABug:
		return Choice{ID: id, Label: models.StateResolvedNotABug.Label(), HelpText: "The bug is by design or intentional."}
	}
	return Choice{ID: id, Label: string(id)}
}

// Validate checks sub against the current bug without queuing anything.
// All violated rules are reported together.
func (m *Mutator) Validate(sub Submission) error {
	var msgs []string

	if !m.Allows(sub.Action) {
		msgs = append(msgs, fmt.Sprintf("%q is not a legal action for this bug.", sub.Action))
	}

	if m.bug == nil {
		if strings.TrimSpace(sub.Title) == "" {
			msgs = append(msgs, "A title is required.")
		}
		if sub.Project == nil {
			msgs = append(msgs, "You must pick a project.")
		} else if !sub.Project.IsActive {
			msgs = append(msgs, fmt.Sprintf("The project %s is retired.", sub.Project.Name))
		}
	}

	if sub.Priority != 0 && !sub.Priority.IsValid() {
		msgs = append(msgs, fmt.Sprintf("%d is not a valid priority.", int(sub.Priority)))
	}

	if sub.AssignTo != nil && !sub.AssignTo.IsActive {
		msgs = append(msgs, fmt.Sprintf("%s is not an active user.", sub.AssignTo.ShortName()))
	}

	if sub.Action == ActionEntrust && sub.AssignTo == nil && (m.bug == nil || !m.bug.IsAssigned()) {
		msgs = append(msgs, "You must assign the bug to entrust it.")
	}

	if sub.Action == ActionReopen && strings.TrimSpace(sub.Comment) == "" {
		msgs = append(msgs, "You must leave a comment to reopen the bug.")
	}

	if len(msgs) > 0 {
		return &ValidationError{Messages: msgs}
	}
	return nil
}

// Process validates sub and returns an uncommitted action holding the
// resulting operations. The caller commits it inside the transaction that
// loaded the bug.
func (m *Mutator) Process(sub Submission) (*models.Action, error) {
	if err := m.Validate(sub); err != nil {
		return nil, err
	}
	action := m.perform(sub)
	if action.PendingCount() == 0 {
		return nil, &ValidationError{Messages: []string{"Do something at least."}}
	}
	return action, nil
}

func (m *Mutator) perform(sub Submission) *models.Action {
	var action *models.Action
	if m.bug != nil {
		action = models.NewEditAction(m.bug, m.history, m.user)
		if sub.Priority != 0 && sub.Priority != m.bug.Priority {
			action.QueuePriority(sub.Priority)
		}
		if title := strings.TrimSpace(sub.Title); title != "" && title != m.bug.Title {
			action.QueueTitle(title)
		}
	} else {
		priority := sub.Priority
		if priority == 0 {
			priority = models.PriorityMedium
		}
		state := models.StateNew
		if sub.AssignTo != nil {
			state = models.StateEntrusted
		}
		action = models.NewBugAction(m.user, strings.TrimSpace(sub.Title), sub.Project, priority, state)
	}

	if strings.TrimSpace(sub.Comment) != "" {
		action.QueueComment(sub.Comment)
	}

	if target := m.assignee(sub); target != nil && target.ID != action.Bug.AssignedToID {
		action.QueueAssignment(target)
	}

	if s, ok := sub.Action.State(); ok {
		action.QueueState(s)
	}

	for _, file := range sub.Attachments {
		action.QueueAttachment(file)
	}
	return action
}

// assignee picks the assignment target: the submitted user, else the creator
// when resolving, else the latest resolver when reopening or verifying.
func (m *Mutator) assignee(sub Submission) *models.User {
	switch {
	case sub.AssignTo != nil:
		return sub.AssignTo
	case sub.Action.IsResolve() && m.bug != nil:
		return m.bug.CreatedBy
	case sub.Action == ActionReopen || sub.Action == ActionVerify:
		return m.latestResolver
	}
	return nil
}

// CheckBulk verifies that id is legal for every mutator. It fails without
// naming a single bug: the whole batch is rejected.
func CheckBulk(mutators []*Mutator, id ActionID) error {
	sets := make([][]ActionID, 0, len(mutators))
	for _, m := range mutators {
		sets = append(sets, m.Actions())
	}
	if !slices.Contains(Intersection(sets...), id) {
		return &ValidationError{Messages: []string{
			fmt.Sprintf("%q is not a legal action for every selected bug.", id),
		}}
	}
	return nil
}
