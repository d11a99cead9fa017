package models

import (
	"context"
	"fmt"
	"iter"
	"time"
)

// ActionWriter persists a committed action. Implementations run all three
// calls inside one transaction.
type ActionWriter interface {
	// SaveBug inserts the bug when its ID is zero and updates it otherwise.
	SaveBug(ctx context.Context, b *Bug) error
	InsertAction(ctx context.Context, a *Action) error
	InsertOperation(ctx context.Context, a *Action, seq int, op Operation) error
}

// Action is one ordered entry of a bug's append-only log. It is built in
// memory, populated with pending operations and committed once.
type Action struct {
	ID        string
	BugID     int64
	Bug       *Bug
	UserID    string
	User      *User
	CreatedAt time.Time
	// Order is unique per bug and strictly increasing from 0.
	Order int

	// Persisted operations. At most one of each, except attachments.
	Comment       *Comment
	SetTitle      *SetTitle
	SetAssignment *SetAssignment
	SetState      *SetState
	SetPriority   *SetPriority
	SetProject    *SetProject
	Attachments   []*AddAttachment

	pending   []Operation
	persisted []Operation
}

// NewBugAction starts the order-0 action that creates a bug. The returned
// action carries an unsaved Bug and has title, project, priority and state
// operations queued.
func NewBugAction(user *User, title string, project *Project, priority Priority, state State) *Action {
	bug := &Bug{
		CreatedByID: user.ID,
		CreatedBy:   user,
	}
	a := &Action{
		Bug:    bug,
		UserID: user.ID,
		User:   user,
		Order:  0,
	}
	a.QueueTitle(title)
	a.QueueProject(project)
	a.QueuePriority(priority)
	a.QueueState(state)
	return a
}

// NewEditAction starts an action on an existing bug. history must hold every
// action already committed for the bug; the new order is one past the max.
func NewEditAction(bug *Bug, history []*Action, user *User) *Action {
	order := 0
	for _, h := range history {
		if h.Order+1 > order {
			order = h.Order + 1
		}
	}
	return &Action{
		BugID:  bug.ID,
		Bug:    bug,
		UserID: user.ID,
		User:   user,
		Order:  order,
	}
}

func (a *Action) queue(op Operation) {
	a.pending = append(a.pending, op)
}

// QueueTitle queues a SetTitle.
func (a *Action) QueueTitle(title string) *SetTitle {
	op := &SetTitle{Title: title}
	a.queue(op)
	return op
}

// QueueProject queues a SetProject.
func (a *Action) QueueProject(p *Project) *SetProject {
	op := &SetProject{Project: p}
	a.queue(op)
	return op
}

// QueuePriority queues a SetPriority.
func (a *Action) QueuePriority(p Priority) *SetPriority {
	op := &SetPriority{Priority: p}
	a.queue(op)
	return op
}

// QueueState queues a SetState.
func (a *Action) QueueState(s State) *SetState {
	op := &SetState{State: s}
	a.queue(op)
	return op
}

// QueueAssignment queues a SetAssignment. A nil user clears the assignee.
func (a *Action) QueueAssignment(u *User) *SetAssignment {
	op := &SetAssignment{AssignedTo: u}
	a.queue(op)
	return op
}

// QueueComment queues a Comment.
func (a *Action) QueueComment(text string) *Comment {
	op := &Comment{Text: text}
	a.queue(op)
	return op
}

// QueueAttachment queues an AddAttachment for a stored file.
func (a *Action) QueueAttachment(file string) *AddAttachment {
	op := &AddAttachment{File: file}
	a.queue(op)
	return op
}

// PendingCount is the number of operations queued but not committed.
func (a *Action) PendingCount() int { return len(a.pending) }

// IsCommitted reports whether the action has been persisted.
func (a *Action) IsCommitted() bool { return a.ID != "" }

// Record attaches an already persisted operation, in sequence order. Stores
// call it when loading an action and Commit calls it after each insert.
func (a *Action) Record(op Operation) {
	switch o := op.(type) {
	case *Comment:
		a.Comment = o
	case *SetTitle:
		a.SetTitle = o
	case *SetAssignment:
		a.SetAssignment = o
	case *SetState:
		a.SetState = o
	case *SetPriority:
		a.SetPriority = o
	case *SetProject:
		a.SetProject = o
	case *AddAttachment:
		a.Attachments = append(a.Attachments, o)
		return
	}
	a.persisted = append(a.persisted, op)
}

// Operations yields pending operations first, in queue order, then the
// persisted single-valued operations in the order they were queued, then the
// persisted attachments. The sequence is the same before and after Commit.
func (a *Action) Operations() iter.Seq[Operation] {
	return func(yield func(Operation) bool) {
		for _, op := range a.pending {
			if !yield(op) {
				return
			}
		}
		for _, op := range a.persisted {
			if !yield(op) {
				return
			}
		}
		for _, op := range a.Attachments {
			if !yield(op) {
				return
			}
		}
	}
}

// Commit applies the pending operations to the bug and persists the bug, the
// action and each operation through w. The pending list is cleared before
// anything is written so writers observing the action never see it twice.
// The caller owns the transaction: on error it must roll back.
func (a *Action) Commit(ctx context.Context, w ActionWriter) error {
	if a.IsCommitted() {
		return fmt.Errorf("commit action: already committed")
	}
	pending := a.pending
	a.pending = nil

	for _, op := range pending {
		op.Apply(a.Bug)
	}

	if err := w.SaveBug(ctx, a.Bug); err != nil {
		return fmt.Errorf("commit action: %w", err)
	}
	a.BugID = a.Bug.ID

	if err := w.InsertAction(ctx, a); err != nil {
		return fmt.Errorf("commit action: %w", err)
	}

	for seq, op := range pending {
		if err := w.InsertOperation(ctx, a, seq, op); err != nil {
			return fmt.Errorf("commit action: %w", err)
		}
		a.Record(op)
	}
	return nil
}

// Description summarises the action for activity feeds, for example
// "Ada commented on the bug and changed the state to Fixed".
func (a *Action) Description() string {
	var items []string
	attachments := 0
	for op := range a.Operations() {
		if op.Kind() == KindAddAttachment {
			attachments++
			continue
		}
		if d := op.Description(); d != "" {
			items = append(items, d)
		}
	}
	if attachments > 0 {
		items = append(items, attachmentsClause(attachments))
	}
	return a.User.ShortName() + " " + JoinAnd(items)
}

// ResolvedState returns the resolved state this action moved the bug to.
func (a *Action) ResolvedState() (State, bool) {
	if a.SetState != nil && a.SetState.State.IsResolved() {
		return a.SetState.State, true
	}
	return "", false
}

// LatestResolver returns the user of the newest action in history that moved
// the bug into a resolved state, or nil.
func LatestResolver(history []*Action) *User {
	var latest *Action
	for _, h := range history {
		if _, ok := h.ResolvedState(); !ok {
			continue
		}
		if latest == nil || h.Order > latest.Order {
			latest = h
		}
	}
	if latest == nil {
		return nil
	}
	return latest.User
}
