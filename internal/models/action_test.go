package models

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memWriter is an in-memory ActionWriter.
type memWriter struct {
	nextBug     int64
	bugs        map[int64]Bug
	actions     []*Action
	operations  map[string][]Operation
	pendingSeen []int
	failOn      OperationKind
}

func newMemWriter() *memWriter {
	return &memWriter{
		bugs:       make(map[int64]Bug),
		operations: make(map[string][]Operation),
	}
}

func (w *memWriter) SaveBug(_ context.Context, b *Bug) error {
	if b.ID == 0 {
		w.nextBug++
		b.ID = w.nextBug
	}
	w.bugs[b.ID] = *b
	return nil
}

func (w *memWriter) InsertAction(_ context.Context, a *Action) error {
	w.pendingSeen = append(w.pendingSeen, a.PendingCount())
	a.ID = fmt.Sprintf("action-%d-%d", a.BugID, a.Order)
	w.actions = append(w.actions, a)
	return nil
}

func (w *memWriter) InsertOperation(_ context.Context, a *Action, seq int, op Operation) error {
	if op.Kind() == w.failOn {
		return errors.New("disk full")
	}
	if len(w.operations[a.ID]) != seq {
		return fmt.Errorf("out of order seq %d", seq)
	}
	w.operations[a.ID] = append(w.operations[a.ID], op)
	return nil
}

// reload rebuilds a committed action the way a store would.
func (w *memWriter) reload(a *Action) *Action {
	fresh := &Action{ID: a.ID, BugID: a.BugID, User: a.User, UserID: a.UserID, Order: a.Order}
	for _, op := range w.operations[a.ID] {
		fresh.Record(op)
	}
	return fresh
}

var (
	ada   = &User{ID: "u1", Username: "ada", Name: "Ada Lovelace", IsActive: true}
	grace = &User{ID: "u2", Username: "grace", IsActive: true}
	web   = &Project{ID: "p1", Name: "Web", IsActive: true}
)

func kinds(a *Action) []OperationKind {
	var out []OperationKind
	for op := range a.Operations() {
		out = append(out, op.Kind())
	}
	return out
}

func TestNewBugAction_Commit(t *testing.T) {
	w := newMemWriter()
	a := NewBugAction(ada, "title", web, PriorityUrgent, StateNew)
	assert.Equal(t, 0, a.Order)
	assert.Equal(t, []OperationKind{KindSetTitle, KindSetProject, KindSetPriority, KindSetState}, kinds(a))

	require.NoError(t, a.Commit(context.Background(), w))

	require.Len(t, w.bugs, 1)
	bug := w.bugs[a.Bug.ID]
	assert.Equal(t, "title", bug.Title)
	assert.Equal(t, "p1", bug.ProjectID)
	assert.Equal(t, PriorityHigh, bug.Priority)
	assert.Equal(t, StateNew, bug.State)
	assert.Equal(t, "u1", bug.CreatedByID)
	assert.Contains(t, bug.Fulltext, "title")

	require.Len(t, w.actions, 1)
	assert.Equal(t, 0, w.actions[0].Order)
	assert.Equal(t, a.Bug.ID, a.BugID)
}

func TestNewEditAction_Order(t *testing.T) {
	w := newMemWriter()
	ctx := context.Background()

	first := NewBugAction(ada, "Hello", web, PriorityMedium, StateNew)
	require.NoError(t, first.Commit(ctx, w))

	edit := NewEditAction(first.Bug, []*Action{first}, grace)
	assert.Equal(t, 1, edit.Order)
	edit.QueueTitle("Renamed")
	edit.QueueComment("World")
	require.NoError(t, edit.Commit(ctx, w))

	assert.Len(t, w.actions, 2)
	bug := w.bugs[first.Bug.ID]
	assert.Equal(t, "Renamed", bug.Title)
	assert.Contains(t, bug.Fulltext, "Hello")
	assert.Contains(t, bug.Fulltext, "World")
	assert.Contains(t, bug.Fulltext, "Renamed")
	assert.Equal(t, "Hello", edit.SetTitle.PreviousTitle)

	third := NewEditAction(first.Bug, []*Action{edit, first}, ada)
	assert.Equal(t, 2, third.Order)
}

func TestCommit_ClearsPendingBeforeWriting(t *testing.T) {
	w := newMemWriter()
	a := NewBugAction(ada, "t", web, PriorityLow, StateNew)
	require.NoError(t, a.Commit(context.Background(), w))
	assert.Equal(t, []int{0}, w.pendingSeen)
	assert.Equal(t, 0, a.PendingCount())
}

func TestCommit_Twice(t *testing.T) {
	w := newMemWriter()
	a := NewBugAction(ada, "t", web, PriorityLow, StateNew)
	require.NoError(t, a.Commit(context.Background(), w))
	assert.Error(t, a.Commit(context.Background(), w))
}

func TestCommit_PropagatesWriterError(t *testing.T) {
	w := newMemWriter()
	w.failOn = KindSetState
	a := NewBugAction(ada, "t", web, PriorityLow, StateNew)
	err := a.Commit(context.Background(), w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestOperations_StableAcrossCommit(t *testing.T) {
	w := newMemWriter()
	ctx := context.Background()
	first := NewBugAction(ada, "t", web, PriorityLow, StateNew)
	require.NoError(t, first.Commit(ctx, w))

	edit := NewEditAction(first.Bug, []*Action{first}, ada)
	edit.QueuePriority(PriorityHigh)
	edit.QueueComment("looking")
	edit.QueueAssignment(grace)
	edit.QueueState(StateEntrusted)
	edit.QueueAttachment("attachments/15/x/a.png")
	edit.QueueAttachment("attachments/15/y/b.txt")

	want := []OperationKind{KindSetPriority, KindComment, KindSetAssignment, KindSetState, KindAddAttachment, KindAddAttachment}
	assert.Equal(t, want, kinds(edit))

	require.NoError(t, edit.Commit(ctx, w))
	assert.Equal(t, want, kinds(edit))
	assert.Equal(t, want, kinds(w.reload(edit)))

	require.NotNil(t, edit.SetAssignment)
	assert.Equal(t, "u2", w.bugs[first.Bug.ID].AssignedToID)
	assert.Len(t, edit.Attachments, 2)
}

func TestOperations_StopsEarly(t *testing.T) {
	a := NewBugAction(ada, "t", web, PriorityLow, StateNew)
	var seen int
	for range a.Operations() {
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)
}

func TestAction_Description(t *testing.T) {
	a := NewEditAction(&Bug{ID: 1}, nil, ada)
	a.QueueComment("hi")
	assert.Equal(t, "Ada Lovelace commented on the bug", a.Description())

	a.QueueState(StateResolvedFixed)
	a.QueueAssignment(grace)
	assert.Equal(t, "Ada Lovelace commented on the bug, changed the state to Fixed and assigned the bug to grace", a.Description())

	b := NewEditAction(&Bug{ID: 1}, nil, grace)
	b.QueueProject(web)
	b.QueuePriority(PriorityHigh)
	b.QueueAttachment("x.png")
	assert.Equal(t, "grace set the priority to High and added 1 attachment", b.Description())
	b.QueueAttachment("y.png")
	assert.Equal(t, "grace set the priority to High and added 2 attachments", b.Description())
}

func TestLatestResolver(t *testing.T) {
	mk := func(order int, user *User, state State) *Action {
		a := &Action{Order: order, User: user}
		a.Record(&SetState{State: state})
		return a
	}
	history := []*Action{
		mk(0, ada, StateNew),
		mk(1, grace, StateResolvedFixed),
		mk(2, ada, StateReopened),
		mk(3, ada, StateResolvedDuplicate),
		mk(4, grace, StateVerified),
	}
	assert.Equal(t, ada, LatestResolver(history))

	slices.Reverse(history)
	assert.Equal(t, ada, LatestResolver(history))
	assert.Nil(t, LatestResolver(history[4:]))
}

func TestAddAttachment_Helpers(t *testing.T) {
	a := &AddAttachment{File: "attachments/15/abc/Screen.PNG"}
	assert.Equal(t, "Screen.PNG", a.Basename())
	assert.Equal(t, ".png", a.Extension())
	assert.True(t, a.IsImage())
	assert.False(t, (&AddAttachment{File: "log.txt"}).IsImage())
}

func TestJoinAnd(t *testing.T) {
	assert.Equal(t, "", JoinAnd(nil))
	assert.Equal(t, "a", JoinAnd([]string{"a"}))
	assert.Equal(t, "a and b", JoinAnd([]string{"a", "b"}))
	assert.Equal(t, "a, b and c", JoinAnd([]string{"a", "b", "c"}))
}

func TestBug_Number(t *testing.T) {
	assert.Equal(t, "", (&Bug{}).Number())
	assert.Equal(t, "2363", (&Bug{ID: 236}).Number())
}
