package mutation

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/buggy/internal/models"
	"github.com/joescharf/buggy/internal/store"
	"github.com/joescharf/buggy/internal/workflow"
)

type recordingNotifier struct {
	mu      sync.Mutex
	actions []*models.Action
	err     error
}

func (n *recordingNotifier) Notify(_ context.Context, a *models.Action) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.actions = append(n.actions, a)
	return n.err
}

type env struct {
	svc      *Service
	store    *store.SQLiteStore
	notifier *recordingNotifier
	ada      *models.User
	grace    *models.User
	web      *models.Project
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { s.Close() })

	e := &env{
		store:    s,
		notifier: &recordingNotifier{},
		ada:      &models.User{Username: "ada", Name: "Ada", Email: "ada@example.com", IsActive: true},
		grace:    &models.User{Username: "grace", Email: "grace@example.com", IsActive: true},
		web:      &models.Project{Name: "Web", IsActive: true},
	}
	require.NoError(t, s.CreateUser(ctx, e.ada))
	require.NoError(t, s.CreateUser(ctx, e.grace))
	require.NoError(t, s.CreateProject(ctx, e.web))
	e.svc = NewService(s, e.notifier, zerolog.Nop())
	return e
}

func (e *env) create(t *testing.T, title string) *models.Bug {
	t.Helper()
	a, err := e.svc.Submit(context.Background(), e.ada, 0, workflow.Submission{
		Action: workflow.ActionCreate, Title: title, Project: e.web,
	})
	require.NoError(t, err)
	return a.Bug
}

func TestSubmit_CreateAndEdit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	bug := e.create(t, "Hello")

	a, err := e.svc.Submit(ctx, e.grace, bug.ID, workflow.Submission{
		Action: workflow.ActionComment, Comment: "World",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, a.Order)
	assert.Equal(t, "grace commented on the bug", a.Description())

	got, err := e.store.GetBug(ctx, bug.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Fulltext, "Hello")
	assert.Contains(t, got.Fulltext, "World")

	history, err := e.store.ListActions(ctx, bug.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	assert.Len(t, e.notifier.actions, 2)
}

func TestSubmit_ValidationErrorPersistsNothing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	bug := e.create(t, "Hello")

	_, err := e.svc.Submit(ctx, e.ada, bug.ID, workflow.Submission{Action: workflow.ActionEntrust})
	var verr *workflow.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"You must assign the bug to entrust it."}, verr.Messages)

	history, err := e.store.ListActions(ctx, bug.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Len(t, e.notifier.actions, 1)
}

func TestSubmit_ResolveReopenCycle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	bug := e.create(t, "Hello")

	_, err := e.svc.Submit(ctx, e.ada, bug.ID, workflow.Submission{Action: workflow.ActionEntrust, AssignTo: e.grace})
	require.NoError(t, err)

	// grace resolves: goes back to the creator.
	_, err = e.svc.Submit(ctx, e.grace, bug.ID, workflow.Submission{Action: workflow.ActionResolveFixed})
	require.NoError(t, err)
	got, err := e.store.GetBug(ctx, bug.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateResolvedFixed, got.State)
	assert.Equal(t, e.ada.ID, got.AssignedToID)

	actions, err := e.svc.LegalActions(ctx, e.ada, bug.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []workflow.ActionID{
		workflow.ActionComment, workflow.ActionVerify, workflow.ActionReopen, workflow.ActionPushLive, workflow.ActionClose,
	}, actions)

	choices, err := e.svc.Choices(ctx, e.ada, bug.ID)
	require.NoError(t, err)
	assert.Contains(t, choices[0].HelpText, "assigned to grace")

	// ada reopens: goes back to the resolver.
	_, err = e.svc.Submit(ctx, e.ada, bug.ID, workflow.Submission{Action: workflow.ActionReopen, Comment: "nope"})
	require.NoError(t, err)
	got, err = e.store.GetBug(ctx, bug.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateReopened, got.State)
	assert.Equal(t, e.grace.ID, got.AssignedToID)
}

func TestSubmit_PrepareHook(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	bug := e.create(t, "Hello")

	_, err := e.svc.Submit(ctx, e.ada, bug.ID, workflow.Submission{Action: workflow.ActionComment, Comment: "x"},
		WithPrepare(func(_ *workflow.Mutator, _ *models.Bug, history []*models.Action, _ *workflow.Submission) error {
			assert.Len(t, history, 1)
			return ErrSkipped
		}))
	assert.ErrorIs(t, err, ErrSkipped)

	a, err := e.svc.Submit(ctx, e.ada, bug.ID, workflow.Submission{Action: workflow.ActionComment, Comment: "x"},
		WithPrepare(func(m *workflow.Mutator, _ *models.Bug, _ []*models.Action, sub *workflow.Submission) error {
			if m.Allows(workflow.ActionResolveFixed) {
				sub.Action = workflow.ActionResolveFixed
			}
			return nil
		}))
	require.NoError(t, err)
	require.NotNil(t, a.SetState)
	assert.Equal(t, models.StateResolvedFixed, a.SetState.State)
}

func TestSubmit_NotifierFailureDoesNotRollBack(t *testing.T) {
	e := newEnv(t)
	e.notifier.err = errors.New("smtp down")

	bug := e.create(t, "Hello")
	got, err := e.store.GetBug(context.Background(), bug.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", got.Title)
}

func TestSubmit_MissingBug(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Submit(context.Background(), e.ada, 42, workflow.Submission{Action: workflow.ActionComment, Comment: "x"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBulk_RejectsWhenAnyBugCannot(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.create(t, "A")
	b := e.create(t, "B")

	_, err := e.svc.Submit(ctx, e.ada, a.ID, workflow.Submission{Action: workflow.ActionResolveFixed})
	require.NoError(t, err)

	legal, err := e.svc.BulkActions(ctx, e.ada, []int64{a.ID, b.ID})
	require.NoError(t, err)
	assert.Equal(t, []workflow.ActionID{workflow.ActionComment}, legal)

	before := len(e.notifier.actions)
	_, err = e.svc.Bulk(ctx, e.ada, []int64{a.ID, b.ID}, workflow.Submission{Action: workflow.ActionVerify})
	var verr *workflow.ValidationError
	require.ErrorAs(t, err, &verr)

	historyA, err := e.store.ListActions(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, historyA, 2)
	historyB, err := e.store.ListActions(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, historyB, 1)

	gotB, err := e.store.GetBug(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateNew, gotB.State)
	assert.Equal(t, before, len(e.notifier.actions))
}

func TestBulk_AllOrNothingOnProcessError(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.create(t, "A")
	b := e.create(t, "B")

	// b already assigned to grace; a is not. Entrust without assignee fails for a only.
	_, err := e.svc.Submit(ctx, e.ada, b.ID, workflow.Submission{Action: workflow.ActionComment, AssignTo: e.grace})
	require.NoError(t, err)

	_, err = e.svc.Bulk(ctx, e.ada, []int64{b.ID, a.ID}, workflow.Submission{Action: workflow.ActionEntrust})
	var verr *workflow.ValidationError
	require.ErrorAs(t, err, &verr)

	gotB, err := e.store.GetBug(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateNew, gotB.State, "b must not be entrusted when a fails")
}

func TestBulk_Success(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.create(t, "A")
	b := e.create(t, "B")

	actions, err := e.svc.Bulk(ctx, e.grace, []int64{a.ID, b.ID, a.ID}, workflow.Submission{
		Action: workflow.ActionResolveImpossible, Comment: "won't happen",
	})
	require.NoError(t, err)
	require.Len(t, actions, 2)

	for _, id := range []int64{a.ID, b.ID} {
		got, err := e.store.GetBug(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StateResolvedImpossible, got.State)
	}

	_, err = e.svc.Bulk(ctx, e.grace, nil, workflow.Submission{Action: workflow.ActionComment})
	assert.Error(t, err)
}

func TestDetail_MasksChecksum(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	bug := e.create(t, "Hello")

	got, history, err := e.svc.Detail(ctx, "#"+bug.Number())
	require.NoError(t, err)
	assert.Equal(t, bug.ID, got.ID)
	assert.Len(t, history, 1)

	n := bug.Number()
	last := n[len(n)-1]
	bad := n[:len(n)-1] + string('0'+(last-'0'+1)%10)
	_, _, err = e.svc.Detail(ctx, bad)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFindUser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	u, err := e.svc.FindUser(ctx, "Grace")
	require.NoError(t, err)
	assert.Equal(t, e.grace.ID, u.ID)

	u, err = e.svc.FindUser(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, e.ada.ID, u.ID)

	_, err = e.svc.FindUser(ctx, "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
