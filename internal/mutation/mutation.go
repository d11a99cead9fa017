// Package mutation is the single entry point for changing bugs. Forms, the
// REST API, MCP tools, the webhook and the commit scanner all submit through
// Service so they behave identically.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/joescharf/buggy/internal/models"
	"github.com/joescharf/buggy/internal/store"
	"github.com/joescharf/buggy/internal/workflow"
)

// ErrSkipped is returned by a Prepare hook to abort a submission without
// treating it as a failure.
var ErrSkipped = errors.New("submission skipped")

// Notifier receives every committed action after its transaction succeeded.
type Notifier interface {
	Notify(ctx context.Context, action *models.Action) error
}

// Prepare runs inside the write transaction after the bug is locked and
// before validation. It may rewrite the submission or abort with an error.
type Prepare func(m *workflow.Mutator, bug *models.Bug, history []*models.Action, sub *workflow.Submission) error

// SubmitOption configures Submit.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	prepare []Prepare
}

// WithPrepare adds a hook that runs before validation.
func WithPrepare(p Prepare) SubmitOption {
	return func(o *submitOptions) { o.prepare = append(o.prepare, p) }
}

// Service orchestrates workflow validation and action commits.
type Service struct {
	store    store.Store
	notifier Notifier
	log      zerolog.Logger
}

// NewService returns a Service. notifier may be nil.
func NewService(s store.Store, notifier Notifier, log zerolog.Logger) *Service {
	return &Service{store: s, notifier: notifier, log: log}
}

// Store exposes the underlying store for read-only callers.
func (s *Service) Store() store.Store { return s.store }

// Choices returns the action picker for user on a bug. bugID zero means a
// bug being created.
func (s *Service) Choices(ctx context.Context, user *models.User, bugID int64) ([]workflow.Choice, error) {
	m, err := s.mutator(ctx, user, bugID)
	if err != nil {
		return nil, err
	}
	return m.Choices(), nil
}

// LegalActions returns the submittable action ids for a bug.
func (s *Service) LegalActions(ctx context.Context, user *models.User, bugID int64) ([]workflow.ActionID, error) {
	m, err := s.mutator(ctx, user, bugID)
	if err != nil {
		return nil, err
	}
	return m.Actions(), nil
}

// BulkActions returns the actions legal for every listed bug.
func (s *Service) BulkActions(ctx context.Context, user *models.User, bugIDs []int64) ([]workflow.ActionID, error) {
	var sets [][]workflow.ActionID
	for _, id := range dedupe(bugIDs) {
		actions, err := s.LegalActions(ctx, user, id)
		if err != nil {
			return nil, err
		}
		sets = append(sets, actions)
	}
	return workflow.Intersection(sets...), nil
}

func (s *Service) mutator(ctx context.Context, user *models.User, bugID int64) (*workflow.Mutator, error) {
	if bugID == 0 {
		return workflow.NewMutator(user, nil, nil), nil
	}
	bug, err := s.store.GetBug(ctx, bugID)
	if err != nil {
		return nil, err
	}
	history, err := s.store.ListActions(ctx, bugID)
	if err != nil {
		return nil, err
	}
	return workflow.NewMutator(user, bug, history), nil
}

// Submit validates sub against the bug and commits the resulting action in
// one transaction. bugID zero creates a bug. Validation failures come back
// as *workflow.ValidationError with nothing persisted.
func (s *Service) Submit(ctx context.Context, user *models.User, bugID int64, sub workflow.Submission, opts ...SubmitOption) (*models.Action, error) {
	var o submitOptions
	for _, opt := range opts {
		opt(&o)
	}

	var committed *models.Action
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		var (
			bug     *models.Bug
			history []*models.Action
			err     error
		)
		if bugID != 0 {
			if bug, err = tx.LockBug(ctx, bugID); err != nil {
				return err
			}
			if history, err = tx.ListActions(ctx, bugID); err != nil {
				return err
			}
		}

		m := workflow.NewMutator(user, bug, history)
		for _, p := range o.prepare {
			if err := p(m, bug, history, &sub); err != nil {
				return err
			}
		}

		action, err := m.Process(sub)
		if err != nil {
			return err
		}
		if err := action.Commit(ctx, tx); err != nil {
			return err
		}
		committed = action
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug().
		Str("bug", committed.Bug.Number()).
		Int("order", committed.Order).
		Str("user", user.Username).
		Msg(committed.Description())

	s.afterCommit(ctx, committed)
	return committed, nil
}

// Bulk performs the same submission on several bugs in one transaction. The
// action must be legal for every bug; any failure rolls back the whole batch.
func (s *Service) Bulk(ctx context.Context, user *models.User, bugIDs []int64, sub workflow.Submission) ([]*models.Action, error) {
	ids := dedupe(bugIDs)
	if len(ids) == 0 {
		return nil, &workflow.ValidationError{Messages: []string{"Select at least one bug."}}
	}

	var committed []*models.Action
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		mutators := make([]*workflow.Mutator, 0, len(ids))
		for _, id := range ids {
			bug, err := tx.LockBug(ctx, id)
			if err != nil {
				return err
			}
			history, err := tx.ListActions(ctx, id)
			if err != nil {
				return err
			}
			mutators = append(mutators, workflow.NewMutator(user, bug, history))
		}

		if err := workflow.CheckBulk(mutators, sub.Action); err != nil {
			return err
		}

		for i, m := range mutators {
			action, err := m.Process(sub)
			if err != nil {
				return fmt.Errorf("bug %d: %w", ids[i], err)
			}
			if err := action.Commit(ctx, tx); err != nil {
				return err
			}
			committed = append(committed, action)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, a := range committed {
		s.afterCommit(ctx, a)
	}
	return committed, nil
}

// afterCommit hands the action to the notifier. Failures are logged only:
// the mutation is already durable.
func (s *Service) afterCommit(ctx context.Context, a *models.Action) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, a); err != nil {
		s.log.Warn().Err(err).Str("bug", a.Bug.Number()).Int("order", a.Order).Msg("notification failed")
	}
}

// Detail resolves a public bug number and loads its history. A bad check
// digit and a missing bug both return store.ErrNotFound.
func (s *Service) Detail(ctx context.Context, number string) (*models.Bug, []*models.Action, error) {
	bug, err := s.store.GetBugByNumber(ctx, strings.TrimPrefix(number, "#"))
	if err != nil {
		return nil, nil, err
	}
	history, err := s.store.ListActions(ctx, bug.ID)
	if err != nil {
		return nil, nil, err
	}
	for _, a := range history {
		a.Bug = bug
	}
	return bug, history, nil
}

// FindUser resolves a user by username, falling back to email.
func (s *Service) FindUser(ctx context.Context, ident string) (*models.User, error) {
	u, err := s.store.GetUserByUsername(ctx, ident)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) || !strings.Contains(ident, "@") {
		return nil, err
	}
	return s.store.GetUserByEmail(ctx, ident)
}

func dedupe(ids []int64) []int64 {
	var out []int64
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
