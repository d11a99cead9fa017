// Package webhook turns commit messages into bug comments. GitHub push
// events arrive through Handler; `buggy scan` feeds local history to the
// same Processor so both paths share one idempotence rule.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/joescharf/buggy/internal/models"
	"github.com/joescharf/buggy/internal/mutation"
	"github.com/joescharf/buggy/internal/store"
	"github.com/joescharf/buggy/internal/workflow"
)

var bugRe = regexp.MustCompile(`(?i)(fix(?:e[ds])?(?:\s+bug(?:gy)?)?)?(?:\s+|^|\W+)#([0-9]+\b)`)

// ParseCommitMessage returns the bug numbers a commit message mentions and
// the ones it claims to fix, in order of first appearance. A number that is
// both mentioned and fixed is only reported as fixed.
func ParseCommitMessage(msg string) (mentions, fixes []string) {
	for _, m := range bugRe.FindAllStringSubmatch(msg, -1) {
		number := m[2]
		if m[1] != "" {
			if !slices.Contains(fixes, number) {
				fixes = append(fixes, number)
			}
			continue
		}
		if !slices.Contains(mentions, number) {
			mentions = append(mentions, number)
		}
	}
	mentions = slices.DeleteFunc(mentions, func(n string) bool { return slices.Contains(fixes, n) })
	return mentions, fixes
}

// Commit is the subset of a pushed commit the processor needs.
type Commit struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	URL     string `json:"url,omitempty"`
	Author  Author `json:"author"`
}

// Author identifies a commit author. Email is used to find the buggy user.
type Author struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Outcome reports what happened to one referenced bug.
type Outcome struct {
	Number  string            `json:"number"`
	Action  workflow.ActionID `json:"action,omitempty"`
	Skipped bool              `json:"skipped,omitempty"`
	Reason  string            `json:"reason,omitempty"`
}

// CommitProcessor handles one commit.
type CommitProcessor interface {
	ProcessCommit(ctx context.Context, c Commit) ([]Outcome, error)
}

// Processor comments on (or resolves) the bugs a commit references.
type Processor struct {
	svc *mutation.Service
	log zerolog.Logger
}

func NewProcessor(svc *mutation.Service, log zerolog.Logger) *Processor {
	return &Processor{svc: svc, log: log}
}

// ProcessCommit submits one mutation per referenced bug. Commits by unknown
// authors and references to unknown bugs are ignored. A bug that already has
// a comment containing the commit id is skipped, so replaying a commit is a
// no-op.
func (p *Processor) ProcessCommit(ctx context.Context, c Commit) ([]Outcome, error) {
	s := p.svc.Store()
	user, err := s.GetUserByEmail(ctx, c.Author.Email)
	if errors.Is(err, store.ErrNotFound) {
		p.log.Debug().Str("commit", c.ID).Str("email", c.Author.Email).Msg("unknown commit author")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find commit author: %w", err)
	}

	mentions, fixes := ParseCommitMessage(c.Message)
	var outcomes []Outcome
	for _, number := range slices.Concat(fixes, mentions) {
		fixed := slices.Contains(fixes, number)
		out, err := p.processBug(ctx, user, c, number, fixed)
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

func (p *Processor) processBug(ctx context.Context, user *models.User, c Commit, number string, fixed bool) (Outcome, error) {
	out := Outcome{Number: number}
	bug, err := p.svc.Store().GetBugByNumber(ctx, number)
	if errors.Is(err, store.ErrNotFound) {
		out.Skipped, out.Reason = true, "no such bug"
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("find bug %s: %w", number, err)
	}

	verb := "mentioned"
	if fixed {
		verb = "fixed"
	}
	sub := workflow.Submission{
		Action:  workflow.ActionComment,
		Comment: fmt.Sprintf("%s %s the bug in commit `%s`:\n\n%s", user.ShortName(), verb, c.ID, c.Message),
	}

	action, err := p.svc.Submit(ctx, user, bug.ID, sub, mutation.WithPrepare(
		func(m *workflow.Mutator, _ *models.Bug, history []*models.Action, sub *workflow.Submission) error {
			for _, a := range history {
				if a.Comment != nil && strings.Contains(a.Comment.Text, c.ID) {
					return mutation.ErrSkipped
				}
			}
			if fixed && m.Allows(workflow.ActionResolveFixed) {
				sub.Action = workflow.ActionResolveFixed
			}
			return nil
		}))

	var verr *workflow.ValidationError
	switch {
	case errors.Is(err, mutation.ErrSkipped):
		out.Skipped, out.Reason = true, "already processed"
		return out, nil
	case errors.As(err, &verr):
		p.log.Warn().Str("commit", c.ID).Str("bug", number).Err(err).Msg("commit rejected")
		out.Skipped, out.Reason = true, verr.Error()
		return out, nil
	case err != nil:
		return out, fmt.Errorf("process bug %s: %w", number, err)
	}

	out.Action = sub.Action
	if action.SetState != nil {
		out.Action = workflow.ActionResolveFixed
	}
	p.log.Info().Str("commit", c.ID).Str("bug", number).Str("action", string(out.Action)).Msg("commit processed")
	return out, nil
}
