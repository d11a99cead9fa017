package api

import (
	"context"
	"time"

	"github.com/joescharf/buggy/internal/models"
	"github.com/joescharf/buggy/internal/workflow"
)

type userView struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	IsActive bool   `json:"is_active"`
}

func newUserView(u *models.User) *userView {
	if u == nil {
		return nil
	}
	return &userView{ID: u.ID, Username: u.Username, Name: u.ShortName(), Email: u.Email, IsActive: u.IsActive}
}

type projectView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

func newProjectView(p *models.Project) *projectView {
	if p == nil {
		return nil
	}
	return &projectView{ID: p.ID, Name: p.Name, IsActive: p.IsActive}
}

type bugView struct {
	Number        string       `json:"number"`
	Title         string       `json:"title"`
	State         models.State `json:"state"`
	StateLabel    string       `json:"state_label"`
	Priority      int          `json:"priority"`
	PriorityLabel string       `json:"priority_label"`
	Project       *projectView `json:"project"`
	AssignedTo    *userView    `json:"assigned_to"`
	CreatedBy     *userView    `json:"created_by"`
	CreatedAt     time.Time    `json:"created_at"`
	ModifiedAt    time.Time    `json:"modified_at"`
}

func newBugView(b *models.Bug) bugView {
	return bugView{
		Number:        b.Number(),
		Title:         b.Title,
		State:         b.State,
		StateLabel:    b.State.Label(),
		Priority:      int(b.Priority),
		PriorityLabel: b.Priority.Label(),
		Project:       newProjectView(b.Project),
		AssignedTo:    newUserView(b.AssignedTo),
		CreatedBy:     newUserView(b.CreatedBy),
		CreatedAt:     b.CreatedAt,
		ModifiedAt:    b.ModifiedAt,
	}
}

type attachmentView struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	IsImage bool   `json:"is_image"`
}

type actionView struct {
	Order         int              `json:"order"`
	User          *userView        `json:"user"`
	CreatedAt     time.Time        `json:"created_at"`
	Description   string           `json:"description"`
	Comment       string           `json:"comment,omitempty"`
	CommentHTML   string           `json:"comment_html,omitempty"`
	Title         string           `json:"title,omitempty"`
	PreviousTitle string           `json:"previous_title,omitempty"`
	State         models.State     `json:"state,omitempty"`
	Priority      int              `json:"priority,omitempty"`
	AssignedTo    *userView        `json:"assigned_to,omitempty"`
	Unassigned    bool             `json:"unassigned,omitempty"`
	Project       *projectView     `json:"project,omitempty"`
	Attachments   []attachmentView `json:"attachments,omitempty"`
}

func (s *Server) newActionView(ctx context.Context, a *models.Action) (actionView, error) {
	v := actionView{
		Order:       a.Order,
		User:        newUserView(a.User),
		CreatedAt:   a.CreatedAt,
		Description: a.Description(),
	}
	if a.Comment != nil {
		v.Comment = a.Comment.Text
		if s.md != nil {
			res, err := s.md.Render(ctx, a.Comment.Text)
			if err != nil {
				return v, err
			}
			v.CommentHTML = res.HTML
		}
	}
	if a.SetTitle != nil {
		v.Title, v.PreviousTitle = a.SetTitle.Title, a.SetTitle.PreviousTitle
	}
	if a.SetState != nil {
		v.State = a.SetState.State
	}
	if a.SetPriority != nil {
		v.Priority = int(a.SetPriority.Priority)
	}
	if a.SetAssignment != nil {
		v.AssignedTo = newUserView(a.SetAssignment.AssignedTo)
		v.Unassigned = a.SetAssignment.AssignedTo == nil
	}
	if a.SetProject != nil {
		v.Project = newProjectView(a.SetProject.Project)
	}
	for _, att := range a.Attachments {
		v.Attachments = append(v.Attachments, attachmentView{
			Name:    att.Basename(),
			URL:     "/api/v1/bugs/" + a.Bug.Number() + "/attachments/" + att.File,
			IsImage: att.IsImage(),
		})
	}
	return v, nil
}

type bugDetail struct {
	bugView
	Actions []actionView      `json:"actions"`
	Choices []workflow.Choice `json:"choices,omitempty"`
}
