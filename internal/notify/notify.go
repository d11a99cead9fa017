// Package notify tells users about actions that concern them: being
// assigned a bug or being mentioned in a comment.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/rs/zerolog"

	"github.com/joescharf/buggy/internal/models"
)

// Reason says why a user is notified.
type Reason string

const (
	ReasonAssigned  Reason = "assigned"
	ReasonMentioned Reason = "mentioned"
)

// Recipient is one notification to send.
type Recipient struct {
	User   *models.User
	Reason Reason
}

// Recipients picks who hears about action. The actor is never notified and
// nobody is notified twice: the new assignee first, then every mentioned user.
func Recipients(action *models.Action, mentioned []*models.User) []Recipient {
	seen := map[string]bool{action.UserID: true}
	var out []Recipient

	if a := action.SetAssignment; a != nil && a.AssignedTo != nil && !seen[a.AssignedTo.ID] {
		seen[a.AssignedTo.ID] = true
		out = append(out, Recipient{User: a.AssignedTo, Reason: ReasonAssigned})
	}

	if action.Comment != nil {
		for _, u := range mentioned {
			if seen[u.ID] {
				continue
			}
			seen[u.ID] = true
			out = append(out, Recipient{User: u, Reason: ReasonMentioned})
		}
	}
	return out
}

// MentionFinder extracts mentioned users from comment text.
// *markdown.Renderer satisfies it.
type MentionFinder interface {
	MentionedUsers(ctx context.Context, text string) ([]*models.User, error)
}

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

var templates = template.Must(template.New("mail").Parse(`
{{define "assigned.subject"}}[buggy] #{{.Number}} {{.Title}}{{end}}
{{define "assigned.body"}}{{.Actor}} assigned bug #{{.Number}} to you.

    {{.Title}}
{{if .Comment}}
{{.Comment}}
{{end}}
{{.URL}}
{{end}}
{{define "mentioned.subject"}}[buggy] #{{.Number}} {{.Title}}: {{.Actor}} mentioned you{{end}}
{{define "mentioned.body"}}{{.Actor}} mentioned you on bug #{{.Number}}.

    {{.Title}}

{{.Comment}}

{{.URL}}
{{end}}
`))

type mailData struct {
	Actor   string
	Number  string
	Title   string
	Comment string
	URL     string
}

// Dispatcher is the post-commit notification sink.
type Dispatcher struct {
	mailer   Mailer
	mentions MentionFinder
	baseURL  string
	log      zerolog.Logger
}

// NewDispatcher returns a Dispatcher. baseURL is used to link to bugs.
func NewDispatcher(mailer Mailer, mentions MentionFinder, baseURL string, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		mailer:   mailer,
		mentions: mentions,
		baseURL:  strings.TrimRight(baseURL, "/"),
		log:      log,
	}
}

// Notify sends one message per recipient of action. It keeps going after a
// failed send and returns every error joined.
func (d *Dispatcher) Notify(ctx context.Context, action *models.Action) error {
	var mentioned []*models.User
	if action.Comment != nil && d.mentions != nil {
		var err error
		mentioned, err = d.mentions.MentionedUsers(ctx, action.Comment.Text)
		if err != nil {
			return fmt.Errorf("find mentions: %w", err)
		}
	}

	var errs []error
	for _, r := range Recipients(action, mentioned) {
		if r.User.Email == "" {
			d.log.Debug().Str("user", r.User.Username).Msg("no email address, skipping notification")
			continue
		}
		msg, err := d.render(action, r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := d.mailer.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("send to %s: %w", r.User.Email, err))
			continue
		}
		d.log.Info().Str("to", r.User.Email).Str("reason", string(r.Reason)).Str("bug", action.Bug.Number()).Msg("notification sent")
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) render(action *models.Action, r Recipient) (Message, error) {
	data := mailData{
		Actor:  action.User.ShortName(),
		Number: action.Bug.Number(),
		Title:  action.Bug.Title,
		URL:    d.baseURL + "/bugs/" + action.Bug.Number(),
	}
	if action.Comment != nil {
		data.Comment = action.Comment.Text
	}

	var subject, body bytes.Buffer
	if err := templates.ExecuteTemplate(&subject, string(r.Reason)+".subject", data); err != nil {
		return Message{}, fmt.Errorf("render %s subject: %w", r.Reason, err)
	}
	if err := templates.ExecuteTemplate(&body, string(r.Reason)+".body", data); err != nil {
		return Message{}, fmt.Errorf("render %s body: %w", r.Reason, err)
	}
	return Message{
		To:      r.User.Email,
		Subject: strings.TrimSpace(subject.String()),
		Body:    strings.TrimLeft(body.String(), "\n"),
	}, nil
}
