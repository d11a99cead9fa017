package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/buggy/internal/models"
)

var (
	ada   = &models.User{ID: "u1", Username: "ada", Name: "Ada", Email: "ada@example.com", IsActive: true}
	grace = &models.User{ID: "u2", Username: "grace", Email: "grace@example.com", IsActive: true}
	linus = &models.User{ID: "u3", Username: "linus", Email: "linus@example.com", IsActive: true}
	ghost = &models.User{ID: "u4", Username: "ghost", IsActive: true}
)

// committed builds an action as if loaded from the store.
func committed(actor *models.User, ops ...models.Operation) *models.Action {
	a := &models.Action{
		ID:     "a1",
		User:   actor,
		UserID: actor.ID,
		Bug:    &models.Bug{ID: 236, Title: "Login broken"},
	}
	for _, op := range ops {
		a.Record(op)
	}
	return a
}

type fakeMentions struct{ users []*models.User }

func (f fakeMentions) MentionedUsers(context.Context, string) ([]*models.User, error) {
	return f.users, nil
}

type captureMailer struct {
	sent []Message
	err  error
}

func (m *captureMailer) Send(_ context.Context, msg Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func TestRecipients_AssigneeAndMentions(t *testing.T) {
	a := committed(ada, &models.Comment{Text: "@grace @linus @ada"}, &models.SetAssignment{AssignedTo: grace})
	got := Recipients(a, []*models.User{grace, linus, ada, linus})

	require.Len(t, got, 2)
	assert.Equal(t, Recipient{User: grace, Reason: ReasonAssigned}, got[0])
	assert.Equal(t, Recipient{User: linus, Reason: ReasonMentioned}, got[1])
}

func TestRecipients_SelfAssignmentSkipped(t *testing.T) {
	a := committed(ada, &models.SetAssignment{AssignedTo: ada})
	assert.Empty(t, Recipients(a, nil))
}

func TestRecipients_MentionsNeedComment(t *testing.T) {
	a := committed(ada, &models.SetState{State: models.StateClosed})
	assert.Empty(t, Recipients(a, []*models.User{grace}))
}

func TestDispatcher_Notify(t *testing.T) {
	mailer := &captureMailer{}
	d := NewDispatcher(mailer, fakeMentions{users: []*models.User{linus, ghost}}, "https://bugs.example.com/", zerolog.Nop())

	a := committed(ada, &models.Comment{Text: "cc @linus"}, &models.SetAssignment{AssignedTo: grace})
	require.NoError(t, d.Notify(context.Background(), a))

	// ghost has no email address.
	require.Len(t, mailer.sent, 2)
	assigned := mailer.sent[0]
	assert.Equal(t, "grace@example.com", assigned.To)
	assert.Equal(t, "[buggy] #2363 Login broken", assigned.Subject)
	assert.True(t, strings.HasPrefix(assigned.Body, "Ada assigned bug #2363 to you."))
	assert.Contains(t, assigned.Body, "https://bugs.example.com/bugs/2363")

	mention := mailer.sent[1]
	assert.Equal(t, "linus@example.com", mention.To)
	assert.Equal(t, "[buggy] #2363 Login broken: Ada mentioned you", mention.Subject)
	assert.Contains(t, mention.Body, "cc @linus")
}

func TestDispatcher_JoinsSendErrors(t *testing.T) {
	mailer := &captureMailer{err: errors.New("relay refused")}
	d := NewDispatcher(mailer, nil, "", zerolog.Nop())

	a := committed(ada, &models.SetAssignment{AssignedTo: grace})
	err := d.Notify(context.Background(), a)
	assert.ErrorContains(t, err, "relay refused")
	assert.ErrorContains(t, err, "grace@example.com")
}

func TestFormatMessage(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	raw := string(formatMessage("buggy@example.com", Message{To: "a@b.c", Subject: "Hi\nthere", Body: "line1\nline2"}, now))

	assert.Contains(t, raw, "From: buggy@example.com\r\n")
	assert.Contains(t, raw, "Subject: Hi there\r\n")
	assert.Contains(t, raw, "Date: Fri, 02 Jan 2026 03:04:05 +0000\r\n")
	assert.True(t, strings.HasSuffix(raw, "\r\n\r\nline1\r\nline2"))
}

func TestLogMailer(t *testing.T) {
	var buf strings.Builder
	m := NewLogMailer(zerolog.New(&buf))
	require.NoError(t, m.Send(context.Background(), Message{To: "a@b.c", Subject: "s", Body: "b"}))
	assert.Contains(t, buf.String(), `"to":"a@b.c"`)
}
