package models

import (
	"fmt"
	"path"
	"strings"
)

// OperationKind discriminates the operation variants. The value is the one
// stored in the operations table.
type OperationKind string

const (
	KindComment       OperationKind = "comment"
	KindSetTitle      OperationKind = "set_title"
	KindSetAssignment OperationKind = "set_assignment"
	KindSetState      OperationKind = "set_state"
	KindSetPriority   OperationKind = "set_priority"
	KindSetProject    OperationKind = "set_project"
	KindAddAttachment OperationKind = "add_attachment"
)

// Operation is a single typed field-level change belonging to an Action.
// Apply never fails: legality is decided before an operation is queued.
type Operation interface {
	Kind() OperationKind
	Apply(b *Bug)
	// Description is the activity-feed text, or "" for operations that are
	// not worth mentioning.
	Description() string
}

// Comment adds text to the bug discussion.
type Comment struct {
	Text string
}

func (*Comment) Kind() OperationKind { return KindComment }

func (c *Comment) Apply(b *Bug) {
	b.appendFulltext(c.Text)
}

func (*Comment) Description() string { return "commented on the bug" }

// SetTitle renames the bug. PreviousTitle is captured when applied so the
// activity feed can show what changed.
type SetTitle struct {
	Title         string
	PreviousTitle string
}

func (*SetTitle) Kind() OperationKind { return KindSetTitle }

func (s *SetTitle) Apply(b *Bug) {
	s.PreviousTitle = b.Title
	b.Title = s.Title
	b.appendFulltext(s.Title)
}

func (*SetTitle) Description() string { return "changed the title" }

// SetAssignment changes the assignee. A nil AssignedTo clears it.
type SetAssignment struct {
	AssignedTo *User
}

func (*SetAssignment) Kind() OperationKind { return KindSetAssignment }

func (s *SetAssignment) Apply(b *Bug) {
	b.AssignedTo = s.AssignedTo
	if s.AssignedTo == nil {
		b.AssignedToID = ""
		return
	}
	b.AssignedToID = s.AssignedTo.ID
}

func (s *SetAssignment) Description() string {
	if s.AssignedTo == nil {
		return "removed the assignee"
	}
	return "assigned the bug to " + s.AssignedTo.ShortName()
}

// SetState moves the bug to another lifecycle stage.
type SetState struct {
	State State
}

func (*SetState) Kind() OperationKind { return KindSetState }

func (s *SetState) Apply(b *Bug) { b.State = s.State }

func (s *SetState) Description() string {
	return "changed the state to " + s.State.Label()
}

// SetPriority changes the bug priority.
type SetPriority struct {
	Priority Priority
}

func (*SetPriority) Kind() OperationKind { return KindSetPriority }

func (s *SetPriority) Apply(b *Bug) { b.Priority = s.Priority }

func (s *SetPriority) Description() string {
	return "set the priority to " + s.Priority.Label()
}

// SetProject moves the bug to a project. It has no description: it only
// appears on creation.
type SetProject struct {
	Project *Project
}

func (*SetProject) Kind() OperationKind { return KindSetProject }

func (s *SetProject) Apply(b *Bug) {
	b.Project = s.Project
	b.ProjectID = s.Project.ID
}

func (*SetProject) Description() string { return "" }

// AddAttachment records a stored file. File is the attachment key
// ({uuid}/{filename}) inside the bug's attachment directory.
type AddAttachment struct {
	File string
}

func (*AddAttachment) Kind() OperationKind { return KindAddAttachment }

func (*AddAttachment) Apply(*Bug) {}

// Description is empty; attachments are summarised per action.
func (*AddAttachment) Description() string { return "" }

// Basename is the file name without directories.
func (a *AddAttachment) Basename() string { return path.Base(a.File) }

// Extension is the lower-cased extension including the dot.
func (a *AddAttachment) Extension() string {
	return strings.ToLower(path.Ext(a.File))
}

// IsImage reports whether the attachment can be shown inline.
func (a *AddAttachment) IsImage() bool {
	switch a.Extension() {
	case ".png", ".jpg", ".gif":
		return true
	}
	return false
}

// JoinAnd joins items as "a, b and c".
func JoinAnd(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
}

func attachmentsClause(n int) string {
	if n == 1 {
		return "added 1 attachment"
	}
	return fmt.Sprintf("added %d attachments", n)
}
