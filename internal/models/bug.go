package models

import (
	"time"

	"github.com/joescharf/buggy/internal/verhoeff"
)

// Bug is the denormalized snapshot of a bug. Title, State, Priority,
// Project and AssignedTo always equal the fold of every committed operation
// of the bug's actions, applied in order.
type Bug struct {
	ID         int64
	CreatedAt  time.Time
	ModifiedAt time.Time
	Title      string
	State      State
	Priority   Priority

	ProjectID string
	Project   *Project

	// AssignedToID is empty when nobody is assigned.
	AssignedToID string
	AssignedTo   *User

	CreatedByID string
	CreatedBy   *User

	// Fulltext grows with every comment and title ever set. It is never trimmed.
	Fulltext string
}

// Number is the human-facing bug number: the id followed by a Verhoeff
// check digit. It is empty for a bug that has not been saved yet.
func (b *Bug) Number() string {
	if b.ID == 0 {
		return ""
	}
	return verhoeff.Encode(b.ID)
}

// IsAssigned reports whether the bug currently has an assignee.
func (b *Bug) IsAssigned() bool {
	return b.AssignedToID != ""
}

func (b *Bug) appendFulltext(text string) {
	b.Fulltext += " " + text
}
