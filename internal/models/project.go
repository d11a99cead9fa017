package models

import "time"

// Project groups bugs. Names are unique ignoring case. Inactive projects keep
// their bugs but are hidden from pickers and cannot receive new bugs.
type Project struct {
	ID        string
	Name      string
	IsActive  bool
	CreatedAt time.Time
}
