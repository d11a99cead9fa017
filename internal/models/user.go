package models

import "time"

// User is someone who files, edits or is assigned bugs.
type User struct {
	ID        string
	Username  string
	Name      string
	Email     string
	IsActive  bool
	CreatedAt time.Time
}

// ShortName is the name shown in activity feeds: the full name when set,
// otherwise the username.
func (u *User) ShortName() string {
	if u == nil {
		return ""
	}
	if u.Name != "" {
		return u.Name
	}
	return u.Username
}
