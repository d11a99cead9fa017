package models

import "time"

// PresetFilter is a saved bug-list search, unique per user and name.
type PresetFilter struct {
	ID        string
	UserID    string
	Name      string
	URL       string
	CreatedAt time.Time
}
