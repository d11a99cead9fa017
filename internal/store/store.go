package store

import (
	"context"
	"errors"

	"github.com/joescharf/buggy/internal/models"
)

var (
	// ErrNotFound is returned when a lookup matches nothing.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write violates a uniqueness rule.
	ErrConflict = errors.New("already exists")
)

// BugListFilter specifies filters for listing bugs. Empty fields match
// everything. States must already be expanded (see models.ExpandStateFilter).
type BugListFilter struct {
	ProjectIDs   []string
	CreatedByID  string
	AssignedToID string
	Priorities   []models.Priority
	States       []models.State
	// Search matches a substring of the bug fulltext, ignoring case.
	Search string
	Limit  int
}

// Reader holds the lookups available both inside and outside a transaction.
type Reader interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetProjectByName(ctx context.Context, name string) (*models.Project, error)

	GetBug(ctx context.Context, id int64) (*models.Bug, error)
	// ListActions returns the bug's committed actions with their operations,
	// ordered by Order.
	ListActions(ctx context.Context, bugID int64) ([]*models.Action, error)
}

// Tx is a write transaction. Every action commit happens through one.
type Tx interface {
	Reader
	models.ActionWriter

	// LockBug loads a bug for update. No other writer can touch the bug until
	// the transaction ends.
	LockBug(ctx context.Context, id int64) (*models.Bug, error)
}

// Store defines the persistence interface for buggy.
type Store interface {
	Reader

	// Users
	CreateUser(ctx context.Context, u *models.User) error
	ListUsers(ctx context.Context, activeOnly bool) ([]*models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error

	// Projects
	CreateProject(ctx context.Context, p *models.Project) error
	ListProjects(ctx context.Context, activeOnly bool) ([]*models.Project, error)
	UpdateProject(ctx context.Context, p *models.Project) error

	// Bugs
	ListBugs(ctx context.Context, filter BugListFilter) ([]*models.Bug, error)
	// GetBugByNumber resolves a human-facing bug number. A bad check digit
	// and a missing bug both return ErrNotFound.
	GetBugByNumber(ctx context.Context, number string) (*models.Bug, error)

	// Preset filters
	CreatePreset(ctx context.Context, p *models.PresetFilter) error
	ListPresets(ctx context.Context, userID string) ([]*models.PresetFilter, error)
	DeletePreset(ctx context.Context, userID, id string) error

	// RunInTx runs fn inside one write transaction. Returning an error or
	// panicking rolls everything back.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
