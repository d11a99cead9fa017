package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/joescharf/buggy/internal/models"
	"github.com/joescharf/buggy/internal/verhoeff"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// querier is satisfied by *sql.DB and by the dedicated *sql.Conn of a
// transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements Reader and models.ActionWriter over any querier.
type queries struct {
	q querier
}

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	queries
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection
	// serializes access; a transaction holds it until it ends.
	db.SetMaxOpenConns(1)

	pragmas := []struct{ stmt, what string }{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
		{"PRAGMA foreign_keys=ON", "enable foreign keys"},
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p.what, err)
		}
	}

	return &SQLiteStore{queries: queries{q: db}, db: db}, nil
}

// boolToInt converts a bool to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullable maps "" to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// newULID returns a monotonic ULID.
func newULID() string {
	return ulid.Make().String()
}

// isUniqueViolation reports whether err comes from a UNIQUE or PRIMARY KEY constraint.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := s.db.QueryContext(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("list applied migrations: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan migration: %w", err)
		}
		applied[name] = true
	}
	if err := rows.Close(); err != nil {
		return err
	}

	// fs.Glob returns names in lexical order.
	paths, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	for _, p := range paths {
		name := path.Base(p)
		if applied[name] {
			continue
		}
		data, err := migrationsFS.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if err := s.applyMigration(ctx, name, string(data)); err != nil {
			return err
		}
	}
	return nil
}

// applyMigration runs one migration and records it in the same transaction.
func (s *SQLiteStore) applyMigration(ctx context.Context, name, script string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", name, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("apply migration %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Users ---

const userColumns = `id, username, name, email, is_active, created_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.Username, &u.Name, &u.Email, &u.IsActive, &u.CreatedAt)
	return u, err
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = newULID()
	}
	u.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Name, u.Email, boolToInt(u.IsActive), u.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("create user %s: %w", u.Username, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (q queries) getUserWhere(ctx context.Context, what, where string, arg any) (*models.User, error) {
	u, err := scanUser(q.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %v: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	return u, nil
}

func (q queries) GetUser(ctx context.Context, id string) (*models.User, error) {
	return q.getUserWhere(ctx, "get user", "id = ?", id)
}

// GetUserByUsername matches ignoring case.
func (q queries) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return q.getUserWhere(ctx, "get user by username", "username = ? COLLATE NOCASE", username)
}

// GetUserByEmail matches ignoring case and returns the oldest user when
// several share the address.
func (q queries) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return q.getUserWhere(ctx, "get user by email", "email = ? COLLATE NOCASE ORDER BY created_at LIMIT 1", email)
}

func (s *SQLiteStore) ListUsers(ctx context.Context, activeOnly bool) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY username`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLiteStore) UpdateUser(ctx context.Context, u *models.User) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET username=?, name=?, email=?, is_active=? WHERE id=?`,
		u.Username, u.Name, u.Email, boolToInt(u.IsActive), u.ID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("update user %s: %w", u.Username, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("user %s: %w", u.ID, ErrNotFound)
	}
	return nil
}

// --- Projects ---

const projectColumns = `id, name, is_active, created_at`

func scanProject(row interface{ Scan(...any) error }) (*models.Project, error) {
	p := &models.Project{}
	err := row.Scan(&p.ID, &p.Name, &p.IsActive, &p.CreatedAt)
	return p, err
}

func (s *SQLiteStore) CreateProject(ctx context.Context, p *models.Project) error {
	if p.ID == "" {
		p.ID = newULID()
	}
	p.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (`+projectColumns+`) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, boolToInt(p.IsActive), p.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("create project %s: %w", p.Name, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (q queries) GetProject(ctx context.Context, id string) (*models.Project, error) {
	p, err := scanProject(q.q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// GetProjectByName matches ignoring case.
func (q queries) GetProjectByName(ctx context.Context, name string) (*models.Project, error) {
	p, err := scanProject(q.q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE name = ? COLLATE NOCASE`, name))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project by name: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context, activeOnly bool) ([]*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY name COLLATE NOCASE`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpdateProject renames or retires a project.
func (s *SQLiteStore) UpdateProject(ctx context.Context, p *models.Project) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE projects SET name=?, is_active=? WHERE id=?`,
		p.Name, boolToInt(p.IsActive), p.ID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("update project %s: %w", p.Name, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("project %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

// --- Bugs ---

const bugColumns = `id, created_at, modified_at, title, state, priority, project_id, assigned_to_id, created_by_id, fulltext`

func scanBug(row interface{ Scan(...any) error }) (*models.Bug, error) {
	b := &models.Bug{}
	var state string
	var assignedTo sql.NullString
	err := row.Scan(&b.ID, &b.CreatedAt, &b.ModifiedAt, &b.Title, &state, &b.Priority,
		&b.ProjectID, &assignedTo, &b.CreatedByID, &b.Fulltext)
	b.State = models.State(state)
	b.AssignedToID = assignedTo.String
	return b, err
}

// refCache memoizes user and project lookups while hydrating a result set.
type refCache struct {
	users    map[string]*models.User
	projects map[string]*models.Project
}

func newRefCache() *refCache {
	return &refCache{
		users:    make(map[string]*models.User),
		projects: make(map[string]*models.Project),
	}
}

func (q queries) cachedUser(ctx context.Context, c *refCache, id string) (*models.User, error) {
	if id == "" {
		return nil, nil
	}
	if u, ok := c.users[id]; ok {
		return u, nil
	}
	u, err := q.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	c.users[id] = u
	return u, nil
}

func (q queries) cachedProject(ctx context.Context, c *refCache, id string) (*models.Project, error) {
	if id == "" {
		return nil, nil
	}
	if p, ok := c.projects[id]; ok {
		return p, nil
	}
	p, err := q.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	c.projects[id] = p
	return p, nil
}

// hydrateBug fills the Project, AssignedTo and CreatedBy references.
func (q queries) hydrateBug(ctx context.Context, c *refCache, b *models.Bug) error {
	var err error
	if b.Project, err = q.cachedProject(ctx, c, b.ProjectID); err != nil {
		return err
	}
	if b.AssignedTo, err = q.cachedUser(ctx, c, b.AssignedToID); err != nil {
		return err
	}
	if b.CreatedBy, err = q.cachedUser(ctx, c, b.CreatedByID); err != nil {
		return err
	}
	return nil
}

func (q queries) GetBug(ctx context.Context, id int64) (*models.Bug, error) {
	b, err := scanBug(q.q.QueryRowContext(ctx, `SELECT `+bugColumns+` FROM bugs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("bug %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get bug: %w", err)
	}
	if err := q.hydrateBug(ctx, newRefCache(), b); err != nil {
		return nil, fmt.Errorf("get bug: %w", err)
	}
	return b, nil
}

func (s *SQLiteStore) GetBugByNumber(ctx context.Context, number string) (*models.Bug, error) {
	id, ok := verhoeff.Decode(number)
	if !ok {
		return nil, fmt.Errorf("bug #%s: %w", number, ErrNotFound)
	}
	b, err := s.GetBug(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("bug #%s: %w", number, ErrNotFound)
	}
	return b, err
}

// ListBugs returns bugs matching filter, most recently modified first.
func (s *SQLiteStore) ListBugs(ctx context.Context, filter BugListFilter) ([]*models.Bug, error) {
	query := `SELECT ` + bugColumns + ` FROM bugs`
	var conditions []string
	var args []any

	if len(filter.ProjectIDs) > 0 {
		conditions = append(conditions, "project_id IN ("+placeholders(len(filter.ProjectIDs))+")")
		for _, id := range filter.ProjectIDs {
			args = append(args, id)
		}
	}
	if filter.CreatedByID != "" {
		conditions = append(conditions, "created_by_id = ?")
		args = append(args, filter.CreatedByID)
	}
	if filter.AssignedToID != "" {
		conditions = append(conditions, "assigned_to_id = ?")
		args = append(args, filter.AssignedToID)
	}
	if len(filter.Priorities) > 0 {
		conditions = append(conditions, "priority IN ("+placeholders(len(filter.Priorities))+")")
		for _, p := range filter.Priorities {
			args = append(args, int(p))
		}
	}
	if len(filter.States) > 0 {
		conditions = append(conditions, "state IN ("+placeholders(len(filter.States))+")")
		for _, st := range filter.States {
			args = append(args, string(st))
		}
	}
	if filter.Search != "" {
		conditions = append(conditions, "instr(lower(fulltext), lower(?)) > 0")
		args = append(args, filter.Search)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY modified_at DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bugs: %w", err)
	}

	var bugs []*models.Bug
	for rows.Next() {
		b, err := scanBug(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan bug: %w", err)
		}
		bugs = append(bugs, b)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("list bugs: %w", err)
	}
	// The single connection must be released before hydrating.
	_ = rows.Close()

	cache := newRefCache()
	for _, b := range bugs {
		if err := s.hydrateBug(ctx, cache, b); err != nil {
			return nil, fmt.Errorf("list bugs: %w", err)
		}
	}
	return bugs, nil
}

// SaveBug inserts a new bug (ID zero) or updates its snapshot columns.
func (q queries) SaveBug(ctx context.Context, b *models.Bug) error {
	now := time.Now().UTC()
	b.ModifiedAt = now

	if b.ID == 0 {
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		result, err := q.q.ExecContext(ctx,
			`INSERT INTO bugs (created_at, modified_at, title, state, priority, project_id, assigned_to_id, created_by_id, fulltext)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.CreatedAt, b.ModifiedAt, b.Title, string(b.State), int(b.Priority),
			b.ProjectID, nullable(b.AssignedToID), b.CreatedByID, b.Fulltext,
		)
		if err != nil {
			return fmt.Errorf("create bug: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("create bug: %w", err)
		}
		b.ID = id
		return nil
	}

	result, err := q.q.ExecContext(ctx,
		`UPDATE bugs SET modified_at=?, title=?, state=?, priority=?, project_id=?, assigned_to_id=?, fulltext=?
		WHERE id=?`,
		b.ModifiedAt, b.Title, string(b.State), int(b.Priority),
		b.ProjectID, nullable(b.AssignedToID), b.Fulltext, b.ID,
	)
	if err != nil {
		return fmt.Errorf("update bug: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("bug %d: %w", b.ID, ErrNotFound)
	}
	return nil
}

// --- Actions ---

func (q queries) InsertAction(ctx context.Context, a *models.Action) error {
	if a.ID == "" {
		a.ID = newULID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO actions (id, bug_id, user_id, created_at, ord) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.BugID, a.UserID, a.CreatedAt, a.Order,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("create action %d/%d: %w", a.BugID, a.Order, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create action: %w", err)
	}
	return nil
}

func (q queries) InsertOperation(ctx context.Context, a *models.Action, seq int, op models.Operation) error {
	var (
		text, previous, state, file string
		userID, projectID           string
		priority                    int
	)
	switch o := op.(type) {
	case *models.Comment:
		text = o.Text
	case *models.SetTitle:
		text, previous = o.Title, o.PreviousTitle
	case *models.SetAssignment:
		if o.AssignedTo != nil {
			userID = o.AssignedTo.ID
		}
	case *models.SetState:
		state = string(o.State)
	case *models.SetPriority:
		priority = int(o.Priority)
	case *models.SetProject:
		projectID = o.Project.ID
	case *models.AddAttachment:
		file = o.File
	default:
		return fmt.Errorf("create operation: unknown kind %q", op.Kind())
	}

	_, err := q.q.ExecContext(ctx,
		`INSERT INTO operations (action_id, seq, kind, text, previous_text, user_id, project_id, state, priority, file)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, seq, string(op.Kind()), text, previous, nullable(userID), nullable(projectID), state, priority, file,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("create operation %s on action %s: %w", op.Kind(), a.ID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create operation: %w", err)
	}
	return nil
}

type operationRow struct {
	actionID  string
	kind      models.OperationKind
	text      string
	previous  string
	userID    string
	projectID string
	state     string
	priority  int
	file      string
}

func (q queries) ListActions(ctx context.Context, bugID int64) ([]*models.Action, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT id, bug_id, user_id, created_at, ord FROM actions WHERE bug_id = ? ORDER BY ord`, bugID)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	var actions []*models.Action
	byID := make(map[string]*models.Action)
	for rows.Next() {
		a := &models.Action{}
		if err := rows.Scan(&a.ID, &a.BugID, &a.UserID, &a.CreatedAt, &a.Order); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan action: %w", err)
		}
		actions = append(actions, a)
		byID[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("list actions: %w", err)
	}
	_ = rows.Close()

	rows, err = q.q.QueryContext(ctx,
		`SELECT o.action_id, o.kind, o.text, o.previous_text, COALESCE(o.user_id, ''), COALESCE(o.project_id, ''), o.state, o.priority, o.file
		FROM operations o JOIN actions a ON a.id = o.action_id
		WHERE a.bug_id = ? ORDER BY a.ord, o.seq`, bugID)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	var ops []operationRow
	for rows.Next() {
		var r operationRow
		var kind string
		if err := rows.Scan(&r.actionID, &kind, &r.text, &r.previous, &r.userID, &r.projectID, &r.state, &r.priority, &r.file); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		r.kind = models.OperationKind(kind)
		ops = append(ops, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("list operations: %w", err)
	}
	_ = rows.Close()

	cache := newRefCache()
	for _, a := range actions {
		if a.User, err = q.cachedUser(ctx, cache, a.UserID); err != nil {
			return nil, fmt.Errorf("list actions: %w", err)
		}
	}
	for _, r := range ops {
		op, err := q.operationFromRow(ctx, cache, r)
		if err != nil {
			return nil, fmt.Errorf("list operations: %w", err)
		}
		byID[r.actionID].Record(op)
	}
	return actions, nil
}

func (q queries) operationFromRow(ctx context.Context, c *refCache, r operationRow) (models.Operation, error) {
	switch r.kind {
	case models.KindComment:
		return &models.Comment{Text: r.text}, nil
	case models.KindSetTitle:
		return &models.SetTitle{Title: r.text, PreviousTitle: r.previous}, nil
	case models.KindSetAssignment:
		u, err := q.cachedUser(ctx, c, r.userID)
		if err != nil {
			return nil, err
		}
		return &models.SetAssignment{AssignedTo: u}, nil
	case models.KindSetState:
		return &models.SetState{State: models.State(r.state)}, nil
	case models.KindSetPriority:
		return &models.SetPriority{Priority: models.Priority(r.priority)}, nil
	case models.KindSetProject:
		p, err := q.cachedProject(ctx, c, r.projectID)
		if err != nil {
			return nil, err
		}
		return &models.SetProject{Project: p}, nil
	case models.KindAddAttachment:
		return &models.AddAttachment{File: r.file}, nil
	}
	return nil, fmt.Errorf("unknown operation kind %q", r.kind)
}

// --- Preset filters ---

func (s *SQLiteStore) CreatePreset(ctx context.Context, p *models.PresetFilter) error {
	if p.ID == "" {
		p.ID = newULID()
	}
	p.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preset_filters (id, user_id, name, url, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Name, p.URL, p.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("create preset %s: %w", p.Name, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create preset: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListPresets(ctx context.Context, userID string) ([]*models.PresetFilter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, url, created_at FROM preset_filters WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list presets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var presets []*models.PresetFilter
	for rows.Next() {
		p := &models.PresetFilter{}
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.URL, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan preset: %w", err)
		}
		presets = append(presets, p)
	}
	return presets, rows.Err()
}

// DeletePreset removes one of the user's presets. Another user's preset is
// reported as not found.
func (s *SQLiteStore) DeletePreset(ctx context.Context, userID, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM preset_filters WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("delete preset: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("preset %s: %w", id, ErrNotFound)
	}
	return nil
}
