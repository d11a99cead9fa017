package store

import (
	"context"
	"fmt"

	"github.com/joescharf/buggy/internal/models"
)

// sqliteTx runs queries on the dedicated connection of an open transaction.
type sqliteTx struct {
	queries
}

// LockBug loads the bug inside the transaction. BEGIN IMMEDIATE already holds
// the database write lock, which covers the bug row for the whole
// transaction; reads outside the transaction keep seeing the last committed
// snapshot under WAL.
func (t *sqliteTx) LockBug(ctx context.Context, id int64) (*models.Bug, error) {
	return t.GetBug(ctx, id)
}

// RunInTx runs fn in one write transaction on a dedicated connection.
func (s *SQLiteStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	// IMMEDIATE takes the write lock up front so concurrent writers queue on
	// busy_timeout instead of failing on lock upgrade.
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			// Background context so the rollback completes even if ctx is canceled.
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(&sqliteTx{queries{q: conn}}); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Tx    = (*sqliteTx)(nil)
)
