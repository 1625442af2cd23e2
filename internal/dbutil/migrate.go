package dbutil

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one forward step in a database's schema history. ID must
// be the migration's 1-based position in the Migrations slice passed to
// Migrate; Migrate uses it only to detect gaps and to report where a
// newer-than-known schema_version leaves off.
type Migration struct {
	ID   int
	Name string
	Up   func(ctx context.Context, tx *sql.Tx) error
}

// TooNewError is returned by Migrate when the database's recorded
// schema_version is higher than the last ID in the Migrations list the
// caller supplied — i.e. the database was created by a newer build of
// bpt than the one running now.
type TooNewError struct {
	DBVersion       int
	KnownMaxVersion int
}

func (e *TooNewError) Error() string {
	return fmt.Sprintf("database schema version %d is newer than the %d migrations known to this build", e.DBVersion, e.KnownMaxVersion)
}

// Migrate brings db's schema up to date by applying, in order, every
// Migration whose ID is greater than the schema_version currently
// recorded. Each migration runs in its own transaction; a failure
// partway through leaves the database at the last successfully applied
// version.
//
// migrations must be sorted ascending by ID with no gaps starting at 1;
// Migrate does not sort or validate that invariant beyond checking for
// gaps, since the caller constructs the list as a package-level literal.
func Migrate(ctx context.Context, db *sql.DB, migrations []Migration) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL,
		applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
	)`); err != nil {
		return fmt.Errorf("dbutil: creating schema_version table: %w", err)
	}

	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}

	maxID := 0
	for i, m := range migrations {
		if m.ID != i+1 {
			return fmt.Errorf("dbutil: migration %q has ID %d at position %d; IDs must run 1, 2, 3, ... with no gaps", m.Name, m.ID, i+1)
		}
		if m.ID > maxID {
			maxID = m.ID
		}
	}
	if current > maxID {
		return &TooNewError{DBVersion: current, KnownMaxVersion: maxID}
	}

	for _, m := range migrations {
		if m.ID <= current {
			continue
		}
		if err := applyOne(ctx, db, m); err != nil {
			return fmt.Errorf("dbutil: applying migration %d (%s): %w", m.ID, m.Name, err)
		}
	}
	return nil
}

func currentVersion(ctx context.Context, db *sql.DB) (int, error) {
	row := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	var v int
	if err := row.Scan(&v); err != nil {
		return 0, fmt.Errorf("dbutil: reading schema_version: %w", err)
	}
	return v, nil
}

func applyOne(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := m.Up(ctx, tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, m.ID); err != nil {
		return err
	}
	return tx.Commit()
}
