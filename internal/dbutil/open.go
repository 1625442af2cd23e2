package dbutil

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open opens the SQLite database at path with the pragma set bpt
// expects everywhere it touches SQLite: WAL journaling (so readers
// don't block a writer mid-sync), a busy timeout instead of an
// immediate SQLITE_BUSY, and foreign keys enforced.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("dbutil: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}
