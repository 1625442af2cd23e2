package dbutil

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func openMemDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateAppliesInOrder(t *testing.T) {
	db := openMemDB(t)
	ctx := context.Background()

	var ran []int
	migrations := []Migration{
		{ID: 1, Name: "create widgets", Up: func(ctx context.Context, tx *sql.Tx) error {
			ran = append(ran, 1)
			_, err := tx.ExecContext(ctx, `CREATE TABLE widgets (id INTEGER PRIMARY KEY)`)
			return err
		}},
		{ID: 2, Name: "seed widgets", Up: func(ctx context.Context, tx *sql.Tx) error {
			ran = append(ran, 2)
			_, err := tx.ExecContext(ctx, `INSERT INTO widgets (id) VALUES (1)`)
			return err
		}},
	}

	if err := Migrate(ctx, db, migrations); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(ran) != 2 || ran[0] != 1 || ran[1] != 2 {
		t.Fatalf("ran = %v, want [1 2]", ran)
	}

	// Running again should be a no-op: neither migration reruns.
	if err := Migrate(ctx, db, migrations); err != nil {
		t.Fatalf("Migrate (2nd): %v", err)
	}
	if len(ran) != 2 {
		t.Fatalf("second Migrate reran a migration: ran = %v", ran)
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM widgets`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestMigrateDetectsTooNew(t *testing.T) {
	db := openMemDB(t)
	ctx := context.Background()

	all := []Migration{
		{ID: 1, Name: "one", Up: func(ctx context.Context, tx *sql.Tx) error { return nil }},
		{ID: 2, Name: "two", Up: func(ctx context.Context, tx *sql.Tx) error { return nil }},
	}
	if err := Migrate(ctx, db, all); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	// A build that only knows about migration 1 opening a database
	// stamped at version 2 should fail loudly instead of silently
	// treating it as up to date.
	older := all[:1]
	err := Migrate(ctx, db, older)
	if err == nil {
		t.Fatal("expected a TooNewError")
	}
	var tn *TooNewError
	if e, ok := err.(*TooNewError); ok {
		tn = e
	}
	if tn == nil {
		t.Fatalf("err = %v, want *TooNewError", err)
	}
	if tn.DBVersion != 2 || tn.KnownMaxVersion != 1 {
		t.Errorf("TooNewError = %+v, want {DBVersion:2 KnownMaxVersion:1}", tn)
	}
}
