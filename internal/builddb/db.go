package builddb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/bpt-pm/bpt/internal/dbutil"
)

var migrations = []dbutil.Migration{
	{ID: 1, Name: "compilations", Up: func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			CREATE TABLE compilations (
				output_path  TEXT PRIMARY KEY,
				command_hash TEXT NOT NULL,
				inputs_hash  TEXT NOT NULL,
				cache_buster TEXT NOT NULL,
				deps_json    TEXT NOT NULL
			)`)
		return err
	}},
}

// DB is a handle on one output tree's .bpt.db.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the build database at path.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := dbutil.Open(path)
	if err != nil {
		return nil, err
	}
	if err := dbutil.Migrate(ctx, db, migrations); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error { return d.db.Close() }

// Fingerprint is one compile node's recorded state as of its last
// successful build.
type Fingerprint struct {
	OutputPath  string
	CommandHash string
	InputsHash  string
	CacheBuster string
	Deps        []string
}

// UpToDate reports whether the row recorded for outputPath matches
// commandHash/inputsHash/cacheBuster exactly — the scheduler's signal to
// skip re-invoking the compiler for this node.
func (d *DB) UpToDate(ctx context.Context, outputPath, commandHash, inputsHash, cacheBuster string) (bool, error) {
	var gotCmd, gotInputs, gotBuster string
	row := d.db.QueryRowContext(ctx,
		`SELECT command_hash, inputs_hash, cache_buster FROM compilations WHERE output_path = ?`, outputPath)
	if err := row.Scan(&gotCmd, &gotInputs, &gotBuster); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("builddb: looking up %q: %w", outputPath, err)
	}
	return gotCmd == commandHash && gotInputs == inputsHash && gotBuster == cacheBuster, nil
}

// Record upserts outputPath's fingerprint after a successful compile.
func (d *DB) Record(ctx context.Context, fp Fingerprint) error {
	depsJSON, err := json.Marshal(fp.Deps)
	if err != nil {
		return fmt.Errorf("builddb: marshaling deps for %q: %w", fp.OutputPath, err)
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO compilations (output_path, command_hash, inputs_hash, cache_buster, deps_json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(output_path) DO UPDATE SET
			command_hash = excluded.command_hash,
			inputs_hash  = excluded.inputs_hash,
			cache_buster = excluded.cache_buster,
			deps_json    = excluded.deps_json
	`, fp.OutputPath, fp.CommandHash, fp.InputsHash, fp.CacheBuster, string(depsJSON))
	if err != nil {
		return fmt.Errorf("builddb: recording %q: %w", fp.OutputPath, err)
	}
	return nil
}

// Deps returns the dependency file list recorded for outputPath on its
// last successful compile, or nil if there is no row yet.
func (d *DB) Deps(ctx context.Context, outputPath string) ([]string, error) {
	var depsJSON string
	row := d.db.QueryRowContext(ctx, `SELECT deps_json FROM compilations WHERE output_path = ?`, outputPath)
	if err := row.Scan(&depsJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("builddb: looking up deps for %q: %w", outputPath, err)
	}
	var deps []string
	if err := json.Unmarshal([]byte(depsJSON), &deps); err != nil {
		return nil, fmt.Errorf("builddb: decoding deps for %q: %w", outputPath, err)
	}
	return deps, nil
}
