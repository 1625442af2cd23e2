// Package postgresmirror implements the optional read-side Postgres
// mirror of a repository's package index (SPEC_FULL.md MODULE 2,
// "Repository Index Mirror"): large repositories fielding many
// concurrent `repo search` requests can mirror
// repo.db's rows into Postgres for cheaper concurrent reads without
// displacing SQLite as the canonical, portable distribution artifact.
//
// Grounded on the teacher's own Postgres stores
// (datastore/postgres/matcher_store.go, datastore/postgres/gc.go): a
// pgxpool.Pool, a uuid.UUID tagging each write generation the way the
// teacher tags each update_operation row with a ref, and goqu building
// the dialect-portable query repo.BuildSearchQuery already shares with
// the SQLite implementation.
package postgresmirror

import (
	"context"
	"log/slog"

	"github.com/bpt-pm/bpt"
	"github.com/bpt-pm/bpt/internal/crs/repo"
	"github.com/doug-martin/goqu/v8"
	_ "github.com/doug-martin/goqu/v8/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Mirror is a read-side Postgres cache of a repo.Repository's package
// index, implementing repo.PackageIndex alongside repo.Repository
// itself. It is never the source of truth: Sync repopulates it
// wholesale from a Repository's own AllPackages.
type Mirror struct {
	pool *pgxpool.Pool
}

var _ repo.PackageIndex = (*Mirror)(nil)

// New connects to dsn (a Postgres connection string/URL) and ensures
// the mirror table exists.
func New(ctx context.Context, dsn string) (*Mirror, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.postgresmirror.new", Inner: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.postgresmirror.new", Inner: err}
	}
	m := &Mirror{pool: pool}
	if err := m.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return m, nil
}

// Close releases the mirror's connection pool.
func (m *Mirror) Close() { m.pool.Close() }

func (m *Mirror) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS crs_repo_packages (
	package_id bigserial PRIMARY KEY,
	meta_json jsonb NOT NULL,
	name text NOT NULL,
	version text NOT NULL,
	revision integer NOT NULL,
	sync_ref uuid NOT NULL,
	UNIQUE (name, version, revision)
)`
	if _, err := m.pool.Exec(ctx, ddl); err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.postgresmirror.ensure_schema", Inner: err}
	}
	return nil
}

// Sync replaces the mirror's contents with pkgs inside one
// transaction, tagging every row with a freshly generated sync_ref so
// a reader never observes a mix of two sync generations mid-write.
func (m *Mirror) Sync(ctx context.Context, pkgs []bpt.PackageMetadata) error {
	ref := uuid.New()
	slog.InfoContext(ctx, "syncing postgres repository mirror", "sync_ref", ref, "packages", len(pkgs))

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.postgresmirror.sync", Inner: err}
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM crs_repo_packages`); err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.postgresmirror.sync", Inner: err}
	}
	for _, meta := range pkgs {
		canonical, err := meta.ToJSON()
		if err != nil {
			return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.postgresmirror.sync", Inner: err}
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO crs_repo_packages (meta_json, name, version, revision, sync_ref)
			VALUES ($1, $2, $3, $4, $5)`,
			string(canonical), meta.ID.Name.String(), meta.ID.Version.String(), meta.ID.Revision, ref)
		if err != nil {
			return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.postgresmirror.sync", Inner: err}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.postgresmirror.sync", Inner: err}
	}
	return nil
}

// AllPackages returns every package currently mirrored, in package_id
// order, implementing repo.PackageIndex.
func (m *Mirror) AllPackages(ctx context.Context) ([]bpt.PackageMetadata, error) {
	sqlStr, args, err := goqu.Dialect("postgres").
		From("crs_repo_packages").
		Select("meta_json").
		Order(goqu.C("package_id").Asc()).
		ToSQL()
	if err != nil {
		return nil, &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.postgresmirror.all_packages", Inner: err}
	}
	return m.query(ctx, sqlStr, args)
}

// SearchPackages returns every mirrored package whose name contains
// term, using repo.BuildSearchQuery's "postgres" dialect so the mirror
// answers from the exact same query shape the SQLite repository uses.
func (m *Mirror) SearchPackages(ctx context.Context, term string) ([]bpt.PackageMetadata, error) {
	sqlStr, args, err := repo.BuildSearchQuery("postgres", term)
	if err != nil {
		return nil, &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.postgresmirror.search_packages", Inner: err}
	}
	return m.query(ctx, sqlStr, args)
}

func (m *Mirror) query(ctx context.Context, sqlStr string, args []any) ([]bpt.PackageMetadata, error) {
	rows, err := m.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.postgresmirror.query", Inner: err}
	}
	defer rows.Close()

	var out []bpt.PackageMetadata
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.postgresmirror.query", Inner: err}
		}
		meta, err := bpt.ParseMetadata([]byte(raw))
		if err != nil {
			return nil, &bpt.Error{Kind: bpt.ErrIntegrity, Op: "repo.postgresmirror.query", Inner: err}
		}
		out = append(out, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.postgresmirror.query", Inner: err}
	}
	return out, nil
}
