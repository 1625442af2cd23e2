package repo

import (
	"archive/tar"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bpt-pm/bpt"
	"github.com/bpt-pm/bpt/internal/dbutil"
	"github.com/doug-martin/goqu/v8"
	_ "github.com/doug-martin/goqu/v8/dialect/sqlite3"
	"github.com/klauspost/compress/gzip"
)

// PackageIndex is the read surface `repo search` runs against: a repository's own SQLite-backed AllPackages/SearchPackages,
// or the optional Postgres mirror (see the postgresmirror subpackage)
// for deployments fielding many concurrent readers. The mirror is never
// the source of truth; it answers the same queries BuildSearchQuery
// shapes for either backend.
type PackageIndex interface {
	AllPackages(ctx context.Context) ([]bpt.PackageMetadata, error)
	SearchPackages(ctx context.Context, term string) ([]bpt.PackageMetadata, error)
}

var _ PackageIndex = (*Repository)(nil)

// ImportConflictPolicy controls what ImportDir does when the package id
// being imported already has a row in the repository.
type ImportConflictPolicy int

const (
	// ImportFailIfExists is the default: a conflicting import returns an
	// ErrConflict Error carrying bpt.MarkerRepoImportAlreadyPresent and
	// leaves the repository untouched.
	ImportFailIfExists ImportConflictPolicy = iota
	// ImportReplaceIfExists removes the existing row and on-disk
	// directory for the conflicting id before importing the new one.
	ImportReplaceIfExists
)

// Repository is an open handle on a CRS producer directory: its
// repo.db index and the pkg/ tree of staged tarballs.
type Repository struct {
	db  *sql.DB
	dir string
}

// Create initializes a new repository at dir, writing its name into
// the self row. It fails with an Error carrying bpt.MarkerRepoAlreadyInit
// if dir already holds an initialized repo.db.
func Create(ctx context.Context, dir, name string) (*Repository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, bpt.WithBreadcrumb(&bpt.Error{Kind: bpt.ErrInternal, Op: "repo.create", Inner: err}, bpt.BreadcrumbRepoOpenPath)
	}
	db, err := dbutil.Open(filepath.Join(dir, "repo.db"))
	if err != nil {
		return nil, bpt.WithBreadcrumb(&bpt.Error{Kind: bpt.ErrInternal, Op: "repo.create", Inner: err}, bpt.BreadcrumbRepoOpenPath)
	}
	if err := dbutil.Migrate(ctx, db, migrations); err != nil {
		db.Close()
		return nil, bpt.WithBreadcrumb(&bpt.Error{Kind: bpt.ErrIntegrity, Op: "repo.create", Inner: err}, bpt.BreadcrumbRepoOpenPath)
	}

	_, err = db.ExecContext(ctx, `INSERT INTO crs_repo_self (rowid, name) VALUES (?, ?)`, selfRowID, name)
	if err != nil {
		db.Close()
		if isUniqueConstraint(err) {
			return nil, &bpt.Error{
				Kind:    bpt.ErrConflict,
				Op:      "repo.create",
				Message: fmt.Sprintf("repository at %q is already initialized", dir),
				Marker:  string(bpt.MarkerRepoAlreadyInit),
			}
		}
		return nil, &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.create", Inner: err}
	}

	r := &Repository{db: db, dir: dir}
	if err := r.vacuumAndCompress(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// OpenExisting opens dir's repo.db and applies any forward migrations.
// It fails with an Error carrying bpt.MarkerDbMigrationTooNew if the
// database's schema version is newer than this build understands.
func OpenExisting(ctx context.Context, dir string) (*Repository, error) {
	db, err := dbutil.Open(filepath.Join(dir, "repo.db"))
	if err != nil {
		return nil, bpt.WithBreadcrumb(&bpt.Error{Kind: bpt.ErrNotFound, Op: "repo.open", Inner: err}, bpt.BreadcrumbRepoOpenPath)
	}
	if err := dbutil.Migrate(ctx, db, migrations); err != nil {
		db.Close()
		var tooNew *dbutil.TooNewError
		if errors.As(err, &tooNew) {
			return nil, &bpt.Error{
				Kind:    bpt.ErrIntegrity,
				Op:      "repo.open",
				Inner:   tooNew,
				Message: fmt.Sprintf("repository at %q uses a newer schema than this build understands", dir),
				Marker:  string(bpt.MarkerDbMigrationTooNew),
			}
		}
		return nil, bpt.WithBreadcrumb(&bpt.Error{Kind: bpt.ErrIntegrity, Op: "repo.open", Inner: err}, bpt.BreadcrumbRepoOpenPath)
	}
	return &Repository{db: db, dir: dir}, nil
}

// Close releases the repository's database handle.
func (r *Repository) Close() error { return r.db.Close() }

// Name returns the repository's configured name.
func (r *Repository) Name(ctx context.Context) (string, error) {
	var name string
	row := r.db.QueryRowContext(ctx, `SELECT name FROM crs_repo_self WHERE rowid = ?`, selfRowID)
	if err := row.Scan(&name); err != nil {
		return "", &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.name", Inner: err}
	}
	return name, nil
}

// PkgDir is the directory under which every package's staged tarball
// and canonical pkg.json live, one subdirectory per (name, version,
// revision).
func (r *Repository) PkgDir() string { return filepath.Join(r.dir, "pkg") }

func (r *Repository) subdirOf(id bpt.PkgID) string {
	return filepath.Join(r.PkgDir(), id.Name.String(), fmt.Sprintf("%s~%d", id.Version.String(), id.Revision))
}

// ImportDir reads srcDir/pkg.json, validates it, copies each library's
// src/include subtrees into a staging directory, tars and gzips that
// staging directory, records the package in a single database
// transaction, and once that transaction has committed moves the tarball
// and canonical pkg.json into place under PkgDir(). On a unique-key
// conflict it either fails with
// an Error carrying bpt.MarkerRepoImportAlreadyPresent (policy
// ImportFailIfExists) or replaces the existing entry (policy
// ImportReplaceIfExists).
func (r *Repository) ImportDir(ctx context.Context, srcDir string, policy ImportConflictPolicy) error {
	raw, err := os.ReadFile(filepath.Join(srcDir, "pkg.json"))
	if err != nil {
		return bpt.WithBreadcrumb(&bpt.Error{Kind: bpt.ErrInvalid, Op: "repo.import_dir", Inner: err}, bpt.BreadcrumbParseManifestPath)
	}
	meta, err := bpt.ParseMetadata(raw)
	if err != nil {
		return bpt.WithBreadcrumb(&bpt.Error{Kind: bpt.ErrInvalid, Op: "repo.import_dir", Inner: err, Marker: string(bpt.MarkerInvalidMetadata)}, bpt.BreadcrumbParseManifestPath)
	}
	if meta.ID.Revision < 1 {
		return &bpt.Error{
			Kind:    bpt.ErrInvalid,
			Op:      "repo.import_dir",
			Message: "package revision must be a positive non-zero integer to be imported into a repository",
		}
	}

	stageDir, err := os.MkdirTemp(r.PkgDir(), "stage-*")
	if err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.import_dir", Inner: err}
	}
	defer os.RemoveAll(stageDir)

	for _, lib := range meta.Libraries {
		if err := copyLibrarySubtree(filepath.Join(srcDir, lib.Path), filepath.Join(stageDir, lib.Path)); err != nil {
			return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.import_dir", Inner: err}
		}
	}
	canonical, err := meta.ToJSON()
	if err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.import_dir", Inner: err}
	}
	if err := os.WriteFile(filepath.Join(stageDir, "pkg.json"), canonical, 0o644); err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.import_dir", Inner: err}
	}

	tmpTgz, err := os.CreateTemp(r.PkgDir(), "*.tgz")
	if err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.import_dir", Inner: err}
	}
	tmpTgzPath := tmpTgz.Name()
	defer os.Remove(tmpTgzPath)
	if err := tarGzDir(tmpTgz, stageDir); err != nil {
		tmpTgz.Close()
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.import_dir", Inner: err}
	}
	if err := tmpTgz.Close(); err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.import_dir", Inner: err}
	}

	if err := r.insertWithPolicy(ctx, meta, policy); err != nil {
		return err
	}

	destDir := r.subdirOf(meta.ID)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.import_dir", Inner: err}
	}
	if err := os.Rename(tmpTgzPath, filepath.Join(destDir, "pkg.tgz")); err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.import_dir", Inner: err}
	}
	if err := copyFile(filepath.Join(stageDir, "pkg.json"), filepath.Join(destDir, "pkg.json")); err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.import_dir", Inner: err}
	}

	return r.vacuumAndCompress(ctx)
}

// CreateSourceDistribution stages projectDir's libraries and a
// canonical pkg.json into a fresh temp directory and tars+gzips it to
// destTarGz, independent of any open repository. This is `pkg create`'s
// entire job (spec.md §6.1): produce the same tar+gzip artifact
// ImportDir would store, without requiring a repo to import into yet.
func CreateSourceDistribution(meta bpt.PackageMetadata, projectDir, destTarGz string) error {
	stageDir, err := os.MkdirTemp("", "bpt-sdist-*")
	if err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.create_source_distribution", Inner: err}
	}
	defer os.RemoveAll(stageDir)

	for _, lib := range meta.Libraries {
		if err := copyLibrarySubtree(filepath.Join(projectDir, lib.Path), filepath.Join(stageDir, lib.Path)); err != nil {
			return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.create_source_distribution", Inner: err}
		}
	}
	canonical, err := meta.ToJSON()
	if err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.create_source_distribution", Inner: err}
	}
	if err := os.WriteFile(filepath.Join(stageDir, "pkg.json"), canonical, 0o644); err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.create_source_distribution", Inner: err}
	}

	if err := os.MkdirAll(filepath.Dir(destTarGz), 0o755); err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.create_source_distribution", Inner: err}
	}
	out, err := os.Create(destTarGz)
	if err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.create_source_distribution", Inner: err}
	}
	defer out.Close()
	return tarGzDir(out, stageDir)
}

func (r *Repository) insertWithPolicy(ctx context.Context, meta bpt.PackageMetadata, policy ImportConflictPolicy) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.import_dir", Inner: err}
	}
	defer tx.Rollback()

	canonical, err := meta.ToJSON()
	if err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.import_dir", Inner: err}
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO crs_repo_packages (meta_json) VALUES (?)`, string(canonical))
	switch {
	case err == nil:
		return tx.Commit()
	case !isUniqueConstraint(err):
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.import_dir", Inner: err}
	case policy == ImportFailIfExists:
		return &bpt.Error{
			Kind:    bpt.ErrConflict,
			Op:      "repo.import_dir",
			Message: fmt.Sprintf("package %s is already present in this repository", meta.ID),
			Marker:  string(bpt.MarkerRepoImportAlreadyPresent),
		}
	default: // ImportReplaceIfExists
		if _, err := tx.ExecContext(ctx, `DELETE FROM crs_repo_packages WHERE name = ? AND version = ? AND revision = ?`,
			meta.ID.Name.String(), meta.ID.Version.String(), meta.ID.Revision); err != nil {
			return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.import_dir", Inner: err}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO crs_repo_packages (meta_json) VALUES (?)`, string(canonical)); err != nil {
			return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.import_dir", Inner: err}
		}
		if err := os.RemoveAll(r.subdirOf(meta.ID)); err != nil {
			return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.import_dir", Inner: err}
		}
		return tx.Commit()
	}
}

// RemovePkg deletes the row for exactly id when id.Revision != 0;
// revision 0 means "every revision of this (name, version)". It then
// removes the matching
// on-disk directories and regenerates repo.db.gz.
func (r *Repository) RemovePkg(ctx context.Context, id bpt.PkgID) error {
	var (
		rows *sql.Rows
		err  error
	)
	if id.Revision == 0 {
		rows, err = r.db.QueryContext(ctx, `SELECT name, version, revision FROM crs_repo_packages WHERE name = ? AND version = ?`,
			id.Name.String(), id.Version.String())
	} else {
		rows, err = r.db.QueryContext(ctx, `SELECT name, version, revision FROM crs_repo_packages WHERE name = ? AND version = ? AND revision = ?`,
			id.Name.String(), id.Version.String(), id.Revision)
	}
	if err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.remove_pkg", Inner: err}
	}
	var matched []bpt.PkgID
	for rows.Next() {
		var name, version string
		var revision int
		if err := rows.Scan(&name, &version, &revision); err != nil {
			rows.Close()
			return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.remove_pkg", Inner: err}
		}
		n, _ := bpt.NewName(name)
		v, _ := bpt.NewVersion(version)
		matched = append(matched, bpt.PkgID{Name: n, Version: v, Revision: revision})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.remove_pkg", Inner: err}
	}
	if len(matched) == 0 {
		return &bpt.Error{
			Kind:    bpt.ErrNotFound,
			Op:      "repo.remove_pkg",
			Message: fmt.Sprintf("no package matching %s in this repository", id),
			Marker:  string(bpt.MarkerNoSuchPkg),
		}
	}

	if id.Revision == 0 {
		if _, err := r.db.ExecContext(ctx, `DELETE FROM crs_repo_packages WHERE name = ? AND version = ?`, id.Name.String(), id.Version.String()); err != nil {
			return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.remove_pkg", Inner: err}
		}
	} else {
		if _, err := r.db.ExecContext(ctx, `DELETE FROM crs_repo_packages WHERE name = ? AND version = ? AND revision = ?`, id.Name.String(), id.Version.String(), id.Revision); err != nil {
			return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.remove_pkg", Inner: err}
		}
	}
	for _, m := range matched {
		if err := os.RemoveAll(r.subdirOf(m)); err != nil {
			return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.remove_pkg", Inner: err}
		}
	}
	return r.vacuumAndCompress(ctx)
}

// AllPackages returns every package recorded in the repository, in
// insertion order.
func (r *Repository) AllPackages(ctx context.Context) ([]bpt.PackageMetadata, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT meta_json FROM crs_repo_packages ORDER BY package_id`)
	if err != nil {
		return nil, &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.all_packages", Inner: err}
	}
	defer rows.Close()

	var out []bpt.PackageMetadata
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.all_packages", Inner: err}
		}
		meta, err := bpt.ParseMetadata([]byte(raw))
		if err != nil {
			return nil, &bpt.Error{Kind: bpt.ErrIntegrity, Op: "repo.all_packages", Inner: err}
		}
		out = append(out, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.all_packages", Inner: err}
	}
	return out, nil
}

// BuildSearchQuery builds the name-substring search query against
// crs_repo_packages for the named goqu dialect ("sqlite3" or
// "postgres"), so the repository's own SQLite index and the optional
// Postgres mirror (see postgresmirror.Mirror) answer `repo search`
// from the exact same query shape, dialect differences
// (placeholder style, quoting) handled entirely by goqu.
func BuildSearchQuery(dialectName, term string) (string, []any, error) {
	q := goqu.Dialect(dialectName).
		From("crs_repo_packages").
		Select("meta_json").
		Where(goqu.C("name").Like("%" + term + "%")).
		Order(goqu.C("package_id").Asc())
	return q.ToSQL()
}

// SearchPackages returns every package whose name contains term,
// ordered by insertion order, using BuildSearchQuery's "sqlite3"
// dialect against this repository's own repo.db.
func (r *Repository) SearchPackages(ctx context.Context, term string) ([]bpt.PackageMetadata, error) {
	sqlStr, args, err := BuildSearchQuery("sqlite3", term)
	if err != nil {
		return nil, &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.search_packages", Inner: err}
	}
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.search_packages", Inner: err}
	}
	defer rows.Close()

	var out []bpt.PackageMetadata
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.search_packages", Inner: err}
		}
		meta, err := bpt.ParseMetadata([]byte(raw))
		if err != nil {
			return nil, &bpt.Error{Kind: bpt.ErrIntegrity, Op: "repo.search_packages", Inner: err}
		}
		out = append(out, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.search_packages", Inner: err}
	}
	return out, nil
}

func (r *Repository) vacuumAndCompress(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.vacuum", Inner: err}
	}
	if _, err := r.db.ExecContext(ctx, `VACUUM`); err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "repo.vacuum", Inner: err}
	}
	return compressFileGz(filepath.Join(r.dir, "repo.db"), filepath.Join(r.dir, "repo.db.gz"))
}

func compressFileGz(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

func copyLibrarySubtree(libRoot, destRoot string) error {
	for _, sub := range []string{"src", "include"} {
		from := filepath.Join(libRoot, sub)
		info, err := os.Stat(from)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return err
		}
		if !info.IsDir() {
			continue
		}
		if err := copyTree(from, filepath.Join(destRoot, sub)); err != nil {
			return err
		}
	}
	return nil
}

func copyTree(from, to string) error {
	return filepath.WalkDir(from, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(from, path)
		if err != nil {
			return err
		}
		dest := filepath.Join(to, rel)
		if d.IsDir() {
			return os.MkdirAll(dest, 0o755)
		}
		return copyFile(path, dest)
	})
}

func copyFile(from, to string) error {
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return err
	}
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(to)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func tarGzDir(w io.Writer, dir string) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	var paths []string
	if err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		paths = append(paths, path)
		return nil
	}); err != nil {
		return err
	}
	sort.Strings(paths)

	for _, path := range paths {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		info, err := os.Lstat(path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			_, err = io.Copy(tw, f)
			f.Close()
			if err != nil {
				return err
			}
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func isUniqueConstraint(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
