package cache

import (
	"archive/tar"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bpt-pm/bpt"
	"github.com/bpt-pm/bpt/internal/dbutil"
	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
	"golang.org/x/sync/errgroup"
)

// Policy controls how Sync behaves when a remote cannot be reached or
// revalidated (spec.md §4.C).
type Policy int

const (
	// PolicyAlways treats any sync failure as fatal.
	PolicyAlways Policy = iota
	// PolicyCachedOkay falls back to the existing cached entry (if any)
	// with a warning, and only fails if no prior entry exists.
	PolicyCachedOkay
	// PolicyNever skips syncing entirely; only previously cached data
	// is used.
	PolicyNever
)

// Cache is an open handle on a user's local CRS cache: the
// bpt-metadata.db index and the pkgs/ prefetch tree.
type Cache struct {
	db   *sql.DB
	dir  string
	pool *httpPool
}

// Open opens (creating if necessary) the cache rooted at dir.
func Open(ctx context.Context, dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &bpt.Error{Kind: bpt.ErrInternal, Op: "crs.cache.open", Inner: err}
	}
	if err := os.MkdirAll(filepath.Join(dir, "pkgs"), 0o755); err != nil {
		return nil, &bpt.Error{Kind: bpt.ErrInternal, Op: "crs.cache.open", Inner: err}
	}
	db, err := dbutil.Open(filepath.Join(dir, "bpt-metadata.db"))
	if err != nil {
		return nil, &bpt.Error{Kind: bpt.ErrInternal, Op: "crs.cache.open", Inner: err}
	}
	if err := dbutil.Migrate(ctx, db, migrations); err != nil {
		db.Close()
		return nil, &bpt.Error{Kind: bpt.ErrIntegrity, Op: "crs.cache.open", Inner: err}
	}
	if err := ensureSessionViews(ctx, db); err != nil {
		db.Close()
		return nil, &bpt.Error{Kind: bpt.ErrInternal, Op: "crs.cache.open", Inner: err}
	}
	return &Cache{db: db, dir: dir, pool: newHTTPPool()}, nil
}

// Close releases the cache's database handle.
func (c *Cache) Close() error { return c.db.Close() }

// PkgsDir is the root of the prefetched-source-directory tree.
func (c *Cache) PkgsDir() string { return filepath.Join(c.dir, "pkgs") }

// Sync brings the locally cached view of rawurl's repository up to
// date, per the algorithm in spec.md §4.C.
func (c *Cache) Sync(ctx context.Context, rawurl string, policy Policy) error {
	if policy == PolicyNever {
		return nil
	}
	u, err := url.Parse(rawurl)
	if err != nil {
		return &bpt.Error{Kind: bpt.ErrInvalid, Op: "crs.cache.sync", Inner: err}
	}

	var syncErr error
	if u.Scheme == "file" {
		syncErr = c.applyRemoteDB(ctx, rawurl, filepath.Join(u.Path, "repo.db"), nil, nil, nil, time.Now())
	} else {
		syncErr = c.syncHTTP(ctx, rawurl)
	}

	if syncErr != nil {
		syncTotal.WithLabelValues("error").Inc()
		if policy == PolicyCachedOkay && c.hasPriorRemote(ctx, rawurl) {
			slog.WarnContext(ctx, "sync failed, falling back to cached data", "url", rawurl, "error", syncErr)
			return nil
		}
		return bpt.WithBreadcrumb(syncErr, bpt.BreadcrumbSyncRemote)
	}
	syncTotal.WithLabelValues("ok").Inc()
	return nil
}

// SyncAll syncs every url concurrently, returning the first error
// encountered (if any); the rest run to completion regardless.
func (c *Cache) SyncAll(ctx context.Context, urls []string, policy Policy) error {
	var g errgroup.Group
	for _, u := range urls {
		g.Go(func() error { return c.Sync(ctx, u, policy) })
	}
	return g.Wait()
}

func (c *Cache) hasPriorRemote(ctx context.Context, rawurl string) bool {
	var exists bool
	row := c.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM bpt_crs_remotes WHERE url = ?)`, rawurl)
	if err := row.Scan(&exists); err != nil {
		return false
	}
	return exists
}

func (c *Cache) syncHTTP(ctx context.Context, rawurl string) error {
	var priorEtag, priorLastMod, priorCacheControl sql.NullString
	var priorResourceTime sql.NullInt64
	row := c.db.QueryRowContext(ctx, `SELECT etag, last_modified, resource_time, cache_control FROM bpt_crs_remotes WHERE url = ?`, rawurl)
	err := row.Scan(&priorEtag, &priorLastMod, &priorResourceTime, &priorCacheControl)
	hasPrior := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "crs.cache.sync", Inner: err, Marker: string(bpt.MarkerRepoSyncDBError)}
	}

	if hasPrior && priorCacheControl.Valid && priorResourceTime.Valid &&
		!shouldRevalidate(priorCacheControl.String, time.Unix(priorResourceTime.Int64, 0)) {
		_, err := c.db.ExecContext(ctx, `UPDATE bpt_crs_remotes SET resource_time = ?, cache_control = ? WHERE url = ?`,
			time.Now().Unix(), priorCacheControl.String, rawurl)
		if err != nil {
			return &bpt.Error{Kind: bpt.ErrInternal, Op: "crs.cache.sync", Inner: err, Marker: string(bpt.MarkerRepoSyncDBError)}
		}
		return nil
	}

	limiter := c.pool.limiterFor(hostOf(rawurl))
	if err := limiter.Wait(ctx); err != nil {
		return &bpt.Error{Kind: bpt.ErrTransient, Op: "crs.cache.sync", Inner: err, Marker: string(bpt.MarkerRepoSyncHTTPError)}
	}

	resp, usedXZ, err := c.fetchRepoDB(ctx, rawurl, priorEtag, priorLastMod)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	newEtag := headerOrNil(resp.Header, "Etag")
	newLastMod := headerOrNil(resp.Header, "Last-Modified")
	newCacheControl := headerOrNil(resp.Header, "Cache-Control")
	resourceTime := time.Now()
	if age := resp.Header.Get("Age"); age != "" {
		if n, err := strconv.Atoi(age); err == nil {
			resourceTime = resourceTime.Add(-time.Duration(n) * time.Second)
		}
	}

	if resp.StatusCode == http.StatusNotModified {
		_, err := c.db.ExecContext(ctx, `UPDATE bpt_crs_remotes SET etag=?, last_modified=?, resource_time=?, cache_control=? WHERE url=?`,
			nullableStr(newEtag), nullableStr(newLastMod), resourceTime.Unix(), nullableStr(newCacheControl), rawurl)
		if err != nil {
			return &bpt.Error{Kind: bpt.ErrInternal, Op: "crs.cache.sync", Inner: err, Marker: string(bpt.MarkerRepoSyncDBError)}
		}
		return nil
	}

	tmpCompressed, err := os.CreateTemp("", "repo-*.download")
	if err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "crs.cache.sync", Inner: err}
	}
	defer os.Remove(tmpCompressed.Name())
	if _, err := io.Copy(tmpCompressed, resp.Body); err != nil {
		tmpCompressed.Close()
		return &bpt.Error{Kind: bpt.ErrTransient, Op: "crs.cache.sync", Inner: err, Marker: string(bpt.MarkerRepoSyncHTTPError)}
	}
	tmpCompressed.Close()

	var tmpDB string
	if usedXZ {
		tmpDB, err = decompressXz(tmpCompressed.Name())
	} else {
		tmpDB, err = decompressGz(tmpCompressed.Name())
	}
	if err != nil {
		return &bpt.Error{Kind: bpt.ErrInvalid, Op: "crs.cache.sync", Inner: err, Marker: string(bpt.MarkerRepoSyncDecompressError)}
	}
	defer os.Remove(tmpDB)

	if err := c.applyRemoteDB(ctx, rawurl, tmpDB, newEtag, newLastMod, newCacheControl, resourceTime); err != nil {
		return &bpt.Error{Kind: bpt.ErrIntegrity, Op: "crs.cache.sync", Inner: err, Marker: string(bpt.MarkerRepoSyncDBError)}
	}
	return nil
}

// fetchRepoDB requests <rawurl>/repo.db.gz, falling back to
// <rawurl>/repo.db.xz if the server has no gzip artifact. It returns
// the live response (caller closes the body) and whether the xz
// variant was used.
func (c *Cache) fetchRepoDB(ctx context.Context, rawurl string, etag, lastMod sql.NullString) (*http.Response, bool, error) {
	base := strings.TrimRight(rawurl, "/")
	resp, err := c.get(ctx, base+"/repo.db.gz", etag, lastMod)
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode != http.StatusNotFound {
		return resp, false, nil
	}
	resp.Body.Close()

	xzResp, err := c.get(ctx, base+"/repo.db.xz", etag, lastMod)
	if err != nil {
		return nil, false, err
	}
	if xzResp.StatusCode == http.StatusNotFound {
		xzResp.Body.Close()
		return nil, false, &bpt.Error{
			Kind:    bpt.ErrNotFound,
			Op:      "crs.cache.sync",
			Message: fmt.Sprintf("remote %q has no repo.db.gz or repo.db.xz", rawurl),
			Marker:  string(bpt.MarkerRepoSyncHTTP404),
		}
	}
	return xzResp, true, nil
}

func (c *Cache) get(ctx context.Context, url string, etag, lastMod sql.NullString) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &bpt.Error{Kind: bpt.ErrInternal, Op: "crs.cache.sync", Inner: err}
	}
	if etag.Valid {
		req.Header.Set("If-None-Match", etag.String)
	}
	if lastMod.Valid {
		req.Header.Set("If-Modified-Since", lastMod.String)
	}
	resp, err := c.pool.client.Do(req)
	if err != nil {
		return nil, &bpt.Error{Kind: bpt.ErrTransient, Op: "crs.cache.sync", Inner: err, Marker: string(bpt.MarkerRepoSyncHTTPError)}
	}
	if resp.StatusCode != http.StatusNotFound && resp.StatusCode != http.StatusNotModified && resp.StatusCode/100 != 2 {
		resp.Body.Close()
		return nil, &bpt.Error{
			Kind:    bpt.ErrTransient,
			Op:      "crs.cache.sync",
			Message: fmt.Sprintf("fetching %s: HTTP %d", url, resp.StatusCode),
			Marker:  string(bpt.MarkerRepoSyncHTTPError),
		}
	}
	return resp, nil
}

// shouldRevalidate reports whether a resource with the given
// Cache-Control header and fetch time needs revalidating now.
func shouldRevalidate(cacheControl string, resourceTime time.Time) bool {
	parts := strings.Split(cacheControl, ",")
	for _, p := range parts {
		if strings.TrimSpace(p) == "no-cache" {
			return true
		}
	}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if after, ok := strings.CutPrefix(p, "max-age="); ok {
			n, err := strconv.Atoi(strings.TrimSpace(after))
			if err != nil {
				return true
			}
			stale := resourceTime.Add(time.Duration(n) * time.Second)
			return !stale.After(time.Now())
		}
	}
	return true
}

// applyRemoteDB attaches the repo.db at remoteDBPath, upserts the
// remotes row, upserts/prunes its packages, and runs an integrity
// check, all inside one transaction (spec.md §4.C step 5).
func (c *Cache) applyRemoteDB(ctx context.Context, rawurl, remoteDBPath string, etag, lastMod, cacheControl *string, resourceTime time.Time) error {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `ATTACH DATABASE ? AS remote`, remoteDBPath); err != nil {
		return err
	}
	defer conn.ExecContext(context.Background(), `DETACH DATABASE remote`)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var uniqueName string
	if err := tx.QueryRowContext(ctx, `SELECT name FROM remote.crs_repo_self`).Scan(&uniqueName); err != nil {
		return fmt.Errorf("reading remote identity: %w", err)
	}

	var remoteID, remoteRevno int64
	row := tx.QueryRowContext(ctx, `
		INSERT INTO bpt_crs_remotes (url, unique_name, revno, etag, last_modified, resource_time, cache_control)
		VALUES (?, ?, 1, ?, ?, ?, ?)
		ON CONFLICT (unique_name) DO UPDATE SET
			url = excluded.url,
			etag = excluded.etag,
			last_modified = excluded.last_modified,
			resource_time = excluded.resource_time,
			cache_control = excluded.cache_control,
			revno = bpt_crs_remotes.revno + 1
		RETURNING remote_id, revno
	`, rawurl, uniqueName, nullableStr(etag), nullableStr(lastMod), resourceTime.Unix(), nullableStr(cacheControl))
	if err := row.Scan(&remoteID, &remoteRevno); err != nil {
		return fmt.Errorf("upserting remote row: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT meta_json FROM remote.crs_repo_packages`)
	if err != nil {
		return fmt.Errorf("reading remote packages: %w", err)
	}
	var metaJSONs []string
	for rows.Next() {
		var j string
		if err := rows.Scan(&j); err != nil {
			rows.Close()
			return err
		}
		metaJSONs = append(metaJSONs, j)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, j := range metaJSONs {
		meta, err := bpt.ParseMetadata([]byte(j))
		if err != nil {
			slog.WarnContext(ctx, "remote package has an invalid JSON entry, skipping", "url", rawurl, "error", err)
			continue
		}
		if meta.ID.Revision < 1 {
			slog.WarnContext(ctx, "remote package has an invalid revision, skipping", "url", rawurl, "package", meta.ID)
			continue
		}
		canonical, err := meta.ToJSON()
		if err != nil {
			slog.WarnContext(ctx, "failed to canonicalize remote package, skipping", "url", rawurl, "package", meta.ID, "error", err)
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bpt_crs_packages (json, remote_id, remote_revno) VALUES (?, ?, ?)
			ON CONFLICT (name, version, revision, remote_id) DO UPDATE SET json = excluded.json, remote_revno = excluded.remote_revno
		`, string(canonical), remoteID, remoteRevno); err != nil {
			return fmt.Errorf("upserting package %s: %w", meta.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM bpt_crs_packages WHERE remote_id = ? AND remote_revno < ?`, remoteID, remoteRevno); err != nil {
		return fmt.Errorf("pruning stale packages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, `PRAGMA integrity_check`); err != nil {
		return fmt.Errorf("post-sync integrity check: %w", err)
	}
	return nil
}

// EnableRemote marks url's remote as participating in this session's
// queries. It fails with bpt.MarkerNoSuchRemoteURL if url was never
// synced.
func (c *Cache) EnableRemote(ctx context.Context, rawurl string) error {
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO bpt_crs_enabled_remotes (remote_id)
		SELECT remote_id FROM bpt_crs_remotes WHERE url = ?
	`, rawurl)
	if err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "crs.cache.enable_remote", Inner: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "crs.cache.enable_remote", Inner: err}
	}
	if n > 0 || c.hasPriorRemote(ctx, rawurl) {
		return nil
	}
	return &bpt.Error{
		Kind:    bpt.ErrNotFound,
		Op:      "crs.cache.enable_remote",
		Message: fmt.Sprintf("remote %q has never been synced", rawurl),
		Marker:  string(bpt.MarkerNoSuchRemoteURL),
	}
}

// Prefetch ensures the source directory for id is materialized under
// PkgsDir(), downloading and expanding it if necessary, and returns its
// path. If id.Revision is zero, the highest enabled revision of
// (name, version) is used.
func (c *Cache) Prefetch(ctx context.Context, id bpt.PkgID) (string, error) {
	var metaJSON string
	var remoteID int64
	var revision int

	var row *sql.Row
	if id.Revision == 0 {
		row = c.db.QueryRowContext(ctx, `
			SELECT json, remote_id, revision FROM enabled_packages
			WHERE name = ? AND version = ?
			ORDER BY revision DESC LIMIT 1
		`, id.Name.String(), id.Version.String())
	} else {
		row = c.db.QueryRowContext(ctx, `
			SELECT json, remote_id, revision FROM enabled_packages
			WHERE name = ? AND version = ? AND revision = ?
		`, id.Name.String(), id.Version.String(), id.Revision)
	}
	if err := row.Scan(&metaJSON, &remoteID, &revision); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", &bpt.Error{
				Kind:    bpt.ErrNotFound,
				Op:      "crs.cache.prefetch",
				Message: fmt.Sprintf("no such package %s", id),
				Marker:  string(bpt.MarkerNoSuchPkg),
			}
		}
		return "", &bpt.Error{Kind: bpt.ErrInternal, Op: "crs.cache.prefetch", Inner: err}
	}
	resolved := bpt.PkgID{Name: id.Name, Version: id.Version, Revision: revision}

	destDir := filepath.Join(c.PkgsDir(), resolved.Name.String(), fmt.Sprintf("%s~%d", resolved.Version.String(), resolved.Revision))
	if _, err := os.Stat(destDir); err == nil {
		prefetchTotal.WithLabelValues("cached").Inc()
		return destDir, nil
	} else if !os.IsNotExist(err) {
		return "", &bpt.Error{Kind: bpt.ErrInternal, Op: "crs.cache.prefetch", Inner: err}
	}

	var remoteURL string
	if err := c.db.QueryRowContext(ctx, `SELECT url FROM bpt_crs_remotes WHERE remote_id = ?`, remoteID).Scan(&remoteURL); err != nil {
		return "", &bpt.Error{Kind: bpt.ErrInternal, Op: "crs.cache.prefetch", Inner: err}
	}

	if err := c.pullAndExpand(ctx, remoteURL, resolved, destDir); err != nil {
		prefetchTotal.WithLabelValues("error").Inc()
		return "", err
	}
	prefetchTotal.WithLabelValues("ok").Inc()
	return destDir, nil
}

func (c *Cache) pullAndExpand(ctx context.Context, remoteURL string, id bpt.PkgID, destDir string) error {
	u, err := url.Parse(remoteURL)
	if err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "crs.cache.prefetch", Inner: err}
	}

	if err := os.MkdirAll(c.PkgsDir(), 0o755); err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "crs.cache.prefetch", Inner: err}
	}
	workDir, err := os.MkdirTemp(c.PkgsDir(), ".prefetch-*")
	if err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "crs.cache.prefetch", Inner: err}
	}
	defer os.RemoveAll(workDir)

	relTgz := filepath.Join(id.Name.String(), fmt.Sprintf("%s~%d", id.Version.String(), id.Revision), "pkg.tgz")

	var tgzPath string
	if u.Scheme == "file" {
		tgzPath = filepath.Join(u.Path, "pkg", relTgz)
	} else {
		limiter := c.pool.limiterFor(hostOf(remoteURL))
		if err := limiter.Wait(ctx); err != nil {
			return &bpt.Error{Kind: bpt.ErrTransient, Op: "crs.cache.prefetch", Inner: err}
		}
		tgzURL := strings.TrimRight(remoteURL, "/") + "/pkg/" + filepath.ToSlash(relTgz)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, tgzURL, nil)
		if err != nil {
			return &bpt.Error{Kind: bpt.ErrInternal, Op: "crs.cache.prefetch", Inner: err}
		}
		resp, err := c.pool.client.Do(req)
		if err != nil {
			return &bpt.Error{Kind: bpt.ErrTransient, Op: "crs.cache.prefetch", Inner: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode/100 != 2 {
			return &bpt.Error{Kind: bpt.ErrTransient, Op: "crs.cache.prefetch", Message: fmt.Sprintf("fetching %s: HTTP %d", tgzURL, resp.StatusCode)}
		}
		f, err := os.CreateTemp(workDir, "pkg-*.tgz")
		if err != nil {
			return &bpt.Error{Kind: bpt.ErrInternal, Op: "crs.cache.prefetch", Inner: err}
		}
		if _, err := io.Copy(f, resp.Body); err != nil {
			f.Close()
			return &bpt.Error{Kind: bpt.ErrTransient, Op: "crs.cache.prefetch", Inner: err}
		}
		f.Close()
		tgzPath = f.Name()
	}

	expandDir := filepath.Join(workDir, "expanded")
	if err := expandTargz(tgzPath, expandDir); err != nil {
		return &bpt.Error{Kind: bpt.ErrInvalid, Op: "crs.cache.prefetch", Inner: err}
	}
	if err := os.MkdirAll(filepath.Dir(destDir), 0o755); err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "crs.cache.prefetch", Inner: err}
	}
	if err := os.Rename(expandDir, destDir); err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "crs.cache.prefetch", Inner: err}
	}
	return nil
}

// ForPackage returns every enabled package entry named name.
func (c *Cache) ForPackage(ctx context.Context, name bpt.Name) ([]bpt.PackageMetadata, error) {
	return c.queryPackages(ctx, `SELECT json FROM enabled_packages WHERE name = ?`, name.String())
}

// ForPackageVersion returns every enabled package entry named name at
// version (there may be more than one revision).
func (c *Cache) ForPackageVersion(ctx context.Context, name bpt.Name, version bpt.Version) ([]bpt.PackageMetadata, error) {
	return c.queryPackages(ctx, `SELECT json FROM enabled_packages WHERE name = ? AND version = ?`, name.String(), version.String())
}

// AllEnabled returns every package entry visible through the session's
// enabled remotes, in enablement order.
func (c *Cache) AllEnabled(ctx context.Context) ([]bpt.PackageMetadata, error) {
	return c.queryPackages(ctx, `SELECT json FROM enabled_packages`)
}

func (c *Cache) queryPackages(ctx context.Context, query string, args ...any) ([]bpt.PackageMetadata, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &bpt.Error{Kind: bpt.ErrInternal, Op: "crs.cache.query", Inner: err}
	}
	defer rows.Close()

	var out []bpt.PackageMetadata
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, &bpt.Error{Kind: bpt.ErrInternal, Op: "crs.cache.query", Inner: err}
		}
		meta, err := bpt.ParseMetadata([]byte(raw))
		if err != nil {
			return nil, &bpt.Error{Kind: bpt.ErrIntegrity, Op: "crs.cache.query", Inner: err}
		}
		out = append(out, meta)
	}
	return out, rows.Err()
}

func expandTargz(tgzPath, destDir string) error {
	f, err := os.Open(tgzPath)
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()
	tr := tar.NewReader(gz)

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, filepath.FromSlash(hdr.Name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.Create(target)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		}
	}
}

func decompressGz(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", err
	}
	defer gz.Close()
	return drainToTemp(gz)
}

func decompressXz(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	xr, err := xz.NewReader(f)
	if err != nil {
		return "", err
	}
	return drainToTemp(xr)
}

func drainToTemp(r io.Reader) (string, error) {
	out, err := os.CreateTemp("", "repo-*.db")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", err
	}
	return out.Name(), nil
}

func headerOrNil(h http.Header, key string) *string {
	v := h.Get(key)
	if v == "" {
		return nil
	}
	return &v
}

func nullableStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
