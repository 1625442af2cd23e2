package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bpt-pm/bpt"
	"github.com/bpt-pm/bpt/internal/crs/repo"
)

func seedRepo(t *testing.T, dir string) {
	t.Helper()
	ctx := context.Background()
	r, err := repo.Create(ctx, dir, "widgets-upstream")
	if err != nil {
		t.Fatalf("repo.Create: %v", err)
	}
	defer r.Close()

	src := t.TempDir()
	meta := map[string]any{
		"schema-version": 1,
		"name":           "widgets",
		"version":        "1.0.0",
		"revision":       1,
		"libraries": []map[string]any{
			{"name": "core", "path": "libs/core"},
		},
	}
	b, err := json.Marshal(meta)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "pkg.json"), b, 0o644); err != nil {
		t.Fatal(err)
	}
	libDir := filepath.Join(src, "libs/core/src")
	if err := os.MkdirAll(libDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(libDir, "widget.cpp"), []byte("// widget\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := r.ImportDir(ctx, src, repo.ImportFailIfExists); err != nil {
		t.Fatalf("r.ImportDir: %v", err)
	}
}

func TestSyncFileAndForPackage(t *testing.T) {
	ctx := context.Background()
	repoDir := t.TempDir()
	seedRepo(t, repoDir)

	cacheDir := t.TempDir()
	c, err := Open(ctx, cacheDir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	remoteURL := "file://" + repoDir
	if err := c.Sync(ctx, remoteURL, PolicyAlways); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := c.EnableRemote(ctx, remoteURL); err != nil {
		t.Fatalf("EnableRemote: %v", err)
	}

	name, err := bpt.NewName("widgets")
	if err != nil {
		t.Fatal(err)
	}
	pkgs, err := c.ForPackage(ctx, name)
	if err != nil {
		t.Fatalf("ForPackage: %v", err)
	}
	if len(pkgs) != 1 {
		t.Fatalf("got %d packages, want 1", len(pkgs))
	}
	if pkgs[0].ID.Name.String() != "widgets" {
		t.Errorf("got name %q, want widgets", pkgs[0].ID.Name.String())
	}

	all, err := c.AllEnabled(ctx)
	if err != nil {
		t.Fatalf("AllEnabled: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d enabled packages, want 1", len(all))
	}
}

func TestSyncTwiceReplacesPackages(t *testing.T) {
	ctx := context.Background()
	repoDir := t.TempDir()
	seedRepo(t, repoDir)

	cacheDir := t.TempDir()
	c, err := Open(ctx, cacheDir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	remoteURL := "file://" + repoDir
	if err := c.Sync(ctx, remoteURL, PolicyAlways); err != nil {
		t.Fatalf("first Sync: %v", err)
	}
	if err := c.Sync(ctx, remoteURL, PolicyAlways); err != nil {
		t.Fatalf("second Sync: %v", err)
	}

	var revno int
	row := c.db.QueryRowContext(ctx, `SELECT revno FROM bpt_crs_remotes WHERE url = ?`, remoteURL)
	if err := row.Scan(&revno); err != nil {
		t.Fatalf("scanning revno: %v", err)
	}
	if revno != 2 {
		t.Errorf("got revno %d, want 2 after two syncs", revno)
	}

	var count int
	row = c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bpt_crs_packages`)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("scanning package count: %v", err)
	}
	if count != 1 {
		t.Errorf("got %d packages after resync, want 1 (stale rows should be pruned)", count)
	}
}

func TestEnableRemoteUnknownURL(t *testing.T) {
	ctx := context.Background()
	cacheDir := t.TempDir()
	c, err := Open(ctx, cacheDir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	err = c.EnableRemote(ctx, "https://example.invalid/repo")
	if err == nil {
		t.Fatal("expected an error enabling a never-synced remote")
	}
	var e *bpt.Error
	if !asError(err, &e) {
		t.Fatalf("expected a *bpt.Error, got %T: %v", err, err)
	}
	if e.Marker != string(bpt.MarkerNoSuchRemoteURL) {
		t.Errorf("got marker %q, want %q", e.Marker, bpt.MarkerNoSuchRemoteURL)
	}
}

func TestPrefetchDownloadsAndCaches(t *testing.T) {
	ctx := context.Background()
	repoDir := t.TempDir()
	seedRepo(t, repoDir)

	cacheDir := t.TempDir()
	c, err := Open(ctx, cacheDir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	remoteURL := "file://" + repoDir
	if err := c.Sync(ctx, remoteURL, PolicyAlways); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := c.EnableRemote(ctx, remoteURL); err != nil {
		t.Fatalf("EnableRemote: %v", err)
	}

	name, _ := bpt.NewName("widgets")
	version, _ := bpt.NewVersion("1.0.0")
	id := bpt.PkgID{Name: name, Version: version, Revision: 0}

	dir, err := c.Prefetch(ctx, id)
	if err != nil {
		t.Fatalf("Prefetch: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "pkg.json")); err != nil {
		t.Errorf("expected pkg.json in prefetched dir: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "libs/core/src/widget.cpp")); err != nil {
		t.Errorf("expected library source in prefetched dir: %v", err)
	}

	dir2, err := c.Prefetch(ctx, id)
	if err != nil {
		t.Fatalf("second Prefetch: %v", err)
	}
	if dir2 != dir {
		t.Errorf("got different dir on cached Prefetch: %q vs %q", dir2, dir)
	}
}

func TestPrefetchNoSuchPkg(t *testing.T) {
	ctx := context.Background()
	cacheDir := t.TempDir()
	c, err := Open(ctx, cacheDir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	name, _ := bpt.NewName("nonesuch")
	version, _ := bpt.NewVersion("1.0.0")
	_, err = c.Prefetch(ctx, bpt.PkgID{Name: name, Version: version})
	if err == nil {
		t.Fatal("expected an error for an unknown package")
	}
	var e *bpt.Error
	if !asError(err, &e) {
		t.Fatalf("expected a *bpt.Error, got %T: %v", err, err)
	}
	if e.Marker != string(bpt.MarkerNoSuchPkg) {
		t.Errorf("got marker %q, want %q", e.Marker, bpt.MarkerNoSuchPkg)
	}
}

func TestShouldRevalidate(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name          string
		cacheControl  string
		resourceAgeS  int
		wantRevalidat bool
	}{
		{"no-cache forces revalidation", "no-cache", 0, true},
		{"fresh within max-age", "max-age=3600", 10, false},
		{"stale past max-age", "max-age=5", 3600, true},
		{"unparseable max-age revalidates", "max-age=nope", 0, true},
		{"no directives revalidates", "", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resourceTime := now.Add(-time.Duration(tc.resourceAgeS) * time.Second)
			got := shouldRevalidate(tc.cacheControl, resourceTime)
			if got != tc.wantRevalidat {
				t.Errorf("got %v, want %v", got, tc.wantRevalidat)
			}
		})
	}
}

func asError(err error, target **bpt.Error) bool {
	for err != nil {
		if e, ok := err.(*bpt.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
