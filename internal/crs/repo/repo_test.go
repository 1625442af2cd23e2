package repo

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bpt-pm/bpt"
)

func writeSdist(t *testing.T, dir string, meta map[string]any) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(meta)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "pkg.json"), b, 0o644); err != nil {
		t.Fatal(err)
	}
	libDir := filepath.Join(dir, "libs/core/src")
	if err := os.MkdirAll(libDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(libDir, "widget.cpp"), []byte("// widget\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func sampleMeta() map[string]any {
	return map[string]any{
		"schema-version": 1,
		"name":           "widgets",
		"version":        "1.0.0",
		"revision":       1,
		"libraries": []map[string]any{
			{"name": "core", "path": "libs/core"},
		},
	}
}

func TestCreateTwiceFailsAlreadyInit(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	r, err := Create(ctx, dir, "widgets-repo")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	r.Close()

	_, err = Create(ctx, dir, "widgets-repo")
	if err == nil {
		t.Fatal("expected the second Create to fail")
	}
	var e *bpt.Error
	if !errors.As(err, &e) {
		t.Fatalf("err = %v, not a *bpt.Error", err)
	}
	if e.Marker != string(bpt.MarkerRepoAlreadyInit) {
		t.Errorf("Marker = %q, want %q", e.Marker, bpt.MarkerRepoAlreadyInit)
	}
}

func TestImportDirAndAllPackages(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	r, err := Create(ctx, dir, "widgets-repo")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer r.Close()

	src := t.TempDir()
	writeSdist(t, src, sampleMeta())

	if err := r.ImportDir(ctx, src, ImportFailIfExists); err != nil {
		t.Fatalf("ImportDir: %v", err)
	}

	pkgs, err := r.AllPackages(ctx)
	if err != nil {
		t.Fatalf("AllPackages: %v", err)
	}
	if len(pkgs) != 1 {
		t.Fatalf("len(pkgs) = %d, want 1", len(pkgs))
	}
	if pkgs[0].ID.Name.String() != "widgets" {
		t.Errorf("name = %q, want widgets", pkgs[0].ID.Name.String())
	}

	tgz := filepath.Join(r.subdirOf(pkgs[0].ID), "pkg.tgz")
	if _, err := os.Stat(tgz); err != nil {
		t.Errorf("expected %s to exist: %v", tgz, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "repo.db.gz")); err != nil {
		t.Errorf("expected repo.db.gz to exist: %v", err)
	}
}

func TestImportDirConflict(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	r, err := Create(ctx, dir, "widgets-repo")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer r.Close()

	src := t.TempDir()
	writeSdist(t, src, sampleMeta())
	if err := r.ImportDir(ctx, src, ImportFailIfExists); err != nil {
		t.Fatalf("ImportDir: %v", err)
	}

	err = r.ImportDir(ctx, src, ImportFailIfExists)
	if err == nil {
		t.Fatal("expected the second import of the same id to fail")
	}
	var e *bpt.Error
	if !errors.As(err, &e) || e.Marker != string(bpt.MarkerRepoImportAlreadyPresent) {
		t.Fatalf("err = %v, want Marker %q", err, bpt.MarkerRepoImportAlreadyPresent)
	}

	if err := r.ImportDir(ctx, src, ImportReplaceIfExists); err != nil {
		t.Fatalf("ImportDir (replace): %v", err)
	}
	pkgs, err := r.AllPackages(ctx)
	if err != nil {
		t.Fatalf("AllPackages: %v", err)
	}
	if len(pkgs) != 1 {
		t.Fatalf("len(pkgs) after replace = %d, want 1", len(pkgs))
	}
}

func TestRemovePkg(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	r, err := Create(ctx, dir, "widgets-repo")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer r.Close()

	src := t.TempDir()
	writeSdist(t, src, sampleMeta())
	if err := r.ImportDir(ctx, src, ImportFailIfExists); err != nil {
		t.Fatalf("ImportDir: %v", err)
	}
	pkgs, _ := r.AllPackages(ctx)
	id := pkgs[0].ID

	if err := r.RemovePkg(ctx, id); err != nil {
		t.Fatalf("RemovePkg: %v", err)
	}
	pkgs, err = r.AllPackages(ctx)
	if err != nil {
		t.Fatalf("AllPackages: %v", err)
	}
	if len(pkgs) != 0 {
		t.Fatalf("len(pkgs) after remove = %d, want 0", len(pkgs))
	}
	if _, err := os.Stat(r.subdirOf(id)); !os.IsNotExist(err) {
		t.Errorf("expected %s to be removed", r.subdirOf(id))
	}
}

func TestRemovePkgNoSuchPkg(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	r, err := Create(ctx, dir, "widgets-repo")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer r.Close()

	name, _ := bpt.NewName("nonexistent")
	version, _ := bpt.NewVersion("1.0.0")
	err = r.RemovePkg(ctx, bpt.PkgID{Name: name, Version: version, Revision: 1})
	if err == nil {
		t.Fatal("expected an error removing a nonexistent package")
	}
	var e *bpt.Error
	if !errors.As(err, &e) || e.Marker != string(bpt.MarkerNoSuchPkg) {
		t.Fatalf("err = %v, want Marker %q", err, bpt.MarkerNoSuchPkg)
	}
}
