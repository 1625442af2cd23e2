package builddb

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestUpToDateRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	db, err := Open(ctx, filepath.Join(dir, ".bpt.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	up, err := db.UpToDate(ctx, "out/widget.o", "cmd1", "inputs1", "buster1")
	if err != nil {
		t.Fatalf("UpToDate: %v", err)
	}
	if up {
		t.Fatal("expected not up to date before any record")
	}

	if err := db.Record(ctx, Fingerprint{
		OutputPath: "out/widget.o", CommandHash: "cmd1", InputsHash: "inputs1",
		CacheBuster: "buster1", Deps: []string{"widget.h"},
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	up, err = db.UpToDate(ctx, "out/widget.o", "cmd1", "inputs1", "buster1")
	if err != nil {
		t.Fatalf("UpToDate: %v", err)
	}
	if !up {
		t.Error("expected up to date after recording a matching fingerprint")
	}

	up, err = db.UpToDate(ctx, "out/widget.o", "cmd1", "inputs2", "buster1")
	if err != nil {
		t.Fatalf("UpToDate: %v", err)
	}
	if up {
		t.Error("expected not up to date when inputs_hash changed")
	}

	deps, err := db.Deps(ctx, "out/widget.o")
	if err != nil {
		t.Fatalf("Deps: %v", err)
	}
	if len(deps) != 1 || deps[0] != "widget.h" {
		t.Errorf("got deps %v, want [widget.h]", deps)
	}
}

func TestHashInputsOrderIndependent(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.c")
	b := filepath.Join(dir, "b.c")
	if err := os.WriteFile(a, []byte("int a;"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("int b;"), 0o644); err != nil {
		t.Fatal(err)
	}

	h1, err := HashInputs([]string{a, b})
	if err != nil {
		t.Fatalf("HashInputs: %v", err)
	}
	h2, err := HashInputs([]string{b, a})
	if err != nil {
		t.Fatalf("HashInputs: %v", err)
	}
	if h1 != h2 {
		t.Errorf("got differing hashes for differently-ordered input lists: %q vs %q", h1, h2)
	}

	if err := os.WriteFile(b, []byte("int b2;"), 0o644); err != nil {
		t.Fatal(err)
	}
	h3, err := HashInputs([]string{a, b})
	if err != nil {
		t.Fatalf("HashInputs: %v", err)
	}
	if h3 == h1 {
		t.Error("expected the hash to change after editing an input file")
	}
}

func TestHashCommandOrderSensitive(t *testing.T) {
	h1, err := HashCommand([]string{"gcc", "-c", "a.c"})
	if err != nil {
		t.Fatalf("HashCommand: %v", err)
	}
	h2, err := HashCommand([]string{"gcc", "a.c", "-c"})
	if err != nil {
		t.Fatalf("HashCommand: %v", err)
	}
	if h1 == h2 {
		t.Error("expected argument order to change the command hash")
	}
}

func TestCacheBusterHashStableAndSensitive(t *testing.T) {
	dir := t.TempDir()
	empty, err := CacheBusterHash(dir)
	if err != nil {
		t.Fatalf("CacheBusterHash: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "tweak.cmake"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	withFile, err := CacheBusterHash(dir)
	if err != nil {
		t.Fatalf("CacheBusterHash: %v", err)
	}
	if withFile == empty {
		t.Error("expected adding a file to the tweaks dir to change its cache-buster hash")
	}

	missing, err := CacheBusterHash(filepath.Join(dir, "does-not-exist"))
	if err != nil {
		t.Fatalf("CacheBusterHash on missing dir: %v", err)
	}
	if missing != empty {
		t.Errorf("expected a missing tweaks dir to hash the same as an empty one: %q vs %q", missing, empty)
	}
}
