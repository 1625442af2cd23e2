package solver

import (
	"context"
	"errors"
	"testing"

	"github.com/bpt-pm/bpt"
)

// fakeSource is a hand-rolled CandidateSource for algorithmic tests.
type fakeSource struct {
	byName map[string][]bpt.PackageMetadata
}

func (f *fakeSource) ForPackage(ctx context.Context, name bpt.Name) ([]bpt.PackageMetadata, error) {
	return f.byName[name.String()], nil
}

func (f *fakeSource) ForPackageVersion(ctx context.Context, name bpt.Name, version bpt.Version) ([]bpt.PackageMetadata, error) {
	var out []bpt.PackageMetadata
	for _, m := range f.byName[name.String()] {
		if m.ID.Version.Equal(version) {
			out = append(out, m)
		}
	}
	return out, nil
}

func mustName(t *testing.T, s string) bpt.Name {
	t.Helper()
	n, err := bpt.NewName(s)
	if err != nil {
		t.Fatalf("NewName(%q): %v", s, err)
	}
	return n
}

func mustVersion(t *testing.T, s string) bpt.Version {
	t.Helper()
	v, err := bpt.NewVersion(s)
	if err != nil {
		t.Fatalf("NewVersion(%q): %v", s, err)
	}
	return v
}

func rangeAll(t *testing.T) bpt.VersionRangeSet {
	t.Helper()
	rs, err := bpt.NewVersionRangeSet(bpt.VersionRange{Low: mustVersion(t, "0.0.0"), High: mustVersion(t, "999.0.0")})
	if err != nil {
		t.Fatal(err)
	}
	return rs
}

func pkg(t *testing.T, name, version string, revision int, libs []bpt.LibraryInfo) bpt.PackageMetadata {
	t.Helper()
	return bpt.PackageMetadata{
		ID:        bpt.PkgID{Name: mustName(t, name), Version: mustVersion(t, version), Revision: revision},
		Libraries: libs,
	}
}

func lib(t *testing.T, name string, deps ...bpt.Dependency) bpt.LibraryInfo {
	t.Helper()
	return bpt.LibraryInfo{Name: mustName(t, name), Path: name, Dependencies: deps}
}

func dep(t *testing.T, name string, uses ...string) bpt.Dependency {
	t.Helper()
	var usesNames []bpt.Name
	for _, u := range uses {
		usesNames = append(usesNames, mustName(t, u))
	}
	return bpt.Dependency{Name: mustName(t, name), AcceptableVersions: rangeAll(t), Uses: usesNames}
}

func TestSolveSimpleChain(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{byName: map[string][]bpt.PackageMetadata{
		"bar": {pkg(t, "bar", "1.0.0", 1, []bpt.LibraryInfo{lib(t, "core")})},
		"foo": {pkg(t, "foo", "2.0.0", 1, []bpt.LibraryInfo{lib(t, "core", dep(t, "bar", "core"))})},
	}}

	sels, err := Solve(ctx, src, []RootDependency{
		{Name: mustName(t, "foo"), Versions: rangeAll(t), Uses: []bpt.Name{mustName(t, "core")}},
	})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(sels) != 2 {
		t.Fatalf("got %d selections, want 2: %+v", len(sels), sels)
	}
	if sels[0].ID.Name.String() != "bar" || sels[1].ID.Name.String() != "foo" {
		t.Errorf("got order %s, %s; want bar before foo (PkgID.Compare order)", sels[0].ID, sels[1].ID)
	}
}

func TestSolvePicksHighestVersion(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{byName: map[string][]bpt.PackageMetadata{
		"foo": {
			pkg(t, "foo", "1.0.0", 1, []bpt.LibraryInfo{lib(t, "core")}),
			pkg(t, "foo", "2.0.0", 1, []bpt.LibraryInfo{lib(t, "core")}),
			pkg(t, "foo", "1.5.0", 1, []bpt.LibraryInfo{lib(t, "core")}),
		},
	}}

	sels, err := Solve(ctx, src, []RootDependency{
		{Name: mustName(t, "foo"), Versions: rangeAll(t), Uses: []bpt.Name{mustName(t, "core")}},
	})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(sels) != 1 || sels[0].ID.Version.String() != "2.0.0" {
		t.Fatalf("got %+v, want foo@2.0.0", sels)
	}
}

func TestSolveSharedDependencyConvergesOnOneVersion(t *testing.T) {
	ctx := context.Background()
	narrow, err := bpt.NewVersionRangeSet(bpt.VersionRange{Low: mustVersion(t, "1.0.0"), High: mustVersion(t, "1.5.0")})
	if err != nil {
		t.Fatal(err)
	}

	src := &fakeSource{byName: map[string][]bpt.PackageMetadata{
		"shared": {
			pkg(t, "shared", "1.0.0", 1, []bpt.LibraryInfo{lib(t, "core")}),
			pkg(t, "shared", "2.0.0", 1, []bpt.LibraryInfo{lib(t, "core")}),
		},
		"a": {pkg(t, "a", "1.0.0", 1, []bpt.LibraryInfo{lib(t, "core", dep(t, "shared", "core"))})},
		"b": {pkg(t, "b", "1.0.0", 1, []bpt.LibraryInfo{lib(t, "core", bpt.Dependency{Name: mustName(t, "shared"), AcceptableVersions: narrow, Uses: []bpt.Name{mustName(t, "core")}})})},
	}}

	sels, err := Solve(ctx, src, []RootDependency{
		{Name: mustName(t, "a"), Versions: rangeAll(t), Uses: []bpt.Name{mustName(t, "core")}},
		{Name: mustName(t, "b"), Versions: rangeAll(t), Uses: []bpt.Name{mustName(t, "core")}},
	})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	var shared *Selection
	for i := range sels {
		if sels[i].ID.Name.String() == "shared" {
			shared = &sels[i]
		}
	}
	if shared == nil {
		t.Fatal("expected a selection for shared")
	}
	if shared.ID.Version.String() != "1.0.0" {
		t.Errorf("got shared@%s, want 1.0.0 (the only version satisfying both a and b)", shared.ID.Version)
	}
}

func TestSolveNoDependencySolution(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{byName: map[string][]bpt.PackageMetadata{
		"foo": {pkg(t, "foo", "1.0.0", 1, []bpt.LibraryInfo{lib(t, "core")})},
	}}
	tooHigh, err := bpt.NewVersionRangeSet(bpt.VersionRange{Low: mustVersion(t, "5.0.0"), High: mustVersion(t, "6.0.0")})
	if err != nil {
		t.Fatal(err)
	}

	_, err = Solve(ctx, src, []RootDependency{
		{Name: mustName(t, "foo"), Versions: tooHigh, Uses: []bpt.Name{mustName(t, "core")}},
	})
	if err == nil {
		t.Fatal("expected a conflict")
	}
	var e *bpt.Error
	if !errors.As(err, &e) {
		t.Fatalf("expected a *bpt.Error, got %T: %v", err, err)
	}
	if e.Marker != string(bpt.MarkerNoDependencySolution) {
		t.Errorf("got marker %q, want %q", e.Marker, bpt.MarkerNoDependencySolution)
	}
}

func TestSolveUsageNoSuchLib(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{byName: map[string][]bpt.PackageMetadata{
		"foo": {pkg(t, "foo", "1.0.0", 1, []bpt.LibraryInfo{lib(t, "core")})},
	}}

	_, err := Solve(ctx, src, []RootDependency{
		{Name: mustName(t, "foo"), Versions: rangeAll(t), Uses: []bpt.Name{mustName(t, "nonexistent")}},
	})
	if err == nil {
		t.Fatal("expected a usage-no-such-lib error")
	}
	var e *bpt.Error
	if !errors.As(err, &e) {
		t.Fatalf("expected a *bpt.Error, got %T: %v", err, err)
	}
	if e.Marker != string(bpt.MarkerUsageNoSuchLib) {
		t.Errorf("got marker %q, want %q", e.Marker, bpt.MarkerUsageNoSuchLib)
	}
}

func TestSolveDeterministicAcrossRuns(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{byName: map[string][]bpt.PackageMetadata{
		"bar": {pkg(t, "bar", "1.0.0", 1, []bpt.LibraryInfo{lib(t, "core")})},
		"foo": {pkg(t, "foo", "2.0.0", 1, []bpt.LibraryInfo{lib(t, "core", dep(t, "bar", "core"))})},
	}}
	roots := []RootDependency{{Name: mustName(t, "foo"), Versions: rangeAll(t), Uses: []bpt.Name{mustName(t, "core")}}}

	first, err := Solve(ctx, src, roots)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	second, err := Solve(ctx, src, roots)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("got differing selection counts across runs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("selection %d differs across runs: %s vs %s", i, first[i].ID, second[i].ID)
		}
	}
}
