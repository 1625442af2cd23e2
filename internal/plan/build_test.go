package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bpt-pm/bpt"
	"github.com/bpt-pm/bpt/internal/toolchain"
)

func mustTestToolchain(t *testing.T) *toolchain.Toolchain {
	t.Helper()
	tc, err := toolchain.Load([]byte(`{"compiler_id":"gnu"}`))
	if err != nil {
		t.Fatalf("loading test toolchain: %v", err)
	}
	return tc
}

// writeLib creates dir/libPath/{include,src} with the given files, each
// keyed by relative path to contents.
func writeLib(t *testing.T, root, libPath string, files map[string]string) {
	t.Helper()
	for rel, contents := range files {
		full := filepath.Join(root, libPath, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(contents), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestBuildSingleLibraryArchiveOnly(t *testing.T) {
	root := t.TempDir()
	writeLib(t, root, "libs/core", map[string]string{
		"include/core/api.h": "// api",
		"src/a.cc":            "// a",
		"src/b.c":             "// b",
	})

	meta := bpt.PackageMetadata{
		ID: bpt.PkgID{Name: bpt.MustName("myproj")},
		Libraries: []bpt.LibraryInfo{
			{Name: bpt.MustName("core"), Path: "libs/core"},
		},
	}

	g, err := Build(RootInput{Meta: meta, Dir: root}, nil, mustTestToolchain(t), filepath.Join(root, "out"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var compiles, archives, links, tests int
	for _, n := range g.Nodes {
		switch n.Kind {
		case NodeCompile:
			compiles++
		case NodeArchive:
			archives++
		case NodeLink:
			links++
		case NodeTest:
			tests++
		}
	}
	if compiles != 2 {
		t.Errorf("compiles = %d, want 2", compiles)
	}
	if archives != 1 {
		t.Errorf("archives = %d, want 1", archives)
	}
	if links != 0 || tests != 0 {
		t.Errorf("links=%d tests=%d, want 0,0 (BuildApps/BuildTests both false)", links, tests)
	}

	// compile nodes are ordered lexicographically by relative path: a.cc then b.c
	var archIdx NodeIndex = -1
	for i, n := range g.Nodes {
		if n.Kind == NodeArchive {
			archIdx = NodeIndex(i)
		}
	}
	outs := g.CompileOutputs(archIdx)
	if len(outs) != 2 || filepath.Base(outs[0]) == filepath.Base(outs[1]) {
		t.Fatalf("unexpected compile outputs: %v", outs)
	}
}

func TestBuildAppAndTestTargets(t *testing.T) {
	root := t.TempDir()
	writeLib(t, root, "libs/core", map[string]string{
		"include/core/api.h":   "// api",
		"src/lib.cc":           "// lib",
		"src/run.main.cc":      "// app entry",
		"src/core.test.cc":     "// test entry",
	})

	meta := bpt.PackageMetadata{
		ID: bpt.PkgID{Name: bpt.MustName("myproj")},
		Libraries: []bpt.LibraryInfo{
			{Name: bpt.MustName("core"), Path: "libs/core"},
		},
	}

	g, err := Build(RootInput{Meta: meta, Dir: root, BuildApps: true, BuildTests: true}, nil, mustTestToolchain(t), filepath.Join(root, "out"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var apps, tests int
	for _, n := range g.Nodes {
		if n.Kind == NodeLink {
			switch n.Link.Kind {
			case LinkApp:
				apps++
				if n.Link.OwnArchive == NoIndex {
					t.Error("app link node should see the library's archive")
				}
			case LinkTest:
				tests++
			}
		}
	}
	if apps != 1 {
		t.Errorf("apps = %d, want 1", apps)
	}
	if tests != 1 {
		t.Errorf("tests = %d, want 1", tests)
	}

	var testNodes int
	for _, n := range g.Nodes {
		if n.Kind == NodeTest {
			testNodes++
		}
	}
	if testNodes != 1 {
		t.Errorf("test nodes = %d, want 1", testNodes)
	}
}

func TestBuildCrossPackageUsageIncludesAndLinks(t *testing.T) {
	depRoot := t.TempDir()
	writeLib(t, depRoot, "libs/util", map[string]string{
		"include/util/h.h": "// util header",
		"src/util.cc":      "// util impl",
	})
	depMeta := bpt.PackageMetadata{
		ID: bpt.PkgID{Name: bpt.MustName("dep")},
		Libraries: []bpt.LibraryInfo{
			{Name: bpt.MustName("util"), Path: "libs/util"},
		},
	}

	rootDir := t.TempDir()
	writeLib(t, rootDir, "libs/app", map[string]string{
		"include/app/h.h": "// app header",
		"src/app.main.cc": "// app entry",
	})
	rootMeta := bpt.PackageMetadata{
		ID: bpt.PkgID{Name: bpt.MustName("myproj")},
		Libraries: []bpt.LibraryInfo{
			{
				Name: bpt.MustName("app"),
				Path: "libs/app",
				Dependencies: []bpt.Dependency{
					{Name: bpt.MustName("dep"), Uses: []bpt.Name{bpt.MustName("util")}},
				},
			},
		},
	}

	g, err := Build(
		RootInput{Meta: rootMeta, Dir: rootDir, BuildApps: true},
		[]PackageInput{{Meta: depMeta, Dir: depRoot, NeededLibs: []bpt.Name{bpt.MustName("util")}}},
		mustTestToolchain(t),
		filepath.Join(rootDir, "out"),
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var appCompile *CompileNode
	for _, n := range g.Nodes {
		if n.Kind == NodeCompile && n.Compile.Library.String() == "app" {
			appCompile = n.Compile
		}
	}
	if appCompile == nil {
		t.Fatal("no compile node for app library")
	}
	foundExternal := false
	for _, p := range appCompile.ExternalIncludePaths {
		if filepath.Base(filepath.Dir(p)) == "util" {
			foundExternal = true
		}
	}
	if !foundExternal {
		t.Errorf("app compile node missing util's include dir as external: %v", appCompile.ExternalIncludePaths)
	}

	var appLink *LinkNode
	for _, n := range g.Nodes {
		if n.Kind == NodeLink {
			appLink = n.Link
		}
	}
	if appLink == nil {
		t.Fatal("no link node for app")
	}
	if len(appLink.UsedArchives) != 1 {
		t.Fatalf("appLink.UsedArchives = %v, want exactly dep's util archive", appLink.UsedArchives)
	}
	if g.Nodes[appLink.UsedArchives[0]].Archive.Library.String() != "util" {
		t.Errorf("used archive is for %q, want util", g.Nodes[appLink.UsedArchives[0]].Archive.Library)
	}
}

func TestBuildHeaderOnlyLibraryHasNoArchive(t *testing.T) {
	root := t.TempDir()
	writeLib(t, root, "libs/hdr", map[string]string{
		"include/hdr/only.h": "// header only, no src files",
	})
	meta := bpt.PackageMetadata{
		ID: bpt.PkgID{Name: bpt.MustName("myproj")},
		Libraries: []bpt.LibraryInfo{
			{Name: bpt.MustName("hdr"), Path: "libs/hdr"},
		},
	}

	g, err := Build(RootInput{Meta: meta, Dir: root}, nil, mustTestToolchain(t), filepath.Join(root, "out"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, n := range g.Nodes {
		if n.Kind == NodeArchive {
			t.Errorf("header-only library should produce no archive node, got %+v", n.Archive)
		}
	}
}
