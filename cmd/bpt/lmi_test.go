package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bpt-pm/bpt"
)

func TestExportLinkManifests(t *testing.T) {
	outDir := t.TempDir()

	libDep := bpt.Dependency{Name: mustName("fmtlib"), Uses: []bpt.Name{mustName("fmt")}}
	pkg := pkgDirMeta{
		Meta: bpt.PackageMetadata{
			ID: bpt.PkgID{Name: mustName("widgets"), Version: mustVersion("1.0.0")},
			Libraries: []bpt.LibraryInfo{
				{
					Name:         mustName("core"),
					Path:         "src/core",
					IntraUsing:   []bpt.Name{mustName("util")},
					Dependencies: []bpt.Dependency{libDep},
				},
			},
		},
		Dir: "/projects/widgets",
	}

	lmiPath, err := exportLinkManifests(outDir, "INDEX.lmi", []pkgDirMeta{pkg})
	if err != nil {
		t.Fatalf("exportLinkManifests: %v", err)
	}
	if filepath.Base(lmiPath) != "INDEX.lmi" {
		t.Errorf("lmiPath = %q, want basename INDEX.lmi", lmiPath)
	}

	lmiData, err := os.ReadFile(lmiPath)
	if err != nil {
		t.Fatalf("read .lmi: %v", err)
	}
	if !strings.HasPrefix(string(lmiData), "Type: Index\n") {
		t.Errorf(".lmi does not start with Type: Index: %q", lmiData)
	}
	if !strings.Contains(string(lmiData), "Package: ") {
		t.Errorf(".lmi missing a Package: line: %q", lmiData)
	}

	lmpPath := filepath.Join(outDir, "widgets", "package.lmp")
	lmpData, err := os.ReadFile(lmpPath)
	if err != nil {
		t.Fatalf("read .lmp: %v", err)
	}
	if !strings.Contains(string(lmpData), "Name: widgets\n") {
		t.Errorf(".lmp missing package name: %q", lmpData)
	}
	if !strings.Contains(string(lmpData), "Library: ") {
		t.Errorf(".lmp missing a Library: line: %q", lmpData)
	}

	lmlPath := filepath.Join(outDir, "widgets", "core.lml")
	lmlData, err := os.ReadFile(lmlPath)
	if err != nil {
		t.Fatalf("read .lml: %v", err)
	}
	lml := string(lmlData)
	for _, want := range []string{
		"Type: Library\n",
		"Name: core\n",
		"Namespace: widgets\n",
		"Uses: widgets/util\n",
		"Uses: fmtlib/fmt\n",
		"Path: " + filepath.Join("/projects/widgets", "src/core") + "\n",
	} {
		if !strings.Contains(lml, want) {
			t.Errorf(".lml missing %q, got:\n%s", want, lml)
		}
	}
}
