package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bpt-pm/bpt"
)

// writeLML writes one newline-key-value "Type: Library" manifest for
// lib to path, in the format spec.md §6.2 names (.lml).
func writeLML(path string, pkgName bpt.Name, lib bpt.LibraryInfo, libDir string) error {
	var b strings.Builder
	b.WriteString("Type: Library\n")
	fmt.Fprintf(&b, "Name: %s\n", lib.Name)
	fmt.Fprintf(&b, "Namespace: %s\n", pkgName)
	for _, u := range lib.IntraUsing {
		fmt.Fprintf(&b, "Uses: %s/%s\n", pkgName, u)
	}
	for _, d := range lib.Dependencies {
		for _, u := range d.Uses {
			fmt.Fprintf(&b, "Uses: %s/%s\n", d.Name, u)
		}
	}
	fmt.Fprintf(&b, "Path: %s\n", libDir)
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// writeLMP writes one "Type: Package" manifest naming every .lml file
// belonging to one package's libraries.
func writeLMP(path string, pkgName bpt.Name, lmlPaths []string) error {
	var b strings.Builder
	b.WriteString("Type: Package\n")
	fmt.Fprintf(&b, "Name: %s\n", pkgName)
	for _, p := range lmlPaths {
		fmt.Fprintf(&b, "Library: %s\n", p)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// writeLMI writes the top-level "Type: Index" manifest naming every
// .lmp file, the file build-deps's --cmake/default output points at.
func writeLMI(path string, lmpPaths []string) error {
	var b strings.Builder
	b.WriteString("Type: Index\n")
	for _, p := range lmpPaths {
		fmt.Fprintf(&b, "Package: %s\n", p)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// exportLinkManifests writes an .lml per library, a .lmp per package,
// and the top-level .lmi under outDir for every package in pkgs,
// returning the .lmi path.
func exportLinkManifests(outDir string, indexName string, pkgs []pkgDirMeta) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	var lmpPaths []string
	for _, p := range pkgs {
		pkgDir := filepath.Join(outDir, p.Meta.ID.Name.String())
		if err := os.MkdirAll(pkgDir, 0o755); err != nil {
			return "", err
		}
		var lmlPaths []string
		for _, lib := range p.Meta.Libraries {
			lmlPath := filepath.Join(pkgDir, lib.Name.String()+".lml")
			if err := writeLML(lmlPath, p.Meta.ID.Name, lib, filepath.Join(p.Dir, lib.Path)); err != nil {
				return "", err
			}
			lmlPaths = append(lmlPaths, lmlPath)
		}
		lmpPath := filepath.Join(pkgDir, "package.lmp")
		if err := writeLMP(lmpPath, p.Meta.ID.Name, lmlPaths); err != nil {
			return "", err
		}
		lmpPaths = append(lmpPaths, lmpPath)
	}

	lmiPath := filepath.Join(outDir, indexName)
	if err := writeLMI(lmiPath, lmpPaths); err != nil {
		return "", err
	}
	return lmiPath, nil
}

// pkgDirMeta pairs a package's parsed metadata with the source
// directory it was loaded from.
type pkgDirMeta struct {
	Meta bpt.PackageMetadata
	Dir  string
}
