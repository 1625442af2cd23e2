package plan

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/bpt-pm/bpt"
	"github.com/bpt-pm/bpt/internal/toolchain"
)

// PackageInput is one solved package's metadata, the source root it was
// prefetched into, and the subset of its libraries the solver activated.
type PackageInput struct {
	Meta       bpt.PackageMetadata
	Dir        string
	NeededLibs []bpt.Name
}

// RootInput is the project's own manifest, treated as the root package
// (§4.F): every one of its libraries is always active.
type RootInput struct {
	Meta       bpt.PackageMetadata
	Dir        string
	BuildApps  bool
	BuildTests bool
}

// Build constructs the full compile/archive/link/test graph for root
// plus every dependency in deps, which must already be in solver output
// order. tc is the single toolchain every compile/archive/link node
// lowers its command through; outDir is the object/archive/executable
// output root.
func Build(root RootInput, deps []PackageInput, tc *toolchain.Toolchain, outDir string) (*Graph, error) {
	pkgs := make(map[string]resolvedPkg, len(deps)+1)
	rootName := root.Meta.ID.Name.String()
	pkgs[rootName] = newResolvedPkg(root.Meta, root.Dir)
	for _, d := range deps {
		pkgs[d.Meta.ID.Name.String()] = newResolvedPkg(d.Meta, d.Dir)
	}
	agg := newUsageAggregator(pkgs)

	g := &Graph{}
	archiveByLib := make(map[libKey]NodeIndex)

	rootLibs := make([]bpt.Name, 0, len(root.Meta.Libraries))
	for _, l := range root.Meta.Libraries {
		rootLibs = append(rootLibs, l.Name)
	}
	sortNames(rootLibs)
	if err := buildPackage(g, agg, pkgs[rootName], rootName, rootLibs, root.BuildApps, root.BuildTests, tc, outDir, archiveByLib); err != nil {
		return nil, err
	}

	for _, d := range deps {
		name := d.Meta.ID.Name.String()
		needed := append([]bpt.Name(nil), d.NeededLibs...)
		sortNames(needed)
		if err := buildPackage(g, agg, pkgs[name], name, needed, false, false, tc, outDir, archiveByLib); err != nil {
			return nil, err
		}
	}

	// second pass: link nodes need every used archive, which may belong
	// to a package built after the owning one in solver order (a root
	// app can use any dependency); resolve now that every archive exists.
	if err := wireLinkArchives(g, agg, archiveByLib); err != nil {
		return nil, err
	}

	return g, nil
}

func sortNames(names []bpt.Name) {
	sort.Slice(names, func(i, j int) bool { return names[i].Compare(names[j]) < 0 })
}

func buildPackage(g *Graph, agg *usageAggregator, rp resolvedPkg, pkgName string, libNames []bpt.Name, buildApps, buildTests bool, tc *toolchain.Toolchain, outDir string, archiveByLib map[libKey]NodeIndex) error {
	for _, libName := range libNames {
		lib, ok := rp.libs[libName.String()]
		if !ok {
			return fmt.Errorf("plan: package %q has no library %q", pkgName, libName)
		}
		k := libKey{pkg: pkgName, lib: libName.String()}

		sources, err := scanLibrarySources(rp.dir, lib.Path)
		if err != nil {
			return fmt.Errorf("plan: scanning %s/%s: %w", pkgName, libName, err)
		}

		includePaths, externalIncludePaths, err := splitIncludePaths(agg, k)
		if err != nil {
			return err
		}

		var libCompiles []NodeIndex
		var appCompiles, testCompiles []classifiedSourceNode
		for _, src := range sources {
			abs := filepath.Join(rp.dir, lib.Path, "src", src.relPath)
			obj := tc.ObjectName(filepath.Join(outDir, "obj", pkgName, libName.String(), src.relPath))

			idx := g.add(Node{Kind: NodeCompile, Compile: &CompileNode{
				Package:              rp.meta.ID,
				Library:              libName,
				Source:               abs,
				Output:               obj,
				Lang:                 src.lang,
				IncludePaths:         includePaths,
				ExternalIncludePaths: externalIncludePaths,
			}})

			switch src.role {
			case roleLib:
				libCompiles = append(libCompiles, idx)
			case roleApp:
				appCompiles = append(appCompiles, classifiedSourceNode{idx, src})
			case roleTest:
				testCompiles = append(testCompiles, classifiedSourceNode{idx, src})
			}
		}

		archiveIdx := NoIndex
		if len(libCompiles) > 0 {
			archiveIdx = g.add(Node{Kind: NodeArchive, Archive: &ArchiveNode{
				Package:  rp.meta.ID,
				Library:  libName,
				Output:   filepath.Join(outDir, "lib", pkgName, tc.ArchiveName(libName.String())),
				Compiles: libCompiles,
			}})
			archiveByLib[k] = archiveIdx
		}

		if buildApps {
			for _, cs := range appCompiles {
				exeStem := stemOf(cs.src.relPath)
				g.add(Node{Kind: NodeLink, Link: &LinkNode{
					Package:    rp.meta.ID,
					Library:    libName,
					Kind:       LinkApp,
					Source:     filepath.Join(rp.dir, lib.Path, "src", cs.src.relPath),
					Output:     filepath.Join(outDir, "bin", tc.ExeName(exeStem)),
					OwnCompile: cs.idx,
					OwnArchive: archiveIdx,
				}})
			}
		}
		if buildTests {
			for _, cs := range testCompiles {
				exeStem := stemOf(cs.src.relPath)
				linkIdx := g.add(Node{Kind: NodeLink, Link: &LinkNode{
					Package:    rp.meta.ID,
					Library:    libName,
					Kind:       LinkTest,
					Source:     filepath.Join(rp.dir, lib.Path, "src", cs.src.relPath),
					Output:     filepath.Join(outDir, "test", tc.ExeName(exeStem)),
					OwnCompile: cs.idx,
					OwnArchive: archiveIdx,
				}})
				g.add(Node{Kind: NodeTest, Test: &TestNode{Link: linkIdx}})
			}
		}
	}
	return nil
}

type classifiedSourceNode struct {
	idx NodeIndex
	src classifiedSource
}

func stemOf(relPath string) string {
	base := filepath.Base(relPath)
	ext := filepath.Ext(base)
	base = base[:len(base)-len(ext)]
	for _, suf := range []string{".test", ".main"} {
		if len(base) > len(suf) && base[len(base)-len(suf):] == suf {
			return base[:len(base)-len(suf)]
		}
	}
	return base
}

func splitIncludePaths(agg *usageAggregator, k libKey) (own []string, external []string, err error) {
	full, err := agg.includePaths(k)
	if err != nil {
		return nil, nil, err
	}
	ownDir := filepath.Join(agg.pkgs[k.pkg].dir, agg.pkgs[k.pkg].libs[k.lib].Path, "include")
	for _, p := range full {
		if p == ownDir {
			own = append(own, p)
		} else {
			external = append(external, p)
		}
	}
	return own, external, nil
}

// wireLinkArchives fills in each link node's UsedArchives from its
// library's transitive uses closure, now that every package's archives
// have been created.
func wireLinkArchives(g *Graph, agg *usageAggregator, archiveByLib map[libKey]NodeIndex) error {
	for i := range g.Nodes {
		if g.Nodes[i].Kind != NodeLink {
			continue
		}
		link := g.Nodes[i].Link
		pkgName := link.Package.Name.String()
		k := libKey{pkg: pkgName, lib: link.Library.String()}
		rp, ok := agg.pkgs[pkgName]
		if !ok {
			return fmt.Errorf("plan: link node references unknown package %q", pkgName)
		}
		lib, ok := rp.libs[link.Library.String()]
		if !ok {
			return fmt.Errorf("plan: link node references unknown library %q in %q", link.Library, pkgName)
		}

		used := map[libKey]bool{}
		var walk func(libKey) error
		walk = func(cur libKey) error {
			if used[cur] {
				return nil
			}
			used[cur] = true
			crp, ok := agg.pkgs[cur.pkg]
			if !ok {
				return nil
			}
			clib, ok := crp.libs[cur.lib]
			if !ok {
				return nil
			}
			for _, sib := range clib.IntraUsing {
				if err := walk(libKey{cur.pkg, sib.String()}); err != nil {
					return err
				}
			}
			for _, dep := range clib.Dependencies {
				for _, u := range dep.Uses {
					if err := walk(libKey{dep.Name.String(), u.String()}); err != nil {
						return err
					}
				}
			}
			return nil
		}
		for _, sib := range lib.IntraUsing {
			if err := walk(libKey{pkgName, sib.String()}); err != nil {
				return err
			}
		}
		for _, dep := range lib.Dependencies {
			for _, u := range dep.Uses {
				if err := walk(libKey{dep.Name.String(), u.String()}); err != nil {
					return err
				}
			}
		}
		delete(used, k)

		keys := make([]libKey, 0, len(used))
		for uk := range used {
			keys = append(keys, uk)
		}
		sort.Slice(keys, func(a, b int) bool {
			if keys[a].pkg != keys[b].pkg {
				return keys[a].pkg < keys[b].pkg
			}
			return keys[a].lib < keys[b].lib
		})
		for _, uk := range keys {
			if idx, ok := archiveByLib[uk]; ok {
				link.UsedArchives = append(link.UsedArchives, idx)
			}
		}
	}
	return nil
}
