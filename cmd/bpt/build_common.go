package main

import (
	"context"
	"fmt"
	"os"

	"github.com/bpt-pm/bpt"
	"github.com/bpt-pm/bpt/internal/crs/cache"
	"github.com/bpt-pm/bpt/internal/plan"
	"github.com/bpt-pm/bpt/internal/solver"
	"github.com/bpt-pm/bpt/internal/toolchain"
)

// loadProjectManifest reads and parses the package metadata document in
// dir, tagging any failure with the manifest-path breadcrumb so the
// outer error handler can render the offending path.
func loadProjectManifest(dir string) (bpt.PackageMetadata, error) {
	path, err := resolveManifestPath(dir)
	if err != nil {
		return bpt.PackageMetadata{}, bpt.WithBreadcrumb(&bpt.Error{
			Kind: bpt.ErrNotFound,
			Op:   "cli.load_project_manifest",
			Inner: err,
		}, bpt.BreadcrumbParseManifestPath)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return bpt.PackageMetadata{}, bpt.WithBreadcrumb(&bpt.Error{
			Kind: bpt.ErrNotFound,
			Op:   "cli.load_project_manifest",
			Inner: err,
		}, bpt.BreadcrumbParseManifestPath)
	}
	meta, err := bpt.ParseMetadata(data)
	if err != nil {
		return bpt.PackageMetadata{}, bpt.WithBreadcrumb(&bpt.Error{
			Kind:    bpt.ErrInvalid,
			Op:      "cli.load_project_manifest",
			Inner:   err,
			Marker:  string(bpt.MarkerInvalidMetadata),
		}, bpt.BreadcrumbParseManifestPath)
	}
	return meta, nil
}

// loadToolchainFlag loads the toolchain named by the -toolchain flag
// (or BPT_TOOLCHAIN), which may be a file path or a bare compiler name
// recognized by toolchain.Load's defaulting.
func loadToolchainFlag(name string) (*toolchain.Toolchain, error) {
	if name == "" {
		name = envOr("BPT_TOOLCHAIN", "gcc")
	}
	if _, err := os.Stat(name); err == nil {
		tc, err := toolchain.LoadFile(name)
		if err != nil {
			return nil, bpt.WithBreadcrumb(&bpt.Error{
				Kind: bpt.ErrInvalid, Op: "cli.load_toolchain", Inner: err,
				Marker: string(bpt.MarkerLoadingToolchain),
			}, bpt.BreadcrumbParseToolchainPath)
		}
		return tc, nil
	}
	tc, err := toolchain.Load([]byte(fmt.Sprintf(`{"compiler_id":%q}`, guessCompilerID(name))))
	if err != nil {
		return nil, bpt.WithBreadcrumb(&bpt.Error{
			Kind: bpt.ErrInvalid, Op: "cli.load_toolchain", Inner: err,
			Marker: string(bpt.MarkerLoadingToolchain),
		}, bpt.BreadcrumbParseToolchainPath)
	}
	return tc, nil
}

func guessCompilerID(name string) string {
	switch name {
	case "clang", "clang++":
		return "clang"
	case "msvc", "cl":
		return "msvc"
	default:
		return "gnu"
	}
}

// collectRootDependencies gathers every Dependency named by the root
// project's libraries (and, if withTests, their test_dependencies too)
// into one RootDependency per name, matching create_project_builder's
// "gather every library's dependency list, then solve once" approach.
// A name depended on by more than one library keeps the first
// occurrence's version constraint and unions every library's uses list;
// spec.md does not describe multi-library conflicting constraints on
// the same dependency name, so this is the simplifying choice.
func collectRootDependencies(root bpt.PackageMetadata, withTests bool) []solver.RootDependency {
	order := make([]string, 0, len(root.Libraries))
	byName := make(map[string]*solver.RootDependency, len(root.Libraries))

	add := func(d bpt.Dependency) {
		key := d.Name.String()
		if existing, ok := byName[key]; ok {
			existing.Uses = unionNames(existing.Uses, d.Uses)
			return
		}
		rd := &solver.RootDependency{
			Name:      d.Name,
			Versions:  d.AcceptableVersions,
			Uses:      append([]bpt.Name(nil), d.Uses...),
			WithTests: withTests,
		}
		byName[key] = rd
		order = append(order, key)
	}

	for _, lib := range root.Libraries {
		for _, d := range lib.Dependencies {
			add(d)
		}
		if withTests {
			for _, d := range lib.TestDependencies {
				add(d)
			}
		}
	}

	out := make([]solver.RootDependency, 0, len(order))
	for _, k := range order {
		out = append(out, *byName[k])
	}
	return out
}

func unionNames(a, b []bpt.Name) []bpt.Name {
	seen := make(map[string]bool, len(a))
	out := append([]bpt.Name(nil), a...)
	for _, n := range a {
		seen[n.String()] = true
	}
	for _, n := range b {
		if !seen[n.String()] {
			seen[n.String()] = true
			out = append(out, n)
		}
	}
	return out
}

// prefetchAndLoad pulls the solved package's sources into the cache's
// prefetch tree and parses its own pkg.json, producing the
// plan.PackageInput the build-graph assembler needs. Grounded on
// fetch_cache_load_dependency in the original CLI: prefetch, then read
// the dependency's own manifest from the prefetched directory.
func prefetchAndLoad(ctx context.Context, c *cache.Cache, sel solver.Selection) (plan.PackageInput, error) {
	dir, err := c.Prefetch(ctx, sel.ID)
	if err != nil {
		return plan.PackageInput{}, err
	}
	path, err := resolveManifestPath(dir)
	if err != nil {
		return plan.PackageInput{}, &bpt.Error{
			Kind: bpt.ErrIntegrity, Op: "cli.prefetch_and_load", Inner: err,
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return plan.PackageInput{}, &bpt.Error{Kind: bpt.ErrIntegrity, Op: "cli.prefetch_and_load", Inner: err}
	}
	meta, err := bpt.ParseMetadata(data)
	if err != nil {
		return plan.PackageInput{}, &bpt.Error{
			Kind: bpt.ErrIntegrity, Op: "cli.prefetch_and_load", Inner: err,
			Marker: string(bpt.MarkerInvalidMetadata),
		}
	}
	return plan.PackageInput{Meta: meta, Dir: dir, NeededLibs: sel.NeededLibs}, nil
}

// buildProjectGraph implements create_project_builder's full sequence:
// load the root manifest, solve its dependency set, prefetch and load
// each solved package, and hand everything to plan.Build. buildAllLibs,
// when true, activates every library of every solved dependency (the
// build-deps subcommand's behavior) rather than only the libraries the
// solver found reachable from root demand.
func buildProjectGraph(ctx context.Context, c *cache.Cache, projectDir string, buildApps, buildTests, buildAllLibs bool, tc *toolchain.Toolchain, outDir string) (*plan.Graph, error) {
	root, err := loadProjectManifest(projectDir)
	if err != nil {
		return nil, err
	}

	roots := collectRootDependencies(root, buildTests)
	selections, err := solver.Solve(ctx, c, roots)
	if err != nil {
		return nil, bpt.WithBreadcrumb(err, bpt.BreadcrumbSolve)
	}

	deps := make([]plan.PackageInput, 0, len(selections))
	for _, sel := range selections {
		in, err := prefetchAndLoad(ctx, c, sel)
		if err != nil {
			return nil, err
		}
		if buildAllLibs {
			in.NeededLibs = in.NeededLibs[:0]
			for _, lib := range in.Meta.Libraries {
				in.NeededLibs = append(in.NeededLibs, lib.Name)
			}
		}
		deps = append(deps, in)
	}

	rootInput := plan.RootInput{
		Meta:       root,
		Dir:        projectDir,
		BuildApps:  buildApps,
		BuildTests: buildTests,
	}
	return plan.Build(rootInput, deps, tc, outDir)
}
