package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bpt-pm/bpt"
	"github.com/bpt-pm/bpt/internal/builddb"
	"github.com/bpt-pm/bpt/internal/plan"
	"github.com/bpt-pm/bpt/internal/scheduler"
	"github.com/bpt-pm/bpt/internal/solver"
	"github.com/bpt-pm/bpt/internal/toolchain"
)

// runBuildDeps implements `bpt build-deps` (spec.md §6.1): solve and
// build only the named dependencies (every library of each, unlike
// `build`'s root-demand-driven activation), and export .lml/.lmp/.lmi
// manifests for whatever consumes the result out-of-process.
func runBuildDeps(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("build-deps", flag.ExitOnError)
	var opts commonOpts
	v := bindCommonFlags(fs, &opts)
	var depsFiles string
	fs.StringVar(&depsFiles, "deps-file", "", "comma-separated dependency-manifest files")
	cmakeFile := fs.String("cmake", "", "optional CMake import-file path to also emit")
	lmiName := fs.String("lmi", "INDEX.lmi", "name of the emitted index file")
	fs.Parse(args)
	if err := finalizeCommonFlags(&opts, v); err != nil {
		return err
	}

	var shorthands []depShorthand
	for _, f := range splitCommaList(depsFiles) {
		ds, err := loadDepsFile(f)
		if err != nil {
			writeErrorMarker(errMarker(err))
			return err
		}
		shorthands = append(shorthands, ds...)
	}
	for _, a := range fs.Args() {
		d, err := parseDepShorthand(a)
		if err != nil {
			err = bpt.WithBreadcrumb(&bpt.Error{
				Kind: bpt.ErrInvalid, Op: "cli.build_deps",
				Inner: err, Marker: string(bpt.MarkerInvalidDepShorthand),
			}, bpt.BreadcrumbParseManifestPath)
			writeErrorMarker(errMarker(err))
			return err
		}
		shorthands = append(shorthands, d)
	}
	if len(shorthands) == 0 {
		return fmt.Errorf("build-deps: at least one dependency is required (via positional args or --deps-file)")
	}

	tc, err := loadToolchainFlag(opts.Toolchain)
	if err != nil {
		writeErrorMarker(errMarker(err))
		return err
	}
	c, err := openReadyCache(ctx, &opts)
	if err != nil {
		writeErrorMarker(errMarker(err))
		return err
	}
	defer c.Close()

	roots := make([]solver.RootDependency, 0, len(shorthands))
	for _, d := range shorthands {
		roots = append(roots, solver.RootDependency{Name: d.Name, Versions: d.Versions, Uses: d.Uses})
	}
	selections, err := solver.Solve(ctx, c, roots)
	if err != nil {
		err = bpt.WithBreadcrumb(err, bpt.BreadcrumbSolve)
		writeErrorMarker(errMarker(err))
		return err
	}

	outDir := orDefault(opts.OutputPath, "_build")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "cli.build_deps", Inner: err}
	}

	var pkgMetas []pkgDirMeta
	var toolchainSelections []bpt.PkgID
	for _, sel := range selections {
		in, err := prefetchAndLoad(ctx, c, sel)
		if err != nil {
			writeErrorMarker(errMarker(err))
			return err
		}
		for _, lib := range in.Meta.Libraries {
			in.NeededLibs = append(in.NeededLibs, lib.Name)
		}
		pkgMetas = append(pkgMetas, pkgDirMeta{Meta: in.Meta, Dir: in.Dir})
		toolchainSelections = append(toolchainSelections, sel.ID)
	}

	g, err := buildDepsGraph(pkgMetas, tc, outDir)
	if err != nil {
		writeErrorMarker(errMarker(err))
		return err
	}

	db, err := builddb.Open(ctx, filepath.Join(outDir, ".bpt.db"))
	if err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "cli.build_deps", Inner: err}
	}
	defer db.Close()

	cacheBuster, _ := builddb.CacheBusterHash(opts.TweaksDir)
	sched := scheduler.New(tc, db, scheduler.Options{
		ParallelJobs: opts.Jobs,
		TestTimeout:  5 * time.Minute,
		CacheBuster:  cacheBuster,
		TweaksDir:    opts.TweaksDir,
	})
	res, err := sched.Run(ctx, g)
	if err != nil {
		writeErrorMarker(errMarker(err))
		return err
	}
	if !res.Ok() {
		writeErrorMarker(string(bpt.MarkerCompileFailed))
		return fmt.Errorf("build-deps failed")
	}

	lmiPath, err := exportLinkManifests(outDir, *lmiName, pkgMetas)
	if err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "cli.build_deps", Inner: err}
	}
	if *cmakeFile != "" {
		if err := writeCMakeImport(*cmakeFile, lmiPath, pkgMetas); err != nil {
			return &bpt.Error{Kind: bpt.ErrInternal, Op: "cli.build_deps", Inner: err}
		}
	}
	return nil
}

// buildDepsGraph assembles a build graph with no root project of its
// own: an empty synthetic root (so plan.Build's API, which always
// treats one input as the root, stays uniform) plus every solved
// package as a dependency with all of its libraries active, matching
// build_deps.cpp placing each dependency directly under the output
// root rather than under a project's own "_deps/<pkgid>" subdirectory.
func buildDepsGraph(pkgs []pkgDirMeta, tc *toolchain.Toolchain, outDir string) (*plan.Graph, error) {
	syntheticRoot := bpt.PackageMetadata{
		ID: bpt.PkgID{Name: mustName("bpt-build-deps-root"), Version: mustVersion("0.0.0")},
	}
	deps := make([]plan.PackageInput, 0, len(pkgs))
	for _, p := range pkgs {
		needed := make([]bpt.Name, 0, len(p.Meta.Libraries))
		for _, lib := range p.Meta.Libraries {
			needed = append(needed, lib.Name)
		}
		deps = append(deps, plan.PackageInput{Meta: p.Meta, Dir: p.Dir, NeededLibs: needed})
	}
	return plan.Build(plan.RootInput{Meta: syntheticRoot, Dir: outDir}, deps, tc, outDir)
}

func mustName(s string) bpt.Name {
	n, err := bpt.NewName(s)
	if err != nil {
		panic(err)
	}
	return n
}

// loadDepsFile parses a dependency-manifest file: one shorthand string
// per non-empty, non-comment line.
func loadDepsFile(path string) ([]depShorthand, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &bpt.Error{Kind: bpt.ErrNotFound, Op: "cli.load_deps_file", Inner: err}
	}
	var out []depShorthand
	for _, line := range strings.Split(string(data), "\n") {
		l := strings.TrimSpace(line)
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		d, err := parseDepShorthand(l)
		if err != nil {
			return nil, &bpt.Error{
				Kind: bpt.ErrInvalid, Op: "cli.load_deps_file", Inner: err,
				Marker: string(bpt.MarkerInvalidDepShorthand),
			}
		}
		out = append(out, d)
	}
	return out, nil
}

// writeCMakeImport writes a minimal CMake import file that adds lmiPath
// as a bpt-exported index, for build systems that bridge a bpt
// dependency set into a CMake build without going through bpt build.
func writeCMakeImport(path, lmiPath string, pkgs []pkgDirMeta) error {
	var b []byte
	b = append(b, []byte("# Generated by bpt build-deps\n")...)
	b = append(b, []byte(fmt.Sprintf("set(BPT_LMI_PATH %q)\n", lmiPath))...)
	for _, p := range pkgs {
		b = append(b, []byte(fmt.Sprintf("# package %s\n", p.Meta.ID))...)
	}
	return os.WriteFile(path, b, 0o644)
}
