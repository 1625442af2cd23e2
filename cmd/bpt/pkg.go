package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bpt-pm/bpt"
	"github.com/bpt-pm/bpt/internal/crs/repo"
	"github.com/bpt-pm/bpt/internal/solver"
)

// runPkg dispatches the `pkg create|prefetch|solve|search` subcommands
// (spec.md §6.1).
func runPkg(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("pkg: a subcommand is required (create, prefetch, solve, search)")
	}
	switch args[0] {
	case "create":
		return runPkgCreate(ctx, args[1:])
	case "prefetch":
		return runPkgPrefetch(ctx, args[1:])
	case "solve":
		return runPkgSolve(ctx, args[1:])
	case "search":
		return runPkgSearch(ctx, args[1:])
	default:
		return fmt.Errorf("pkg: unknown subcommand %q", args[0])
	}
}

// runPkgCreate implements `pkg create`: build a tar+gzip source
// distribution from the project directory's manifest, grounded on
// pkg_create.cpp.
func runPkgCreate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("pkg create", flag.ExitOnError)
	projectDir := fs.String("project", ".", "project directory")
	out := fs.String("out", "", "destination .tar.gz path")
	revision := fs.Int("revision", 1, "package revision to stamp into the manifest")
	ifExistsFlag := fs.String("if-exists", string(ifExistsFail), "ignore, fail, or replace")
	fs.Parse(args)

	policy, err := parseIfExists(*ifExistsFlag)
	if err != nil {
		return err
	}
	if *revision < 1 {
		return fmt.Errorf("--revision must be >= 1 (got %d)", *revision)
	}

	meta, err := loadProjectManifest(*projectDir)
	if err != nil {
		writeErrorMarker(errMarker(err))
		return err
	}
	meta.ID.Revision = *revision

	dest := *out
	if dest == "" {
		dest = filepath.Join(".", meta.ID.String()+".tar.gz")
	}
	if _, err := os.Stat(dest); err == nil {
		switch policy {
		case ifExistsIgnore:
			return nil
		case ifExistsFail:
			return &bpt.Error{Kind: bpt.ErrConflict, Op: "cli.pkg_create", Message: fmt.Sprintf("%s already exists", dest)}
		}
	}
	if err := repo.CreateSourceDistribution(meta, *projectDir, dest); err != nil {
		return err
	}
	return nil
}

// runPkgPrefetch implements `pkg prefetch`: ensure each named package ID
// is materialized in the CRS cache, grounded on pkg_prefetch.cpp.
func runPkgPrefetch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("pkg prefetch", flag.ExitOnError)
	var opts commonOpts
	v := bindCommonFlags(fs, &opts)
	fs.Parse(args)
	if err := finalizeCommonFlags(&opts, v); err != nil {
		return err
	}

	c, err := openReadyCache(ctx, &opts)
	if err != nil {
		writeErrorMarker(errMarker(err))
		return err
	}
	defer c.Close()

	for _, s := range fs.Args() {
		id, err := bpt.ParsePkgID(s)
		if err != nil {
			return fmt.Errorf("pkg prefetch: %w", err)
		}
		if _, err := c.Prefetch(ctx, id); err != nil {
			writeErrorMarker(errMarker(err))
			return err
		}
	}
	return nil
}

// runPkgSolve implements `pkg solve`: run the solver over the given
// dependency shorthand strings and print the chosen package IDs one per
// line, grounded on pkg_solve.cpp.
func runPkgSolve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("pkg solve", flag.ExitOnError)
	var opts commonOpts
	v := bindCommonFlags(fs, &opts)
	fs.Parse(args)
	if err := finalizeCommonFlags(&opts, v); err != nil {
		return err
	}

	c, err := openReadyCache(ctx, &opts)
	if err != nil {
		writeErrorMarker(errMarker(err))
		return err
	}
	defer c.Close()

	roots := make([]solver.RootDependency, 0, len(fs.Args()))
	for _, a := range fs.Args() {
		d, err := parseDepShorthand(a)
		if err != nil {
			err = &bpt.Error{Kind: bpt.ErrInvalid, Op: "cli.pkg_solve", Inner: err, Marker: string(bpt.MarkerInvalidDepShorthand)}
			writeErrorMarker(errMarker(err))
			return err
		}
		roots = append(roots, solver.RootDependency{Name: d.Name, Versions: d.Versions, Uses: d.Uses})
	}

	selections, err := solver.Solve(ctx, c, roots)
	if err != nil {
		err = bpt.WithBreadcrumb(err, bpt.BreadcrumbSolve)
		writeErrorMarker(errMarker(err))
		return err
	}
	for _, sel := range selections {
		fmt.Fprintln(os.Stdout, sel.ID.String())
	}
	return nil
}

// runPkgSearch implements `pkg search`: list every enabled package
// whose name contains the given substring.
func runPkgSearch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("pkg search", flag.ExitOnError)
	var opts commonOpts
	v := bindCommonFlags(fs, &opts)
	fs.Parse(args)
	if err := finalizeCommonFlags(&opts, v); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("pkg search: exactly one search term is required")
	}
	term := fs.Arg(0)

	c, err := openReadyCache(ctx, &opts)
	if err != nil {
		writeErrorMarker(errMarker(err))
		return err
	}
	defer c.Close()

	all, err := c.AllEnabled(ctx)
	if err != nil {
		return err
	}
	for _, meta := range all {
		if strings.Contains(strings.ToLower(meta.ID.Name.String()), strings.ToLower(term)) {
			fmt.Fprintln(os.Stdout, meta.ID.String())
		}
	}
	return nil
}
