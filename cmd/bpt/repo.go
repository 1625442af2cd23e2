package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/bpt-pm/bpt"
	"github.com/bpt-pm/bpt/internal/crs/repo"
	"github.com/bpt-pm/bpt/internal/crs/repo/postgresmirror"
	"github.com/bpt-pm/bpt/internal/solver"
)

// runRepo dispatches the `repo init|import|ls|remove|validate|mirror-sync|search`
// subcommands (spec.md §6.1; mirror-sync/search are the Postgres Repository
// Index Mirror addition, SPEC_FULL.md MODULE 2).
func runRepo(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("repo: a subcommand is required (init, import, ls, remove, validate, mirror-sync, search)")
	}
	switch args[0] {
	case "init":
		return runRepoInit(ctx, args[1:])
	case "import":
		return runRepoImport(ctx, args[1:])
	case "ls":
		return runRepoLs(ctx, args[1:])
	case "remove":
		return runRepoRemove(ctx, args[1:])
	case "validate":
		return runRepoValidate(ctx, args[1:])
	case "mirror-sync":
		return runRepoMirrorSync(ctx, args[1:])
	case "search":
		return runRepoSearch(ctx, args[1:])
	default:
		return fmt.Errorf("repo: unknown subcommand %q", args[0])
	}
}

// runRepoMirrorSync implements `repo mirror-sync`: pushes every package
// in the SQLite repo at --dir wholesale into the Postgres mirror at
// --postgres-dsn, for deployments fielding many concurrent `repo
// search` readers against a repository too large to
// have them all hit repo.db directly.
func runRepoMirrorSync(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("repo mirror-sync", flag.ExitOnError)
	dir := fs.String("dir", ".", "repository directory")
	dsn := fs.String("postgres-dsn", envOr("BPT_POSTGRES_DSN", ""), "Postgres connection string")
	fs.Parse(args)
	if *dsn == "" {
		return fmt.Errorf("repo mirror-sync: --postgres-dsn is required")
	}

	r, err := repo.OpenExisting(ctx, *dir)
	if err != nil {
		writeErrorMarker(errMarker(err))
		return err
	}
	defer r.Close()

	pkgs, err := r.AllPackages(ctx)
	if err != nil {
		return err
	}

	m, err := postgresmirror.New(ctx, *dsn)
	if err != nil {
		writeErrorMarker(errMarker(err))
		return err
	}
	defer m.Close()

	if err := m.Sync(ctx, pkgs); err != nil {
		writeErrorMarker(errMarker(err))
		return err
	}
	fmt.Fprintf(os.Stdout, "synced %d package(s) to the postgres mirror\n", len(pkgs))
	return nil
}

// runRepoSearch implements `repo search`: a name-substring search
// against either the repository's own SQLite index or, with
// --postgres-dsn, its Postgres mirror — both answer from
// repo.BuildSearchQuery's shared query shape, so the result is the
// same regardless of which backend serves it.
func runRepoSearch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("repo search", flag.ExitOnError)
	dir := fs.String("dir", ".", "repository directory")
	dsn := fs.String("postgres-dsn", envOr("BPT_POSTGRES_DSN", ""), "Postgres connection string; search the mirror instead of repo.db")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("repo search: exactly one search term is required")
	}
	term := fs.Arg(0)

	var idx repo.PackageIndex
	if *dsn != "" {
		m, err := postgresmirror.New(ctx, *dsn)
		if err != nil {
			writeErrorMarker(errMarker(err))
			return err
		}
		defer m.Close()
		idx = m
	} else {
		r, err := repo.OpenExisting(ctx, *dir)
		if err != nil {
			writeErrorMarker(errMarker(err))
			return err
		}
		defer r.Close()
		idx = r
	}

	pkgs, err := idx.SearchPackages(ctx, term)
	if err != nil {
		writeErrorMarker(errMarker(err))
		return err
	}
	for _, p := range pkgs {
		fmt.Fprintln(os.Stdout, p.ID.String())
	}
	return nil
}

func runRepoInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("repo init", flag.ExitOnError)
	dir := fs.String("dir", ".", "repository directory")
	name := fs.String("name", "", "repository name")
	fs.Parse(args)
	if *name == "" {
		return fmt.Errorf("repo init: --name is required")
	}

	r, err := repo.Create(ctx, *dir, *name)
	if err != nil {
		writeErrorMarker(errMarker(err))
		return err
	}
	return r.Close()
}

func runRepoImport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("repo import", flag.ExitOnError)
	dir := fs.String("dir", ".", "repository directory")
	ifExistsFlag := fs.String("if-exists", string(ifExistsFail), "ignore, fail, or replace")
	fs.Parse(args)

	policyStr, err := parseIfExists(*ifExistsFlag)
	if err != nil {
		return err
	}
	var policy repo.ImportConflictPolicy
	switch policyStr {
	case ifExistsReplace:
		policy = repo.ImportReplaceIfExists
	default:
		policy = repo.ImportFailIfExists
	}

	r, err := repo.OpenExisting(ctx, *dir)
	if err != nil {
		writeErrorMarker(errMarker(err))
		return err
	}
	defer r.Close()

	for _, srcDir := range fs.Args() {
		if err := r.ImportDir(ctx, srcDir, policy); err != nil {
			if policyStr == ifExistsIgnore && isConflictErr(err) {
				continue
			}
			writeErrorMarker(errMarker(err))
			return err
		}
	}
	return nil
}

func isConflictErr(err error) bool {
	var e *bpt.Error
	return errors.As(err, &e) && e.Kind == bpt.ErrConflict
}

func runRepoLs(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("repo ls", flag.ExitOnError)
	dir := fs.String("dir", ".", "repository directory")
	fs.Parse(args)

	r, err := repo.OpenExisting(ctx, *dir)
	if err != nil {
		writeErrorMarker(errMarker(err))
		return err
	}
	defer r.Close()

	pkgs, err := r.AllPackages(ctx)
	if err != nil {
		return err
	}
	for _, p := range pkgs {
		fmt.Fprintln(os.Stdout, p.ID.String())
	}
	return nil
}

func runRepoRemove(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("repo remove", flag.ExitOnError)
	dir := fs.String("dir", ".", "repository directory")
	fs.Parse(args)

	r, err := repo.OpenExisting(ctx, *dir)
	if err != nil {
		writeErrorMarker(errMarker(err))
		return err
	}
	defer r.Close()

	for _, s := range fs.Args() {
		id, err := parsePkgIDOrNameVersion(s)
		if err != nil {
			return err
		}
		if err := r.RemovePkg(ctx, id); err != nil {
			writeErrorMarker(errMarker(err))
			return err
		}
	}
	return nil
}

// parsePkgIDOrNameVersion accepts both the full "name@version~revision"
// form and a bare "name@version" (revision 0, meaning every revision of
// that version), matching repo_remove's acceptance of either form.
func parsePkgIDOrNameVersion(s string) (bpt.PkgID, error) {
	if id, err := bpt.ParsePkgID(s); err == nil {
		return id, nil
	}
	d, err := parseDepShorthand(s)
	if err != nil {
		return bpt.PkgID{}, fmt.Errorf("invalid package reference %q", s)
	}
	ranges := d.Versions.Ranges()
	if len(ranges) != 1 {
		return bpt.PkgID{}, fmt.Errorf("invalid package reference %q: needs an exact version", s)
	}
	return bpt.PkgID{Name: d.Name, Version: ranges[0].Low, Revision: 0}, nil
}

// runRepoValidate implements `repo validate`: for every package in the
// repo, solve a synthetic self-dependency that uses every one of its
// libraries against the repo's own package set, surfacing any usage
// edge that names a library the producing package doesn't actually
// have. Grounded on repo_validate.cpp.
func runRepoValidate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("repo validate", flag.ExitOnError)
	dir := fs.String("dir", ".", "repository directory")
	fs.Parse(args)

	r, err := repo.OpenExisting(ctx, *dir)
	if err != nil {
		writeErrorMarker(errMarker(err))
		return err
	}
	defer r.Close()

	pkgs, err := r.AllPackages(ctx)
	if err != nil {
		return err
	}
	src := staticCandidateSource(pkgs)

	var failures []string
	for _, pkg := range pkgs {
		uses := make([]bpt.Name, 0, len(pkg.Libraries))
		for _, lib := range pkg.Libraries {
			uses = append(uses, lib.Name)
		}
		nextVersion, err := nextPatch(pkg.ID.Version)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", pkg.ID, err))
			continue
		}
		versions, err := bpt.NewVersionRangeSet(bpt.VersionRange{Low: pkg.ID.Version, High: nextVersion})
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", pkg.ID, err))
			continue
		}
		_, err = solver.Solve(ctx, src, []solver.RootDependency{{
			Name:     pkg.ID.Name,
			Versions: versions,
			Uses:     uses,
		}})
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", pkg.ID, err))
		}
	}

	if len(failures) > 0 {
		return &bpt.Error{
			Kind:    bpt.ErrInvalid,
			Op:      "cli.repo_validate",
			Message: fmt.Sprintf("%d package(s) failed validation: %v", len(failures), failures),
		}
	}
	return nil
}

// staticCandidateSource adapts a fixed slice of metadata into a
// solver.CandidateSource, the same shape internal/crs/cache.Cache
// implements against a live CRS cache, used here so repo validate can
// solve against the repo's own contents without round-tripping through
// a cache directory.
type staticCandidateSource []bpt.PackageMetadata

func (s staticCandidateSource) ForPackage(ctx context.Context, name bpt.Name) ([]bpt.PackageMetadata, error) {
	var out []bpt.PackageMetadata
	for _, m := range s {
		if m.ID.Name.String() == name.String() {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s staticCandidateSource) ForPackageVersion(ctx context.Context, name bpt.Name, version bpt.Version) ([]bpt.PackageMetadata, error) {
	var out []bpt.PackageMetadata
	for _, m := range s {
		if m.ID.Name.String() == name.String() && m.ID.Version.Equal(version) {
			out = append(out, m)
		}
	}
	return out, nil
}
