package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bpt-pm/bpt"
	"github.com/bpt-pm/bpt/internal/builddb"
	"github.com/bpt-pm/bpt/internal/scheduler"
)

// commonFlagVars holds the raw flag destinations that need post-parse
// processing (comma-split lists, enum validation) before they're usable
// as a commonOpts.
type commonFlagVars struct {
	useRepos string
	syncMode string
}

// bindCommonFlags registers the flags every build-like subcommand
// shares, layering BPT_* environment variables as defaults (spec.md
// §6.3) under explicit CLI flags. Call finalizeCommonFlags after
// fs.Parse to populate opts.UseRepos and opts.RepoSync.
func bindCommonFlags(fs *flag.FlagSet, opts *commonOpts) *commonFlagVars {
	fs.StringVar(&opts.ProjectDir, "project", ".", "project directory")
	fs.StringVar(&opts.Toolchain, "toolchain", envOr("BPT_TOOLCHAIN", ""), "toolchain file path or name")
	fs.StringVar(&opts.OutputPath, "out", envOr("BPT_OUTPUT_PATH", ""), "build output directory")
	fs.IntVar(&opts.Jobs, "jobs", defaultJobs(), "parallel job count")
	fs.StringVar(&opts.CRSCacheDir, "crs-cache-dir", defaultCRSCacheDir(), "CRS cache directory")
	fs.BoolVar(&opts.NoDefaultRepo, "no-default-repo", envOr("BPT_NO_DEFAULT_REPO", "") != "", "skip the default repo")
	fs.StringVar(&opts.TweaksDir, "tweaks-dir", "", "directory of per-file tweak headers")
	fs.StringVar(&opts.LogLevel, "log-level", envOr("BPT_LOG_LEVEL", "info"), "log level")

	v := &commonFlagVars{syncMode: string(repoSyncCachedOkay)}
	fs.StringVar(&v.useRepos, "use-repo", "", "comma-separated extra repo URLs")
	fs.StringVar(&v.syncMode, "repo-sync", string(repoSyncCachedOkay), "always, cached-okay, or never")
	return v
}

// finalizeCommonFlags fills in the fields of opts that bindCommonFlags'
// raw string vars need further parsing to produce.
func finalizeCommonFlags(opts *commonOpts, v *commonFlagVars) error {
	opts.UseRepos = splitCommaList(v.useRepos)
	mode, err := parseRepoSyncMode(v.syncMode)
	if err != nil {
		return err
	}
	opts.RepoSync = mode
	return nil
}

// runBuild implements `bpt build` (spec.md §6.1): resolve and prefetch
// dependencies, assemble the compile/archive/link/test graph for the
// root project, and run it to completion.
func runBuild(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	var opts commonOpts
	v := bindCommonFlags(fs, &opts)
	buildTests := fs.Bool("tests", false, "build and run the project's tests")
	buildApps := fs.Bool("apps", true, "build the project's applications")
	fs.Parse(args)
	if err := finalizeCommonFlags(&opts, v); err != nil {
		return err
	}
	opts.ProjectDir = orDot(opts.ProjectDir)

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

	outDir := orDefault(opts.OutputPath, "_build")
	g, err := buildProjectGraph(ctx, c, opts.ProjectDir, *buildApps, *buildTests, false, tc, outDir)
	if err != nil {
		writeErrorMarker(errMarker(err))
		return err
	}

	db, err := builddb.Open(ctx, filepath.Join(outDir, ".bpt.db"))
	if err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "cli.build", Inner: err}
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
		return fmt.Errorf("build failed")
	}
	return nil
}

func orDot(s string) string {
	if s == "" {
		return "."
	}
	return s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// errMarker extracts the stable marker string from err, if any.
func errMarker(err error) string {
	var e *bpt.Error
	if errors.As(err, &e) && e.Marker != "" {
		return e.Marker
	}
	return ""
}
