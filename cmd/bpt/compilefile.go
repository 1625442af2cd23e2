package main

import (
	"context"
	"flag"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bpt-pm/bpt"
	"github.com/bpt-pm/bpt/internal/builddb"
	"github.com/bpt-pm/bpt/internal/plan"
	"github.com/bpt-pm/bpt/internal/scheduler"
)

// runCompileFile implements `bpt compile-file` (spec.md §6.1): build
// the project's full graph, then run only the compile nodes whose
// source matches one of the named files, erroring if a named file
// isn't part of the project at all. Grounded on compile_file.cpp's
// "nonesuch-compile-file" behavior.
func runCompileFile(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("compile-file", flag.ExitOnError)
	var opts commonOpts
	v := bindCommonFlags(fs, &opts)
	fs.Parse(args)
	if err := finalizeCommonFlags(&opts, v); err != nil {
		return err
	}
	opts.ProjectDir = orDot(opts.ProjectDir)
	files := fs.Args()
	if len(files) == 0 {
		return fmt.Errorf("compile-file: at least one source file is required")
	}
	wantAbs := make(map[string]bool, len(files))
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return fmt.Errorf("compile-file: %w", err)
		}
		wantAbs[abs] = true
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

	outDir := orDefault(opts.OutputPath, "_build")
	g, err := buildProjectGraph(ctx, c, opts.ProjectDir, true, false, false, tc, outDir)
	if err != nil {
		writeErrorMarker(errMarker(err))
		return err
	}

	var toRun []plan.NodeIndex
	for i, n := range g.Nodes {
		if n.Kind != plan.NodeCompile {
			continue
		}
		abs, err := filepath.Abs(n.Compile.Source)
		if err != nil {
			continue
		}
		if wantAbs[abs] {
			toRun = append(toRun, plan.NodeIndex(i))
			delete(wantAbs, abs)
		}
	}
	if len(wantAbs) > 0 {
		var missing []string
		for f := range wantAbs {
			missing = append(missing, f)
		}
		err := &bpt.Error{
			Kind:    bpt.ErrNotFound,
			Op:      "cli.compile_file",
			Message: fmt.Sprintf("not part of the project: %v", missing),
			Marker:  string(bpt.MarkerNoSuchCompileFile),
		}
		writeErrorMarker(err.Marker)
		return err
	}

	sub := &plan.Graph{}
	for _, idx := range toRun {
		sub.Nodes = append(sub.Nodes, g.Nodes[idx])
	}

	db, err := builddb.Open(ctx, filepath.Join(outDir, ".bpt.db"))
	if err != nil {
		return &bpt.Error{Kind: bpt.ErrInternal, Op: "cli.compile_file", Inner: err}
	}
	defer db.Close()

	cacheBuster, _ := builddb.CacheBusterHash(opts.TweaksDir)
	sched := scheduler.New(tc, db, scheduler.Options{
		ParallelJobs: opts.Jobs,
		TestTimeout:  5 * time.Minute,
		CacheBuster:  cacheBuster,
		TweaksDir:    opts.TweaksDir,
	})
	res, err := sched.Run(ctx, sub)
	if err != nil {
		writeErrorMarker(errMarker(err))
		return err
	}
	if !res.Ok() {
		writeErrorMarker(string(bpt.MarkerCompileFailed))
		return fmt.Errorf("compile-file failed")
	}
	return nil
}
