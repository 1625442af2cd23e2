package scheduler

import (
	"context"
	"log/slog"

	"github.com/bpt-pm/bpt/internal/builddb"
	"github.com/bpt-pm/bpt/internal/plan"
	"github.com/bpt-pm/bpt/internal/toolchain"
)

func (s *Scheduler) compileCommand(cn *plan.CompileNode) ([]string, string) {
	cmd := s.tc.CompileCommand(cn.Lang, cn.Source, cn.Output)
	cmd = append(cmd, s.tc.WarningFlags...)
	cmd = append(cmd, s.tc.IncludeFlags(cn.IncludePaths, false)...)
	cmd = append(cmd, s.tc.IncludeFlags(cn.ExternalIncludePaths, true)...)
	cmd = append(cmd, s.tc.DefineFlags(cn.Defines)...)
	if s.tweaksDir != "" {
		cmd = append(cmd, s.tc.IncludeFlags([]string{s.tweaksDir}, false)...)
	}

	depFile := ""
	switch s.tc.DepsMode {
	case toolchain.DepsGNU:
		depFile = cn.Output + ".d"
		cmd = append(cmd, "-MMD", "-MF", depFile)
	case toolchain.DepsMSVC:
		cmd = append(cmd, "/showIncludes")
	}
	return cmd, depFile
}

// runCompile implements §4.H's incremental-rebuild check before invoking
// the compiler: it reuses the dep list recorded for this output on a
// prior run (if any) to decide whether the source and every header it
// last pulled in, plus the exact command, are unchanged.
func (s *Scheduler) runCompile(ctx context.Context, cn *plan.CompileNode, col *collector) nodeOutcome {
	cmd, depFile := s.compileCommand(cn)
	commandHash, err := builddb.HashCommand(cmd)
	if err != nil {
		col.addCompileFailure(Failure{Output: cn.Output, Command: cmd, Err: err})
		compileTotal.WithLabelValues("failed").Inc()
		return nodeOutcome{ok: false}
	}

	if prevDeps, derr := s.db.Deps(ctx, cn.Output); derr == nil && prevDeps != nil {
		inputs := dedupe(append([]string{cn.Source}, prevDeps...))
		if inputsHash, herr := builddb.HashInputs(inputs); herr == nil {
			upToDate, uerr := s.db.UpToDate(ctx, cn.Output, commandHash, inputsHash, s.cacheBuster)
			if uerr == nil && upToDate {
				compileTotal.WithLabelValues("skipped").Inc()
				return nodeOutcome{ok: true}
			}
		}
	}

	release := s.acquire(ctx)
	res := runSubprocess(cmd, 0)
	release()

	if res.Err != nil {
		slog.ErrorContext(ctx, "compile failed", "output", cn.Output, "error", res.Err)
		col.addCompileFailure(Failure{Output: cn.Output, Command: cmd, Stdout: res.Stdout, Stderr: res.Stderr, Err: res.Err})
		compileTotal.WithLabelValues("failed").Inc()
		return nodeOutcome{ok: false}
	}

	newDeps := []string{cn.Source}
	switch s.tc.DepsMode {
	case toolchain.DepsGNU:
		if parsed, perr := parseGNUDepFile(depFile); perr == nil {
			newDeps = dedupe(append(newDeps, parsed...))
		}
	case toolchain.DepsMSVC:
		newDeps = dedupe(append(newDeps, parseMSVCIncludes(res.Stdout)...))
	}

	inputsHash, err := builddb.HashInputs(newDeps)
	if err != nil {
		col.addCompileFailure(Failure{Output: cn.Output, Command: cmd, Err: err})
		compileTotal.WithLabelValues("failed").Inc()
		return nodeOutcome{ok: false}
	}
	if err := s.db.Record(ctx, builddb.Fingerprint{
		OutputPath:  cn.Output,
		CommandHash: commandHash,
		InputsHash:  inputsHash,
		CacheBuster: s.cacheBuster,
		Deps:        newDeps,
	}); err != nil {
		slog.WarnContext(ctx, "failed to record compilation fingerprint", "output", cn.Output, "error", err)
	}

	compileTotal.WithLabelValues("ok").Inc()
	return nodeOutcome{ok: true}
}

func (s *Scheduler) runArchive(ctx context.Context, g *plan.Graph, an *plan.ArchiveNode, col *collector) nodeOutcome {
	ins := archiveLinkInputs(g, an.Compiles)
	cmd := s.tc.ArchiveCommand(an.Output, ins)

	release := s.acquire(ctx)
	res := runSubprocess(cmd, 0)
	release()

	if res.Err != nil {
		slog.ErrorContext(ctx, "archive failed", "output", an.Output, "error", res.Err)
		col.addArchiveFailure(Failure{Output: an.Output, Command: cmd, Stdout: res.Stdout, Stderr: res.Stderr, Err: res.Err})
		return nodeOutcome{ok: false}
	}
	return nodeOutcome{ok: true}
}

func (s *Scheduler) runLink(ctx context.Context, g *plan.Graph, ln *plan.LinkNode, col *collector) nodeOutcome {
	var ins []string
	ins = append(ins, g.Nodes[ln.OwnCompile].Compile.Output)
	if ln.OwnArchive != plan.NoIndex {
		ins = append(ins, g.Nodes[ln.OwnArchive].Archive.Output)
	}
	for _, a := range ln.UsedArchives {
		ins = append(ins, g.Nodes[a].Archive.Output)
	}

	linkFlags := make([]string, 0, len(s.tc.LinkFlags))
	linkFlags = append(linkFlags, s.tc.LinkFlags...)
	cmd := s.tc.LinkCommand(ln.Output, ins, linkFlags)

	release := s.acquire(ctx)
	res := runSubprocess(cmd, 0)
	release()

	if res.Err != nil {
		slog.ErrorContext(ctx, "link failed", "output", ln.Output, "error", res.Err)
		col.addLinkFailure(Failure{Output: ln.Output, Command: cmd, Stdout: res.Stdout, Stderr: res.Stderr, Err: res.Err})
		return nodeOutcome{ok: false}
	}
	return nodeOutcome{ok: true}
}

func (s *Scheduler) runTest(ctx context.Context, g *plan.Graph, tn *plan.TestNode, col *collector) nodeOutcome {
	exe := g.Nodes[tn.Link].Link.Output
	timeout := tn.Timeout
	if timeout <= 0 {
		timeout = s.testTimeout
	}

	release := s.acquire(ctx)
	res := runSubprocess([]string{exe}, timeout)
	release()

	if res.Err != nil {
		slog.WarnContext(ctx, "test failed", "binary", exe, "timed_out", res.TimedOut, "error", res.Err)
		col.addTestFailure(TestFailure{
			Output:   exe,
			Command:  []string{exe},
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
			Err:      res.Err,
			TimedOut: res.TimedOut,
			ExitCode: res.ExitCode,
			Signal:   res.Signal,
		})
		return nodeOutcome{ok: false}
	}
	return nodeOutcome{ok: true}
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
