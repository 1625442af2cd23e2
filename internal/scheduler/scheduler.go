package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/bpt-pm/bpt"
	"github.com/bpt-pm/bpt/internal/builddb"
	"github.com/bpt-pm/bpt/internal/plan"
	"github.com/bpt-pm/bpt/internal/toolchain"
)

// Options configures a Scheduler.
type Options struct {
	// ParallelJobs bounds the worker pool; 0 means hardware concurrency.
	ParallelJobs int
	// TestTimeout is the default per-test wall-clock budget; 0 means
	// unbounded.
	TestTimeout time.Duration
	// CacheBuster is the tweaks-dir layout hash from
	// builddb.CacheBusterHash, busting every compile cache entry when
	// the tweaks directory's contents change shape.
	CacheBuster string
	// TweaksDir, if set, is added as a plain include path to every
	// compile node, matching the tweaks-dir __has_include convention
	// CacheBuster exists to invalidate caches for.
	TweaksDir string
}

// Scheduler runs a plan.Graph's nodes with bounded parallelism, honoring
// the DAG's edges and internal/builddb's incremental-rebuild cache.
type Scheduler struct {
	tc          *toolchain.Toolchain
	db          *builddb.DB
	sem         *semaphore.Weighted
	testTimeout time.Duration
	cacheBuster string
	tweaksDir   string

	cancelled atomic.Bool
}

// New constructs a Scheduler bound to tc for command lowering and db for
// incremental-rebuild bookkeeping.
func New(tc *toolchain.Toolchain, db *builddb.DB, opts Options) *Scheduler {
	n := opts.ParallelJobs
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	return &Scheduler{
		tc:          tc,
		db:          db,
		sem:         semaphore.NewWeighted(int64(n)),
		testTimeout: opts.TestTimeout,
		cacheBuster: opts.CacheBuster,
		tweaksDir:   opts.TweaksDir,
	}
}

// Cancel trips the cooperative cancellation flag: workers check it before
// starting a new node; nothing already running is killed.
func (s *Scheduler) Cancel() { s.cancelled.Store(true) }

type nodeOutcome struct {
	ok bool
}

type collector struct {
	mu  sync.Mutex
	res Result
}

func (c *collector) addCompileFailure(f Failure) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.res.CompileFailures = append(c.res.CompileFailures, f)
}
func (c *collector) addArchiveFailure(f Failure) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.res.ArchiveFailures = append(c.res.ArchiveFailures, f)
}
func (c *collector) addLinkFailure(f Failure) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.res.LinkFailures = append(c.res.LinkFailures, f)
}
func (c *collector) addTestFailure(f TestFailure) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.res.TestFailures = append(c.res.TestFailures, f)
}

// Run executes every node in g, respecting dependency edges and the
// worker pool's bound, and returns once every reachable node has either
// completed, failed, or been skipped because a dependency failed.
//
// The returned error is non-nil exactly when Result is not Ok: it
// carries the marker matching the highest-priority failure class
// (compile, then archive, then link, then test), or MarkerUserCancelled
// if Cancel was called before Run returned.
func (s *Scheduler) Run(ctx context.Context, g *plan.Graph) (*Result, error) {
	start := time.Now()
	defer func() { buildDuration.Observe(time.Since(start).Seconds()) }()

	n := len(g.Nodes)
	deps := buildDeps(g)
	finished := make([]chan struct{}, n)
	for i := range finished {
		finished[i] = make(chan struct{})
	}
	outcomes := make([]nodeOutcome, n)
	col := &collector{}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer close(finished[idx])

			for _, d := range deps[idx] {
				<-finished[d]
				if !outcomes[d].ok {
					outcomes[idx] = nodeOutcome{ok: false}
					return
				}
			}
			if s.cancelled.Load() {
				outcomes[idx] = nodeOutcome{ok: false}
				return
			}
			outcomes[idx] = s.runNode(ctx, g, plan.NodeIndex(idx), col)
		}(i)
	}
	wg.Wait()

	col.res.Cancelled = s.cancelled.Load()
	return &col.res, resultError(&col.res)
}

func resultError(r *Result) error {
	switch {
	case r.Cancelled:
		return bpt.WithBreadcrumb(&bpt.Error{
			Kind:   bpt.ErrCancelled,
			Op:     "scheduler.run",
			Marker: string(bpt.MarkerUserCancelled),
		}, bpt.BreadcrumbSchedule)
	case len(r.CompileFailures) > 0:
		return bpt.WithBreadcrumb(&bpt.Error{
			Kind:    bpt.ErrBuildFailed,
			Op:      "scheduler.run",
			Message: fmt.Sprintf("%d compile node(s) failed", len(r.CompileFailures)),
			Marker:  string(bpt.MarkerCompileFailed),
		}, bpt.BreadcrumbSchedule)
	case len(r.ArchiveFailures) > 0:
		return bpt.WithBreadcrumb(&bpt.Error{
			Kind:    bpt.ErrBuildFailed,
			Op:      "scheduler.run",
			Message: fmt.Sprintf("%d archive node(s) failed", len(r.ArchiveFailures)),
			Marker:  string(bpt.MarkerArchiveFailed),
		}, bpt.BreadcrumbSchedule)
	case len(r.LinkFailures) > 0:
		return bpt.WithBreadcrumb(&bpt.Error{
			Kind:    bpt.ErrBuildFailed,
			Op:      "scheduler.run",
			Message: fmt.Sprintf("%d link node(s) failed", len(r.LinkFailures)),
			Marker:  string(bpt.MarkerLinkFailed),
		}, bpt.BreadcrumbSchedule)
	case len(r.TestFailures) > 0:
		return bpt.WithBreadcrumb(&bpt.Error{
			Kind:    bpt.ErrBuildFailed,
			Op:      "scheduler.run",
			Message: fmt.Sprintf("%d test(s) failed", len(r.TestFailures)),
			Marker:  string(bpt.MarkerBuildFailedTestFailed),
		}, bpt.BreadcrumbSchedule)
	default:
		return nil
	}
}

// buildDeps extracts, for each node, the indices of the nodes it must
// wait on before it's ready to run.
func buildDeps(g *plan.Graph) [][]plan.NodeIndex {
	deps := make([][]plan.NodeIndex, len(g.Nodes))
	for i, node := range g.Nodes {
		switch node.Kind {
		case plan.NodeArchive:
			deps[i] = append(deps[i], node.Archive.Compiles...)
		case plan.NodeLink:
			deps[i] = append(deps[i], node.Link.OwnCompile)
			if node.Link.OwnArchive != plan.NoIndex {
				deps[i] = append(deps[i], node.Link.OwnArchive)
			}
			deps[i] = append(deps[i], node.Link.UsedArchives...)
		case plan.NodeTest:
			deps[i] = append(deps[i], node.Test.Link)
		}
	}
	return deps
}

func (s *Scheduler) runNode(ctx context.Context, g *plan.Graph, idx plan.NodeIndex, col *collector) nodeOutcome {
	node := g.Nodes[idx]
	switch node.Kind {
	case plan.NodeCompile:
		return s.runCompile(ctx, node.Compile, col)
	case plan.NodeArchive:
		return s.runArchive(ctx, g, node.Archive, col)
	case plan.NodeLink:
		return s.runLink(ctx, g, node.Link, col)
	case plan.NodeTest:
		return s.runTest(ctx, g, node.Test, col)
	default:
		return nodeOutcome{ok: true}
	}
}

func (s *Scheduler) acquire(ctx context.Context) func() {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return func() {}
	}
	return func() { s.sem.Release(1) }
}

func archiveLinkInputs(g *plan.Graph, compiles []plan.NodeIndex) []string {
	out := make([]string, len(compiles))
	for i, c := range compiles {
		out[i] = g.Nodes[c].Compile.Output
	}
	return out
}
