package solver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bpt-pm/bpt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/bpt-pm/bpt/internal/solver")

// CandidateSource supplies package metadata to the solver, keyed by
// name and by (name, version). internal/crs/cache.Cache implements
// this interface directly: its ForPackage/ForPackageVersion methods
// already return entries in remote-enablement order, which is exactly
// the tie-break priority the solver needs.
type CandidateSource interface {
	ForPackage(ctx context.Context, name bpt.Name) ([]bpt.PackageMetadata, error)
	ForPackageVersion(ctx context.Context, name bpt.Name, version bpt.Version) ([]bpt.PackageMetadata, error)
}

// RootDependency is a dependency requested directly by the project
// being built, as opposed to one reached transitively through a
// package's library graph.
type RootDependency struct {
	Name     bpt.Name
	Versions bpt.VersionRangeSet
	Uses     []bpt.Name
	// WithTests activates this dependency's test-only libraries and
	// test dependencies, for the top-level project's own test build.
	WithTests bool
}

// Selection is one package chosen by Solve, paired with the subset of
// its libraries whose build was activated by root demand or by
// transitive uses.
type Selection struct {
	ID         bpt.PkgID
	NeededLibs []bpt.Name
}

// demand is one pending request to resolve name within versions, using
// the named libraries (and, if withTest, their test-using siblings and
// test dependencies too).
type demand struct {
	name     bpt.Name
	versions bpt.VersionRangeSet
	uses     []bpt.Name
	withTest bool
}

// conflict is raised internally when no candidate satisfies every
// constraint collected so far for a name; Solve turns it into a
// bpt.Error carrying bpt.MarkerNoDependencySolution.
type conflict struct {
	name   bpt.Name
	reason string
}

func (c *conflict) Error() string { return c.reason }

// Solve computes a deterministic selection for roots, or fails with an
// Error carrying bpt.MarkerNoDependencySolution (no version satisfies
// every constraint) or bpt.MarkerUsageNoSuchLib (a uses edge names a
// library that doesn't exist in the package ultimately selected).
func Solve(ctx context.Context, src CandidateSource, roots []RootDependency) ([]Selection, error) {
	ctx, span := tracer.Start(ctx, "solver.solve")
	defer span.End()

	st := &searchState{
		src:    src,
		chosen: make(map[string]bpt.PackageMetadata),
		needed: make(map[string]map[string]bool),
	}
	queue := make([]demand, 0, len(roots))
	for _, r := range roots {
		queue = append(queue, demand{name: r.Name, versions: r.Versions, uses: r.Uses, withTest: r.WithTests})
	}

	if err := st.resolve(ctx, queue); err != nil {
		var c *conflict
		if errors.As(err, &c) {
			return nil, bpt.WithBreadcrumb(&bpt.Error{
				Kind:    bpt.ErrConflict,
				Op:      "solver.solve",
				Message: c.reason,
				Marker:  string(bpt.MarkerNoDependencySolution),
			}, bpt.BreadcrumbSolve)
		}
		return nil, bpt.WithBreadcrumb(err, bpt.BreadcrumbSolve)
	}

	if err := st.validateUsage(); err != nil {
		return nil, bpt.WithBreadcrumb(err, bpt.BreadcrumbSolve)
	}

	return st.selections(), nil
}

// searchState is the partial assignment the recursive search extends
// and backtracks: name -> chosen package, and name -> set of library
// names whose build has been activated on that package.
type searchState struct {
	src    CandidateSource
	chosen map[string]bpt.PackageMetadata
	needed map[string]map[string]bool
}

func (s *searchState) resolve(ctx context.Context, queue []demand) error {
	if len(queue) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "solver.propagate", trace.WithAttributes(attribute.Int("frontier_size", len(queue))))
	defer span.End()

	d := queue[0]
	rest := queue[1:]
	key := d.name.String()

	if meta, ok := s.chosen[key]; ok {
		if !d.versions.Contains(meta.ID.Version) {
			return &conflict{name: d.name, reason: fmt.Sprintf(
				"package %q was already selected at version %s, which does not satisfy a later constraint", d.name, meta.ID.Version)}
		}
		added := s.mergeUses(meta, d)
		newDemands := s.demandsFrom(meta, d, added)
		if err := s.resolve(ctx, append(append([]demand{}, rest...), newDemands...)); err != nil {
			s.unmerge(key, added)
			return err
		}
		return nil
	}

	candidates, err := s.candidatesFor(ctx, d.name)
	if err != nil {
		return err
	}
	versions := make([]bpt.Version, len(candidates))
	byVersion := make(map[string]bpt.PackageMetadata, len(candidates))
	for i, c := range candidates {
		versions[i] = c.ID.Version
		byVersion[c.ID.Version.String()] = c
	}
	ordered := d.versions.FilterDescending(versions)
	if len(ordered) == 0 {
		return &conflict{name: d.name, reason: fmt.Sprintf("no known version of %q satisfies the required range", d.name)}
	}

	var tried []string
	for _, v := range ordered {
		meta := byVersion[v.String()]
		s.chosen[key] = meta
		added := s.mergeUses(meta, d)
		newDemands := s.demandsFrom(meta, d, added)

		err := s.resolve(ctx, append(append([]demand{}, rest...), newDemands...))
		if err == nil {
			return nil
		}
		s.unmerge(key, added)
		delete(s.chosen, key)
		tried = append(tried, fmt.Sprintf("%s: %v", meta.ID, err))
	}
	return &conflict{name: d.name, reason: fmt.Sprintf(
		"no version of %q satisfies every constraint; tried %s", d.name, strings.Join(tried, "; "))}
}

// mergeUses expands d.uses (and, when d.withTest, intra_test_using
// siblings) transitively through meta's intra_using graph, adding
// newly-activated library names to s.needed[d.name] and returning them
// so the caller can undo the merge on backtrack. A uses name absent
// from meta's own library list is recorded as-is and left for
// validateUsage to reject; it is not expanded further.
func (s *searchState) mergeUses(meta bpt.PackageMetadata, d demand) []string {
	libsByName := make(map[string]bpt.LibraryInfo, len(meta.Libraries))
	for _, l := range meta.Libraries {
		libsByName[l.Name.String()] = l
	}

	key := d.name.String()
	set := s.needed[key]
	if set == nil {
		set = make(map[string]bool)
		s.needed[key] = set
	}

	var added []string
	queue := make([]string, 0, len(d.uses))
	for _, u := range d.uses {
		queue = append(queue, u.String())
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if set[n] {
			continue
		}
		set[n] = true
		added = append(added, n)

		lib, ok := libsByName[n]
		if !ok {
			continue
		}
		for _, sib := range lib.IntraUsing {
			queue = append(queue, sib.String())
		}
		if d.withTest {
			for _, sib := range lib.IntraTestUsing {
				queue = append(queue, sib.String())
			}
		}
	}
	return added
}

func (s *searchState) unmerge(key string, added []string) {
	set := s.needed[key]
	for _, a := range added {
		delete(set, a)
	}
}

// demandsFrom turns the libraries newly activated on meta (addedLibs)
// into demand entries for their own dependencies, including test
// dependencies when d.withTest is set.
func (s *searchState) demandsFrom(meta bpt.PackageMetadata, d demand, addedLibs []string) []demand {
	libsByName := make(map[string]bpt.LibraryInfo, len(meta.Libraries))
	for _, l := range meta.Libraries {
		libsByName[l.Name.String()] = l
	}

	var out []demand
	for _, ln := range addedLibs {
		lib, ok := libsByName[ln]
		if !ok {
			continue
		}
		for _, dep := range lib.Dependencies {
			out = append(out, demand{name: dep.Name, versions: dep.AcceptableVersions, uses: dep.Uses})
		}
		if d.withTest {
			for _, dep := range lib.TestDependencies {
				out = append(out, demand{name: dep.Name, versions: dep.AcceptableVersions, uses: dep.Uses})
			}
		}
	}
	return out
}

// candidatesFor returns one PackageMetadata per distinct version known
// for name, preferring the highest revision and, among equal
// revisions, the earliest-enabled remote (spec.md §4.D's tie-break
// rule), in the order CandidateSource.ForPackage returned them.
func (s *searchState) candidatesFor(ctx context.Context, name bpt.Name) ([]bpt.PackageMetadata, error) {
	all, err := s.src.ForPackage(ctx, name)
	if err != nil {
		return nil, &bpt.Error{Kind: bpt.ErrInternal, Op: "solver.candidates", Inner: err}
	}

	best := make(map[string]bpt.PackageMetadata, len(all))
	var order []string
	for _, m := range all {
		v := m.ID.Version.String()
		cur, ok := best[v]
		if !ok {
			best[v] = m
			order = append(order, v)
			continue
		}
		if m.ID.Revision > cur.ID.Revision {
			best[v] = m
		}
	}

	out := make([]bpt.PackageMetadata, 0, len(order))
	for _, v := range order {
		out = append(out, best[v])
	}
	return out, nil
}

// validateUsage implements spec.md §4.D's post-solve check: every
// library name activated against a chosen package must actually exist
// in that package.
func (s *searchState) validateUsage() error {
	keys := make([]string, 0, len(s.needed))
	for k := range s.needed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		meta := s.chosen[k]
		present := make(map[string]bool, len(meta.Libraries))
		for _, l := range meta.Libraries {
			present[l.Name.String()] = true
		}

		names := make([]string, 0, len(s.needed[k]))
		for ln := range s.needed[k] {
			names = append(names, ln)
		}
		sort.Strings(names)

		for _, ln := range names {
			if !present[ln] {
				return &bpt.Error{
					Kind:    bpt.ErrInvalid,
					Op:      "solver.validate_usage",
					Message: fmt.Sprintf("package %s has no library named %q", meta.ID, ln),
					Marker:  string(bpt.MarkerUsageNoSuchLib),
				}
			}
		}
	}
	return nil
}

func (s *searchState) selections() []Selection {
	out := make([]Selection, 0, len(s.chosen))
	for key, meta := range s.chosen {
		libSet := s.needed[key]
		names := make([]bpt.Name, 0, len(libSet))
		for ln := range libSet {
			n, err := bpt.NewName(ln)
			if err != nil {
				continue
			}
			names = append(names, n)
		}
		sort.Slice(names, func(i, j int) bool { return names[i].Compare(names[j]) < 0 })
		out = append(out, Selection{ID: meta.ID, NeededLibs: names})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Compare(out[j].ID) < 0 })
	return out
}
