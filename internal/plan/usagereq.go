package plan

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/bpt-pm/bpt"
)

// resolvedPkg is one package's metadata plus the source root it was
// prefetched (or, for the root package, the project manifest) into.
type resolvedPkg struct {
	meta bpt.PackageMetadata
	dir  string
	libs map[string]bpt.LibraryInfo
}

func newResolvedPkg(meta bpt.PackageMetadata, dir string) resolvedPkg {
	libs := make(map[string]bpt.LibraryInfo, len(meta.Libraries))
	for _, l := range meta.Libraries {
		libs[l.Name.String()] = l
	}
	return resolvedPkg{meta: meta, dir: dir, libs: libs}
}

// libKey identifies one library within one package by name, since two
// different packages may each have a library sharing the other's name.
type libKey struct {
	pkg string
	lib string
}

// usageAggregator computes, for each library reachable from the build,
// the include directories a dependent must see: its own public include
// dir plus those of every library reachable through intra-package
// siblings (uses) and cross-package dependency uses, transitively.
type usageAggregator struct {
	pkgs    map[string]resolvedPkg
	memo    map[libKey][]string
	visitng map[libKey]bool
}

func newUsageAggregator(pkgs map[string]resolvedPkg) *usageAggregator {
	return &usageAggregator{
		pkgs:    pkgs,
		memo:    make(map[libKey][]string),
		visitng: make(map[libKey]bool),
	}
}

// includePaths returns k's full include-path closure, deduplicated and
// sorted, or a fatal internal-invariant error if the uses graph cycles.
func (u *usageAggregator) includePaths(k libKey) ([]string, error) {
	if paths, ok := u.memo[k]; ok {
		return paths, nil
	}
	if u.visitng[k] {
		return nil, &bpt.Error{
			Kind:    bpt.ErrInternal,
			Op:      "plan.usage_requirements",
			Message: fmt.Sprintf("cycle in uses graph reaching %s/%s", k.pkg, k.lib),
			Marker:  string(bpt.MarkerInvariantViolation),
		}
	}
	u.visitng[k] = true
	defer delete(u.visitng, k)

	rp, ok := u.pkgs[k.pkg]
	if !ok {
		return nil, fmt.Errorf("plan: unknown package %q referenced by a uses edge", k.pkg)
	}
	lib, ok := rp.libs[k.lib]
	if !ok {
		return nil, fmt.Errorf("plan: unknown library %q in package %q referenced by a uses edge", k.lib, k.pkg)
	}

	paths := []string{filepath.Join(rp.dir, lib.Path, "include")}
	for _, sib := range lib.IntraUsing {
		more, err := u.includePaths(libKey{k.pkg, sib.String()})
		if err != nil {
			return nil, err
		}
		paths = append(paths, more...)
	}
	for _, dep := range lib.Dependencies {
		for _, used := range dep.Uses {
			more, err := u.includePaths(libKey{dep.Name.String(), used.String()})
			if err != nil {
				return nil, err
			}
			paths = append(paths, more...)
		}
	}

	paths = dedupeStrings(paths)
	u.memo[k] = paths
	return paths, nil
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
