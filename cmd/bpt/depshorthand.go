package main

import (
	"fmt"
	"strings"

	"github.com/bpt-pm/bpt"
)

// depShorthand is one positional dependency argument as accepted by
// `bpt build-deps` and `bpt pkg solve` (spec.md §6.1). The grammar,
// grounded on project_dependency::from_shorthand_string's CLI usage but
// not otherwise pinned down by spec.md, is:
//
//	name                  any version, no libraries required
//	name@1.2.3            exact version pin: [1.2.3, 1.2.4)
//	name^1.2.3            caret range: [1.2.3, 2.0.0)
//	name/lib1,lib2         an optional "uses" suffix on any of the above
//
// A caret range against a 0.x.y version follows semver's usual caret
// convention of bumping the first non-zero component, same as the
// solver's own highest-first candidate search expects to see.
type depShorthand struct {
	Name     bpt.Name
	Versions bpt.VersionRangeSet
	Uses     []bpt.Name
}

// parseDepShorthand parses one shorthand dependency string.
func parseDepShorthand(s string) (depShorthand, error) {
	rest := s
	var usesPart string
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		usesPart = rest[i+1:]
		rest = rest[:i]
	}

	var namePart, verPart string
	var caret bool
	switch {
	case strings.ContainsRune(rest, '@'):
		i := strings.IndexByte(rest, '@')
		namePart, verPart = rest[:i], rest[i+1:]
	case strings.ContainsRune(rest, '^'):
		i := strings.IndexByte(rest, '^')
		namePart, verPart = rest[:i], rest[i+1:]
		caret = true
	default:
		namePart = rest
	}

	name, err := bpt.NewName(namePart)
	if err != nil {
		return depShorthand{}, fmt.Errorf("invalid dependency shorthand %q: %w", s, err)
	}

	var versions bpt.VersionRangeSet
	if verPart == "" {
		versions, err = bpt.NewVersionRangeSet(bpt.VersionRange{
			Low:  mustVersion("0.0.0"),
			High: mustVersion("100000.0.0"),
		})
		if err != nil {
			return depShorthand{}, err
		}
	} else {
		low, err := bpt.NewVersion(verPart)
		if err != nil {
			return depShorthand{}, fmt.Errorf("invalid dependency shorthand %q: bad version: %w", s, err)
		}
		var high bpt.Version
		if caret {
			high, err = nextMajor(low)
		} else {
			high, err = nextPatch(low)
		}
		if err != nil {
			return depShorthand{}, fmt.Errorf("invalid dependency shorthand %q: %w", s, err)
		}
		versions, err = bpt.NewVersionRangeSet(bpt.VersionRange{Low: low, High: high})
		if err != nil {
			return depShorthand{}, fmt.Errorf("invalid dependency shorthand %q: %w", s, err)
		}
	}

	var uses []bpt.Name
	for _, u := range splitCommaList(usesPart) {
		un, err := bpt.NewName(u)
		if err != nil {
			return depShorthand{}, fmt.Errorf("invalid dependency shorthand %q: bad uses name: %w", s, err)
		}
		uses = append(uses, un)
	}

	return depShorthand{Name: name, Versions: versions, Uses: uses}, nil
}

func mustVersion(s string) bpt.Version {
	v, err := bpt.NewVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// nextPatch bumps the patch component, giving the exact-pin range
// [v, v.patch+1).
func nextPatch(v bpt.Version) (bpt.Version, error) {
	maj, min, pat := components(v)
	return bpt.NewVersion(fmt.Sprintf("%d.%d.%d", maj, min, pat+1))
}

// nextMajor bumps the first non-zero component, the usual caret-range
// convention: ^1.2.3 allows up to (but excluding) 2.0.0; ^0.2.3 allows
// up to 0.3.0; ^0.0.3 allows up to 0.0.4.
func nextMajor(v bpt.Version) (bpt.Version, error) {
	maj, min, pat := components(v)
	switch {
	case maj > 0:
		return bpt.NewVersion(fmt.Sprintf("%d.0.0", maj+1))
	case min > 0:
		return bpt.NewVersion(fmt.Sprintf("0.%d.0", min+1))
	default:
		return bpt.NewVersion(fmt.Sprintf("0.0.%d", pat+1))
	}
}

// components extracts the major/minor/patch triple by round-tripping
// through Version.String, since bpt.Version otherwise keeps its
// semver.Version unexported.
func components(v bpt.Version) (maj, min, pat int) {
	s := v.String()
	if i := strings.IndexAny(s, "-+"); i >= 0 {
		s = s[:i]
	}
	parts := strings.SplitN(s, ".", 3)
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	fmt.Sscanf(parts[0], "%d", &maj)
	fmt.Sscanf(parts[1], "%d", &min)
	fmt.Sscanf(parts[2], "%d", &pat)
	return
}
