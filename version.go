package bpt

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver"
)

// Version is a semantic version: major.minor.patch[-pre][+build].
//
// Ordering follows semver: the numeric triple compares first, then a
// pre-release component compares lower than the same triple with no
// pre-release, then pre-release identifiers compare per the semver
// spec. Build metadata never affects ordering or equality.
type Version struct {
	v *semver.Version
}

// NewVersion parses s as a semantic version.
func NewVersion(s string) (Version, error) {
	v, err := semver.NewVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
	}
	return Version{v: v}, nil
}

// String renders the version in canonical form.
func (v Version) String() string {
	if v.v == nil {
		return "0.0.0"
	}
	return v.v.String()
}

// Compare returns -1, 0, or 1 as v is less than, equal to, or greater
// than o.
func (v Version) Compare(o Version) int {
	switch {
	case v.v == nil && o.v == nil:
		return 0
	case v.v == nil:
		return -1
	case o.v == nil:
		return 1
	}
	return v.v.Compare(o.v)
}

// Less reports whether v orders before o.
func (v Version) Less(o Version) bool { return v.Compare(o) < 0 }

// Equal reports whether v and o compare equal (build metadata ignored).
func (v Version) Equal(o Version) bool { return v.Compare(o) == 0 }

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(b []byte) error {
	nv, err := NewVersion(string(b))
	if err != nil {
		return err
	}
	*v = nv
	return nil
}

// VersionRange is a half-open interval [Low, High) over semantic
// versions. High must compare strictly greater than Low.
type VersionRange struct {
	Low, High Version
}

// Contains reports whether v falls in [r.Low, r.High).
func (r VersionRange) Contains(v Version) bool {
	return !v.Less(r.Low) && v.Less(r.High)
}

// Valid reports whether High > Low, the invariant spec.md §3.2 requires
// of every interval in a dependency's acceptable_versions.
func (r VersionRange) Valid() bool {
	return r.Low.Less(r.High)
}

// VersionRangeSet is a union of half-open version intervals.
//
// An empty VersionRangeSet is invalid wherever spec.md requires a
// dependency's acceptable_versions to be non-empty (§3.2); construct one
// with NewVersionRangeSet.
type VersionRangeSet struct {
	ranges []VersionRange
}

// NewVersionRangeSet builds a VersionRangeSet from ranges, rejecting any
// interval with High <= Low. The set is not required to be non-empty
// here; callers enforcing the dependency invariant check Empty().
func NewVersionRangeSet(ranges ...VersionRange) (VersionRangeSet, error) {
	for _, r := range ranges {
		if !r.Valid() {
			return VersionRangeSet{}, fmt.Errorf("invalid version range [%s, %s)", r.Low, r.High)
		}
	}
	cp := make([]VersionRange, len(ranges))
	copy(cp, ranges)
	return VersionRangeSet{ranges: cp}, nil
}

// Empty reports whether the set contains no intervals.
func (s VersionRangeSet) Empty() bool { return len(s.ranges) == 0 }

// Contains reports whether v is contained in any interval of the set.
func (s VersionRangeSet) Contains(v Version) bool {
	for _, r := range s.ranges {
		if r.Contains(v) {
			return true
		}
	}
	return false
}

// Ranges returns the set's intervals in the order they were supplied.
func (s VersionRangeSet) Ranges() []VersionRange {
	out := make([]VersionRange, len(s.ranges))
	copy(out, s.ranges)
	return out
}

// FilterDescending returns the subset of candidates contained in s,
// sorted by descending version — the enumeration order the solver uses
// when trying candidates (spec.md §4.D: "highest first").
func (s VersionRangeSet) FilterDescending(candidates []Version) []Version {
	out := make([]Version, 0, len(candidates))
	for _, c := range candidates {
		if s.Contains(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[j].Less(out[i]) })
	return out
}
