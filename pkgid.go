package bpt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/package-url/packageurl-go"
)

// PkgID is the canonical triple identifying a published package:
// (name, version, revision). revision is the package revision — an
// orthogonal counter bumped when the same source version is re-published
// with metadata-only fixes (spec.md §3.1).
type PkgID struct {
	Name     Name
	Version  Version
	Revision int
}

// String renders the canonical "name@version~revision" form.
func (id PkgID) String() string {
	return fmt.Sprintf("%s@%s~%d", id.Name, id.Version, id.Revision)
}

// Compare orders PkgIDs lexicographically over (name, version, revision),
// the order spec.md §3.1 specifies.
func (id PkgID) Compare(o PkgID) int {
	if c := id.Name.Compare(o.Name); c != 0 {
		return c
	}
	if c := id.Version.Compare(o.Version); c != 0 {
		return c
	}
	switch {
	case id.Revision < o.Revision:
		return -1
	case id.Revision > o.Revision:
		return 1
	default:
		return 0
	}
}

// MarshalText implements encoding.TextMarshaler.
func (id PkgID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *PkgID) UnmarshalText(b []byte) error {
	v, err := ParsePkgID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// ParsePkgID parses the "name@version~revision" string form produced by
// PkgID.String.
func ParsePkgID(s string) (PkgID, error) {
	at := strings.IndexByte(s, '@')
	if at < 0 {
		return PkgID{}, fmt.Errorf("invalid pkg_id %q: missing '@'", s)
	}
	rest := s[at+1:]
	tilde := strings.IndexByte(rest, '~')
	if tilde < 0 {
		return PkgID{}, fmt.Errorf("invalid pkg_id %q: missing '~'", s)
	}
	name, err := NewName(s[:at])
	if err != nil {
		return PkgID{}, fmt.Errorf("invalid pkg_id %q: %w", s, err)
	}
	ver, err := NewVersion(rest[:tilde])
	if err != nil {
		return PkgID{}, fmt.Errorf("invalid pkg_id %q: %w", s, err)
	}
	rev, err := strconv.Atoi(rest[tilde+1:])
	if err != nil {
		return PkgID{}, fmt.Errorf("invalid pkg_id %q: bad revision: %w", s, err)
	}
	return PkgID{Name: name, Version: ver, Revision: rev}, nil
}

// PURL renders id as a Package URL for diagnostics and log lines. The
// value is display-only; it is never parsed back into a PkgID.
func (id PkgID) PURL() string {
	q := packageurl.Qualifiers{{Key: "revision", Value: strconv.Itoa(id.Revision)}}
	p := packageurl.NewPackageURL("bpt", "", id.Name.String(), id.Version.String(), q, "")
	return p.ToString()
}

// Usage names a specific library hosted by a package: a (pkg_name,
// lib_name) pair. It's the unit that dependency edges and the usage
// aggregator (spec.md §4.I) operate on.
type Usage struct {
	Package Name
	Library Name
}

// String renders "pkg_name/lib_name".
func (u Usage) String() string {
	return u.Package.String() + "/" + u.Library.String()
}

// Compare orders Usages by package name then library name.
func (u Usage) Compare(o Usage) int {
	if c := u.Package.Compare(o.Package); c != 0 {
		return c
	}
	return u.Library.Compare(o.Library)
}
