package bpt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
)

const schemaVersion = 1

// Dependency names a dependee package, the version range it's
// acceptable in, and which of its libraries are linked against.
type Dependency struct {
	Name               Name
	AcceptableVersions VersionRangeSet
	Uses               []Name
}

// LibraryInfo describes one library hosted by a package.
type LibraryInfo struct {
	Name            Name
	Path            string // relative directory, must not escape the package root
	IntraUsing      []Name
	IntraTestUsing  []Name
	Dependencies    []Dependency
	TestDependencies []Dependency
}

// PackageMetadata is the full metadata document for one published
// package (spec.md §3.2).
type PackageMetadata struct {
	ID        PkgID
	Libraries []LibraryInfo
	// License is an optional SPDX license expression. Empty means
	// "unspecified", not invalid.
	License string
	// Extra carries unknown top-level JSON fields, round-tripped through
	// ToJSON with each value re-encoded in compact JSON form.
	Extra json.RawMessage
}

// InvalidMetaDataError is returned by ParseMetadata on any violation of
// the §3.2 invariants or a JSON structural error.
type InvalidMetaDataError struct {
	Message string
}

func (e *InvalidMetaDataError) Error() string { return "invalid package metadata: " + e.Message }

// didYouMean returns the known field closest to got by edit distance, or
// "" if none is within a useful distance.
func didYouMean(got string, known []string) string {
	best := ""
	bestDist := -1
	for _, k := range known {
		d := levenshtein(got, k)
		if bestDist == -1 || d < bestDist {
			bestDist = d
			best = k
		}
	}
	if bestDist >= 0 && bestDist <= (len(got)+1)/2+1 {
		return best
	}
	return ""
}

func levenshtein(a, b string) int {
	la, lb := len(a), len(b)
	prev := make([]int, lb+1)
	cur := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		cur[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := cur[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			cur[j] = m
		}
		prev, cur = cur, prev
	}
	return prev[lb]
}

var (
	topLevelFields = []string{
		"schema-version", "name", "version", "revision", "libraries", "license",
	}
	libraryFields = []string{
		"name", "path", "using", "test-using", "depends", "test-depends",
	}
	dependencyFields = []string{"versions", "using"}
)

type jsonDependency struct {
	Versions [][2]string `json:"versions"`
	Using    []string    `json:"using,omitempty"`
}

type jsonLibrary struct {
	Name        string                    `json:"name"`
	Path        string                    `json:"path"`
	Using       []string                  `json:"using,omitempty"`
	TestUsing   []string                  `json:"test-using,omitempty"`
	Depends     map[string]jsonDependency `json:"depends,omitempty"`
	TestDepends map[string]jsonDependency `json:"test-depends,omitempty"`
}

type jsonMeta struct {
	SchemaVersion int                    `json:"schema-version"`
	Name          string                 `json:"name"`
	Version       string                 `json:"version"`
	Revision      int                    `json:"revision"`
	License       string                 `json:"license,omitempty"`
	Libraries     []jsonLibrary          `json:"libraries"`
	Extra         map[string]json.RawMessage `json:"-"`
}

// ParseMetadata parses and validates a pkg.json document.
func ParseMetadata(data []byte) (PackageMetadata, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return PackageMetadata{}, &InvalidMetaDataError{Message: err.Error()}
	}

	sv, ok := raw["schema-version"]
	if !ok {
		return PackageMetadata{}, &InvalidMetaDataError{Message: "missing schema-version"}
	}
	var svInt int
	if err := json.Unmarshal(sv, &svInt); err != nil || svInt != schemaVersion {
		return PackageMetadata{}, &InvalidMetaDataError{Message: fmt.Sprintf("unsupported schema-version %s", sv)}
	}

	known := make(map[string]struct{}, len(topLevelFields))
	for _, f := range topLevelFields {
		known[f] = struct{}{}
	}
	extra := map[string]json.RawMessage{}
	for k, v := range raw {
		if _, ok := known[k]; ok {
			continue
		}
		if hint := didYouMean(k, topLevelFields); hint != "" {
			return PackageMetadata{}, &InvalidMetaDataError{
				Message: fmt.Sprintf("unknown field %q, did you mean %q?", k, hint),
			}
		}
		extra[k] = v
	}

	var rawLibs []json.RawMessage
	if lv, ok := raw["libraries"]; ok {
		if err := json.Unmarshal(lv, &rawLibs); err != nil {
			return PackageMetadata{}, &InvalidMetaDataError{Message: err.Error()}
		}
	}
	for _, rl := range rawLibs {
		if err := checkUnknownFields(rl, libraryFields); err != nil {
			return PackageMetadata{}, err
		}
		var lraw struct {
			Depends     map[string]json.RawMessage `json:"depends"`
			TestDepends map[string]json.RawMessage `json:"test-depends"`
		}
		if err := json.Unmarshal(rl, &lraw); err != nil {
			return PackageMetadata{}, &InvalidMetaDataError{Message: err.Error()}
		}
		for _, depRaw := range lraw.Depends {
			if err := checkUnknownFields(depRaw, dependencyFields); err != nil {
				return PackageMetadata{}, err
			}
		}
		for _, depRaw := range lraw.TestDepends {
			if err := checkUnknownFields(depRaw, dependencyFields); err != nil {
				return PackageMetadata{}, err
			}
		}
	}

	var m jsonMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return PackageMetadata{}, &InvalidMetaDataError{Message: err.Error()}
	}

	name, err := NewName(m.Name)
	if err != nil {
		return PackageMetadata{}, &InvalidMetaDataError{Message: err.Error()}
	}
	ver, err := NewVersion(m.Version)
	if err != nil {
		return PackageMetadata{}, &InvalidMetaDataError{Message: err.Error()}
	}
	if len(m.Libraries) == 0 {
		return PackageMetadata{}, &InvalidMetaDataError{Message: "libraries must be non-empty"}
	}
	if m.License != "" {
		if err := ValidateSPDXExpression(m.License); err != nil {
			return PackageMetadata{}, &InvalidMetaDataError{Message: err.Error()}
		}
	}

	libNames := make(map[string]struct{}, len(m.Libraries))
	for _, jl := range m.Libraries {
		libNames[jl.Name] = struct{}{}
	}

	libs := make([]LibraryInfo, 0, len(m.Libraries))
	for _, jl := range m.Libraries {
		libName, err := NewName(jl.Name)
		if err != nil {
			return PackageMetadata{}, &InvalidMetaDataError{Message: "library name: " + err.Error()}
		}
		if jl.Path == "" {
			return PackageMetadata{}, &InvalidMetaDataError{Message: "library path must not be empty"}
		}
		if path.IsAbs(jl.Path) {
			return PackageMetadata{}, &InvalidMetaDataError{Message: fmt.Sprintf("library path %q must not be absolute", jl.Path)}
		}
		if cleaned := path.Clean(jl.Path); strings.HasPrefix(cleaned, "..") {
			return PackageMetadata{}, &InvalidMetaDataError{Message: fmt.Sprintf("library path %q escapes the package root", jl.Path)}
		}

		using, err := resolveSiblings(jl.Using, libNames)
		if err != nil {
			return PackageMetadata{}, err
		}
		testUsing, err := resolveSiblings(jl.TestUsing, libNames)
		if err != nil {
			return PackageMetadata{}, err
		}
		deps, err := parseDependencyMap(jl.Depends)
		if err != nil {
			return PackageMetadata{}, err
		}
		testDeps, err := parseDependencyMap(jl.TestDepends)
		if err != nil {
			return PackageMetadata{}, err
		}

		libs = append(libs, LibraryInfo{
			Name:             libName,
			Path:             jl.Path,
			IntraUsing:       using,
			IntraTestUsing:   testUsing,
			Dependencies:     deps,
			TestDependencies: testDeps,
		})
	}

	extraJSON, _ := json.Marshal(extra)
	return PackageMetadata{
		ID:        PkgID{Name: name, Version: ver, Revision: m.Revision},
		Libraries: libs,
		License:   m.License,
		Extra:     extraJSON,
	}, nil
}

func resolveSiblings(names []string, siblings map[string]struct{}) ([]Name, error) {
	out := make([]Name, 0, len(names))
	for _, n := range names {
		if _, ok := siblings[n]; !ok {
			return nil, &InvalidMetaDataError{Message: fmt.Sprintf("sibling library %q does not exist in this package", n)}
		}
		nm, err := NewName(n)
		if err != nil {
			return nil, &InvalidMetaDataError{Message: err.Error()}
		}
		out = append(out, nm)
	}
	return out, nil
}

func parseDependencyMap(m map[string]jsonDependency) ([]Dependency, error) {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]Dependency, 0, len(m))
	for _, n := range names {
		jd := m[n]
		depName, err := NewName(n)
		if err != nil {
			return nil, &InvalidMetaDataError{Message: err.Error()}
		}
		ranges := make([]VersionRange, 0, len(jd.Versions))
		for _, pair := range jd.Versions {
			low, err := NewVersion(pair[0])
			if err != nil {
				return nil, &InvalidMetaDataError{Message: err.Error()}
			}
			high, err := NewVersion(pair[1])
			if err != nil {
				return nil, &InvalidMetaDataError{Message: err.Error()}
			}
			ranges = append(ranges, VersionRange{Low: low, High: high})
		}
		rs, err := NewVersionRangeSet(ranges...)
		if err != nil {
			return nil, &InvalidMetaDataError{Message: err.Error()}
		}
		if rs.Empty() {
			return nil, &InvalidMetaDataError{Message: fmt.Sprintf("dependency %q has an empty acceptable_versions set", n)}
		}
		uses := make([]Name, 0, len(jd.Using))
		for _, u := range jd.Using {
			un, err := NewName(u)
			if err != nil {
				return nil, &InvalidMetaDataError{Message: err.Error()}
			}
			uses = append(uses, un)
		}
		out = append(out, Dependency{Name: depName, AcceptableVersions: rs, Uses: uses})
	}
	return out, nil
}

// ToJSON renders m with a canonical, stable key order so that two
// logically equal metadata values stringify byte-identically (spec.md
// §4.A), as required by content hashing and by the repository DB's
// derived columns.
func (m PackageMetadata) ToJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("{")
	fmt.Fprintf(&buf, "%q:%d,", "schema-version", schemaVersion)
	fmt.Fprintf(&buf, "%q:%s,", "name", mustJSON(m.ID.Name.String()))
	fmt.Fprintf(&buf, "%q:%s,", "version", mustJSON(m.ID.Version.String()))
	fmt.Fprintf(&buf, "%q:%d,", "revision", m.ID.Revision)
	if m.License != "" {
		fmt.Fprintf(&buf, "%q:%s,", "license", mustJSON(m.License))
	}

	libs := make([]LibraryInfo, len(m.Libraries))
	copy(libs, m.Libraries)
	sort.Slice(libs, func(i, j int) bool { return libs[i].Name.Compare(libs[j].Name) < 0 })

	buf.WriteString(`"libraries":[`)
	for i, lib := range libs {
		if i > 0 {
			buf.WriteString(",")
		}
		writeLibraryJSON(&buf, lib)
	}
	buf.WriteString("]")

	var extra map[string]json.RawMessage
	if len(m.Extra) > 0 {
		_ = json.Unmarshal(m.Extra, &extra)
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&buf, ",%s:%s", mustJSON(k), string(extra[k]))
	}
	buf.WriteString("}")
	return buf.Bytes(), nil
}

func writeLibraryJSON(buf *bytes.Buffer, lib LibraryInfo) {
	buf.WriteString("{")
	fmt.Fprintf(buf, "%q:%s,", "name", mustJSON(lib.Name.String()))
	fmt.Fprintf(buf, "%q:%s", "path", mustJSON(lib.Path))
	writeNameList(buf, "using", lib.IntraUsing)
	writeNameList(buf, "test-using", lib.IntraTestUsing)
	writeDependencyList(buf, "depends", lib.Dependencies)
	writeDependencyList(buf, "test-depends", lib.TestDependencies)
	buf.WriteString("}")
}

func writeNameList(buf *bytes.Buffer, key string, names []Name) {
	if len(names) == 0 {
		return
	}
	sorted := make([]Name, len(names))
	copy(sorted, names)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Compare(sorted[j]) < 0 })
	fmt.Fprintf(buf, `,%q:[`, key)
	for i, n := range sorted {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString(string(mustJSON(n.String())))
	}
	buf.WriteString("]")
}

func writeDependencyList(buf *bytes.Buffer, key string, deps []Dependency) {
	if len(deps) == 0 {
		return
	}
	sorted := make([]Dependency, len(deps))
	copy(sorted, deps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name.Compare(sorted[j].Name) < 0 })
	fmt.Fprintf(buf, `,%q:{`, key)
	for i, d := range sorted {
		if i > 0 {
			buf.WriteString(",")
		}
		fmt.Fprintf(buf, "%s:{", mustJSON(d.Name.String()))
		buf.WriteString(`"versions":[`)
		for j, r := range d.AcceptableVersions.Ranges() {
			if j > 0 {
				buf.WriteString(",")
			}
			fmt.Fprintf(buf, "[%s,%s]", mustJSON(r.Low.String()), mustJSON(r.High.String()))
		}
		buf.WriteString("]")
		if len(d.Uses) > 0 {
			buf.WriteString(`,"using":[`)
			for j, u := range d.Uses {
				if j > 0 {
					buf.WriteString(",")
				}
				buf.WriteString(string(mustJSON(u.String())))
			}
			buf.WriteString("]")
		}
		buf.WriteString("}")
	}
	buf.WriteString("}")
}

func mustJSON(s string) json.RawMessage {
	b, err := json.Marshal(s)
	if err != nil {
		panic(err)
	}
	return b
}

// checkUnknownFields rejects any key in rawObj not present in known,
// attaching a did-you-mean hint (spec.md §4.A).
func checkUnknownFields(rawObj json.RawMessage, known []string) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(rawObj, &obj); err != nil {
		return &InvalidMetaDataError{Message: err.Error()}
	}
	knownSet := make(map[string]struct{}, len(known))
	for _, k := range known {
		knownSet[k] = struct{}{}
	}
	for k := range obj {
		if _, ok := knownSet[k]; ok {
			continue
		}
		if hint := didYouMean(k, known); hint != "" {
			return &InvalidMetaDataError{Message: fmt.Sprintf("unknown field %q, did you mean %q?", k, hint)}
		}
		return &InvalidMetaDataError{Message: fmt.Sprintf("unknown field %q", k)}
	}
	return nil
}
