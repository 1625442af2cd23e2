package bpt

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const sampleMetaJSON = `{
  "schema-version": 1,
  "name": "acme-widgets",
  "version": "1.4.0",
  "revision": 2,
  "license": "MIT OR Apache-2.0",
  "libraries": [
    {
      "name": "core",
      "path": "libs/core",
      "depends": {
        "fmtlib": {"versions": [["7.0.0", "8.0.0"]], "using": ["fmt"]}
      }
    },
    {
      "name": "testutil",
      "path": "libs/testutil",
      "using": ["core"],
      "test-depends": {
        "catch2": {"versions": [["2.0.0", "3.0.0"]]}
      }
    }
  ],
  "x-vendor-note": "kept verbatim"
}`

func TestParseMetadataRoundTrip(t *testing.T) {
	m, err := ParseMetadata([]byte(sampleMetaJSON))
	if err != nil {
		t.Fatalf("ParseMetadata: %v", err)
	}
	if m.ID.Name.String() != "acme-widgets" || m.ID.Revision != 2 {
		t.Fatalf("unexpected id: %+v", m.ID)
	}
	if len(m.Libraries) != 2 {
		t.Fatalf("expected 2 libraries, got %d", len(m.Libraries))
	}

	b1, err := m.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	reparsed, err := ParseMetadata(b1)
	if err != nil {
		t.Fatalf("ParseMetadata(ToJSON()): %v", err)
	}
	b2, err := reparsed.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON (2nd): %v", err)
	}
	if !cmp.Equal(string(b1), string(b2)) {
		t.Errorf("to_json is not stable across a parse/reserialize round trip:\n%s", cmp.Diff(string(b1), string(b2)))
	}

	var extra map[string]json.RawMessage
	if err := json.Unmarshal(m.Extra, &extra); err != nil {
		t.Fatalf("unmarshal extra: %v", err)
	}
	if _, ok := extra["x-vendor-note"]; !ok {
		t.Error("expected unknown top-level field to be preserved in Extra")
	}
}

func TestParseMetadataRejectsUnknownSchemaVersion(t *testing.T) {
	_, err := ParseMetadata([]byte(`{"schema-version": 2, "name":"a", "version":"1.0.0", "revision":1, "libraries":[{"name":"a","path":"."}]}`))
	if err == nil {
		t.Fatal("expected an error for schema-version != 1")
	}
}

func TestParseMetadataDidYouMean(t *testing.T) {
	_, err := ParseMetadata([]byte(`{"schema-version": 1, "nme":"a", "version":"1.0.0", "revision":1, "libraries":[{"name":"a","path":"."}]}`))
	if err == nil {
		t.Fatal("expected an error for the unknown field 'nme'")
	}
	if got := err.Error(); !contains(got, `did you mean "name"`) {
		t.Errorf("expected a did-you-mean hint, got: %s", got)
	}
}

func TestParseMetadataRejectsEmptyLibraries(t *testing.T) {
	_, err := ParseMetadata([]byte(`{"schema-version": 1, "name":"a", "version":"1.0.0", "revision":1, "libraries":[]}`))
	if err == nil {
		t.Fatal("expected an error for empty libraries")
	}
}

func TestParseMetadataRejectsEscapingLibraryPath(t *testing.T) {
	_, err := ParseMetadata([]byte(`{"schema-version": 1, "name":"a", "version":"1.0.0", "revision":1, "libraries":[{"name":"a","path":"../escape"}]}`))
	if err == nil {
		t.Fatal("expected an error for a library path escaping the package root")
	}
}

func TestParseMetadataRejectsUnknownSiblingUsing(t *testing.T) {
	_, err := ParseMetadata([]byte(`{"schema-version": 1, "name":"a", "version":"1.0.0", "revision":1, "libraries":[{"name":"a","path":".","using":["nope"]}]}`))
	if err == nil {
		t.Fatal("expected an error for a using-edge naming a nonexistent sibling")
	}
}

func TestParseMetadataRejectsInvalidLicense(t *testing.T) {
	_, err := ParseMetadata([]byte(`{"schema-version": 1, "name":"a", "version":"1.0.0", "revision":1, "license":"not a license )( ", "libraries":[{"name":"a","path":"."}]}`))
	if err == nil {
		t.Fatal("expected an error for a malformed SPDX expression")
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && indexOf(s, sub) >= 0
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
