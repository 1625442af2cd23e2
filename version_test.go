package bpt

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestVersionOrdering(t *testing.T) {
	order := []string{
		"1.0.0-alpha",
		"1.0.0-alpha.1",
		"1.0.0-beta",
		"1.0.0",
		"1.0.1",
		"1.1.0",
		"2.0.0",
	}
	var parsed []Version
	for _, s := range order {
		v, err := NewVersion(s)
		if err != nil {
			t.Fatalf("NewVersion(%q): %v", s, err)
		}
		parsed = append(parsed, v)
	}
	for i := 1; i < len(parsed); i++ {
		if !parsed[i-1].Less(parsed[i]) {
			t.Errorf("expected %s < %s", order[i-1], order[i])
		}
	}
}

func TestVersionMarshalRoundTrip(t *testing.T) {
	for _, s := range []string{"1.2.3", "0.0.1", "2.0.0-rc.1+build.5"} {
		v, err := NewVersion(s)
		if err != nil {
			t.Fatalf("NewVersion(%q): %v", s, err)
		}
		b, err := v.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText: %v", err)
		}
		var got Version
		if err := got.UnmarshalText(b); err != nil {
			t.Fatalf("UnmarshalText: %v", err)
		}
		if !cmp.Equal(v.String(), got.String()) {
			t.Errorf("round trip mismatch: %s", cmp.Diff(v.String(), got.String()))
		}
	}
}

func TestVersionRangeSetContains(t *testing.T) {
	low, _ := NewVersion("1.2.0")
	high, _ := NewVersion("2.0.0")
	rs, err := NewVersionRangeSet(VersionRange{Low: low, High: high})
	if err != nil {
		t.Fatal(err)
	}
	yes, _ := NewVersion("1.2.5")
	no, _ := NewVersion("2.0.0")
	if !rs.Contains(yes) {
		t.Errorf("expected %s to be contained", yes)
	}
	if rs.Contains(no) {
		t.Errorf("expected %s (the exclusive upper bound) to be excluded", no)
	}
}

func TestVersionRangeSetRejectsEmptyInterval(t *testing.T) {
	v, _ := NewVersion("1.0.0")
	if _, err := NewVersionRangeSet(VersionRange{Low: v, High: v}); err == nil {
		t.Fatal("expected an error for a zero-width interval")
	}
}

func TestFilterDescending(t *testing.T) {
	low, _ := NewVersion("1.0.0")
	high, _ := NewVersion("2.0.0")
	rs, _ := NewVersionRangeSet(VersionRange{Low: low, High: high})

	var cands []Version
	for _, s := range []string{"0.9.0", "1.0.0", "1.5.0", "1.9.9", "2.0.0"} {
		v, _ := NewVersion(s)
		cands = append(cands, v)
	}
	got := rs.FilterDescending(cands)
	want := []string{"1.9.9", "1.5.0", "1.0.0"}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].String() != w {
			t.Errorf("got[%d] = %s, want %s", i, got[i], w)
		}
	}
}
