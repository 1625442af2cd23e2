package bpt

import "testing"

func TestPkgIDRoundTrip(t *testing.T) {
	tt := []string{
		"foo@1.2.3~1",
		"my-lib.core@0.0.1~4",
	}
	for _, s := range tt {
		id, err := ParsePkgID(s)
		if err != nil {
			t.Fatalf("ParsePkgID(%q): %v", s, err)
		}
		if got := id.String(); got != s {
			t.Errorf("round trip: got %q, want %q", got, s)
		}
	}
}

func TestPkgIDCompare(t *testing.T) {
	a, _ := ParsePkgID("foo@1.0.0~1")
	b, _ := ParsePkgID("foo@1.0.0~2")
	c, _ := ParsePkgID("foo@1.1.0~1")
	d, _ := ParsePkgID("goo@0.0.1~1")

	if a.Compare(b) >= 0 {
		t.Error("expected a < b (revision)")
	}
	if b.Compare(c) >= 0 {
		t.Error("expected b < c (version)")
	}
	if c.Compare(d) >= 0 {
		t.Error("expected c < d (name)")
	}
}

func TestPkgIDPURL(t *testing.T) {
	id, _ := ParsePkgID("foo@1.2.3~2")
	purl := id.PURL()
	if purl == "" {
		t.Fatal("expected a non-empty purl")
	}
}
