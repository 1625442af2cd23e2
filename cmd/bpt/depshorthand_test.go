package main

import "testing"

func TestParseDepShorthandBareName(t *testing.T) {
	d, err := parseDepShorthand("neo-buffer")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Name.String() != "neo-buffer" {
		t.Errorf("name = %q, want neo-buffer", d.Name.String())
	}
	if len(d.Uses) != 0 {
		t.Errorf("uses = %v, want none", d.Uses)
	}
	ranges := d.Versions.Ranges()
	if len(ranges) != 1 {
		t.Fatalf("ranges = %v, want exactly one", ranges)
	}
	if !ranges[0].Contains(mustVersion("9.9.9")) {
		t.Errorf("bare name should allow any version, rejected 9.9.9")
	}
}

func TestParseDepShorthandExactPin(t *testing.T) {
	d, err := parseDepShorthand("neo-buffer@1.2.3")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ranges := d.Versions.Ranges()
	if len(ranges) != 1 {
		t.Fatalf("ranges = %v, want exactly one", ranges)
	}
	r := ranges[0]
	if !r.Low.Equal(mustVersion("1.2.3")) {
		t.Errorf("low = %v, want 1.2.3", r.Low)
	}
	if !r.High.Equal(mustVersion("1.2.4")) {
		t.Errorf("high = %v, want 1.2.4", r.High)
	}
	if r.Contains(mustVersion("1.2.4")) {
		t.Error("upper bound should be exclusive")
	}
}

func TestParseDepShorthandCaretRange(t *testing.T) {
	cases := []struct {
		in, wantHigh string
	}{
		{"neo-buffer^1.2.3", "2.0.0"},
		{"neo-buffer^0.2.3", "0.3.0"},
		{"neo-buffer^0.0.3", "0.0.4"},
	}
	for _, c := range cases {
		d, err := parseDepShorthand(c.in)
		if err != nil {
			t.Fatalf("parse(%q): %v", c.in, err)
		}
		ranges := d.Versions.Ranges()
		if len(ranges) != 1 {
			t.Fatalf("parse(%q): ranges = %v", c.in, ranges)
		}
		if !ranges[0].High.Equal(mustVersion(c.wantHigh)) {
			t.Errorf("parse(%q): high = %v, want %s", c.in, ranges[0].High, c.wantHigh)
		}
	}
}

func TestParseDepShorthandUsesSuffix(t *testing.T) {
	d, err := parseDepShorthand("neo-buffer@1.2.3/core,net")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(d.Uses) != 2 {
		t.Fatalf("uses = %v, want 2 entries", d.Uses)
	}
	if d.Uses[0].String() != "core" || d.Uses[1].String() != "net" {
		t.Errorf("uses = %v, want [core net]", d.Uses)
	}
}

func TestParseDepShorthandInvalidName(t *testing.T) {
	if _, err := parseDepShorthand("Not A Valid Name@1.0.0"); err == nil {
		t.Fatal("expected an error for an invalid name component")
	}
}

func TestParseDepShorthandInvalidVersion(t *testing.T) {
	if _, err := parseDepShorthand("neo-buffer@not-a-version"); err == nil {
		t.Fatal("expected an error for an invalid version component")
	}
}

func TestNextPatchAndNextMajor(t *testing.T) {
	if v, err := nextPatch(mustVersion("1.2.3")); err != nil || !v.Equal(mustVersion("1.2.4")) {
		t.Errorf("nextPatch(1.2.3) = %v, %v", v, err)
	}
	if v, err := nextMajor(mustVersion("1.2.3")); err != nil || !v.Equal(mustVersion("2.0.0")) {
		t.Errorf("nextMajor(1.2.3) = %v, %v", v, err)
	}
	if v, err := nextMajor(mustVersion("0.2.3")); err != nil || !v.Equal(mustVersion("0.3.0")) {
		t.Errorf("nextMajor(0.2.3) = %v, %v", v, err)
	}
	if v, err := nextMajor(mustVersion("0.0.3")); err != nil || !v.Equal(mustVersion("0.0.4")) {
		t.Errorf("nextMajor(0.0.3) = %v, %v", v, err)
	}
}

func TestMustVersionPanicsOnBadInput(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected mustVersion to panic on an invalid version string")
		}
	}()
	mustVersion("not-a-version")
}
