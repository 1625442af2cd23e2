package toolchain

import (
	"errors"
	"strings"
	"testing"

	"github.com/bpt-pm/bpt"
)

func TestLoadGNUDefaults(t *testing.T) {
	tc, err := Load([]byte(`{
		"compiler_id": "gnu",
		"optimize": true,
		"debug": "split",
		"flags": ["-DFOO"],
		"cxx_version": "c++20"
	}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tc.CCompilerPath != "gcc" || tc.CxxCompilerPath != "g++" {
		t.Errorf("got compilers %q/%q, want gcc/g++", tc.CCompilerPath, tc.CxxCompilerPath)
	}
	if tc.ArchiveSuffix != ".a" || tc.ObjSuffix != ".o" {
		t.Errorf("got archive/obj suffixes %q/%q, want .a/.o", tc.ArchiveSuffix, tc.ObjSuffix)
	}
	want := []string{"-O2", "-g", "-gsplit-dwarf", "-DFOO", "-std=c++20", "-fPIC", "-pthread"}
	if !equalStrings(tc.CxxFlags, want) {
		t.Errorf("got CxxFlags %v, want %v", tc.CxxFlags, want)
	}
	if !equalStrings(tc.WarningFlags, []string{"-Wall", "-Wextra", "-Wpedantic", "-Wconversion"}) {
		t.Errorf("got WarningFlags %v", tc.WarningFlags)
	}
}

func TestLoadMSVCRuntimeFlags(t *testing.T) {
	tc, err := Load([]byte(`{
		"compiler_id": "msvc",
		"debug": true,
		"runtime": {"static": true}
	}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(tc.CFlags) == 0 || tc.CFlags[0] != "/MTd" {
		t.Fatalf("got CFlags %v, want leading /MTd", tc.CFlags)
	}
	if tc.ArchiveSuffix != ".lib" || tc.ObjSuffix != ".obj" {
		t.Errorf("got archive/obj suffixes %q/%q, want .lib/.obj", tc.ArchiveSuffix, tc.ObjSuffix)
	}
}

func TestLoadUnknownTopLevelField(t *testing.T) {
	_, err := Load([]byte(`{"compiler_id": "gnu", "optimise": true}`))
	if err == nil {
		t.Fatal("expected an error for an unknown field")
	}
	var e *bpt.Error
	if !errors.As(err, &e) {
		t.Fatalf("expected a *bpt.Error, got %T: %v", err, err)
	}
	if e.Marker != string(bpt.MarkerLoadingToolchain) {
		t.Errorf("got marker %q, want %q", e.Marker, bpt.MarkerLoadingToolchain)
	}
	if !strings.Contains(e.Error(), `did you mean "optimize"`) {
		t.Errorf("expected a did-you-mean hint in %q", e.Error())
	}
}

func TestLoadUnknownAdvancedField(t *testing.T) {
	_, err := Load([]byte(`{"compiler_id": "gnu", "advanced": {"deps_modd": "gnu"}}`))
	if err == nil {
		t.Fatal("expected an error for an unknown advanced field")
	}
	if !strings.Contains(err.Error(), `did you mean "deps_mode"`) {
		t.Errorf("expected a did-you-mean hint in %q", err.Error())
	}
}

func TestLoadInvalidDebugString(t *testing.T) {
	_, err := Load([]byte(`{"compiler_id": "gnu", "debug": "maybe"}`))
	if err == nil {
		t.Fatal("expected an error for an invalid debug value")
	}
}

func TestLoadMissingCompilerIDFailsWithoutOverride(t *testing.T) {
	_, err := Load([]byte(`{}`))
	if err == nil {
		t.Fatal("expected an error: no compiler_id and no explicit compiler paths")
	}
}

func TestLoadMissingCompilerIDWithExplicitCompilersSucceeds(t *testing.T) {
	_, err := Load([]byte(`{
		"c_compiler": "/opt/cc",
		"cxx_compiler": "/opt/cxx",
		"advanced": {
			"include_template": ["-I", "[path]"],
			"define_template": ["-D", "[def]"],
			"archive_suffix": ".a",
			"obj_suffix": ".o",
			"create_archive": ["ar", "rcs", "[out]", "[in]"],
			"link_executable": ["/opt/cxx", "[in]", "-o[out]", "[flags]"],
			"c_source_type_flags": ["-xc"],
			"cxx_source_type_flags": ["-xc++"],
			"syntax_only_flags": ["-fsyntax-only"]
		}
	}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoadCompilerLauncherPrepended(t *testing.T) {
	tc, err := Load([]byte(`{"compiler_id": "gnu", "compiler_launcher": "ccache"}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cmd := tc.CompileCommand(LangCxx, "a.cpp", "a.o")
	if cmd[0] != "ccache" || cmd[1] != "g++" {
		t.Errorf("got %v, want leading [ccache g++]", cmd)
	}
}

func TestCompileArchiveLinkCommands(t *testing.T) {
	tc, err := Load([]byte(`{"compiler_id": "gnu"}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	compile := tc.CompileCommand(LangC, "a.c", "a.o")
	if !containsAll(compile, []string{"gcc", "-c", "a.c", "-oa.o", "-fPIC", "-pthread"}) {
		t.Errorf("got compile command %v", compile)
	}
	archive := tc.ArchiveCommand("liba.a", []string{"a.o", "b.o"})
	if !equalStrings(archive, []string{"ar", "rcs", "liba.a", "a.o", "b.o"}) {
		t.Errorf("got archive command %v", archive)
	}
	link := tc.LinkCommand("app", []string{"a.o"}, tc.LinkFlags)
	if !containsAll(link, []string{"g++", "a.o", "-pthread", "-oapp"}) {
		t.Errorf("got link command %v", link)
	}
}

func TestIncludeAndDefineFlags(t *testing.T) {
	tc, err := Load([]byte(`{"compiler_id": "gnu"}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	inc := tc.IncludeFlags([]string{"include", "vendor/include"}, false)
	if !equalStrings(inc, []string{"-I", "include", "-I", "vendor/include"}) {
		t.Errorf("got include flags %v", inc)
	}
	ext := tc.IncludeFlags([]string{"vendor/include"}, true)
	if !equalStrings(ext, []string{"-isystem", "vendor/include"}) {
		t.Errorf("got external include flags %v", ext)
	}
	defs := tc.DefineFlags([]string{"NDEBUG"})
	if !equalStrings(defs, []string{"-D", "NDEBUG"}) {
		t.Errorf("got define flags %v", defs)
	}
}

func TestSplitShellWordsQuoting(t *testing.T) {
	got := splitShellWords(`-O2 -DFOO="bar baz" 'single quoted'`)
	want := []string{"-O2", `-DFOO=bar baz`, "single quoted"}
	if !equalStrings(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFlagsAcceptShellString(t *testing.T) {
	tc, err := Load([]byte(`{"compiler_id": "gnu", "flags": "-DFOO -DBAR"}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !containsAll(tc.CFlags, []string{"-DFOO", "-DBAR"}) {
		t.Errorf("got CFlags %v", tc.CFlags)
	}
}

func equalStrings(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func containsAll(got []string, want []string) bool {
	set := make(map[string]bool, len(got))
	for _, g := range got {
		set[g] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}
