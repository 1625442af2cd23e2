package toolchain

import "strings"

// CompilerID names a compiler family. Empty means the document named no
// compiler_id at all, which disables every field whose default depends
// on knowing one.
type CompilerID string

const (
	GNU   CompilerID = "gnu"
	Clang CompilerID = "clang"
	MSVC  CompilerID = "msvc"
)

func (id CompilerID) gnuLike() bool { return id == GNU || id == Clang }

// DepsMode selects how a compile step reports included headers for
// incremental rebuild tracking.
type DepsMode string

const (
	DepsGNU  DepsMode = "gnu"
	DepsMSVC DepsMode = "msvc"
	DepsNone DepsMode = "none"
)

// Language distinguishes the two source languages a toolchain compiles.
type Language int

const (
	LangC Language = iota
	LangCxx
)

// Toolchain is the fully-resolved result of Load: every flag list below
// already has compiler-id defaults and document overrides merged, and
// every field needed to assemble a runnable command is present.
type Toolchain struct {
	CompilerID CompilerID

	CCompilerPath    string
	CxxCompilerPath  string
	CompilerLauncher []string

	DepsMode DepsMode

	// CFlags and CxxFlags are the fully assembled per-language flag
	// sequences: runtime, optimize, debug, common flags, the language
	// version flag, user per-language flags, then base flags, in that
	// order (spec.md §5's get_flags order).
	CFlags   []string
	CxxFlags []string

	WarningFlags []string
	LinkFlags    []string

	IncludeTemplate         []string
	ExternalIncludeTemplate []string
	DefineTemplate          []string

	ArchivePrefix, ArchiveSuffix string
	ObjPrefix, ObjSuffix         string
	ExePrefix, ExeSuffix         string

	// CCompileTemplate and CxxCompileTemplate are args-only: the
	// compiler path and launcher are prepended at lowering time, not
	// stored in the template itself.
	CCompileTemplate   []string
	CxxCompileTemplate []string

	// CreateArchiveTemplate and LinkExecutableTemplate are full command
	// templates, including the archiver/compiler executable token.
	CreateArchiveTemplate  []string
	LinkExecutableTemplate []string

	TTYFlags           []string
	CSourceTypeFlags   []string
	CxxSourceTypeFlags []string
	SyntaxOnlyFlags    []string

	ConsiderEnvs []string
}

// Flags returns the fully assembled flag sequence for lang.
func (tc *Toolchain) Flags(lang Language) []string {
	if lang == LangCxx {
		return tc.CxxFlags
	}
	return tc.CFlags
}

func (tc *Toolchain) compileTemplate(lang Language) ([]string, string) {
	if lang == LangCxx {
		return tc.CxxCompileTemplate, tc.CxxCompilerPath
	}
	return tc.CCompileTemplate, tc.CCompilerPath
}

// CompileCommand lowers a compile step for lang into a runnable argument
// vector: launcher tokens, the compiler path, then the template expanded
// against in/out and this toolchain's assembled flags.
func (tc *Toolchain) CompileCommand(lang Language, in, out string) []string {
	tmpl, exe := tc.compileTemplate(lang)
	args := expandTemplate(tmpl,
		map[string][]string{"[flags]": tc.Flags(lang)},
		map[string]string{"[in]": in, "[out]": out},
	)
	cmd := make([]string, 0, len(tc.CompilerLauncher)+1+len(args))
	cmd = append(cmd, tc.CompilerLauncher...)
	cmd = append(cmd, exe)
	cmd = append(cmd, args...)
	return cmd
}

// ArchiveCommand lowers an archive-creation step.
func (tc *Toolchain) ArchiveCommand(out string, ins []string) []string {
	return expandTemplate(tc.CreateArchiveTemplate,
		map[string][]string{"[in]": ins},
		map[string]string{"[out]": out},
	)
}

// LinkCommand lowers a link-executable step. linkFlags is the caller's
// assembled link-time flag sequence (runtime+optimize+debug+LinkFlags),
// which the scheduler computes once per link target.
func (tc *Toolchain) LinkCommand(out string, ins, linkFlags []string) []string {
	args := expandTemplate(tc.LinkExecutableTemplate,
		map[string][]string{"[in]": ins, "[flags]": linkFlags},
		map[string]string{"[out]": out},
	)
	cmd := make([]string, 0, len(tc.CompilerLauncher)+len(args))
	cmd = append(cmd, tc.CompilerLauncher...)
	cmd = append(cmd, args...)
	return cmd
}

// IncludeFlags lowers a set of include directories. external selects
// ExternalIncludeTemplate, used for dependency include paths that
// shouldn't produce warnings owned by this project.
func (tc *Toolchain) IncludeFlags(paths []string, external bool) []string {
	tmpl := tc.IncludeTemplate
	if external {
		tmpl = tc.ExternalIncludeTemplate
	}
	out := make([]string, 0, len(paths)*2)
	for _, p := range paths {
		out = append(out, expandTemplate(tmpl, nil, map[string]string{"[path]": p})...)
	}
	return out
}

// DefineFlags lowers a set of preprocessor definitions, each already in
// "NAME" or "NAME=VALUE" form.
func (tc *Toolchain) DefineFlags(defs []string) []string {
	out := make([]string, 0, len(defs)*2)
	for _, d := range defs {
		out = append(out, expandTemplate(tc.DefineTemplate, nil, map[string]string{"[def]": d})...)
	}
	return out
}

// SourceTypeFlags forces lang's source-type flags, used when a file's
// extension doesn't already imply its language (e.g. a .h included as a
// translation unit).
func (tc *Toolchain) SourceTypeFlags(lang Language) []string {
	if lang == LangCxx {
		return tc.CxxSourceTypeFlags
	}
	return tc.CSourceTypeFlags
}

// ObjectName joins ObjPrefix/ObjSuffix around stem.
func (tc *Toolchain) ObjectName(stem string) string { return tc.ObjPrefix + stem + tc.ObjSuffix }

// ArchiveName joins ArchivePrefix/ArchiveSuffix around stem.
func (tc *Toolchain) ArchiveName(stem string) string { return tc.ArchivePrefix + stem + tc.ArchiveSuffix }

// ExeName joins ExePrefix/ExeSuffix around stem.
func (tc *Toolchain) ExeName(stem string) string { return tc.ExePrefix + stem + tc.ExeSuffix }

// expandTemplate lowers tmpl token by token: a token with an exact match
// in multi expands in place to that slice (e.g. "[flags]" to the
// toolchain's whole flag sequence); otherwise every key of single is
// substring-replaced into the token (so "-o[out]" and a standalone
// "[out]" both work).
func expandTemplate(tmpl []string, multi map[string][]string, single map[string]string) []string {
	out := make([]string, 0, len(tmpl))
	for _, tok := range tmpl {
		if vals, ok := multi[tok]; ok {
			out = append(out, vals...)
			continue
		}
		out = append(out, substitute(tok, single))
	}
	return out
}

func substitute(tok string, single map[string]string) string {
	for ph, val := range single {
		if strings.Contains(tok, ph) {
			tok = strings.ReplaceAll(tok, ph, val)
		}
	}
	return tok
}
