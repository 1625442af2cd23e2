package toolchain

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/bpt-pm/bpt"
)

// ConfigError reports a structural or semantic problem in a
// toolchain.json document.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return "invalid toolchain config: " + e.Message }

var (
	topLevelFields = []string{
		"compiler_id", "c_compiler", "cxx_compiler", "c_version", "cxx_version",
		"c_flags", "cxx_flags", "warning_flags", "link_flags", "flags",
		"compiler_launcher", "debug", "optimize", "runtime", "advanced",
	}
	advancedFields = []string{
		"deps_mode", "include_template", "external_include_template", "define_template",
		"base_warning_flags", "base_flags", "base_c_flags", "base_cxx_flags",
		"c_compile_file", "cxx_compile_file", "create_archive", "link_executable",
		"obj_prefix", "obj_suffix", "archive_prefix", "archive_suffix",
		"exe_prefix", "exe_suffix", "tty_flags", "lang_version_flag_template",
		"c_source_type_flags", "cxx_source_type_flags", "syntax_only_flags", "consider_env",
	}
)

// flagList accepts either a JSON array of strings or a single
// shell-like string, split the way an unquoted shell word list would be.
type flagList []string

func (f *flagList) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*f = arr
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("must be a string or an array of strings")
	}
	*f = splitShellWords(s)
	return nil
}

// debugSetting accepts either a bool or one of "none"/"embedded"/"split".
type debugSetting struct {
	isBool bool
	b      bool
	s      string
}

func (d *debugSetting) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		d.isBool, d.b = true, b
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("debug must be a bool or one of \"none\", \"embedded\", \"split\"")
	}
	switch s {
	case "none", "embedded", "split":
	default:
		return fmt.Errorf("debug: unknown value %q, expected \"none\", \"embedded\", or \"split\"", s)
	}
	d.isBool, d.s = false, s
	return nil
}

// kind maps this setting to one of "", "embedded", "split".
func (d *debugSetting) kind() string {
	if d == nil {
		return ""
	}
	if d.isBool {
		if d.b {
			return "embedded"
		}
		return ""
	}
	if d.s == "none" {
		return ""
	}
	return d.s
}

type jsonRuntime struct {
	Static *bool `json:"static"`
	Debug  *bool `json:"debug"`
}

type jsonDoc struct {
	CompilerID       *string       `json:"compiler_id"`
	CCompiler        *string       `json:"c_compiler"`
	CxxCompiler      *string       `json:"cxx_compiler"`
	CVersion         *string       `json:"c_version"`
	CxxVersion       *string       `json:"cxx_version"`
	CompilerLauncher flagList      `json:"compiler_launcher"`
	CFlags           flagList      `json:"c_flags"`
	CxxFlags         flagList      `json:"cxx_flags"`
	WarningFlags     flagList      `json:"warning_flags"`
	LinkFlags        flagList      `json:"link_flags"`
	Flags            flagList      `json:"flags"`
	Debug            *debugSetting `json:"debug"`
	Optimize         *bool         `json:"optimize"`
	Runtime          *jsonRuntime  `json:"runtime"`
	Advanced         *jsonAdvanced `json:"advanced"`
}

type jsonAdvanced struct {
	DepsMode                *string   `json:"deps_mode"`
	IncludeTemplate         *flagList `json:"include_template"`
	ExternalIncludeTemplate *flagList `json:"external_include_template"`
	DefineTemplate          *flagList `json:"define_template"`
	BaseWarningFlags        *flagList `json:"base_warning_flags"`
	BaseFlags               *flagList `json:"base_flags"`
	BaseCFlags              *flagList `json:"base_c_flags"`
	BaseCxxFlags            *flagList `json:"base_cxx_flags"`
	CCompileFile            *flagList `json:"c_compile_file"`
	CxxCompileFile          *flagList `json:"cxx_compile_file"`
	CreateArchive           *flagList `json:"create_archive"`
	LinkExecutable          *flagList `json:"link_executable"`
	ObjPrefix               *string   `json:"obj_prefix"`
	ObjSuffix               *string   `json:"obj_suffix"`
	ArchivePrefix           *string   `json:"archive_prefix"`
	ArchiveSuffix           *string   `json:"archive_suffix"`
	ExePrefix               *string   `json:"exe_prefix"`
	ExeSuffix               *string   `json:"exe_suffix"`
	TTYFlags                *flagList `json:"tty_flags"`
	LangVersionFlagTemplate *string   `json:"lang_version_flag_template"`
	CSourceTypeFlags        *flagList `json:"c_source_type_flags"`
	CxxSourceTypeFlags      *flagList `json:"cxx_source_type_flags"`
	SyntaxOnlyFlags         *flagList `json:"syntax_only_flags"`
	ConsiderEnv             *flagList `json:"consider_env"`
}

// Load parses and fully resolves a toolchain.json document.
func Load(data []byte) (*Toolchain, error) {
	tc, err := parse(data)
	if err != nil {
		return nil, bpt.WithBreadcrumb(&bpt.Error{
			Kind:   bpt.ErrInvalid,
			Op:     "toolchain.load",
			Inner:  err,
			Marker: string(bpt.MarkerLoadingToolchain),
		}, bpt.BreadcrumbParseToolchainPath)
	}
	return tc, nil
}

// LoadFile reads and loads the toolchain.json at path.
func LoadFile(path string) (*Toolchain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, bpt.WithBreadcrumb(&bpt.Error{
			Kind:   bpt.ErrInvalid,
			Op:     "toolchain.load_file",
			Inner:  err,
			Marker: string(bpt.MarkerLoadingToolchain),
		}, bpt.BreadcrumbParseToolchainPath)
	}
	return Load(data)
}

func parse(data []byte) (*Toolchain, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: err.Error()}
	}
	if err := checkUnknownFields(raw, topLevelFields); err != nil {
		return nil, err
	}
	if av, ok := raw["advanced"]; ok {
		var rawAdv map[string]json.RawMessage
		if err := json.Unmarshal(av, &rawAdv); err != nil {
			return nil, &ConfigError{Message: "advanced: " + err.Error()}
		}
		if err := checkUnknownFields(rawAdv, advancedFields); err != nil {
			return nil, err
		}
	}

	var doc jsonDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigError{Message: err.Error()}
	}
	return build(&doc)
}

func checkUnknownFields(obj map[string]json.RawMessage, known []string) error {
	knownSet := make(map[string]struct{}, len(known))
	for _, k := range known {
		knownSet[k] = struct{}{}
	}
	for k := range obj {
		if _, ok := knownSet[k]; ok {
			continue
		}
		if hint := didYouMean(k, known); hint != "" {
			return &ConfigError{Message: fmt.Sprintf("unknown field %q, did you mean %q?", k, hint)}
		}
		return &ConfigError{Message: fmt.Sprintf("unknown field %q", k)}
	}
	return nil
}

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
			m := prev[j] + 1
			if ins := cur[j-1] + 1; ins < m {
				m = ins
			}
			if sub := prev[j-1] + cost; sub < m {
				m = sub
			}
			cur[j] = m
		}
		prev, cur = cur, prev
	}
	return prev[lb]
}

func build(doc *jsonDoc) (*Toolchain, error) {
	id := CompilerID("")
	if doc.CompilerID != nil {
		id = CompilerID(*doc.CompilerID)
		switch id {
		case GNU, Clang, MSVC:
		default:
			return nil, &ConfigError{Message: fmt.Sprintf("unknown compiler_id %q", id)}
		}
	}
	gnuLike := id.gnuLike()
	adv := doc.Advanced
	if adv == nil {
		adv = &jsonAdvanced{}
	}

	tc := &Toolchain{CompilerID: id, CompilerLauncher: doc.CompilerLauncher}

	// deps_mode
	switch {
	case adv.DepsMode != nil:
		switch DepsMode(*adv.DepsMode) {
		case DepsGNU, DepsMSVC, DepsNone:
			tc.DepsMode = DepsMode(*adv.DepsMode)
		default:
			return nil, &ConfigError{Message: fmt.Sprintf("unknown deps_mode %q", *adv.DepsMode)}
		}
	case id == MSVC:
		tc.DepsMode = DepsMSVC
	case gnuLike:
		tc.DepsMode = DepsGNU
	default:
		tc.DepsMode = DepsNone
	}

	// compiler executables
	cExe, cxxExe, err := resolveCompilers(id, doc.CCompiler, doc.CxxCompiler)
	if err != nil {
		return nil, err
	}
	tc.CCompilerPath, tc.CxxCompilerPath = cExe, cxxExe

	// lang_version_flag_template
	switch {
	case adv.LangVersionFlagTemplate != nil:
		tc.LangVersionFlagTemplate = *adv.LangVersionFlagTemplate
	case id == MSVC:
		tc.LangVersionFlagTemplate = "/std:[version]"
	case gnuLike:
		tc.LangVersionFlagTemplate = "-std=[version]"
	}

	// include/external-include/define templates
	tc.IncludeTemplate, err = requireTemplate(adv.IncludeTemplate, id, gnuLike,
		[]string{"/I", "[path]"}, []string{"-I", "[path]"}, "include_template")
	if err != nil {
		return nil, err
	}
	if adv.ExternalIncludeTemplate != nil {
		tc.ExternalIncludeTemplate = []string(*adv.ExternalIncludeTemplate)
	} else if id == "" {
		tc.ExternalIncludeTemplate = tc.IncludeTemplate
	} else if id == MSVC {
		tc.ExternalIncludeTemplate = []string{"/I", "[path]"}
	} else {
		tc.ExternalIncludeTemplate = []string{"-isystem", "[path]"}
	}
	tc.DefineTemplate, err = requireTemplate(adv.DefineTemplate, id, gnuLike,
		[]string{"/D", "[def]"}, []string{"-D", "[def]"}, "define_template")
	if err != nil {
		return nil, err
	}

	// prefixes/suffixes
	tc.ArchivePrefix = stringOr(adv.ArchivePrefix, "lib")
	tc.ObjPrefix = stringOr(adv.ObjPrefix, "")
	tc.ExePrefix = stringOr(adv.ExePrefix, "")
	if adv.ArchiveSuffix != nil {
		tc.ArchiveSuffix = *adv.ArchiveSuffix
	} else if id == MSVC {
		tc.ArchiveSuffix = ".lib"
	} else if gnuLike {
		tc.ArchiveSuffix = ".a"
	} else {
		return nil, needCompilerID("archive_suffix")
	}
	if adv.ObjSuffix != nil {
		tc.ObjSuffix = *adv.ObjSuffix
	} else if id == MSVC {
		tc.ObjSuffix = ".obj"
	} else if gnuLike {
		tc.ObjSuffix = ".o"
	} else {
		return nil, needCompilerID("obj_suffix")
	}
	if adv.ExeSuffix != nil {
		tc.ExeSuffix = *adv.ExeSuffix
	} else if id == MSVC || runtime.GOOS == "windows" {
		tc.ExeSuffix = ".exe"
	} else {
		tc.ExeSuffix = ""
	}

	// warning flags: base_warning_flags default + user warning_flags appended
	var baseWarn []string
	if adv.BaseWarningFlags != nil {
		baseWarn = []string(*adv.BaseWarningFlags)
	} else if id == MSVC {
		baseWarn = []string{"/W4"}
	} else if gnuLike {
		baseWarn = []string{"-Wall", "-Wextra", "-Wpedantic", "-Wconversion"}
	}
	tc.WarningFlags = append(append([]string{}, baseWarn...), doc.WarningFlags...)

	// tty flags
	if adv.TTYFlags != nil {
		tc.TTYFlags = []string(*adv.TTYFlags)
	} else if gnuLike {
		tc.TTYFlags = []string{"-fdiagnostics-color"}
	}

	// source-type / syntax-only flags
	tc.CSourceTypeFlags, err = requireTemplate(adv.CSourceTypeFlags, id, gnuLike,
		[]string{"/TC"}, []string{"-xc"}, "c_source_type_flags")
	if err != nil {
		return nil, err
	}
	tc.CxxSourceTypeFlags, err = requireTemplate(adv.CxxSourceTypeFlags, id, gnuLike,
		[]string{"/TP"}, []string{"-xc++"}, "cxx_source_type_flags")
	if err != nil {
		return nil, err
	}
	tc.SyntaxOnlyFlags, err = requireTemplate(adv.SyntaxOnlyFlags, id, gnuLike,
		[]string{"/Zs"}, []string{"-fsyntax-only"}, "syntax_only_flags")
	if err != nil {
		return nil, err
	}

	// consider_env
	if adv.ConsiderEnv != nil {
		tc.ConsiderEnvs = []string(*adv.ConsiderEnv)
	} else if id == MSVC {
		tc.ConsiderEnvs = []string{"CL", "_CL_", "INCLUDE", "LIBPATH", "LIB"}
	}

	// runtime/optimize/debug flags, shared by compile and link flag assembly
	runtimeFlags := runtimeFlags(id, gnuLike, doc.Runtime, doc.Debug)
	optimizeFlags := optimizeFlags(id, gnuLike, doc.Optimize)
	debugFlags := debugFlags(id, gnuLike, doc.Debug)

	// base compile flags
	var baseCommon, baseC, baseCxx []string
	if adv.BaseFlags != nil {
		baseCommon = []string(*adv.BaseFlags)
	} else if id == MSVC {
		baseCommon = []string{"/nologo", "/permissive-"}
	} else if gnuLike {
		baseCommon = []string{"-fPIC", "-pthread"}
	}
	if adv.BaseCFlags != nil {
		baseC = []string(*adv.BaseCFlags)
	}
	if adv.BaseCxxFlags != nil {
		baseCxx = []string(*adv.BaseCxxFlags)
	} else if id == MSVC {
		baseCxx = []string{"/EHsc"}
	}

	tc.CFlags = assembleFlags(runtimeFlags, optimizeFlags, debugFlags, doc.Flags,
		langVersionFlag(tc.LangVersionFlagTemplate, doc.CVersion), doc.CFlags, baseCommon, baseC)
	tc.CxxFlags = assembleFlags(runtimeFlags, optimizeFlags, debugFlags, doc.Flags,
		langVersionFlag(tc.LangVersionFlagTemplate, doc.CxxVersion), doc.CxxFlags, baseCommon, baseCxx)

	tc.LinkFlags = append(append(append([]string{}, runtimeFlags...), optimizeFlags...), debugFlags...)
	tc.LinkFlags = append(tc.LinkFlags, doc.LinkFlags...)

	// compile/archive/link templates
	if adv.CCompileFile != nil {
		tc.CCompileTemplate = []string(*adv.CCompileFile)
	} else if id == MSVC {
		tc.CCompileTemplate = []string{"[flags]", "/c", "[in]", "/Fo[out]"}
	} else {
		tc.CCompileTemplate = []string{"[flags]", "-c", "[in]", "-o[out]"}
	}
	if adv.CxxCompileFile != nil {
		tc.CxxCompileTemplate = []string(*adv.CxxCompileFile)
	} else if id == MSVC {
		tc.CxxCompileTemplate = []string{"[flags]", "/c", "[in]", "/Fo[out]"}
	} else {
		tc.CxxCompileTemplate = []string{"[flags]", "-c", "[in]", "-o[out]"}
	}

	tc.CreateArchiveTemplate, err = requireTemplate(adv.CreateArchive, id, gnuLike,
		[]string{"lib", "/nologo", "/OUT:[out]", "[in]"},
		[]string{"ar", "rcs", "[out]", "[in]"}, "create_archive")
	if err != nil {
		return nil, err
	}
	tc.LinkExecutableTemplate, err = requireTemplate(adv.LinkExecutable, id, gnuLike,
		[]string{tc.CxxCompilerPath, "/nologo", "/EHsc", "[in]", "/Fe[out]", "[flags]"},
		[]string{tc.CxxCompilerPath, "-fPIC", "[in]", "-pthread", "-o[out]", "[flags]"}, "link_executable")
	if err != nil {
		return nil, err
	}

	return tc, nil
}

func resolveCompilers(id CompilerID, cOverride, cxxOverride *string) (string, string, error) {
	if cOverride != nil && cxxOverride != nil {
		return *cOverride, *cxxOverride, nil
	}
	var cDefault, cxxDefault string
	switch id {
	case GNU:
		cDefault, cxxDefault = "gcc", "g++"
	case Clang:
		cDefault, cxxDefault = "clang", "clang++"
	case MSVC:
		cDefault, cxxDefault = "cl.exe", "cl.exe"
	default:
		if cOverride == nil || cxxOverride == nil {
			return "", "", needCompilerID("c_compiler/cxx_compiler")
		}
	}
	cExe := cDefault
	if cOverride != nil {
		cExe = *cOverride
	}
	cxxExe := cxxDefault
	if cxxOverride != nil {
		cxxExe = *cxxOverride
	}
	return cExe, cxxExe, nil
}

// requireTemplate returns override if set, else the msvc/gnu-like
// default, else an error naming field: these templates have no sensible
// meaning without knowing the compiler family.
func requireTemplate(override *flagList, id CompilerID, gnuLike bool, msvcDefault, gnuDefault []string, field string) ([]string, error) {
	if override != nil {
		return []string(*override), nil
	}
	if id == MSVC {
		return msvcDefault, nil
	}
	if gnuLike {
		return gnuDefault, nil
	}
	return nil, needCompilerID(field)
}

func needCompilerID(field string) error {
	return &ConfigError{Message: fmt.Sprintf("%s has no default without compiler_id; set it explicitly", field)}
}

func stringOr(p *string, def string) string {
	if p != nil {
		return *p
	}
	return def
}

func langVersionFlag(tmpl string, version *string) []string {
	if version == nil || tmpl == "" {
		return nil
	}
	return []string{expandTemplate([]string{tmpl}, nil, map[string]string{"[version]": *version})[0]}
}

func runtimeFlags(id CompilerID, gnuLike bool, rt *jsonRuntime, debug *debugSetting) []string {
	static, dbg := false, false
	if rt != nil {
		if rt.Static != nil {
			static = *rt.Static
		}
		if rt.Debug != nil {
			dbg = *rt.Debug
		}
	}
	if id == MSVC {
		flag := "/M"
		if static {
			flag += "T"
		} else {
			flag += "D"
		}
		if dbg || debug.kind() != "" {
			flag += "d"
		}
		return []string{flag}
	}
	if !gnuLike {
		return nil
	}
	var out []string
	if static {
		out = append(out, "-static-libgcc", "-static-libstdc++")
	}
	if dbg {
		out = append(out, "-D_GLIBCXX_DEBUG", "-D_LIBCPP_DEBUG=1")
	}
	return out
}

func optimizeFlags(id CompilerID, gnuLike bool, optimize *bool) []string {
	if optimize == nil || !*optimize {
		return nil
	}
	if id == MSVC {
		return []string{"/O2"}
	}
	if gnuLike {
		return []string{"-O2"}
	}
	return nil
}

func debugFlags(id CompilerID, gnuLike bool, debug *debugSetting) []string {
	switch debug.kind() {
	case "embedded":
		if id == MSVC {
			return []string{"/Z7"}
		}
		if gnuLike {
			return []string{"-g"}
		}
	case "split":
		if id == MSVC {
			return []string{"/Zi", "/FS"}
		}
		if gnuLike {
			return []string{"-g", "-gsplit-dwarf"}
		}
	}
	return nil
}

// assembleFlags implements get_flags's ordering: runtime, optimize,
// debug, common flags, the version flag, per-language user flags, then
// base flags.
func assembleFlags(runtimeFlags, optimizeFlags, debugFlags, common, versionFlag, langFlags, baseCommon, baseLang []string) []string {
	var out []string
	out = append(out, runtimeFlags...)
	out = append(out, optimizeFlags...)
	out = append(out, debugFlags...)
	out = append(out, common...)
	out = append(out, versionFlag...)
	out = append(out, langFlags...)
	out = append(out, baseCommon...)
	out = append(out, baseLang...)
	return out
}
