package plan

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bpt-pm/bpt/internal/toolchain"
)

var cSourceExts = map[string]bool{".c": true}
var cxxSourceExts = map[string]bool{".cc": true, ".cpp": true, ".cxx": true, ".c++": true}

type sourceRole int

const (
	roleLib sourceRole = iota
	roleTest
	roleApp
)

type classifiedSource struct {
	relPath string
	lang    toolchain.Language
	role    sourceRole
}

// scanLibrarySources walks dir/libPath/src for source files, classifying
// each by extension (language) and by filename stem (*.test.* routes to
// a test link target, *.main.* to an app link target, everything else
// is a library source). Results are sorted lexicographically by
// relative path for deterministic node ordering (§4.F).
func scanLibrarySources(dir, libPath string) ([]classifiedSource, error) {
	srcDir := filepath.Join(dir, libPath, "src")
	var out []classifiedSource
	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == srcDir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		var lang toolchain.Language
		switch {
		case cSourceExts[ext]:
			lang = toolchain.LangC
		case cxxSourceExts[ext]:
			lang = toolchain.LangCxx
		default:
			return nil // headers and anything else aren't compiled directly
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		out = append(out, classifiedSource{
			relPath: filepath.ToSlash(rel),
			lang:    lang,
			role:    classifyRole(path),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].relPath < out[j].relPath })
	return out, nil
}

func classifyRole(path string) sourceRole {
	stem := filepath.Base(path)
	stem = strings.TrimSuffix(stem, filepath.Ext(stem))
	switch {
	case strings.HasSuffix(stem, ".test"):
		return roleTest
	case strings.HasSuffix(stem, ".main"):
		return roleApp
	default:
		return roleLib
	}
}
