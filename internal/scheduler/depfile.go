package scheduler

import (
	"os"
	"strings"
)

// parseGNUDepFile reads a Makefile-style dep file (as emitted by -MMD -MF)
// and returns the prerequisite paths, skipping the leading "target:".
func parseGNUDepFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := strings.ReplaceAll(string(data), "\\\n", " ")
	idx := strings.IndexByte(text, ':')
	if idx < 0 {
		return nil, nil
	}
	fields := strings.Fields(text[idx+1:])
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, strings.ReplaceAll(f, "\\ ", " "))
	}
	return out, nil
}

// parseMSVCIncludes scans /showIncludes output for "Note: including
// file:" lines and returns the included paths.
func parseMSVCIncludes(stdout string) []string {
	const marker = "Note: including file:"
	var out []string
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimRight(line, "\r")
		i := strings.Index(line, marker)
		if i < 0 {
			continue
		}
		out = append(out, strings.TrimSpace(line[i+len(marker):]))
	}
	return out
}
