package main

import "os"

// errorMarkerEnv names the environment variable the test suite sets to
// a file path; when set, writeErrorMarker appends the stable marker
// string for whatever error path fired (spec.md §4.J, §8) so a test can
// assert on the marker without scraping stderr. Unset, writeErrorMarker
// is a no-op: production runs never pay for it.
const errorMarkerEnv = "BPT_ERROR_MARKER_FILE"

// writeErrorMarker appends marker followed by a newline to the file
// named by BPT_ERROR_MARKER_FILE, if set. Failures to write are
// swallowed: the marker file is a testing side channel, never load
// bearing for the command's own exit code.
func writeErrorMarker(marker string) {
	if marker == "" {
		return
	}
	path := os.Getenv(errorMarkerEnv)
	if path == "" {
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	f.WriteString(marker)
	f.WriteString("\n")
}
