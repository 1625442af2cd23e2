// Package bpt implements the core domain types of the bpt package manager
// and build driver: package identity and metadata, the dependency solver,
// the toolchain model, and the build plan and scheduler that execute it.
//
// The CLI driver, argument parsing, and filesystem path resolution are
// deliberately kept outside this package; see cmd/bpt for the thin glue
// that wires them to the types here.
package bpt
