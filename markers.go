package bpt

import "errors"

// Marker is a short, stable identifier written to a known side-channel
// file when a known error path fires. The test suite uses it as the
// oracle of which error code path executed (spec.md §4.J, §8).
type Marker string

// Markers referenced by name in spec.md §8's end-to-end scenarios.
const (
	MarkerNoDependencySolution     Marker = "no-dependency-solution"
	MarkerUsageNoSuchLib           Marker = "usage-no-such-lib"
	MarkerRepoSyncHTTP404          Marker = "repo-sync-http-404"
	MarkerRepoSyncHTTPError        Marker = "repo-sync-http-error"
	MarkerRepoSyncDecompressError  Marker = "repo-sync-decompress-error"
	MarkerRepoSyncDBError          Marker = "repo-sync-db-error"
	MarkerRepoAlreadyInit          Marker = "repo-already-init"
	MarkerDbMigrationTooNew        Marker = "db-migration-too-new"
	MarkerRepoImportAlreadyPresent Marker = "repo-import-pkg-already-exists"
	MarkerCompileFailed            Marker = "compile-failed"
	MarkerArchiveFailed            Marker = "archive-failed"
	MarkerLinkFailed               Marker = "link-failed"
	MarkerBuildFailedTestFailed    Marker = "build-failed-test-failed"
	MarkerUserCancelled            Marker = "user-cancelled"
	MarkerInvariantViolation       Marker = "invariant-violation"
	MarkerNoSuchPkg                Marker = "no-such-pkg"
	MarkerNoSuchRemoteURL          Marker = "no-such-remote-url"
	MarkerInvalidName              Marker = "invalid-name"
	MarkerInvalidSPDXExpression    Marker = "invalid-spdx-expression"
	MarkerInvalidMetadata          Marker = "invalid-metadata"
	MarkerLoadingToolchain         Marker = "loading-toolchain"
	MarkerInvalidDepShorthand      Marker = "invalid-dep-shorthand"
	MarkerNoSuchCompileFile        Marker = "nonesuch-compile-file"
)

// ExitCode maps the error kind a Marker's underlying Error carries to
// the process exit code scheme in spec.md §6.1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if !errors.As(err, &e) {
		return 1
	}
	switch e.Kind {
	case ErrCancelled:
		return 2
	case ErrInternal:
		return 42
	default:
		return 1
	}
}
