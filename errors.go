package bpt

import (
	"errors"
	"strings"
)

// Error is the bpt error domain type.
//
// Components should create an Error at the system boundary — parsing a
// file, making an HTTP request, opening a database — and intermediate
// layers should prefer fmt.Errorf with "%w" to add context rather than
// wrapping in another Error, except to narrow or re-tag the Kind.
type Error struct {
	Inner   error
	Kind    ErrorKind
	Message string
	// Op names the operation that failed, e.g. "crs.cache.sync".
	Op string
	// Marker is the stable error-marker string for this failure, if one
	// applies (spec.md §4.J). Not every Error carries one: only the
	// paths the outer driver handlers need to distinguish do.
	Marker string
}

var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	b.WriteString("[")
	switch e.Kind {
	case ErrInvalid, ErrNotFound, ErrConflict, ErrIntegrity, ErrTransient, ErrInternal, ErrCancelled, ErrBuildFailed:
		b.WriteString(string(e.Kind))
	default:
		b.WriteString("???")
	}
	b.WriteString("]: ")
	if e.Message != "" {
		b.WriteString(e.Message)
	}
	if e.Message != "" && e.Inner != nil {
		b.WriteString(": ")
	}
	if e.Op == "" && e.Message == "" {
		b.Reset()
	}
	if e.Inner != nil {
		b.WriteString(e.Inner.Error())
	}
	return b.String()
}

// Is enables errors.Is comparisons against declared ErrorKind values.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// Unwrap enables errors.Unwrap / errors.As to reach e.Inner.
func (e *Error) Unwrap() error { return e.Inner }

// ErrorKind classifies an Error for outer-handler dispatch.
type ErrorKind string

// Error implements error so ErrorKind values can be the target of
// errors.Is comparisons directly.
func (k ErrorKind) Error() string { return string(k) }

// Defined error kinds (spec.md §7).
var (
	ErrInvalid   = ErrorKind("invalid")   // malformed user input
	ErrNotFound  = ErrorKind("not-found") // missing package/library/file
	ErrConflict  = ErrorKind("conflict")  // e.g. import of an already-present package
	ErrIntegrity = ErrorKind("integrity") // repository/cache schema or checksum violation
	ErrTransient = ErrorKind("transient") // network/remote error, may succeed on retry
	ErrInternal  = ErrorKind("internal")  // invariant violation: a bug
	ErrCancelled = ErrorKind("cancelled") // user cancellation

	// ErrBuildFailed marks a compile, archive, link, or test subprocess
	// that ran and reported failure (spec.md §4.G): the input was fine,
	// the toolchain invocation wasn't.
	ErrBuildFailed = ErrorKind("build-failed")
)

// Breadcrumb is a typed tag attached to an Error as it propagates, used
// by outer handlers to pattern-match a rendering and an error marker
// without inspecting message text (spec.md §4.J).
type Breadcrumb string

// Breadcrumbs referenced by the driver's error handlers.
const (
	BreadcrumbRepoOpenPath       Breadcrumb = "e_repo_open_path"
	BreadcrumbSyncRemote         Breadcrumb = "e_sync_remote"
	BreadcrumbParseManifestPath  Breadcrumb = "e_parse_project_manifest_path"
	BreadcrumbParseToolchainPath Breadcrumb = "e_parse_toolchain_path"
	BreadcrumbSolve              Breadcrumb = "e_solve"
	BreadcrumbSchedule           Breadcrumb = "e_schedule"
)

// WithBreadcrumb wraps err with a Breadcrumb-tagged frame, preserving
// the wrapped error for errors.As/errors.Is while recording which layer
// touched it.
func WithBreadcrumb(err error, b Breadcrumb) error {
	if err == nil {
		return nil
	}
	return &breadcrumbFrame{inner: err, crumb: b}
}

type breadcrumbFrame struct {
	inner error
	crumb Breadcrumb
}

func (f *breadcrumbFrame) Error() string { return string(f.crumb) + ": " + f.inner.Error() }
func (f *breadcrumbFrame) Unwrap() error { return f.inner }

// Breadcrumbs walks err's chain and returns every Breadcrumb attached to
// it, outermost first.
func Breadcrumbs(err error) []Breadcrumb {
	var out []Breadcrumb
	for err != nil {
		if f, ok := err.(*breadcrumbFrame); ok {
			out = append(out, f.crumb)
			err = f.inner
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return out
}

// HasBreadcrumb reports whether b appears anywhere in err's chain.
func HasBreadcrumb(err error, b Breadcrumb) bool {
	for _, c := range Breadcrumbs(err) {
		if c == b {
			return true
		}
	}
	return false
}
