// Package solver resolves a set of root dependencies into a concrete,
// deterministic set of package versions plus the libraries within each
// that must actually be built (spec.md §4.D). It queries candidates
// through the small CandidateSource interface rather than depending on
// internal/crs/cache directly, so it can be driven in tests by a fake
// or a go.uber.org/mock stand-in.
package solver
