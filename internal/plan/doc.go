// Package plan builds the immutable compile/archive/link/test DAG
// (spec.md §3.5, §4.F) from a dependency solution plus the project's own
// manifest as the root package, and aggregates each library's
// usage requirements (§4.I): the include paths and linkable archive a
// dependent needs.
//
// The graph is an arena of nodes (a flat []Node) with edges stored as
// NodeIndex fields rather than pointers (§9's "arena + indices"
// re-architecture), so two graphs can be compared with go-cmp in tests
// without special Equal methods.
package plan
