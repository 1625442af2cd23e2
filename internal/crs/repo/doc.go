// Package repo implements the Component Resolution Store repository:
// the authoring side of a CRS, backed by a local directory tree plus a
// repo.db SQLite index (spec.md §3.3, §4.B). Producers create a
// repository, import source distributions into it, and publish the
// directory (its repo.db.gz is the distribution artifact consumers
// fetch); see internal/crs/cache for the consumer side.
package repo
