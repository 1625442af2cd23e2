// Package builddb is the output tree's local SQLite database
// (.bpt.db, spec.md §3.6, §4.H): one row per compile node recording the
// command-line hash, the hash of everything it read, and the cache-buster
// derived from the tweaks directory's file layout, so the scheduler can
// skip a compile whose inputs haven't changed since the last build.
package builddb
