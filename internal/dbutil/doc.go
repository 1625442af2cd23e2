// Package dbutil opens bpt's SQLite-backed databases (repo.db,
// bpt-metadata.db, .bpt.db) with a consistent pragma set and applies
// ordered, transactional schema migrations tracked in a schema_version
// table. All three databases in spec.md use this package; there is no
// per-database variation beyond the migration list each one supplies.
package dbutil
