// Package cache implements the consumer side of the Component
// Resolution Store: a per-user directory holding bpt-metadata.db (the
// remotes/packages index) and a pkgs/ tree of prefetched source
// directories (spec.md §3.4, §4.C). internal/solver queries it for
// candidates; cmd/bpt drives Sync, EnableRemote, and Prefetch.
package cache
