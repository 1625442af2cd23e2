// Package scheduler executes a plan.Graph: a bounded pool of workers runs
// compile, archive, link, and test nodes as their dependencies complete
// (spec.md §3.6, §4.G), skipping a compile node whose inputs and command
// already match its internal/builddb row, and surfacing failures grouped
// by stage once every independent branch has finished.
package scheduler
