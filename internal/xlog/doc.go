// Package xlog provides context-carried structured logging shared across
// bpt's internal packages: a slog.Handler wrapper that pulls accumulated
// attributes and a per-record minimum level out of the context, so a
// call deep inside the solver or the scheduler can log through whatever
// handler cmd/bpt installed without threading a *slog.Logger argument
// through every function signature.
package xlog
