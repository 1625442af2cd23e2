// Package toolchain loads a toolchain.json document (spec.md §3.4) into a
// fully-resolved Toolchain: compiler paths, flag assembly, and the
// command templates used to lower a compile, archive, or link step into
// an argument vector. Per-compiler-id defaults (gnu, clang, and msvc;
// gnu and clang share every default except the compiler executable
// names) fill in anything the document
// leaves unset, so callers never need to special-case a missing field.
package toolchain
