// Package env wraps the small set of operating system primitives the storage
// engine relies on: an append-only file handle, a positional-read file handle,
// an advisory file lock and a handful of directory helpers.
//
// Everything above this package treats these types as the complete contract
// with the file system. Keeping the surface this narrow makes the engine
// trivially testable against temp directories and keeps platform-specific
// code (flock) in one place.
package env
