// Package cmd implements the command-line interface of the bdKV embedded
// key-value store. All commands operate directly on a local database
// directory.
//
// The package is organized into subpackages:
//
//   - kv: Commands for store operations (put, get, del, scan, grep, ...)
//   - util: Shared utilities for flag handling and configuration (internal use)
//
// See bdkv -help for a list of all commands.
package cmd
