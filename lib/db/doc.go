// Package db is the public surface of a single database instance: an
// embedded, log-structured key-value store indexed by a bit-degrade tree
// with multi-version concurrency control.
//
// A database lives in one directory holding four files: an advisory lock, a
// block-structured append-only data file, a persisted index sidecar and a
// small keeper sidecar (write counter, free offset, key range). Open wires
// the log writer, log reader, index and keeper together and guards every
// public operation with one reader/writer lock: writes hold it exclusively
// for log append + index insert (+ optional fsync), point reads share it,
// and iterators share it per step.
//
// Reads are versioned: every write is stamped with a monotonic sequence
// number, a Snapshot pins one, and Get with ReadOptions.SequenceNumber
// observes exactly the writes at or below it. Deletion is a tombstone
// version; point reads report not-found rather than an error.
//
// Recovery is replay based: a torn log tail beyond the last sync is dropped,
// and a missing index or keeper sidecar triggers a full data-file scan that
// rebuilds both.
package db
