// Package index implements the in-memory key index of a database instance:
// a bit-degrade tree (a crit-bit trie with fixed fanout-32 nodes) carrying
// multi-version leaves, plus the plain and regex iterators over it.
//
// Instead of comparing keys, every branch routes on a single key bit
// identified by a (byte offset, mask) pair; a node packs up to 31 such
// routing entries, trading trie depth for cache-friendly nodes. Keys shorter
// than a routing offset read the byte as zero, so two keys that differ only
// in trailing NUL bytes are the same key.
//
// Each leaf holds a chain of (sequence, offset) versions, newest first, with
// tombstones marking deletions. Point reads resolve the newest version at or
// below the read sequence and fetch the value from the data file through the
// log reader.
//
// While iterators are live, structural tree mutations (new leaves, node
// splits and merges, leaf reclamation) are deferred onto a pending list so
// iterator descent state stays valid; appending a version to an existing
// chain is always immediate. The pending list is drained when the last
// iterator closes.
//
// The package is not internally synchronized: the single-DB façade holds its
// writer lock around every mutation and its reader lock around reads and
// iterator steps.
package index
