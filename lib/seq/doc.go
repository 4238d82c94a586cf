// Package seq provides the per-database sequence generator and snapshot
// lifecycle.
//
// Every write is stamped with a strictly monotonic sequence number. A
// snapshot pins the sequence current at its creation; the set of live
// snapshots forms an ordered multiset whose minimum is the floor below which
// version chains may be compacted.
package seq
