package db

import (
	"github.com/bitdegrade/bdkv/lib/logf"
	"github.com/bitdegrade/bdkv/lib/regex"
	"github.com/bitdegrade/bdkv/lib/seq"
)

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options controls how a database is opened.
type Options struct {
	CreateIfMissing bool // create the directory and files when absent
	ErrorIfExists   bool // fail when the directory already exists
}

// WriteOptions controls a single write operation.
type WriteOptions struct {
	Sync           bool   // fsync the data file before returning
	Compress       bool   // batch writes: try one compressed record
	UncompressSize uint32 // required with Compress: raw size of the batch
}

// ReadOptions controls a point read.
type ReadOptions struct {
	SequenceNumber uint64 // read view; 0 means latest
}

// --------------------------------------------------------------------------
// Info
// --------------------------------------------------------------------------

// Info is a best-effort snapshot of database statistics. Value size figures
// are histogram estimates over writes since open, not a full scan.
type Info struct {
	Name            string                 `json:"name"`
	KeyCount        int                    `json:"key_count"`
	DataFileSize    uint64                 `json:"data_file_size"`
	IndexFileSize   uint64                 `json:"index_file_size"`
	WriteCounter    uint64                 `json:"write_counter"`
	SmallestKey     []byte                 `json:"smallest_key"`
	LargestKey      []byte                 `json:"largest_key"`
	ValueSizeMedian int                    `json:"value_size_median"`
	ValueSizeAvg    int                    `json:"value_size_avg"`
	ValueSizeP99    int                    `json:"value_size_p99"`
	SizeSamples     int64                  `json:"size_samples"`
}

// --------------------------------------------------------------------------
// Iterators
// --------------------------------------------------------------------------

// Iterator walks entries in trie order. Trie order equals byte order for
// equal-length keys.
type Iterator interface {
	Valid() bool
	Next()
	Key() []byte
	Value() []byte
	Err() error
	Close() error
}

// SeekIterator is an Iterator that can reposition.
type SeekIterator interface {
	Iterator
	SeekToFirst()
	Seek(key []byte)
}

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// DB is a single database instance. All methods are safe for concurrent use;
// writers serialize through the instance's writer lock.
type DB interface {
	// Put inserts or overwrites one key.
	Put(opts WriteOptions, key, value []byte) error

	// Remove deletes one key. Deleting an absent key is not an error.
	Remove(opts WriteOptions, key []byte) error

	// ExplicitRemove deletes like Remove but indexes the deletion record's
	// offset as a tombstone version, so an index rebuilt from this state
	// replays the delete.
	ExplicitRemove(opts WriteOptions, key []byte) error

	// Write applies a batch atomically. With opts.Compress set (and
	// UncompressSize provided) the batch is stored as one compressed record
	// sharing one offset when the encoding saves at least 1/8; otherwise
	// every pair gets its own record.
	Write(opts WriteOptions, kvs []logf.KV) error

	// Get resolves key at the read view. Not-found is reported via the
	// bool, not the error.
	Get(opts ReadOptions, key []byte) (value []byte, found bool, err error)

	// MakeSnapshot pins the current sequence, linearized against in-flight
	// writes.
	MakeSnapshot() *seq.Snapshot

	// MakeIterator walks all visible keys. A nil snapshot means latest.
	MakeIterator(snap *seq.Snapshot) SeekIterator

	// MakeRegexIterator walks visible keys matching r, pruning subtrees by
	// partial-key judgment.
	MakeRegexIterator(r *regex.R, snap *seq.Snapshot) Iterator

	// MakeRegexReversedIterator is MakeRegexIterator in reverse trie order.
	MakeRegexReversedIterator(r *regex.R, snap *seq.Snapshot) Iterator

	// SmallestKey and LargestKey return the keeper's key-range hints.
	SmallestKey() []byte
	LargestKey() []byte

	// IndexFileSize and DataFileSize report the sidecar and log sizes.
	IndexFileSize() uint64
	DataFileSize() uint64

	// GetInfo returns best-effort statistics.
	GetInfo() Info

	// Close persists the index and keeper sidecars and releases the file
	// lock. The instance is unusable afterwards.
	Close() error
}
