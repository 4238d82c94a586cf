package index

import (
	"math"
	"sync/atomic"

	"github.com/bitdegrade/bdkv/lib/env"
	"github.com/bitdegrade/bdkv/lib/logf"
	"github.com/bitdegrade/bdkv/lib/seq"
)

// version is one entry of a leaf's version chain, newest first. A tombstone
// carries the offset of its deletion record.
type version struct {
	seq  uint64
	off  uint32
	del  bool
	next *version
}

// leaf owns its key bytes and the head of the version chain.
type leaf struct {
	key      []byte
	versions *version
}

// visibleAt returns the newest version with sequence <= s.
func (lf *leaf) visibleAt(s uint64) *version {
	for v := lf.versions; v != nil; v = v.next {
		if v.seq <= s {
			return v
		}
	}
	return nil
}

// Index is the MVCC view over the bit-degrade tree: it stamps mutations with
// sequence numbers, keeps per-key version chains, resolves point reads
// against the data file, and defers structural tree changes while iterators
// are live.
//
// Thread-safety: not internally synchronized except for the iterator
// counter; the façade serializes access.
type Index struct {
	tree     *tree
	seqGen   *seq.Generator
	dataFile *env.RandomAccessFile

	operatingIters atomic.Int32

	// structural mutations deferred while iterators are live
	pendingInserts map[string]*leaf
	pendingOrder   []*leaf
	pendingRemoves map[string]struct{}
}

// New creates an Index reading values through dataFile and stamping writes
// from seqGen.
func New(seqGen *seq.Generator, dataFile *env.RandomAccessFile) *Index {
	return &Index{
		tree:           newTree(),
		seqGen:         seqGen,
		dataFile:       dataFile,
		pendingInserts: make(map[string]*leaf),
		pendingRemoves: make(map[string]struct{}),
	}
}

// --------------------------------------------------------------------------
// Mutations (façade writer lock held)
// --------------------------------------------------------------------------

// Insert records key -> off as a new version and returns its sequence.
func (idx *Index) Insert(key []byte, off uint32) uint64 {
	s := idx.seqGen.NextSequence()
	idx.addVersion(key, &version{seq: s, off: off})
	return s
}

// InsertTombstone records an explicit deletion version for key, pointing at
// the delete record's offset. Used when a later rebuild must replay the
// delete.
func (idx *Index) InsertTombstone(key []byte, off uint32) uint64 {
	s := idx.seqGen.NextSequence()
	idx.addVersion(key, &version{seq: s, off: off, del: true})
	return s
}

// Remove appends a tombstone for key and reclaims the leaf once nothing can
// see it anymore.
func (idx *Index) Remove(key []byte, off uint32) uint64 {
	s := idx.seqGen.NextSequence()

	if lf, ok := idx.pendingInserts[string(key)]; ok {
		lf.versions = &version{seq: s, off: off, del: true, next: lf.versions}
		idx.pruneChain(lf)
		return s
	}

	lf := idx.tree.find(key)
	if lf == nil {
		// nothing indexed for this key; the log record alone is enough
		return s
	}
	lf.versions = &version{seq: s, off: off, del: true, next: lf.versions}
	idx.pruneChain(lf)

	if idx.canReclaim(lf) {
		if idx.operatingIters.Load() > 0 {
			idx.pendingRemoves[string(key)] = struct{}{}
		} else {
			idx.tree.remove(key)
		}
	}
	return s
}

// addVersion prepends v to key's chain, creating the leaf if needed.
// Creating a leaf is structural and deferred while iterators are live.
func (idx *Index) addVersion(key []byte, v *version) {
	if lf, ok := idx.pendingInserts[string(key)]; ok {
		v.next = lf.versions
		lf.versions = v
		return
	}

	if lf := idx.tree.find(key); lf != nil {
		v.next = lf.versions
		lf.versions = v
		idx.pruneChain(lf)
		return
	}

	owned := make([]byte, len(key))
	copy(owned, key)
	lf := &leaf{key: owned, versions: v}

	if idx.operatingIters.Load() > 0 {
		idx.pendingInserts[string(key)] = lf
		idx.pendingOrder = append(idx.pendingOrder, lf)
		return
	}
	idx.tree.insert(lf)
}

// gcFloor is the sequence below which no snapshot can read.
func (idx *Index) gcFloor() uint64 {
	if oldest, ok := idx.seqGen.OldestSnapshot(); ok {
		return oldest
	}
	return math.MaxUint64
}

// pruneChain drops versions dominated by a tombstone no live snapshot can
// see past. Skipped entirely while iterators are live: they may read at
// unpinned sequences.
func (idx *Index) pruneChain(lf *leaf) {
	if idx.operatingIters.Load() > 0 {
		return
	}
	floor := idx.gcFloor()
	for v := lf.versions; v != nil; v = v.next {
		if v.del && v.seq <= floor {
			v.next = nil
			return
		}
	}
}

// canReclaim reports whether the whole chain is invisible: its newest
// version is a tombstone no live snapshot predates.
func (idx *Index) canReclaim(lf *leaf) bool {
	head := lf.versions
	return head != nil && head.del && head.seq <= idx.gcFloor()
}

// --------------------------------------------------------------------------
// Point Reads (façade reader lock held)
// --------------------------------------------------------------------------

// Find resolves key at read sequence s (0 means latest). Not-found is not an
// error; errors surface problems reading the data file.
func (idx *Index) Find(key []byte, s uint64) ([]byte, bool, error) {
	if s == 0 {
		s = idx.seqGen.CurrentSequence()
	}

	lf := idx.tree.find(key)
	if lf == nil {
		lf = idx.pendingInserts[string(key)]
	}
	if lf == nil {
		return nil, false, nil
	}

	v := lf.visibleAt(s)
	if v == nil || v.del {
		return nil, false, nil
	}
	return idx.readValue(lf.key, v.off)
}

// readValue fetches the value stored for key in the record at off. For
// compressed batches the record holds several pairs; the key selects its
// own.
func (idx *Index) readValue(key []byte, off uint32) ([]byte, bool, error) {
	entries, err := logf.ReadRecord(idx.dataFile, off)
	if err != nil {
		return nil, false, err
	}
	for _, e := range entries {
		if keyEqual(e.Key, key) {
			return e.Value, true, nil
		}
	}
	return nil, false, logf.ErrCorruptRecord
}

// --------------------------------------------------------------------------
// Pending Apply
// --------------------------------------------------------------------------

// RetainIter registers a live iterator; structural mutations defer until the
// count returns to zero.
func (idx *Index) RetainIter() {
	idx.operatingIters.Add(1)
}

// ReleaseIter unregisters an iterator and reports whether it was the last.
func (idx *Index) ReleaseIter() bool {
	return idx.operatingIters.Add(-1) == 0
}

// OperatingIters returns the live iterator count.
func (idx *Index) OperatingIters() int {
	return int(idx.operatingIters.Load())
}

// PendingLen returns the number of deferred structural mutations.
func (idx *Index) PendingLen() int {
	return len(idx.pendingOrder) + len(idx.pendingRemoves)
}

// TryApplyPending drains the deferred mutations. Call with the writer lock
// held and no iterators live; it is a no-op otherwise.
func (idx *Index) TryApplyPending() {
	if idx.operatingIters.Load() > 0 {
		return
	}

	for _, lf := range idx.pendingOrder {
		idx.pruneChain(lf)
		if lf.versions == nil || idx.canReclaim(lf) {
			continue
		}
		if existing := idx.tree.insert(lf); existing != nil {
			mergeChains(existing, lf)
		}
	}
	idx.pendingInserts = make(map[string]*leaf)
	idx.pendingOrder = nil

	for key := range idx.pendingRemoves {
		if lf := idx.tree.find([]byte(key)); lf != nil && idx.canReclaim(lf) {
			idx.tree.remove([]byte(key))
		}
	}
	idx.pendingRemoves = make(map[string]struct{})
}

// mergeChains splices src's versions into dst keeping descending sequence
// order.
func mergeChains(dst, src *leaf) {
	var head *version
	tail := &head
	a, b := dst.versions, src.versions
	for a != nil || b != nil {
		if b == nil || (a != nil && a.seq > b.seq) {
			*tail = a
			a = a.next
		} else {
			*tail = b
			b = b.next
		}
		tail = &(*tail).next
	}
	*tail = nil
	dst.versions = head
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

// KeyCount returns the number of leaves currently materialized in the tree
// plus pending inserts.
func (idx *Index) KeyCount() int {
	return countLeaves(idx.tree.root) + len(idx.pendingOrder)
}

// WalkLatest visits every key with the offset and deletion flag of its
// newest version: the materialized tree in trie order, then any pending
// inserts. Used to persist the index on close.
func (idx *Index) WalkLatest(fn func(key []byte, off uint32, del bool) error) error {
	var walk func(node *bdNode) error
	walk = func(node *bdNode) error {
		for _, ptr := range node.ptrs {
			switch {
			case ptr.isNull():
				return nil
			case ptr.isLeaf():
				if v := ptr.leaf.versions; v != nil {
					if err := fn(ptr.leaf.key, v.off, v.del); err != nil {
						return err
					}
				}
			default:
				if err := walk(ptr.child); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(idx.tree.root); err != nil {
		return err
	}
	for _, lf := range idx.pendingOrder {
		if v := lf.versions; v != nil {
			if err := fn(lf.key, v.off, v.del); err != nil {
				return err
			}
		}
	}
	return nil
}
