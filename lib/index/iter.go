package index

import (
	"sort"

	"github.com/bitdegrade/bdkv/lib/logf"
)

// frame is one pending traversal step: the slot range [lo, hi] of a node.
// Ranges narrow along routing entries, so slot order equals trie order.
type frame struct {
	node   *bdNode
	lo, hi int
}

// Iterator walks all visible keys in trie order. It merges the materialized
// tree with the pending inserts visible at its read sequence, so MVCC
// results do not depend on whether a write was deferred.
//
// Thread-safety: calls must run under the façade's reader lock; the lock may
// be dropped between calls.
type Iterator struct {
	idx     *Index
	seqView uint64

	stack    []frame
	nextTree *leaf

	pending []*leaf
	ppos    int

	key    []byte
	value  []byte
	valid  bool
	err    error
	closed bool
}

// NewIterator creates an iterator reading at sequence s (0 means latest),
// positioned at the first visible key. The iterator counts as live until
// Close.
func (idx *Index) NewIterator(s uint64) *Iterator {
	if s == 0 {
		s = idx.seqGen.CurrentSequence()
	}
	idx.RetainIter()
	it := &Iterator{idx: idx, seqView: s, pending: idx.visiblePending(s)}
	it.SeekToFirst()
	return it
}

// visiblePending snapshots the pending inserts that hold any version at or
// below s, in trie order.
func (idx *Index) visiblePending(s uint64) []*leaf {
	var out []*leaf
	for _, lf := range idx.pendingOrder {
		if lf.visibleAt(s) != nil {
			out = append(out, lf)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return critLess(out[i].key, out[j].key)
	})
	return out
}

// Valid reports whether the iterator is positioned on an entry.
func (it *Iterator) Valid() bool { return it.valid }

// Key returns the current key. Only valid while Valid().
func (it *Iterator) Key() []byte { return it.key }

// Value returns the current value. Only valid while Valid().
func (it *Iterator) Value() []byte { return it.value }

// Err returns the error that invalidated the iterator, if any.
func (it *Iterator) Err() error { return it.err }

// Next advances to the next visible entry.
func (it *Iterator) Next() { it.step() }

// SeekToFirst repositions at the first visible entry.
func (it *Iterator) SeekToFirst() {
	it.stack = it.stack[:0]
	it.nextTree = nil
	it.ppos = 0
	if size := it.idx.tree.root.size(); size > 0 {
		it.stack = append(it.stack, frame{node: it.idx.tree.root, lo: 0, hi: size - 1})
	}
	it.step()
}

// Seek repositions at the first visible entry at or after key in trie
// order.
func (it *Iterator) Seek(key []byte) {
	it.stack = it.stack[:0]
	it.nextTree = nil

	node := it.idx.tree.root
	critAt, critMask, bounded := uint32(0), uint8(0), false
descent:
	for {
		size := node.size()
		if size == 0 {
			break
		}
		lo, hi := 0, size-1
		for lo < hi {
			m := node.minDiffIndex(lo, hi)
			if bounded && lessThanEntry(node, critAt, critMask, m) {
				// the whole range sits on the best match's side of key
				if direction(critMask, keyByte(key, critAt)) == 0 {
					it.stack = append(it.stack, frame{node: node, lo: lo, hi: hi})
				}
				break descent
			}
			if direction(node.masks[m], keyByte(key, node.diffs[m])) == 0 {
				// everything right of m comes after key
				it.stack = append(it.stack, frame{node: node, lo: m + 1, hi: hi})
				hi = m
			} else {
				lo = m + 1
			}
		}
		ptr := node.ptrs[lo]
		switch {
		case ptr.isNode():
			node = ptr.child
		case ptr.isLeaf():
			if !bounded && !keyEqual(ptr.leaf.key, key) {
				// redo the descent, routing only on bits before the crit bit
				critAt, critMask = keyDiff(ptr.leaf.key, key)
				bounded, node = true, it.idx.tree.root
				it.stack = it.stack[:0]
				continue
			}
			if !critLess(ptr.leaf.key, key) {
				it.nextTree = ptr.leaf
			}
			break descent
		default:
			break descent
		}
	}

	it.ppos = sort.Search(len(it.pending), func(i int) bool {
		return !critLess(it.pending[i].key, key)
	})
	it.step()
}

// Close releases the iterator. It reports whether this was the last live
// iterator, in which case the façade drains the pending list.
func (it *Iterator) Close() bool {
	if it.closed {
		return false
	}
	it.closed = true
	it.valid = false
	return it.idx.ReleaseIter()
}

// advanceTree yields the next leaf of the materialized tree, expanding
// frames lazily.
func (it *Iterator) advanceTree() *leaf {
	for len(it.stack) > 0 {
		f := it.stack[len(it.stack)-1]
		it.stack = it.stack[:len(it.stack)-1]

		if f.lo == f.hi {
			ptr := f.node.ptrs[f.lo]
			if ptr.isLeaf() {
				return ptr.leaf
			}
			if ptr.isNode() {
				if size := ptr.child.size(); size > 0 {
					it.stack = append(it.stack, frame{node: ptr.child, lo: 0, hi: size - 1})
				}
			}
			continue
		}

		m := f.node.minDiffIndex(f.lo, f.hi)
		it.stack = append(it.stack, frame{node: f.node, lo: m + 1, hi: f.hi})
		it.stack = append(it.stack, frame{node: f.node, lo: f.lo, hi: m})
	}
	return nil
}

// step merges tree and pending leaves in trie order and materializes the
// next visible entry.
func (it *Iterator) step() {
	if it.closed {
		it.valid = false
		return
	}
	for {
		if it.nextTree == nil {
			it.nextTree = it.advanceTree()
		}

		var lf *leaf
		switch {
		case it.nextTree == nil && it.ppos >= len(it.pending):
			it.valid = false
			return
		case it.nextTree == nil:
			lf = it.pending[it.ppos]
			it.ppos++
		case it.ppos >= len(it.pending):
			lf = it.nextTree
			it.nextTree = nil
		case critLess(it.pending[it.ppos].key, it.nextTree.key):
			lf = it.pending[it.ppos]
			it.ppos++
		default:
			lf = it.nextTree
			it.nextTree = nil
		}

		v := lf.visibleAt(it.seqView)
		if v == nil || v.del {
			continue
		}
		value, ok, err := it.idx.readValue(lf.key, v.off)
		if err != nil {
			it.err = err
			it.valid = false
			return
		}
		if !ok {
			it.err = logf.ErrCorruptRecord
			it.valid = false
			return
		}
		it.key = append(it.key[:0], lf.key...)
		it.value = value
		it.valid = true
		return
	}
}
