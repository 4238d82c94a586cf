package index

import (
	"sort"

	"github.com/bitdegrade/bdkv/lib/logf"
	"github.com/bitdegrade/bdkv/lib/regex"
)

// regexFrame carries, alongside the slot range, the USR implied by the
// routing decisions taken to reach it: every revealed bit is known, all
// other positions are unknown.
type regexFrame struct {
	node   *bdNode
	lo, hi int
	usr    *regex.USR
}

// RegexIterator walks the visible keys matching a compiled expression, in
// trie order (or reversed). At every branch it reveals the routing bit into
// the frame's USR and prunes the side the judge refutes; a leaf is emitted
// only when its fully known key matches.
//
// Thread-safety: calls must run under the façade's reader lock.
type RegexIterator struct {
	idx      *Index
	judge    regex.UsrJudge
	seqView  uint64
	reversed bool

	stack    []regexFrame
	nextTree *leaf

	pending []*leaf
	ppos    int

	key    []byte
	value  []byte
	valid  bool
	err    error
	closed bool
}

// NewRegexIterator creates a forward regex iterator reading at sequence s
// (0 means latest), positioned at the first match.
func (idx *Index) NewRegexIterator(judge regex.UsrJudge, s uint64) *RegexIterator {
	return idx.newRegexIterator(judge, s, false)
}

// NewRegexReversedIterator is NewRegexIterator visiting slots in reverse
// order.
func (idx *Index) NewRegexReversedIterator(judge regex.UsrJudge, s uint64) *RegexIterator {
	return idx.newRegexIterator(judge, s, true)
}

func (idx *Index) newRegexIterator(judge regex.UsrJudge, s uint64, reversed bool) *RegexIterator {
	if s == 0 {
		s = idx.seqGen.CurrentSequence()
	}
	idx.RetainIter()

	it := &RegexIterator{idx: idx, judge: judge, seqView: s, reversed: reversed}
	for _, lf := range idx.visiblePending(s) {
		if judge.Match(regex.ExactUSR(lf.key)) {
			it.pending = append(it.pending, lf)
		}
	}
	if reversed {
		sort.Slice(it.pending, func(i, j int) bool {
			return critLess(it.pending[j].key, it.pending[i].key)
		})
	}

	if size := idx.tree.root.size(); size > 0 {
		it.stack = append(it.stack, regexFrame{
			node: idx.tree.root, lo: 0, hi: size - 1, usr: regex.NewUSR(),
		})
	}
	it.step()
	return it
}

// Valid reports whether the iterator is positioned on an entry.
func (it *RegexIterator) Valid() bool { return it.valid }

// Key returns the current key. Only valid while Valid().
func (it *RegexIterator) Key() []byte { return it.key }

// Value returns the current value. Only valid while Valid().
func (it *RegexIterator) Value() []byte { return it.value }

// Err returns the error that invalidated the iterator, if any.
func (it *RegexIterator) Err() error { return it.err }

// Next advances to the next match.
func (it *RegexIterator) Next() { it.step() }

// Close releases the iterator; reports whether it was the last live one.
func (it *RegexIterator) Close() bool {
	if it.closed {
		return false
	}
	it.closed = true
	it.valid = false
	return it.idx.ReleaseIter()
}

// before orders keys in the iterator's direction.
func (it *RegexIterator) before(a, b []byte) bool {
	if it.reversed {
		return critLess(b, a)
	}
	return critLess(a, b)
}

// advanceTree yields the next matching leaf, pruning subtrees the judge
// rules out.
func (it *RegexIterator) advanceTree() *leaf {
	for len(it.stack) > 0 {
		f := it.stack[len(it.stack)-1]
		it.stack = it.stack[:len(it.stack)-1]

		if f.lo == f.hi {
			ptr := f.node.ptrs[f.lo]
			if ptr.isLeaf() {
				if it.judge.Match(regex.ExactUSR(ptr.leaf.key)) {
					return ptr.leaf
				}
				continue
			}
			if ptr.isNode() {
				if size := ptr.child.size(); size > 0 {
					it.stack = append(it.stack, regexFrame{
						node: ptr.child, lo: 0, hi: size - 1, usr: f.usr,
					})
				}
			}
			continue
		}

		m := f.node.minDiffIndex(f.lo, f.hi)
		left := f.usr.Clone()
		left.Reveal(f.node.diffs[m], f.node.masks[m], false)
		right := f.usr.Clone()
		right.Reveal(f.node.diffs[m], f.node.masks[m], true)

		// push the later side first; the stack is LIFO
		if !it.reversed {
			if it.judge.Possible(right) {
				it.stack = append(it.stack, regexFrame{node: f.node, lo: m + 1, hi: f.hi, usr: right})
			}
			if it.judge.Possible(left) {
				it.stack = append(it.stack, regexFrame{node: f.node, lo: f.lo, hi: m, usr: left})
			}
		} else {
			if it.judge.Possible(left) {
				it.stack = append(it.stack, regexFrame{node: f.node, lo: f.lo, hi: m, usr: left})
			}
			if it.judge.Possible(right) {
				it.stack = append(it.stack, regexFrame{node: f.node, lo: m + 1, hi: f.hi, usr: right})
			}
		}
	}
	return nil
}

// step merges tree and pending matches in the iterator's direction.
func (it *RegexIterator) step() {
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
		case it.before(it.pending[it.ppos].key, it.nextTree.key):
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
