package index

import (
	"bytes"
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bitdegrade/bdkv/lib/env"
	"github.com/bitdegrade/bdkv/lib/logf"
	"github.com/bitdegrade/bdkv/lib/regex"
	"github.com/bitdegrade/bdkv/lib/seq"
)

// fixture wires an Index to a real data file so offsets resolve.
type fixture struct {
	t      *testing.T
	seqGen *seq.Generator
	writer *logf.Writer
	idx    *Index
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "idx.data")
	af, err := env.OpenAppendableFile(path)
	require.NoError(t, err)
	rf, err := env.OpenRandomAccessFile(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = af.Close()
		_ = rf.Close()
	})
	g := seq.NewGenerator(0)
	return &fixture{
		t:      t,
		seqGen: g,
		writer: logf.NewWriter(af),
		idx:    New(g, rf),
	}
}

func (f *fixture) put(key, value string) {
	f.t.Helper()
	off, err := f.writer.AddRecord(logf.MakeRecord([]byte(key), []byte(value)))
	require.NoError(f.t, err)
	f.idx.Insert([]byte(key), off)
}

func (f *fixture) del(key string) {
	f.t.Helper()
	off, err := f.writer.AddDelRecord(logf.MakeRecord([]byte(key), nil))
	require.NoError(f.t, err)
	f.idx.Remove([]byte(key), off)
}

func (f *fixture) get(key string, s uint64) (string, bool) {
	f.t.Helper()
	v, ok, err := f.idx.Find([]byte(key), s)
	require.NoError(f.t, err)
	return string(v), ok
}

// checkNode verifies the structural node invariants recursively: non-null
// slots form a prefix, and sizes stay within bounds.
func checkNode(t *testing.T, node *bdNode) {
	t.Helper()
	size := node.size()
	seenNull := false
	for i, ptr := range node.ptrs {
		if ptr.isNull() {
			seenNull = true
			require.GreaterOrEqual(t, i, size, "null slot inside the occupied prefix")
			continue
		}
		require.False(t, seenNull, "non-null slot after a null slot")
		if ptr.isNode() {
			require.NotZero(t, ptr.child.size(), "empty child node")
			checkNode(t, ptr.child)
		}
	}
}

func TestInsertFindRemoveBulk(t *testing.T) {
	f := newFixture(t)
	rnd := rand.New(rand.NewSource(7))

	const n = 10000
	keys := make([]string, 0, n)
	taken := make(map[string]bool)
	for len(keys) < n {
		raw := make([]byte, 16)
		rnd.Read(raw)
		trimmed := string(bytes.TrimRight(raw, "\x00"))
		if trimmed == "" || taken[trimmed] {
			continue
		}
		taken[trimmed] = true
		keys = append(keys, string(raw))
	}

	for i, k := range keys {
		f.put(k, fmt.Sprintf("v%d", i))
	}
	checkNode(t, f.idx.tree.root)
	require.Equal(t, n, f.idx.KeyCount())

	for i, k := range keys {
		v, ok := f.get(k, 0)
		require.True(t, ok, "key %d missing", i)
		require.Equal(t, fmt.Sprintf("v%d", i), v)
	}

	// remove every second key
	for i := 0; i < n; i += 2 {
		f.del(keys[i])
	}
	checkNode(t, f.idx.tree.root)

	for i, k := range keys {
		_, ok := f.get(k, 0)
		if i%2 == 0 {
			require.False(t, ok, "removed key %d still visible", i)
		} else {
			require.True(t, ok, "kept key %d missing", i)
		}
	}
}

func TestUpdateSameKey(t *testing.T) {
	f := newFixture(t)

	f.put("k", "1")
	f.put("k", "2")
	f.put("k", "3")

	v, ok := f.get("k", 0)
	require.True(t, ok)
	require.Equal(t, "3", v)
	require.Equal(t, 1, f.idx.KeyCount())
}

func TestMVCCVisibility(t *testing.T) {
	f := newFixture(t)

	f.put("a", "1")
	snap := f.seqGen.MakeSnapshot()
	defer snap.Release()
	f.put("a", "2")

	v, ok := f.get("a", snap.Sequence())
	require.True(t, ok)
	require.Equal(t, "1", v)

	v, ok = f.get("a", 0)
	require.True(t, ok)
	require.Equal(t, "2", v)
}

func TestDeleteVisibility(t *testing.T) {
	f := newFixture(t)

	f.put("k", "v")
	snap := f.seqGen.MakeSnapshot()
	f.del("k")

	_, ok := f.get("k", 0)
	require.False(t, ok)

	// the earlier snapshot still sees the value
	v, ok := f.get("k", snap.Sequence())
	require.True(t, ok)
	require.Equal(t, "v", v)

	// once the snapshot is gone the leaf may be reclaimed on the next write
	snap.Release()
	f.del("k")
	_, ok = f.get("k", 0)
	require.False(t, ok)
}

func TestReclaimWithoutSnapshots(t *testing.T) {
	f := newFixture(t)

	f.put("gone", "v")
	f.del("gone")
	require.Zero(t, f.idx.KeyCount())
	checkNode(t, f.idx.tree.root)
}

func TestPendingApply(t *testing.T) {
	f := newFixture(t)

	f.put("base", "b")

	it := f.idx.NewIterator(0)
	require.Equal(t, 1, f.idx.OperatingIters())

	// structural inserts defer while the iterator is live
	f.put("new1", "1")
	f.put("new2", "2")
	require.Equal(t, 2, f.idx.PendingLen())

	// point reads see pending versions immediately
	v, ok := f.get("new1", 0)
	require.True(t, ok)
	require.Equal(t, "1", v)

	// the old iterator reads below the new sequences and does not see them
	var seen []string
	for ; it.Valid(); it.Next() {
		seen = append(seen, string(it.Key()))
	}
	require.NoError(t, it.Err())
	require.Equal(t, []string{"base"}, seen)

	// a fresh iterator at latest merges the pending list
	it2 := f.idx.NewIterator(0)
	seen = nil
	for ; it2.Valid(); it2.Next() {
		seen = append(seen, string(it2.Key()))
	}
	require.ElementsMatch(t, []string{"base", "new1", "new2"}, seen)

	it.Close()
	last := it2.Close()
	require.True(t, last)
	f.idx.TryApplyPending()
	require.Zero(t, f.idx.PendingLen())

	v, ok = f.get("new2", 0)
	require.True(t, ok)
	require.Equal(t, "2", v)
	checkNode(t, f.idx.tree.root)
}

func TestIteratorOrder(t *testing.T) {
	f := newFixture(t)

	// equal-length keys: trie order is plain byte order
	keys := []string{"dd", "aa", "cc", "bb", "ee"}
	for _, k := range keys {
		f.put(k, "v-"+k)
	}

	var got []string
	it := f.idx.NewIterator(0)
	defer it.Close()
	for ; it.Valid(); it.Next() {
		got = append(got, string(it.Key()))
		require.Equal(t, "v-"+string(it.Key()), string(it.Value()))
	}
	require.NoError(t, it.Err())

	want := append([]string(nil), keys...)
	sort.Strings(want)
	require.Equal(t, want, got)
}

func TestIteratorSeek(t *testing.T) {
	f := newFixture(t)
	for _, k := range []string{"aa", "bb", "cc", "dd"} {
		f.put(k, "v")
	}

	it := f.idx.NewIterator(0)
	defer it.Close()

	it.Seek([]byte("bb"))
	require.True(t, it.Valid())
	require.Equal(t, "bb", string(it.Key()))

	it.Seek([]byte("bx"))
	require.True(t, it.Valid())
	require.Equal(t, "cc", string(it.Key()))

	it.Seek([]byte("zz"))
	require.False(t, it.Valid())

	it.SeekToFirst()
	require.True(t, it.Valid())
	require.Equal(t, "aa", string(it.Key()))
}

func TestIteratorSkipsTombstones(t *testing.T) {
	f := newFixture(t)

	f.put("a", "1")
	f.put("b", "2")
	snap := f.seqGen.MakeSnapshot()
	defer snap.Release()
	f.del("b")

	it := f.idx.NewIterator(0)
	var got []string
	for ; it.Valid(); it.Next() {
		got = append(got, string(it.Key()))
	}
	it.Close()
	require.Equal(t, []string{"a"}, got)

	// the snapshot view still includes the deleted key
	it = f.idx.NewIterator(snap.Sequence())
	got = nil
	for ; it.Valid(); it.Next() {
		got = append(got, string(it.Key()))
	}
	it.Close()
	require.Equal(t, []string{"a", "b"}, got)
}

// spyJudge records which exact keys the iterator asked Match for, proving
// pruned subtrees were never descended into.
type spyJudge struct {
	inner   *regex.R
	matched []string
}

func (s *spyJudge) Possible(u *regex.USR) bool { return s.inner.Possible(u) }
func (s *spyJudge) Match(u *regex.USR) bool {
	if u.Exact() {
		s.matched = append(s.matched, string(u.Bytes()))
	}
	return s.inner.Match(u)
}

func TestRegexIterator(t *testing.T) {
	f := newFixture(t)
	for _, k := range []string{"a", "ab", "b", "ba"} {
		f.put(k, "v-"+k)
	}

	judge := &spyJudge{inner: regex.MustCompile("a.*")}
	it := f.idx.NewRegexIterator(judge, 0)
	var got []string
	for ; it.Valid(); it.Next() {
		got = append(got, string(it.Key()))
	}
	require.NoError(t, it.Err())
	it.Close()

	require.Equal(t, []string{"a", "ab"}, got)
	// the subtree of keys starting with 'b' was pruned, so Match never saw
	// its leaves
	for _, k := range judge.matched {
		require.NotEqual(t, byte('b'), k[0], "descended into a pruned subtree: %q", k)
	}
}

func TestRegexReversedIterator(t *testing.T) {
	f := newFixture(t)
	for _, k := range []string{"k1", "k2", "k3", "x9"} {
		f.put(k, "v")
	}

	forward := f.idx.NewRegexIterator(regex.MustCompile("k[0-9]"), 0)
	var fwd []string
	for ; forward.Valid(); forward.Next() {
		fwd = append(fwd, string(forward.Key()))
	}
	forward.Close()
	require.Equal(t, []string{"k1", "k2", "k3"}, fwd)

	reversed := f.idx.NewRegexReversedIterator(regex.MustCompile("k[0-9]"), 0)
	var rev []string
	for ; reversed.Valid(); reversed.Next() {
		rev = append(rev, string(reversed.Key()))
	}
	reversed.Close()
	require.Equal(t, []string{"k3", "k2", "k1"}, rev)
}

func TestRegexIteratorBulk(t *testing.T) {
	f := newFixture(t)

	var want []string
	for i := 0; i < 500; i++ {
		k := fmt.Sprintf("user:%04d", i)
		f.put(k, "v")
		if i%10 == 0 {
			want = append(want, k)
		}
	}
	for i := 0; i < 100; i++ {
		f.put(fmt.Sprintf("other:%04d", i), "v")
	}

	it := f.idx.NewRegexIterator(regex.MustCompile(`user:[0-9]{3}0`), 0)
	var got []string
	for ; it.Valid(); it.Next() {
		got = append(got, string(it.Key()))
	}
	require.NoError(t, it.Err())
	it.Close()
	require.Equal(t, want, got)
}

func TestCompressedOffsetSharing(t *testing.T) {
	f := newFixture(t)

	kvs := []logf.KV{
		{Key: []byte("c1"), Value: []byte("v1")},
		{Key: []byte("c2"), Value: []byte("v2")},
		{Key: []byte("c3"), Value: []byte("v3")},
	}
	off, err := f.writer.AddCompressRecord(logf.MakeCompressRecord(kvs))
	require.NoError(t, err)
	for _, kv := range kvs {
		f.idx.Insert(kv.Key, off)
	}

	for _, kv := range kvs {
		v, ok := f.get(string(kv.Key), 0)
		require.True(t, ok)
		require.Equal(t, string(kv.Value), v)
	}
}
