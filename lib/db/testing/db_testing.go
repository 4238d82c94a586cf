package testing

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/bitdegrade/bdkv/lib/db"
	"github.com/bitdegrade/bdkv/lib/logf"
	"github.com/bitdegrade/bdkv/lib/regex"
)

// DBFactory creates a fresh database instance for one test.
type DBFactory func(t testing.TB) db.DB

// RunDBTests runs the conformance suite for a db.DB implementation.
func RunDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("PutGet", func(t *testing.T) {
			testPutGet(t, factory(t))
		})

		t.Run("SnapshotVisibility", func(t *testing.T) {
			testSnapshotVisibility(t, factory(t))
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory(t))
		})

		t.Run("ExplicitRemove", func(t *testing.T) {
			testExplicitRemove(t, factory(t))
		})

		t.Run("BatchWrite", func(t *testing.T) {
			testBatchWrite(t, factory(t))
		})

		t.Run("CompressedBatch", func(t *testing.T) {
			testCompressedBatch(t, factory(t))
		})

		t.Run("Iterator", func(t *testing.T) {
			testIterator(t, factory(t))
		})

		t.Run("RegexIterator", func(t *testing.T) {
			testRegexIterator(t, factory(t))
		})

		t.Run("KeyRange", func(t *testing.T) {
			testKeyRange(t, factory(t))
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory(t))
		})

		t.Run("ConcurrentReadWrite", func(t *testing.T) {
			testConcurrentReadWrite(t, factory(t))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func mustPut(t testing.TB, d db.DB, key, value string) {
	t.Helper()
	if err := d.Put(db.WriteOptions{}, []byte(key), []byte(value)); err != nil {
		t.Fatalf("Put(%q) failed: %v", key, err)
	}
}

func mustGet(t testing.TB, d db.DB, key string) (string, bool) {
	t.Helper()
	value, found, err := d.Get(db.ReadOptions{}, []byte(key))
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	return string(value), found
}

func collect(t testing.TB, it db.Iterator) []string {
	t.Helper()
	var keys []string
	for ; it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator failed: %v", err)
	}
	if err := it.Close(); err != nil {
		t.Fatalf("iterator close failed: %v", err)
	}
	return keys
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, d db.DB) {
	defer d.Close()

	mustPut(t, d, "apple", "1")
	mustPut(t, d, "apricot", "2")

	if v, found := mustGet(t, d, "apple"); !found || v != "1" {
		t.Errorf("Get(apple) = (%q, %v), want (1, true)", v, found)
	}
	if v, found := mustGet(t, d, "apricot"); !found || v != "2" {
		t.Errorf("Get(apricot) = (%q, %v), want (2, true)", v, found)
	}
	if _, found := mustGet(t, d, "missing"); found {
		t.Error("Get(missing) reported found")
	}

	// overwrite
	mustPut(t, d, "apple", "fresh")
	if v, _ := mustGet(t, d, "apple"); v != "fresh" {
		t.Errorf("Get(apple) after overwrite = %q, want fresh", v)
	}

	// an empty value is a value, not a deletion
	mustPut(t, d, "empty", "")
	if v, found := mustGet(t, d, "empty"); !found || v != "" {
		t.Errorf("Get(empty) = (%q, %v), want (\"\", true)", v, found)
	}
}

func testSnapshotVisibility(t *testing.T, d db.DB) {
	defer d.Close()

	mustPut(t, d, "a", "1")
	snap := d.MakeSnapshot()
	defer snap.Release()
	mustPut(t, d, "a", "2")

	value, found, err := d.Get(db.ReadOptions{SequenceNumber: snap.Sequence()}, []byte("a"))
	if err != nil {
		t.Fatalf("snapshot Get failed: %v", err)
	}
	if !found || string(value) != "1" {
		t.Errorf("snapshot Get(a) = (%q, %v), want (1, true)", value, found)
	}

	if v, _ := mustGet(t, d, "a"); v != "2" {
		t.Errorf("latest Get(a) = %q, want 2", v)
	}

	// keys written after the snapshot are invisible to it
	mustPut(t, d, "later", "x")
	_, found, err = d.Get(db.ReadOptions{SequenceNumber: snap.Sequence()}, []byte("later"))
	if err != nil {
		t.Fatalf("snapshot Get failed: %v", err)
	}
	if found {
		t.Error("snapshot sees a key written after it")
	}
}

func testDelete(t *testing.T, d db.DB) {
	defer d.Close()

	mustPut(t, d, "k", "v")
	snap := d.MakeSnapshot()
	defer snap.Release()

	if err := d.Remove(db.WriteOptions{}, []byte("k")); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, found := mustGet(t, d, "k"); found {
		t.Error("Get(k) after Remove reported found")
	}

	// the earlier snapshot still sees the value
	value, found, err := d.Get(db.ReadOptions{SequenceNumber: snap.Sequence()}, []byte("k"))
	if err != nil {
		t.Fatalf("snapshot Get failed: %v", err)
	}
	if !found || string(value) != "v" {
		t.Errorf("snapshot Get(k) = (%q, %v), want (v, true)", value, found)
	}

	// removing an absent key is not an error
	if err := d.Remove(db.WriteOptions{}, []byte("never-existed")); err != nil {
		t.Errorf("Remove(absent) failed: %v", err)
	}
}

func testExplicitRemove(t *testing.T, d db.DB) {
	defer d.Close()

	mustPut(t, d, "k", "v")
	if err := d.ExplicitRemove(db.WriteOptions{}, []byte("k")); err != nil {
		t.Fatalf("ExplicitRemove failed: %v", err)
	}
	if _, found := mustGet(t, d, "k"); found {
		t.Error("Get(k) after ExplicitRemove reported found")
	}
}

func testBatchWrite(t *testing.T, d db.DB) {
	defer d.Close()

	kvs := []logf.KV{
		{Key: []byte("b1"), Value: []byte("v1")},
		{Key: []byte("b2"), Value: []byte("v2")},
		{Key: []byte("b3"), Value: []byte("v3")},
	}
	if err := d.Write(db.WriteOptions{}, kvs); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	for _, kv := range kvs {
		if v, found := mustGet(t, d, string(kv.Key)); !found || v != string(kv.Value) {
			t.Errorf("Get(%s) = (%q, %v), want (%s, true)", kv.Key, v, found, kv.Value)
		}
	}
}

func testCompressedBatch(t *testing.T, d db.DB) {
	defer d.Close()

	// highly compressible values so the 7/8 rule triggers
	var kvs []logf.KV
	raw := 0
	for i := 0; i < 8; i++ {
		kv := logf.KV{
			Key:   []byte(fmt.Sprintf("c%d", i)),
			Value: bytes.Repeat([]byte("abcdef"), 200),
		}
		raw += len(kv.Key) + len(kv.Value)
		kvs = append(kvs, kv)
	}
	opts := db.WriteOptions{Compress: true, UncompressSize: uint32(raw)}
	if err := d.Write(opts, kvs); err != nil {
		t.Fatalf("compressed Write failed: %v", err)
	}
	for _, kv := range kvs {
		if v, found := mustGet(t, d, string(kv.Key)); !found || v != string(kv.Value) {
			t.Errorf("Get(%s) after compressed batch = (found=%v, %d bytes)", kv.Key, found, len(v))
		}
	}

	// incompressible values fall back to per-key records
	var rnd []logf.KV
	raw = 0
	for i := 0; i < 4; i++ {
		value := make([]byte, 512)
		rand.New(rand.NewSource(int64(i + 1))).Read(value)
		kv := logf.KV{Key: []byte(fmt.Sprintf("r%d", i)), Value: value}
		raw += len(kv.Key) + len(kv.Value)
		rnd = append(rnd, kv)
	}
	if err := d.Write(db.WriteOptions{Compress: true, UncompressSize: uint32(raw)}, rnd); err != nil {
		t.Fatalf("fallback Write failed: %v", err)
	}
	for _, kv := range rnd {
		if v, found := mustGet(t, d, string(kv.Key)); !found || v != string(kv.Value) {
			t.Errorf("Get(%s) after fallback batch missing", kv.Key)
		}
	}
}

func testIterator(t *testing.T, d db.DB) {
	defer d.Close()

	keys := []string{"ee", "aa", "dd", "bb", "cc"}
	for _, k := range keys {
		mustPut(t, d, k, "v-"+k)
	}

	it := d.MakeIterator(nil)
	got := collect(t, it)
	want := []string{"aa", "bb", "cc", "dd", "ee"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("iterator order = %v, want %v", got, want)
	}

	// writes during iteration defer and apply after the last close
	it = d.MakeIterator(nil)
	mustPut(t, d, "ff", "v-ff")
	gotDuring := collect(t, it)
	if fmt.Sprint(gotDuring) != fmt.Sprint(want) {
		t.Errorf("iterator saw writes made after its creation: %v", gotDuring)
	}
	if v, found := mustGet(t, d, "ff"); !found || v != "v-ff" {
		t.Errorf("Get(ff) after deferred insert = (%q, %v)", v, found)
	}

	// seek
	sit := d.MakeIterator(nil)
	sit.Seek([]byte("cc"))
	if !sit.Valid() || string(sit.Key()) != "cc" {
		t.Errorf("Seek(cc) landed on %q", sit.Key())
	}
	_ = sit.Close()
}

func testRegexIterator(t *testing.T, d db.DB) {
	defer d.Close()

	for _, k := range []string{"a", "ab", "b", "ba"} {
		mustPut(t, d, k, "v")
	}

	it := d.MakeRegexIterator(regex.MustCompile("a.*"), nil)
	got := collect(t, it)
	if fmt.Sprint(got) != fmt.Sprint([]string{"a", "ab"}) {
		t.Errorf("regex iterator = %v, want [a ab]", got)
	}

	rit := d.MakeRegexReversedIterator(regex.MustCompile("a.*"), nil)
	gotRev := collect(t, rit)
	if fmt.Sprint(gotRev) != fmt.Sprint([]string{"ab", "a"}) {
		t.Errorf("reversed regex iterator = %v, want [ab a]", gotRev)
	}
}

func testKeyRange(t *testing.T, d db.DB) {
	defer d.Close()

	mustPut(t, d, "mm", "v")
	mustPut(t, d, "aa", "v")
	mustPut(t, d, "zz", "v")

	if got := d.SmallestKey(); string(got) != "aa" {
		t.Errorf("SmallestKey = %q, want aa", got)
	}
	if got := d.LargestKey(); string(got) != "zz" {
		t.Errorf("LargestKey = %q, want zz", got)
	}
}

func testEdgeCases(t *testing.T, d db.DB) {
	defer d.Close()

	// empty keys are rejected
	if err := d.Put(db.WriteOptions{}, nil, []byte("v")); err == nil {
		t.Error("Put with empty key succeeded")
	}
	if err := d.Remove(db.WriteOptions{}, nil); err == nil {
		t.Error("Remove with empty key succeeded")
	}

	// compress without UncompressSize is rejected
	err := d.Write(db.WriteOptions{Compress: true}, []logf.KV{{Key: []byte("k"), Value: []byte("v")}})
	if err == nil {
		t.Error("compressed Write without UncompressSize succeeded")
	}

	// sync write path
	if err := d.Put(db.WriteOptions{Sync: true}, []byte("durable"), []byte("v")); err != nil {
		t.Errorf("Put(sync) failed: %v", err)
	}

	// large value spanning several blocks
	large := bytes.Repeat([]byte{0xEE}, 3*logf.BlockSize)
	mustPut(t, d, "large", string(large))
	if v, found := mustGet(t, d, "large"); !found || v != string(large) {
		t.Error("large value did not round-trip")
	}

	info := d.GetInfo()
	if info.KeyCount == 0 {
		t.Error("GetInfo reports zero keys")
	}
}

func testConcurrentReadWrite(t *testing.T, d db.DB) {
	defer d.Close()

	const writers = 4
	const readers = 4
	const perWriter = 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				key := fmt.Sprintf("w%d-%04d", w, i)
				if err := d.Put(db.WriteOptions{}, []byte(key), []byte(key)); err != nil {
					t.Errorf("concurrent Put failed: %v", err)
					return
				}
			}
		}(w)
	}
	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				key := fmt.Sprintf("w%d-%04d", r%writers, i)
				value, found, err := d.Get(db.ReadOptions{}, []byte(key))
				if err != nil {
					t.Errorf("concurrent Get failed: %v", err)
					return
				}
				// a found value must be the one its writer wrote
				if found && string(value) != key {
					t.Errorf("Get(%s) observed %q", key, value)
					return
				}
			}
		}(r)
	}
	wg.Wait()

	// after the writers settle every key must be visible
	for w := 0; w < writers; w++ {
		for i := 0; i < perWriter; i++ {
			key := fmt.Sprintf("w%d-%04d", w, i)
			if v, found := mustGet(t, d, key); !found || v != key {
				t.Fatalf("Get(%s) after settle = (%q, %v)", key, v, found)
			}
		}
	}
}
