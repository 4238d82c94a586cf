package db_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bitdegrade/bdkv/lib/db"
	dbtesting "github.com/bitdegrade/bdkv/lib/db/testing"
)

func openTemp(t testing.TB) db.DB {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "testdb"), db.Options{CreateIfMissing: true})
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func Test(t *testing.T) {
	dbtesting.RunDBTests(t, "SingleDB", openTemp)
}

func Benchmark(b *testing.B) {
	dbtesting.RunDBBenchmarks(b, "SingleDB", openTemp)
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func TestOpenSemantics(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "odb")

	// absent + no create
	_, err := db.Open(dir, db.Options{})
	require.Error(t, err)
	require.Equal(t, db.RetCNotFound, db.CodeOf(err))

	d, err := db.Open(dir, db.Options{CreateIfMissing: true})
	require.NoError(t, err)

	// double open within the process
	_, err = db.Open(dir, db.Options{CreateIfMissing: true})
	require.Error(t, err)
	require.Equal(t, db.RetCInvalidArgument, db.CodeOf(err))

	require.NoError(t, d.Close())

	// exists + ErrorIfExists
	_, err = db.Open(dir, db.Options{ErrorIfExists: true})
	require.Error(t, err)
	require.Equal(t, db.RetCInvalidArgument, db.CodeOf(err))

	// plain reopen
	d, err = db.Open(dir, db.Options{})
	require.NoError(t, err)
	require.NoError(t, d.Close())
}

func TestReopenKeepsData(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rdb")

	d, err := db.Open(dir, db.Options{CreateIfMissing: true})
	require.NoError(t, err)
	require.NoError(t, d.Put(db.WriteOptions{}, []byte("persist"), []byte("yes")))
	require.NoError(t, d.Put(db.WriteOptions{}, []byte("gone"), []byte("no")))
	require.NoError(t, d.Remove(db.WriteOptions{}, []byte("gone")))
	require.NoError(t, d.Close())

	d, err = db.Open(dir, db.Options{})
	require.NoError(t, err)
	defer d.Close()

	v, found, err := d.Get(db.ReadOptions{}, []byte("persist"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "yes", string(v))

	_, found, err = d.Get(db.ReadOptions{}, []byte("gone"))
	require.NoError(t, err)
	require.False(t, found)

	// range hints extend on insert and never shrink, so the deleted key
	// still bounds the range
	require.Equal(t, "gone", string(d.SmallestKey()))
	require.Equal(t, "persist", string(d.LargestKey()))
}

func TestCrashTruncateRecovery(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cdb")
	dataPath := filepath.Join(dir, "cdb.data")

	d, err := db.Open(dir, db.Options{CreateIfMissing: true})
	require.NoError(t, err)
	require.NoError(t, d.Put(db.WriteOptions{Sync: true}, []byte("x"), []byte("1")))

	durable, err := os.Stat(dataPath)
	require.NoError(t, err)
	require.NoError(t, d.Put(db.WriteOptions{}, []byte("y"), []byte("2")))

	// crash: no Close, data truncated mid-way through the unsynced record
	db.DropForTest(d)
	require.NoError(t, os.Truncate(dataPath, durable.Size()+9))

	d, err = db.Open(dir, db.Options{})
	require.NoError(t, err)
	defer d.Close()

	v, found, err := d.Get(db.ReadOptions{}, []byte("x"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "1", string(v))

	_, found, err = d.Get(db.ReadOptions{}, []byte("y"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestRepairFromDataOnly(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "repdb")

	d, err := db.Open(dir, db.Options{CreateIfMissing: true})
	require.NoError(t, err)
	require.NoError(t, d.Put(db.WriteOptions{}, []byte("alpha"), []byte("1")))
	require.NoError(t, d.Put(db.WriteOptions{}, []byte("beta"), []byte("2")))
	require.NoError(t, d.Remove(db.WriteOptions{}, []byte("beta")))
	require.NoError(t, d.Close())

	// lose both sidecars; only the log remains
	require.NoError(t, os.Remove(filepath.Join(dir, "repdb.index")))
	require.NoError(t, os.Remove(filepath.Join(dir, "repdb.keeper")))

	d, err = db.Open(dir, db.Options{})
	require.NoError(t, err)
	defer d.Close()

	v, found, err := d.Get(db.ReadOptions{}, []byte("alpha"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "1", string(v))

	_, found, err = d.Get(db.ReadOptions{}, []byte("beta"))
	require.NoError(t, err)
	require.False(t, found)

	require.True(t, fileExists(filepath.Join(dir, "repdb.index")))
	require.True(t, fileExists(filepath.Join(dir, "repdb.keeper")))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestExplicitRemoveSurvivesRepair(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "xdb")

	d, err := db.Open(dir, db.Options{CreateIfMissing: true})
	require.NoError(t, err)
	require.NoError(t, d.Put(db.WriteOptions{}, []byte("k"), []byte("v")))
	require.NoError(t, d.ExplicitRemove(db.WriteOptions{}, []byte("k")))
	require.NoError(t, d.Close())

	require.NoError(t, os.Remove(filepath.Join(dir, "xdb.index")))
	require.NoError(t, os.Remove(filepath.Join(dir, "xdb.keeper")))

	d, err = db.Open(dir, db.Options{})
	require.NoError(t, err)
	defer d.Close()

	_, found, err := d.Get(db.ReadOptions{}, []byte("k"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestFileSizes(t *testing.T) {
	d := openTemp(t)
	defer d.Close()

	require.NoError(t, d.Put(db.WriteOptions{}, []byte("k"), []byte("v")))
	require.NotZero(t, d.DataFileSize())
	require.NotZero(t, d.IndexFileSize()) // written at creation

	info := d.GetInfo()
	require.Equal(t, 1, info.KeyCount)
	require.NotZero(t, info.WriteCounter)
}
