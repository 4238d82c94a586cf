package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeeperRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "k.keeper")

	k := &keeperData{
		OffsetToEmpty: 12345,
		Counter:       99,
		Smallest:      []byte("aardvark"),
		Largest:       []byte("zebra"),
	}
	require.NoError(t, writeKeeper(path, k))

	got, err := readKeeper(path)
	require.NoError(t, err)
	require.Equal(t, k, got)
}

func TestKeeperEmptyRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "k.keeper")
	require.NoError(t, writeKeeper(path, &keeperData{}))

	got, err := readKeeper(path)
	require.NoError(t, err)
	require.Empty(t, got.Smallest)
	require.Empty(t, got.Largest)
}

func TestKeeperDetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "k.keeper")
	require.NoError(t, writeKeeper(path, &keeperData{Counter: 7}))

	bin, err := os.ReadFile(path)
	require.NoError(t, err)
	bin[len(bin)/2] ^= 0xFF
	require.NoError(t, os.WriteFile(path, bin, 0o644))

	_, err = readKeeper(path)
	require.Error(t, err)
	require.Equal(t, RetCCorruption, CodeOf(err))
}

func TestIndexFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.index")

	entries := []indexEntry{
		{Key: []byte("a"), Off: 0},
		{Key: []byte("bb"), Off: 4096},
		{Key: []byte("ccc"), Off: 9999, Del: true},
	}
	require.NoError(t, writeIndexFile(path, entries))

	var got []indexEntry
	require.NoError(t, readIndexFile(path, func(e indexEntry) error {
		got = append(got, e)
		return nil
	}))
	require.Equal(t, entries, got)
}

func TestIndexFileDetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.index")
	require.NoError(t, writeIndexFile(path, []indexEntry{{Key: []byte("k"), Off: 1}}))

	bin, err := os.ReadFile(path)
	require.NoError(t, err)
	bin[len(bin)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, bin, 0o644))

	err = readIndexFile(path, func(indexEntry) error { return nil })
	require.Error(t, err)
	require.Equal(t, RetCCorruption, CodeOf(err))
}
