package db

import (
	"encoding/binary"
	"hash/crc32"
	"os"

	"github.com/bitdegrade/bdkv/lib/env"
)

// --------------------------------------------------------------------------
// Index Sidecar
// --------------------------------------------------------------------------

const (
	indexMagic   = "BDKINDX\x00"
	indexVersion = 1
)

// indexEntry is one persisted leaf: the key and its newest version.
type indexEntry struct {
	Key []byte
	Off uint32
	Del bool
}

// encodeIndexFile serializes the leaf set. The tree is rebuilt by
// re-insertion on load, which keeps the file format independent of node
// layout.
func encodeIndexFile(entries []indexEntry) []byte {
	var bin []byte
	bin = append(bin, indexMagic...)
	bin = append(bin, indexVersion)
	bin = binary.LittleEndian.AppendUint32(bin, uint32(len(entries)))
	for _, e := range entries {
		bin = binary.AppendUvarint(bin, uint64(len(e.Key)))
		bin = append(bin, e.Key...)
		bin = binary.LittleEndian.AppendUint32(bin, e.Off)
		if e.Del {
			bin = append(bin, 1)
		} else {
			bin = append(bin, 0)
		}
	}
	bin = binary.LittleEndian.AppendUint32(bin, crc32.Checksum(bin, keeperCRCTable))
	return bin
}

// writeIndexFile atomically replaces the index sidecar.
func writeIndexFile(path string, entries []indexEntry) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, encodeIndexFile(entries), 0o644); err != nil {
		return WrapError(RetCIOError, "writing index", err)
	}
	if err := env.Rename(tmp, path); err != nil {
		return WrapError(RetCIOError, "replacing index", err)
	}
	return nil
}

// readIndexFile loads and verifies the index sidecar, calling fn per leaf in
// stored order.
func readIndexFile(path string, fn func(indexEntry) error) error {
	bin, err := os.ReadFile(path)
	if err != nil {
		return WrapError(RetCIOError, "reading index", err)
	}
	if len(bin) < len(indexMagic)+1+4+4 {
		return NewError(RetCCorruption, "index sidecar too short")
	}
	body, sum := bin[:len(bin)-4], binary.LittleEndian.Uint32(bin[len(bin)-4:])
	if crc32.Checksum(body, keeperCRCTable) != sum {
		return NewError(RetCCorruption, "index sidecar checksum mismatch")
	}
	if string(body[:len(indexMagic)]) != indexMagic {
		return NewError(RetCCorruption, "index sidecar magic mismatch")
	}
	if body[len(indexMagic)] != indexVersion {
		return NewError(RetCCorruption, "unsupported index sidecar version")
	}

	p := body[len(indexMagic)+1:]
	count := binary.LittleEndian.Uint32(p[0:4])
	p = p[4:]
	for i := uint32(0); i < count; i++ {
		keyLen, n := binary.Uvarint(p)
		if n <= 0 || uint64(n)+keyLen+5 > uint64(len(p)) {
			return NewError(RetCCorruption, "index sidecar entry truncated")
		}
		p = p[n:]
		e := indexEntry{Key: append([]byte(nil), p[:keyLen]...)}
		p = p[keyLen:]
		e.Off = binary.LittleEndian.Uint32(p[0:4])
		e.Del = p[4] == 1
		p = p[5:]
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}
