package db

import (
	"encoding/binary"
	"hash/crc32"
	"os"

	"github.com/bitdegrade/bdkv/lib/env"
)

// --------------------------------------------------------------------------
// Keeper Sidecar
// --------------------------------------------------------------------------

const (
	keeperMagic   = "BDKKEEP\x00"
	keeperVersion = 1

	// the keeper is rewritten every this many writes, besides on Close
	keeperWriteInterval = 1024
)

var keeperCRCTable = crc32.MakeTable(crc32.Castagnoli)

// keeperData is the weak metadata sidecar: the data file length at the last
// keeper write, the write counter, and the key-range hints.
type keeperData struct {
	OffsetToEmpty uint32
	Counter       uint64
	Smallest      []byte
	Largest       []byte
}

// encodeKeeper serializes the keeper payload: fixed header, key bytes, CRC.
func encodeKeeper(k *keeperData) []byte {
	bin := make([]byte, 0, len(keeperMagic)+1+16+len(k.Smallest)+len(k.Largest)+4)
	bin = append(bin, keeperMagic...)
	bin = append(bin, keeperVersion)
	bin = binary.LittleEndian.AppendUint32(bin, k.OffsetToEmpty)
	bin = binary.LittleEndian.AppendUint64(bin, k.Counter)
	bin = binary.LittleEndian.AppendUint16(bin, uint16(len(k.Smallest)))
	bin = binary.LittleEndian.AppendUint16(bin, uint16(len(k.Largest)))
	bin = append(bin, k.Smallest...)
	bin = append(bin, k.Largest...)
	bin = binary.LittleEndian.AppendUint32(bin, crc32.Checksum(bin, keeperCRCTable))
	return bin
}

// writeKeeper atomically replaces the keeper file (write temp, rename).
func writeKeeper(path string, k *keeperData) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, encodeKeeper(k), 0o644); err != nil {
		return WrapError(RetCIOError, "writing keeper", err)
	}
	if err := env.Rename(tmp, path); err != nil {
		return WrapError(RetCIOError, "replacing keeper", err)
	}
	return nil
}

// readKeeper loads and verifies the keeper file.
func readKeeper(path string) (*keeperData, error) {
	bin, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapError(RetCIOError, "reading keeper", err)
	}
	if len(bin) < len(keeperMagic)+1+16+4 {
		return nil, NewError(RetCCorruption, "keeper too short")
	}
	body, sum := bin[:len(bin)-4], binary.LittleEndian.Uint32(bin[len(bin)-4:])
	if crc32.Checksum(body, keeperCRCTable) != sum {
		return nil, NewError(RetCCorruption, "keeper checksum mismatch")
	}
	if string(body[:len(keeperMagic)]) != keeperMagic {
		return nil, NewError(RetCCorruption, "keeper magic mismatch")
	}
	if body[len(keeperMagic)] != keeperVersion {
		return nil, NewError(RetCCorruption, "unsupported keeper version")
	}

	p := body[len(keeperMagic)+1:]
	k := &keeperData{
		OffsetToEmpty: binary.LittleEndian.Uint32(p[0:4]),
		Counter:       binary.LittleEndian.Uint64(p[4:12]),
	}
	smallestLen := int(binary.LittleEndian.Uint16(p[12:14]))
	largestLen := int(binary.LittleEndian.Uint16(p[14:16]))
	p = p[16:]
	if len(p) != smallestLen+largestLen {
		return nil, NewError(RetCCorruption, "keeper key range truncated")
	}
	k.Smallest = append([]byte(nil), p[:smallestLen]...)
	k.Largest = append([]byte(nil), p[smallestLen:]...)
	return k, nil
}
