package logf

import (
	"errors"
	"log"

	"github.com/bitdegrade/bdkv/lib/env"
)

// RecoveryEntry is one logical entry surfaced by a full-table scan: the key,
// the starting offset of the record that holds it, and its deletion flag.
type RecoveryEntry struct {
	Key    []byte
	Offset uint32
	Del    bool
}

// Reporter decides what happens with mid-file corruption found during
// recovery. Returning nil resumes the scan at the next block boundary; a
// non-nil return aborts the scan with that error.
type Reporter func(err error) error

// DefaultReporter aborts recovery on the first corruption.
func DefaultReporter(err error) error {
	return err
}

// LoggingReporter logs corruption through the standard library logger and
// lets the scan continue, salvaging the readable remainder instead of failing
// fast.
func LoggingReporter(err error) error {
	log.Printf("WARN  | recovery | %v", err)
	return nil
}

// RecoverTable scans the data file from offset zero and calls fn for every
// decodable logical entry, in file order. A torn tail (a record running past
// the end of the file) ends the scan silently; any other malformed data is
// routed through report. fn returning an error aborts the scan.
func RecoverTable(rf *env.RandomAccessFile, report Reporter, fn func(RecoveryEntry) error) error {
	return RecoverTableFrom(rf, 0, report, fn)
}

// RecoverTableFrom is RecoverTable starting at a known record boundary.
// Reopening a database replays only the records written after the last
// keeper update this way.
func RecoverTableFrom(rf *env.RandomAccessFile, start uint32, report Reporter, fn func(RecoveryEntry) error) error {
	fileLen, err := rf.Length()
	if err != nil {
		return err
	}

	off := uint64(start)
	for {
		off = nextFragmentPos(off)
		if off+headerSize > fileLen {
			return nil
		}

		recordStart := off
		payload, del, compress, end, err := readLogical(rf, off)
		if err != nil {
			if errors.Is(err, ErrTornRecord) {
				return nil
			}
			if errors.Is(err, ErrCorruptRecord) {
				if rerr := report(err); rerr != nil {
					return rerr
				}
				// resume at the next block boundary
				off = recordStart + (BlockSize - recordStart%BlockSize)
				continue
			}
			return err
		}

		entries, err := decodePayload(payload, del, compress)
		if err != nil {
			if rerr := report(err); rerr != nil {
				return rerr
			}
			off = recordStart + (BlockSize - recordStart%BlockSize)
			continue
		}

		for _, e := range entries {
			if err := fn(RecoveryEntry{Key: e.Key, Offset: uint32(recordStart), Del: e.Del}); err != nil {
				return err
			}
		}
		off = end
	}
}

// ScanFragments walks the raw fragment headers of the data file. It backs the
// CLI inspect command and makes no attempt to reassemble logical records.
func ScanFragments(rf *env.RandomAccessFile, fn func(off uint32, typ string, del, compress bool, length int) error) error {
	fileLen, err := rf.Length()
	if err != nil {
		return err
	}

	names := [4]string{"FULL", "FIRST", "MIDDLE", "LAST"}
	off := uint64(0)
	for {
		off = nextFragmentPos(off)
		if off+headerSize > fileLen {
			return nil
		}
		frag, err := readFragment(rf, off)
		if err != nil {
			if errors.Is(err, ErrTornRecord) {
				return nil
			}
			return err
		}
		if err := fn(uint32(off), names[frag.pos], frag.del, frag.compress, len(frag.payload)); err != nil {
			return err
		}
		off = frag.next
	}
}
