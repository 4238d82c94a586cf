package logf

import (
	"encoding/binary"

	"github.com/bitdegrade/bdkv/lib/env"
)

// Writer appends logical records to the data file, fragmenting them across
// block boundaries.
//
// Thread-safety: not internally synchronized; the single-DB façade holds its
// writer lock around every call.
type Writer struct {
	af *env.AppendableFile
}

// NewWriter creates a Writer positioned at the current end of af.
func NewWriter(af *env.AppendableFile) *Writer {
	return &Writer{af: af}
}

// CalcWritePos returns the offset the next record will start at, accounting
// for block-tail padding.
func (w *Writer) CalcWritePos() uint32 {
	end := w.af.Length()
	if space := BlockSize - end%BlockSize; space < headerSize {
		end += space
	}
	return uint32(end)
}

// AddRecord appends one plain record and returns its starting offset.
func (w *Writer) AddRecord(bin []byte) (uint32, error) {
	return w.add(bin, false, false)
}

// AddDelRecord appends one deletion record. The payload's trailing meta byte
// is set alongside the header DEL bit.
func (w *Writer) AddDelRecord(bin []byte) (uint32, error) {
	bin[len(bin)-1] = 1
	return w.add(bin, true, false)
}

// AddRecords appends a batch of plain records, one offset each.
func (w *Writer) AddRecords(bins [][]byte) ([]uint32, error) {
	offsets := make([]uint32, 0, len(bins))
	for _, bin := range bins {
		off, err := w.add(bin, false, false)
		if err != nil {
			return nil, err
		}
		offsets = append(offsets, off)
	}
	return offsets, nil
}

// AddCompressRecord appends one compressed batch record; every pair of the
// batch shares the returned offset.
func (w *Writer) AddCompressRecord(bin []byte) (uint32, error) {
	return w.add(bin, false, true)
}

// add fragments one logical payload into block-bounded fragments and appends
// them in a single write.
func (w *Writer) add(payload []byte, del, compress bool) (uint32, error) {
	end := w.af.Length()
	var buf []byte

	// block tail too small for a header: zero pad
	if space := BlockSize - end%BlockSize; space < headerSize {
		buf = append(buf, make([]byte, space)...)
		end += space
	}
	pos := uint32(end)

	rest := payload
	first := true
	for {
		space := BlockSize - end%BlockSize
		avail := space - headerSize
		frag := rest
		if uint64(len(frag)) > avail {
			frag = frag[:avail]
		}
		last := len(frag) == len(rest)

		typ := posMiddle
		switch {
		case first && last:
			typ = posFull
		case first:
			typ = posFirst
		case last:
			typ = posLast
		}
		if del {
			typ |= flagDel
		}
		if compress {
			typ |= flagCompress
		}

		buf = binary.LittleEndian.AppendUint32(buf, fragmentCRC(typ, frag))
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(frag)))
		buf = append(buf, typ)
		buf = append(buf, frag...)
		end += headerSize + uint64(len(frag))

		rest = rest[len(frag):]
		first = false
		if last {
			break
		}
		if space := BlockSize - end%BlockSize; space < headerSize {
			buf = append(buf, make([]byte, space)...)
			end += space
		}
	}

	if err := w.af.Append(buf); err != nil {
		return 0, err
	}
	return pos, nil
}
