package logf

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bitdegrade/bdkv/lib/env"
)

// fragment is one decoded fragment header plus its payload.
type fragment struct {
	pos      uint8
	del      bool
	compress bool
	payload  []byte
	next     uint64 // offset directly after this fragment
}

// readFragment decodes and CRC-checks the fragment starting at off.
func readFragment(rf *env.RandomAccessFile, off uint64) (fragment, error) {
	head, err := rf.Pread(off, headerSize)
	if err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return fragment{}, ErrTornRecord
		}
		return fragment{}, err
	}

	crc := binary.LittleEndian.Uint32(head[0:4])
	length := int(binary.LittleEndian.Uint16(head[4:6]))
	typ := head[6]

	payload, err := rf.Pread(off+headerSize, length)
	if err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return fragment{}, ErrTornRecord
		}
		return fragment{}, err
	}
	if fragmentCRC(typ, payload) != crc {
		return fragment{}, fmt.Errorf("%w: crc mismatch at offset %d", ErrCorruptRecord, off)
	}

	return fragment{
		pos:      typ & posMask,
		del:      typ&flagDel != 0,
		compress: typ&flagCompress != 0,
		payload:  payload,
		next:     off + headerSize + uint64(length),
	}, nil
}

// nextFragmentPos skips block-tail padding after off.
func nextFragmentPos(off uint64) uint64 {
	if space := BlockSize - off%BlockSize; space < headerSize {
		return off + space
	}
	return off
}

// readLogical reassembles the logical record starting at off and returns its
// payload, flags and end offset.
func readLogical(rf *env.RandomAccessFile, off uint64) (payload []byte, del, compress bool, end uint64, err error) {
	frag, err := readFragment(rf, nextFragmentPos(off))
	if err != nil {
		return nil, false, false, 0, err
	}
	if frag.pos != posFull && frag.pos != posFirst {
		return nil, false, false, 0,
			fmt.Errorf("%w: record at %d starts mid-fragment", ErrCorruptRecord, off)
	}

	payload = frag.payload
	del, compress = frag.del, frag.compress
	end = frag.next
	for frag.pos != posFull && frag.pos != posLast {
		frag, err = readFragment(rf, nextFragmentPos(end))
		if err != nil {
			return nil, false, false, 0, err
		}
		if frag.pos != posMiddle && frag.pos != posLast {
			return nil, false, false, 0,
				fmt.Errorf("%w: unexpected fragment order", ErrCorruptRecord)
		}
		payload = append(payload, frag.payload...)
		end = frag.next
	}
	return payload, del, compress, end, nil
}

// ReadRecord decodes the logical record at off into its entries: one for a
// plain record, one per pair for a compressed batch.
func ReadRecord(rf *env.RandomAccessFile, off uint32) ([]Entry, error) {
	payload, del, compress, _, err := readLogical(rf, uint64(off))
	if err != nil {
		return nil, err
	}
	return decodePayload(payload, del, compress)
}
