// Package logf implements the on-disk record format of the append-only data
// file.
//
// The file is a sequence of fixed-size physical blocks (32 KiB). A logical
// record is split into fragments; a fragment never crosses a block boundary
// and always starts with a 7 byte header:
//
//	crc32c (4, little endian) | payload length (2, little endian) | type (1)
//
// The checksum covers the type byte followed by the fragment payload. The
// type byte packs the fragment position (bits 0..1: full, first, middle,
// last), a deletion flag (bit 2) and a compression flag (bit 3). Block tails
// shorter than a header are zero padded.
//
// Plain record payload:
//
//	uvarint |K| ‖ K ‖ V ‖ meta
//
// where the trailing meta byte mirrors the deletion flag. Compressed record
// payload:
//
//	snappy( uvarint |K| ‖ K ‖ uvarint |V| ‖ V ... ) ‖ delBitmap
//
// where bit i of the trailing bitmap byte carries the deletion flag of the
// i-th pair. All pairs of a compressed record share the record's starting
// offset.
//
// Reading happens in two modes: ReadRecord decodes one logical record given
// its offset, and RecoverTable scans a whole file front to back, dropping a
// torn tail and routing mid-file corruption through a Reporter.
package logf
