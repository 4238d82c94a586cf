package env

import (
	"io"
	"os"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Directory Helpers
// --------------------------------------------------------------------------

// FileExists reports whether the file or directory at path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CreateDir creates a single directory. The parent must already exist.
func CreateDir(path string) error {
	return os.Mkdir(path, 0o755)
}

// Rename atomically replaces newpath with oldpath.
func Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

// RemoveFile deletes a single file. Missing files are not an error.
func RemoveFile(path string) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// --------------------------------------------------------------------------
// AppendableFile
// --------------------------------------------------------------------------

// AppendableFile is an append-only file handle. It tracks its own length so
// the log writer can compute record offsets without stat calls.
//
// Thread-safety: Append and Sync must be serialized by the caller (the
// single-DB façade holds its writer lock around every append). Length may be
// read concurrently.
type AppendableFile struct {
	f      *os.File
	length atomic.Uint64
}

// OpenAppendableFile opens (or creates) the file at path for appending.
func OpenAppendableFile(path string) (*AppendableFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	af := &AppendableFile{f: f}
	af.length.Store(uint64(info.Size()))
	return af, nil
}

// Append writes b at the end of the file.
func (af *AppendableFile) Append(b []byte) error {
	n, err := af.f.Write(b)
	af.length.Add(uint64(n))
	return err
}

// Sync flushes the file to stable storage (fsync).
func (af *AppendableFile) Sync() error {
	return af.f.Sync()
}

// Length returns the current file length in bytes.
func (af *AppendableFile) Length() uint64 {
	return af.length.Load()
}

// Close closes the underlying file descriptor.
func (af *AppendableFile) Close() error {
	return af.f.Close()
}

// --------------------------------------------------------------------------
// RandomAccessFile
// --------------------------------------------------------------------------

// RandomAccessFile is a positional-read file handle.
//
// Thread-safety: Pread is safe for concurrent use; it maps to pread(2) and
// does not touch the file offset.
type RandomAccessFile struct {
	f *os.File
}

// OpenRandomAccessFile opens the file at path for positional reads.
func OpenRandomAccessFile(path string) (*RandomAccessFile, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	return &RandomAccessFile{f: f}, nil
}

// Pread reads exactly n bytes at offset off. A read beyond the end of the
// file returns the bytes that exist together with io.ErrUnexpectedEOF.
func (rf *RandomAccessFile) Pread(off uint64, n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := rf.f.ReadAt(buf, int64(off))
	if err == io.EOF && read > 0 {
		err = io.ErrUnexpectedEOF
	}
	return buf[:read], err
}

// Length returns the current file length in bytes.
func (rf *RandomAccessFile) Length() (uint64, error) {
	info, err := rf.f.Stat()
	if err != nil {
		return 0, err
	}
	return uint64(info.Size()), nil
}

// Close closes the underlying file descriptor.
func (rf *RandomAccessFile) Close() error {
	return rf.f.Close()
}
