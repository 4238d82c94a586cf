package env

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileLock is an advisory lock backed by flock(2). A database directory is
// guarded by one lock file so that two processes (or two opens within one
// process, which use distinct descriptors) cannot both own the same store.
type FileLock struct {
	f    *os.File
	path string
}

// AcquireFileLock creates the lock file at path if necessary and takes an
// exclusive, non-blocking lock on it. It fails immediately if another holder
// exists.
func AcquireFileLock(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("lock %s held elsewhere: %w", path, err)
	}
	return &FileLock{f: f, path: path}, nil
}

// Release drops the lock and closes the lock file. Safe to call once.
func (l *FileLock) Release() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		_ = l.f.Close()
		return err
	}
	return l.f.Close()
}

// Path returns the lock file location.
func (l *FileLock) Path() string {
	return l.path
}
