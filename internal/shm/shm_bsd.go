//go:build unix && !linux

package shm

import (
	"os"

	"golang.org/x/sys/unix"
)

// createHandle backs the region with an unlinked temp file.
func createHandle(size int) (Handle, error) {
	f, err := os.CreateTemp("", "osr-frame-*")
	if err != nil {
		return 0, err
	}
	defer f.Close()
	defer os.Remove(f.Name())

	if err := f.Truncate(int64(size)); err != nil {
		return 0, err
	}
	fd, err := unix.FcntlInt(f.Fd(), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return 0, err
	}
	return Handle(fd), nil
}

// readOnlyHandle duplicates the descriptor. The mapping is read-only but the
// kernel does not stop a receiver from remapping it writable.
func readOnlyHandle(h Handle) (Handle, error) {
	return dupHandle(h)
}
