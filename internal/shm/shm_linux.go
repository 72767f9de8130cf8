package shm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func createHandle(size int) (Handle, error) {
	fd, err := unix.MemfdCreate("osr-frame", unix.MFD_CLOEXEC)
	if err != nil {
		return 0, err
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return 0, err
	}
	return Handle(fd), nil
}

// readOnlyHandle reopens the memfd through procfs so the new descriptor
// cannot be mapped writable.
func readOnlyHandle(h Handle) (Handle, error) {
	fd, err := unix.Open(fmt.Sprintf("/proc/self/fd/%d", int(h)), unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return 0, err
	}
	return Handle(fd), nil
}
