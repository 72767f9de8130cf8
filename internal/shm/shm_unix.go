//go:build unix

package shm

import "golang.org/x/sys/unix"

func mapHandle(h Handle, size int, writable bool) ([]byte, error) {
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	return unix.Mmap(int(h), 0, size, prot, unix.MAP_SHARED)
}

func unmap(mem []byte) error {
	return unix.Munmap(mem)
}

func closeHandle(h Handle) error {
	return unix.Close(int(h))
}

func dupHandle(h Handle) (Handle, error) {
	fd, err := unix.FcntlInt(uintptr(h), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return 0, err
	}
	return Handle(fd), nil
}
