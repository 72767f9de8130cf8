//go:build !unix

package shm

func createHandle(int) (Handle, error) { return 0, ErrNotSupported }
func mapHandle(Handle, int, bool) ([]byte, error) { return nil, ErrNotSupported }
func unmap([]byte) error { return nil }
func closeHandle(Handle) error { return nil }
func dupHandle(Handle) (Handle, error) { return 0, ErrNotSupported }
func readOnlyHandle(Handle) (Handle, error) { return 0, ErrNotSupported }
