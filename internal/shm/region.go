// Package shm provides anonymous shared-memory regions whose handles can be
// passed to another process. An UnsafeRegion is writable by everyone holding
// a mapping; a ReadOnlyRegion hands out read-only mappings.
package shm

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrNotSupported = errors.New("shm: shared memory not supported on this platform")
	ErrHandleTaken  = errors.New("shm: handle already taken")
	ErrClosed       = errors.New("shm: region closed")
	ErrInvalidSize  = errors.New("shm: size must be positive")
)

// Handle is the platform handle of a region (a file descriptor on unix).
type Handle uintptr

// CloseHandle releases a handle obtained from TakeHandle that was not passed
// on to another owner.
func CloseHandle(h Handle) error {
	return closeHandle(h)
}

// region is the state shared by both region kinds.
type region struct {
	mu       sync.Mutex
	h        Handle
	hasH     bool
	mem      []byte
	size     int
	writable bool
}

func (r *region) bytes() []byte {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mem
}

func (r *region) valid() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasH && r.mem != nil
}

func (r *region) takeHandle() (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mem == nil {
		return 0, ErrClosed
	}
	if !r.hasH {
		return 0, ErrHandleTaken
	}
	r.hasH = false
	return r.h, nil
}

// dup maps a duplicate of the handle. The caller converts writable regions
// to read-only ones by passing writable=false.
func (r *region) dup(writable bool) (*region, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mem == nil {
		return nil, ErrClosed
	}
	if !r.hasH {
		return nil, ErrHandleTaken
	}
	var (
		h   Handle
		err error
	)
	if writable {
		h, err = dupHandle(r.h)
	} else {
		h, err = readOnlyHandle(r.h)
	}
	if err != nil {
		return nil, err
	}
	mem, err := mapHandle(h, r.size, writable)
	if err != nil {
		_ = closeHandle(h)
		return nil, err
	}
	return &region{h: h, hasH: true, mem: mem, size: r.size, writable: writable}, nil
}

func (r *region) close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	if r.mem != nil {
		if err := unmap(r.mem); err != nil {
			errs = append(errs, err)
		}
		r.mem = nil
	}
	if r.hasH {
		if err := closeHandle(r.h); err != nil {
			errs = append(errs, err)
		}
		r.hasH = false
	}
	return errors.Join(errs...)
}

// UnsafeRegion is a writable shared-memory region.
type UnsafeRegion struct {
	r *region
}

// NewUnsafe creates a zero-filled region of size bytes.
func NewUnsafe(size int) (*UnsafeRegion, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	h, err := createHandle(size)
	if err != nil {
		return nil, fmt.Errorf("shm: create %d bytes: %w", size, err)
	}
	mem, err := mapHandle(h, size, true)
	if err != nil {
		_ = closeHandle(h)
		return nil, fmt.Errorf("shm: map %d bytes: %w", size, err)
	}
	return &UnsafeRegion{r: &region{h: h, hasH: true, mem: mem, size: size, writable: true}}, nil
}

// Bytes returns the writable mapping, or nil once closed.
func (u *UnsafeRegion) Bytes() []byte {
	if u == nil {
		return nil
	}
	return u.r.bytes()
}

func (u *UnsafeRegion) Size() int {
	if u == nil {
		return 0
	}
	return u.r.size
}

// Valid reports whether the region is mapped and still owns its handle.
func (u *UnsafeRegion) Valid() bool {
	return u != nil && u.r.valid()
}

// Duplicate returns a second writable mapping of the same memory with its own
// handle.
func (u *UnsafeRegion) Duplicate() (*UnsafeRegion, error) {
	d, err := u.r.dup(true)
	if err != nil {
		return nil, err
	}
	return &UnsafeRegion{r: d}, nil
}

// ReadOnly returns a read-only region over the same memory. The receiver
// stays usable.
func (u *UnsafeRegion) ReadOnly() (*ReadOnlyRegion, error) {
	d, err := u.r.dup(false)
	if err != nil {
		return nil, err
	}
	return &ReadOnlyRegion{r: d}, nil
}

// TakeHandle transfers ownership of the handle to the caller. The mapping
// stays valid until Close.
func (u *UnsafeRegion) TakeHandle() (Handle, error) {
	if u == nil {
		return 0, ErrClosed
	}
	return u.r.takeHandle()
}

// Close unmaps the region and releases the handle if it is still owned. It is
// safe to call more than once.
func (u *UnsafeRegion) Close() error {
	if u == nil {
		return nil
	}
	return u.r.close()
}

// ReadOnlyRegion is a shared-memory region mapped read-only.
type ReadOnlyRegion struct {
	r *region
}

// Bytes returns the mapping. Writing to it faults.
func (r *ReadOnlyRegion) Bytes() []byte {
	if r == nil {
		return nil
	}
	return r.r.bytes()
}

func (r *ReadOnlyRegion) Size() int {
	if r == nil {
		return 0
	}
	return r.r.size
}

func (r *ReadOnlyRegion) Valid() bool {
	return r != nil && r.r.valid()
}

func (r *ReadOnlyRegion) Duplicate() (*ReadOnlyRegion, error) {
	d, err := r.r.dup(false)
	if err != nil {
		return nil, err
	}
	return &ReadOnlyRegion{r: d}, nil
}

func (r *ReadOnlyRegion) TakeHandle() (Handle, error) {
	if r == nil {
		return 0, ErrClosed
	}
	return r.r.takeHandle()
}

func (r *ReadOnlyRegion) Close() error {
	if r == nil {
		return nil
	}
	return r.r.close()
}
