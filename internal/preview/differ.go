package preview

import (
	"hash/crc32"
	"image"
	"sync"
	"sync/atomic"
)

// frameDiffer detects unchanged frames via CRC32 hash of raw pixel data.
type frameDiffer struct {
	mu          sync.Mutex
	lastHash    uint32
	hasLastHash bool
	skipped     atomic.Uint64
	total       atomic.Uint64
}

func newFrameDiffer() *frameDiffer {
	return &frameDiffer{}
}

// HasChanged computes CRC32 of pix and returns true if it differs from the
// last published frame. Returns true on the first frame.
func (d *frameDiffer) HasChanged(pix []byte) bool {
	d.total.Add(1)
	h := crc32.ChecksumIEEE(pix)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hasLastHash && h == d.lastHash {
		d.skipped.Add(1)
		return false
	}
	d.lastHash = h
	d.hasLastHash = true
	return true
}

// HasChangedDamage uses the producer's damage rectangle instead of hashing.
// Empty damage means the frame is identical to the previous one.
func (d *frameDiffer) HasChangedDamage(damage image.Rectangle) bool {
	d.total.Add(1)
	if damage.Empty() {
		d.skipped.Add(1)
		return false
	}
	return true
}

// Reset clears the stored hash (e.g. on resize).
func (d *frameDiffer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hasLastHash = false
}

// Stats returns (total frames checked, frames skipped).
func (d *frameDiffer) Stats() (total, skipped uint64) {
	return d.total.Load(), d.skipped.Load()
}
