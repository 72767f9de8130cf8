package view

import (
	"image"
	"sync"

	"github.com/breeze-rmm/offscreen/internal/frame"
	"github.com/breeze-rmm/offscreen/internal/gfx"
	"github.com/breeze-rmm/offscreen/internal/logging"
	"github.com/breeze-rmm/offscreen/internal/shm"
)

// SoftwareSurface is a shared-memory backing store the compositor rasters
// into directly. Each Draw hands a duplicate of the region to the paint
// callback while the surface is active.
type SoftwareSurface struct {
	onPaint frame.PaintFunc

	mu     sync.Mutex
	active bool
	size   gfx.Size
	region *shm.UnsafeRegion
}

func newSoftwareSurface(size gfx.Size, onPaint frame.PaintFunc) (*SoftwareSurface, error) {
	s := &SoftwareSurface{onPaint: onPaint}
	if err := s.Allocate(size); err != nil {
		return nil, err
	}
	return s, nil
}

// Allocate replaces the backing store with one of size pixels. Frames
// already handed out keep their own duplicate.
func (s *SoftwareSurface) Allocate(size gfx.Size) error {
	var region *shm.UnsafeRegion
	if !size.IsEmpty() {
		var err error
		region, err = shm.NewUnsafe(size.Width * size.Height * gfx.BytesPerPixel)
		if err != nil {
			return err
		}
	}
	s.mu.Lock()
	old := s.region
	s.region = region
	s.size = size
	s.mu.Unlock()
	return old.Close()
}

// Pixels returns the writable backing store and its size.
func (s *SoftwareSurface) Pixels() ([]byte, gfx.Size) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.region.Bytes(), s.size
}

func (s *SoftwareSurface) Size() gfx.Size {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *SoftwareSurface) SetActive(active bool) {
	s.mu.Lock()
	s.active = active
	s.mu.Unlock()
}

func (s *SoftwareSurface) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Draw reports that damage has been rastered. done runs once the frame is
// consumed, or right away when nothing is painted.
func (s *SoftwareSurface) Draw(damage image.Rectangle, done func()) {
	s.mu.Lock()
	active, size, region := s.active, s.size, s.region
	s.mu.Unlock()

	if !active || !region.Valid() || s.onPaint == nil {
		if done != nil {
			done()
		}
		return
	}
	dup, err := region.Duplicate()
	if err != nil {
		log.Warn("duplicating surface region failed", logging.KeyError, err)
		if done != nil {
			done()
		}
		return
	}
	s.onPaint(frame.NewUnsafe(size, gfx.ClampDamage(damage, size), dup, done))
}

// Close releases the backing store.
func (s *SoftwareSurface) Close() error {
	s.mu.Lock()
	region := s.region
	s.region = nil
	s.active = false
	s.mu.Unlock()
	return region.Close()
}
