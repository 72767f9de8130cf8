// Package frame defines the unit handed from frame producers to the delivery
// channel.
package frame

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/breeze-rmm/offscreen/internal/gfx"
	"github.com/breeze-rmm/offscreen/internal/shm"
)

// Frame is a produced bitmap living in shared memory. Exactly one of the two
// regions is set. Whoever receives a Frame must call Complete once it is done
// with the pixels; Complete releases the regions and signals the producer.
type Frame struct {
	PixelSize gfx.Size
	Damage    image.Rectangle
	Format    gfx.PixelFormat
	Timestamp time.Time

	unsafe   *shm.UnsafeRegion
	readOnly *shm.ReadOnlyRegion
	done     func()
	once     sync.Once
}

// PaintFunc receives produced frames.
type PaintFunc func(f *Frame)

// NewUnsafe wraps a writable region. done may be nil.
func NewUnsafe(size gfx.Size, damage image.Rectangle, r *shm.UnsafeRegion, done func()) *Frame {
	return &Frame{
		PixelSize: size,
		Damage:    damage,
		Format:    gfx.FormatBGRA,
		Timestamp: time.Now(),
		unsafe:    r,
		done:      done,
	}
}

// NewReadOnly wraps a read-only region. done may be nil.
func NewReadOnly(size gfx.Size, damage image.Rectangle, r *shm.ReadOnlyRegion, done func()) *Frame {
	return &Frame{
		PixelSize: size,
		Damage:    damage,
		Format:    gfx.FormatBGRA,
		Timestamp: time.Now(),
		readOnly:  r,
		done:      done,
	}
}

// FromBitmap copies bmp into a fresh shared-memory region.
func FromBitmap(bmp *gfx.Bitmap, damage image.Rectangle) (*Frame, error) {
	if bmp.IsEmpty() {
		return nil, fmt.Errorf("frame: empty bitmap")
	}
	r, err := shm.NewUnsafe(bmp.ByteLen())
	if err != nil {
		return nil, err
	}
	bmp.CopyTo(r.Bytes())
	f := NewUnsafe(bmp.Size(), damage, r, nil)
	f.Format = bmp.Format
	return f, nil
}

// Valid reports whether either region can still hand out a handle.
func (f *Frame) Valid() bool {
	return f.unsafe.Valid() || f.readOnly.Valid()
}

// ReadOnly reports whether the pixels live in a read-only region.
func (f *Frame) ReadOnly() bool {
	return f.readOnly != nil
}

// Bytes returns the mapped pixels, tightly packed at PixelSize.
func (f *Frame) Bytes() []byte {
	if f.unsafe != nil {
		return f.unsafe.Bytes()
	}
	return f.readOnly.Bytes()
}

// DataSize is the region size in bytes.
func (f *Frame) DataSize() int {
	if f.unsafe != nil {
		return f.unsafe.Size()
	}
	return f.readOnly.Size()
}

// TakeHandle transfers the platform handle of whichever region is valid.
func (f *Frame) TakeHandle() (shm.Handle, error) {
	if f.unsafe.Valid() {
		return f.unsafe.TakeHandle()
	}
	if f.readOnly.Valid() {
		return f.readOnly.TakeHandle()
	}
	return 0, shm.ErrClosed
}

// Bitmap returns a copy of the pixels, or nil when nothing is mapped.
func (f *Frame) Bitmap() *gfx.Bitmap {
	pix := f.Bytes()
	if len(pix) < f.PixelSize.Width*f.PixelSize.Height*gfx.BytesPerPixel || f.PixelSize.IsEmpty() {
		return nil
	}
	bmp := gfx.NewBitmap(f.PixelSize, f.Format)
	copy(bmp.Pix, pix)
	return bmp
}

// Complete releases the regions and signals the producer. Only the first
// call has an effect.
func (f *Frame) Complete() {
	f.once.Do(func() {
		_ = f.unsafe.Close()
		_ = f.readOnly.Close()
		if f.done != nil {
			f.done()
		}
	})
}
