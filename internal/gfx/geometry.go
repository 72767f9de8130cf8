// Package gfx holds the geometry and bitmap types shared by the capture,
// view and delivery packages.
package gfx

import (
	"fmt"
	"image"
	"math"
)

// Size is a width/height pair in either DIPs or physical pixels; the
// holder decides which.
type Size struct {
	Width  int
	Height int
}

func (s Size) IsEmpty() bool {
	return s.Width <= 0 || s.Height <= 0
}

// Rect returns the rectangle anchored at the origin with this size.
func (s Size) Rect() image.Rectangle {
	return image.Rect(0, 0, s.Width, s.Height)
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// SizeOf returns the size of r.
func SizeOf(r image.Rectangle) Size {
	return Size{Width: r.Dx(), Height: r.Dy()}
}

// ScaleToPixels converts a DIP size to physical pixels, rounding up so the
// backing store always covers the view.
func ScaleToPixels(s Size, scale float64) Size {
	if scale <= 0 {
		scale = 1
	}
	return Size{
		Width:  int(math.Ceil(float64(s.Width) * scale)),
		Height: int(math.Ceil(float64(s.Height) * scale)),
	}
}

// RectF is a float rectangle as produced by the compositor.
type RectF struct {
	X, Y, W, H float64
}

// ToEnclosingRect returns the smallest integer rectangle containing r.
func (r RectF) ToEnclosingRect() image.Rectangle {
	if r.W <= 0 || r.H <= 0 {
		return image.Rectangle{}
	}
	return image.Rect(
		int(math.Floor(r.X)),
		int(math.Floor(r.Y)),
		int(math.Ceil(r.X+r.W)),
		int(math.Ceil(r.Y+r.H)),
	)
}

// ClampDamage intersects damage with the frame bounds. The result is always
// contained in bounds; an empty result means nothing changed.
func ClampDamage(damage image.Rectangle, bounds Size) image.Rectangle {
	r := damage.Intersect(bounds.Rect())
	if r.Empty() {
		return image.Rectangle{}
	}
	return r
}

// Vector2D is a scroll offset.
type Vector2D struct {
	X, Y float64
}
