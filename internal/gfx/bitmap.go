package gfx

import (
	"errors"
	"image"

	"golang.org/x/image/draw"
)

// PixelFormat is the memory layout of a 32-bit pixel.
type PixelFormat int

const (
	// FormatBGRA is the compositor's native layout (ARGB as a little-endian word).
	FormatBGRA PixelFormat = iota
	FormatRGBA
)

func (f PixelFormat) String() string {
	switch f {
	case FormatBGRA:
		return "bgra"
	case FormatRGBA:
		return "rgba"
	default:
		return "unknown"
	}
}

const BytesPerPixel = 4

var ErrShortBuffer = errors.New("gfx: pixel buffer smaller than stride*height")

// Bitmap is an owned 32-bit pixel buffer.
type Bitmap struct {
	Width  int
	Height int
	Stride int
	Format PixelFormat
	Pix    []byte
}

// NewBitmap allocates a zeroed, tightly packed bitmap.
func NewBitmap(size Size, format PixelFormat) *Bitmap {
	stride := size.Width * BytesPerPixel
	return &Bitmap{
		Width:  size.Width,
		Height: size.Height,
		Stride: stride,
		Format: format,
		Pix:    make([]byte, stride*size.Height),
	}
}

// WrapBitmap wraps pix without copying.
func WrapBitmap(pix []byte, size Size, stride int, format PixelFormat) (*Bitmap, error) {
	if stride < size.Width*BytesPerPixel || len(pix) < stride*size.Height {
		return nil, ErrShortBuffer
	}
	return &Bitmap{Width: size.Width, Height: size.Height, Stride: stride, Format: format, Pix: pix}, nil
}

// FromImage copies img into a new bitmap of the requested format.
func FromImage(img image.Image, format PixelFormat) *Bitmap {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	bmp := NewBitmap(SizeOf(rgba.Rect), format)
	for y := 0; y < bmp.Height; y++ {
		copy(bmp.Pix[y*bmp.Stride:y*bmp.Stride+bmp.Width*BytesPerPixel], rgba.Pix[y*rgba.Stride:])
	}
	if format == FormatBGRA {
		swapRB(bmp.Pix)
	}
	return bmp
}

func (b *Bitmap) Size() Size {
	return Size{Width: b.Width, Height: b.Height}
}

func (b *Bitmap) IsEmpty() bool {
	return b == nil || b.Width <= 0 || b.Height <= 0 || len(b.Pix) == 0
}

// ByteLen is the number of bytes a tightly packed copy needs.
func (b *Bitmap) ByteLen() int {
	return b.Width * b.Height * BytesPerPixel
}

// CopyTo writes the bitmap tightly packed into dst and returns the bytes
// written.
func (b *Bitmap) CopyTo(dst []byte) int {
	row := b.Width * BytesPerPixel
	n := 0
	for y := 0; y < b.Height && n+row <= len(dst); y++ {
		n += copy(dst[n:n+row], b.Pix[y*b.Stride:y*b.Stride+row])
	}
	return n
}

// ToRGBA returns an RGBA copy suitable for the image/* encoders.
func (b *Bitmap) ToRGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, b.Width, b.Height))
	row := b.Width * BytesPerPixel
	for y := 0; y < b.Height; y++ {
		copy(img.Pix[y*img.Stride:y*img.Stride+row], b.Pix[y*b.Stride:y*b.Stride+row])
	}
	if b.Format == FormatBGRA {
		swapRB(img.Pix)
	}
	return img
}

// Scale returns img resized by factor using bilinear filtering. Factors
// outside (0,1) return img unchanged.
func Scale(img *image.RGBA, factor float64) *image.RGBA {
	if factor <= 0 || factor >= 1 {
		return img
	}
	b := img.Bounds()
	w := max(int(float64(b.Dx())*factor), 1)
	h := max(int(float64(b.Dy())*factor), 1)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// swapRB converts between BGRA and RGBA in place.
func swapRB(pix []byte) {
	for i := 0; i+3 < len(pix); i += 4 {
		pix[i], pix[i+2] = pix[i+2], pix[i]
	}
}
