package view

import (
	"image"
	"time"

	"github.com/breeze-rmm/offscreen/internal/beginframe"
	"github.com/breeze-rmm/offscreen/internal/gfx"
)

// RenderHost is the renderer side of the page.
type RenderHost interface {
	WasShown()
	WasHidden()
	WasResized()
}

// Compositor assembles the page layers into frames.
type Compositor interface {
	SetScaleAndSize(scale float64, pixelSize gfx.Size)
	SetAuthoritativeVSyncInterval(d time.Duration)
	SendBeginFrame(args beginframe.Args)
	// RequestCopyOfOutput calls result exactly once with the composited
	// pixels of area, or nil when the copy failed.
	RequestCopyOfOutput(area image.Rectangle, result func(*gfx.Bitmap))
}

// FrameHost presents delegated frames and owns the compositor binding.
type FrameHost interface {
	SetCompositor(c Compositor)
	ResetCompositor()
	WasShown()
	WasHidden()
	WasResized(pixelSize gfx.Size)
	SwapCompositorFrame(f *CompositorFrame)
}

// CompositorFrame is the swap notification for one composited frame.
type CompositorFrame struct {
	ScrollOffset gfx.Vector2D
	// HasContent is false for metadata-only swaps.
	HasContent bool
	// OutputSize is the root pass output size in pixels.
	OutputSize gfx.Size
	// Damage is the root pass damage in pixels.
	Damage gfx.RectF
}
