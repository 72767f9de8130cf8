//go:build unix

package view

import (
	"errors"
	"image"
	"reflect"
	"testing"
	"time"

	"github.com/breeze-rmm/offscreen/internal/capture"
	"github.com/breeze-rmm/offscreen/internal/gfx"
)

func TestShowIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)

	h.c.Show()
	h.c.Show()

	if h.host.shown != 1 {
		t.Fatalf("render host WasShown = %d, want 1", h.host.shown)
	}
	want := []string{"SetCompositor", "WasShown"}
	if got := h.fh.callList(); !reflect.DeepEqual(got, want) {
		t.Fatalf("frame host calls = %v, want %v", got, want)
	}
	if !h.c.State().Showing {
		t.Fatal("view should be showing")
	}
}

func TestHideReversesShow(t *testing.T) {
	h := newHarness(t, nil)

	h.c.Hide()
	if len(h.fh.callList()) != 0 || h.host.hidden != 0 {
		t.Fatal("Hide on a hidden view should do nothing")
	}

	h.c.Show()
	h.c.Hide()
	h.c.Hide()
	want := []string{"SetCompositor", "WasShown", "WasHidden", "ResetCompositor"}
	if got := h.fh.callList(); !reflect.DeepEqual(got, want) {
		t.Fatalf("frame host calls = %v, want %v", got, want)
	}
	if h.host.hidden != 1 {
		t.Fatalf("render host WasHidden = %d, want 1", h.host.hidden)
	}
}

func TestResizeIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	initial := h.comp.resizeCount()

	h.c.SetSize(gfx.Size{Width: 800, Height: 600})
	h.c.SetScaleFactor(1)
	if got := h.comp.resizeCount(); got != initial {
		t.Fatalf("unchanged size resized the compositor (%d -> %d)", initial, got)
	}

	h.c.SetSize(gfx.Size{Width: 1024, Height: 768})
	h.c.SetSize(gfx.Size{Width: 1024, Height: 768})
	if got := h.comp.resizeCount(); got != initial+1 {
		t.Fatalf("resizes = %d, want %d", got, initial+1)
	}

	h.c.SetScaleFactor(2)
	if got := h.comp.resizeCount(); got != initial+2 {
		t.Fatalf("scale change did not resize: %d", got)
	}
	last := h.comp.resizes[len(h.comp.resizes)-1]
	if last != (gfx.Size{Width: 2048, Height: 1536}) {
		t.Fatalf("pixel size = %v", last)
	}
	if h.fh.pixels != last {
		t.Fatalf("frame host told %v, want %v", h.fh.pixels, last)
	}
}

func TestSetFrameRateClamps(t *testing.T) {
	h := newHarness(t, nil)
	tests := []struct{ in, want int }{{0, 1}, {-3, 1}, {24, 24}, {120, 60}}
	for _, tt := range tests {
		if got := h.c.SetFrameRate(tt.in); got != tt.want {
			t.Errorf("SetFrameRate(%d) = %d, want %d", tt.in, got, tt.want)
		}
		if h.c.State().FrameRate != tt.want {
			t.Errorf("state frame rate = %d, want %d", h.c.State().FrameRate, tt.want)
		}
		if h.c.Governor().Threshold() != time.Second/time.Duration(tt.want) {
			t.Errorf("threshold = %v for rate %d", h.c.Governor().Threshold(), tt.want)
		}
	}
}

func TestNeedsBeginFramesGatedByPainting(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Painting = false })
	s, err := h.c.CreateSoftwareSurface()
	if err != nil {
		t.Fatalf("CreateSoftwareSurface: %v", err)
	}

	h.c.SetNeedsBeginFrames(true)
	if s.Active() {
		t.Fatal("surface active while painting is disabled")
	}
	if !h.c.Governor().Active() {
		t.Fatal("governor should tick when begin frames are needed")
	}

	h.c.SetPainting(true)
	if !s.Active() {
		t.Fatal("surface inactive after painting resumed")
	}
	h.c.SetNeedsBeginFrames(false)
	if s.Active() || h.c.Governor().Active() {
		t.Fatal("releasing begin frames should deactivate surface and governor")
	}
}

func TestCopyStrategyDamage(t *testing.T) {
	h := newHarness(t, nil)

	h.c.OnSwapCompositorFrame(&CompositorFrame{ScrollOffset: gfx.Vector2D{Y: 40}})
	if h.c.Strategy() != "" {
		t.Fatal("frame without content chose a strategy")
	}
	if h.c.LastScrollOffset().Y != 40 {
		t.Fatal("scroll offset not tracked")
	}

	h.c.OnSwapCompositorFrame(contentFrame(gfx.Size{Width: 800, Height: 600}, gfx.RectF{X: 700.5, Y: -10, W: 200, H: 50}))
	h.settle(t)

	if h.c.Strategy() != "copy" {
		t.Fatalf("strategy = %q", h.c.Strategy())
	}
	if len(h.fh.swaps) != 1 {
		t.Fatalf("frame host swaps = %d", len(h.fh.swaps))
	}
	if h.paint.count() != 1 {
		t.Fatalf("painted %d frames, want 1", h.paint.count())
	}
	f := h.paint.frames[0]
	if want := image.Rect(700, 0, 800, 40); f.Damage != want {
		t.Fatalf("damage = %v, want %v", f.Damage, want)
	}
	if f.PixelSize != (gfx.Size{Width: 800, Height: 600}) || f.ReadOnly() {
		t.Fatalf("frame = %v read-only=%v", f.PixelSize, f.ReadOnly())
	}
}

func TestCopyStrategyGivesUpAfterRetries(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.RetryLimit = 1 })
	h.comp.failCopies = true

	h.c.OnSwapCompositorFrame(contentFrame(gfx.Size{Width: 800, Height: 600}, gfx.RectF{W: 10, H: 10}))
	h.settle(t)

	if got := h.comp.copyCount(); got != 2 {
		t.Fatalf("copy requests = %d, want 2", got)
	}
	if h.paint.count() != 0 {
		t.Fatal("failed copy produced a frame")
	}
}

func TestSoftwareSurfaceAfterCopyStrategyFails(t *testing.T) {
	h := newHarness(t, nil)
	h.c.OnSwapCompositorFrame(contentFrame(gfx.Size{Width: 800, Height: 600}, gfx.RectF{W: 1, H: 1}))
	h.settle(t)

	if _, err := h.c.CreateSoftwareSurface(); !errors.Is(err, ErrStrategyFixed) {
		t.Fatalf("err = %v, want ErrStrategyFixed", err)
	}
}

func TestSurfaceStrategy(t *testing.T) {
	h := newHarness(t, nil)
	s, err := h.c.CreateSoftwareSurface()
	if err != nil {
		t.Fatal(err)
	}
	if s.Active() {
		t.Fatal("new surface should start inactive")
	}

	h.c.OnSwapCompositorFrame(contentFrame(gfx.Size{Width: 800, Height: 600}, gfx.RectF{W: 10, H: 10}))
	if h.c.Strategy() != "software" {
		t.Fatalf("strategy = %q", h.c.Strategy())
	}
	if !s.Active() {
		t.Fatal("first frame without a tick source should activate the surface")
	}
	if h.comp.copyCount() != 0 {
		t.Fatal("surface strategy requested a copy")
	}

	pix, size := s.Pixels()
	pix[0] = 0xFF
	done := 0
	s.Draw(image.Rect(-5, -5, 20, 20), func() { done++ })
	if h.paint.count() != 1 {
		t.Fatalf("painted %d frames", h.paint.count())
	}
	f := h.paint.frames[0]
	if f.PixelSize != size || f.Damage != image.Rect(0, 0, 20, 20) {
		t.Fatalf("frame size=%v damage=%v", f.PixelSize, f.Damage)
	}
	if f.Bytes()[0] != 0xFF {
		t.Fatal("frame does not share the surface memory")
	}
	f.Complete()
	if done != 1 {
		t.Fatalf("draw completion ran %d times", done)
	}
}

func TestSurfaceResizedWithView(t *testing.T) {
	h := newHarness(t, nil)
	s, err := h.c.CreateSoftwareSurface()
	if err != nil {
		t.Fatal(err)
	}
	h.c.SetSize(gfx.Size{Width: 100, Height: 50})
	h.c.SetScaleFactor(2)
	if got := s.Size(); got != (gfx.Size{Width: 200, Height: 100}) {
		t.Fatalf("surface size = %v", got)
	}
	if pix, _ := s.Pixels(); len(pix) != 200*100*4 {
		t.Fatalf("surface bytes = %d", len(pix))
	}
}

func TestInvalidateCapturesFullBounds(t *testing.T) {
	h := newHarness(t, nil)

	h.c.Invalidate()
	h.settle(t)
	if h.comp.copyCount() != 0 {
		t.Fatal("Invalidate before the first frame should do nothing")
	}

	h.c.OnSwapCompositorFrame(contentFrame(gfx.Size{Width: 800, Height: 600}, gfx.RectF{W: 1, H: 1}))
	h.settle(t)
	h.c.Invalidate()
	h.settle(t)

	if h.paint.count() != 2 {
		t.Fatalf("painted %d frames, want 2", h.paint.count())
	}
	if got := h.paint.frames[1].Damage; got != image.Rect(0, 0, 800, 600) {
		t.Fatalf("invalidate damage = %v", got)
	}
}

func TestCopiedFrameDamageStaysInsideStaleBitmap(t *testing.T) {
	h := newHarness(t, nil)
	h.comp.stale = gfx.Size{Width: 800, Height: 600}

	h.c.OnSwapCompositorFrame(contentFrame(gfx.Size{Width: 800, Height: 600}, gfx.RectF{W: 1, H: 1}))
	h.settle(t)
	h.c.SetSize(gfx.Size{Width: 1024, Height: 768})
	h.c.Invalidate()
	h.settle(t)

	if h.paint.count() != 2 {
		t.Fatalf("painted %d frames, want 2", h.paint.count())
	}
	for i, f := range h.paint.frames {
		if !f.Damage.In(f.PixelSize.Rect()) {
			t.Errorf("frame %d: damage %v not inside %v", i, f.Damage, f.PixelSize.Rect())
		}
	}
	if got := h.paint.frames[1].Damage; got != image.Rect(0, 0, 800, 600) {
		t.Fatalf("invalidate damage = %v, want the returned bitmap bounds", got)
	}
}

func TestRenderProcessGoneStopsCopies(t *testing.T) {
	h := newHarness(t, nil)
	h.c.RenderProcessGone()

	h.c.OnSwapCompositorFrame(contentFrame(gfx.Size{Width: 800, Height: 600}, gfx.RectF{W: 1, H: 1}))
	h.settle(t)
	if h.comp.copyCount() != 0 || h.paint.count() != 0 {
		t.Fatalf("copies = %d, frames = %d", h.comp.copyCount(), h.paint.count())
	}
}

func TestDestroyDetachesBeforeStopping(t *testing.T) {
	h := newHarness(t, nil)
	h.c.Show()
	h.c.SetNeedsBeginFrames(true)

	h.c.Destroy()
	h.c.Destroy()

	want := []string{"SetCompositor", "WasShown", "WasHidden", "ResetCompositor"}
	if got := h.fh.callList(); !reflect.DeepEqual(got, want) {
		t.Fatalf("frame host calls = %v, want %v", got, want)
	}
	if h.c.Governor().Active() {
		t.Fatal("governor still active after Destroy")
	}
	if h.c.RenderHostAlive() {
		t.Fatal("destroyed view reports a live render host")
	}

	h.c.Show()
	if len(h.fh.callList()) != len(want) {
		t.Fatal("Show after Destroy reached the frame host")
	}
}

func TestControlAfterDestroyIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	h.c.Show()
	h.c.SetNeedsBeginFrames(true)
	h.c.Destroy()
	vsyncs := len(h.comp.vsync)

	h.c.SetNeedsBeginFrames(true)
	h.c.SetPainting(false)
	h.c.SetPainting(true)
	if got := h.c.SetFrameRate(30); got != 60 {
		t.Fatalf("SetFrameRate after Destroy = %d, want 60", got)
	}

	if h.c.Governor().Active() {
		t.Fatal("SetNeedsBeginFrames restarted the governor after Destroy")
	}
	if h.c.Governor().FrameRate() != 60 || h.c.State().FrameRate != 60 {
		t.Fatal("frame rate changed after Destroy")
	}
	if len(h.comp.vsync) != vsyncs {
		t.Fatal("compositor vsync updated after Destroy")
	}
}

func TestVideoControlAfterDestroyIsNoop(t *testing.T) {
	capt := &stubCapturer{}
	reg := capture.NewRegistry()
	h := newHarness(t, func(o *Options) {
		o.VideoCapturer = capt
		o.Registry = reg
		o.Size = gfx.Size{Width: 8, Height: 8}
	})
	h.c.Destroy()
	if reg.Len() != 0 || capt.stopped != 1 {
		t.Fatalf("after Destroy: registry = %d, stopped = %d", reg.Len(), capt.stopped)
	}
	started := capt.started

	h.c.SetPainting(false)
	h.c.SetPainting(true)
	h.c.SetFrameRate(24)

	if reg.Len() != 0 {
		t.Fatal("SetPainting registered the capture stream after Destroy")
	}
	if capt.started != started || capt.stopped != 1 {
		t.Fatalf("capturer restarted after Destroy (started %q, stopped %d)", capt.started, capt.stopped)
	}
}

func TestDestroyDropsInflightCopies(t *testing.T) {
	h := newHarness(t, nil)

	gate := make(chan struct{})
	h.seq.Post(func() { <-gate })
	h.c.OnSwapCompositorFrame(contentFrame(gfx.Size{Width: 800, Height: 600}, gfx.RectF{W: 1, H: 1}))
	time.Sleep(10 * time.Millisecond)
	h.c.Destroy()
	close(gate)
	h.settle(t)

	if h.paint.count() != 0 {
		t.Fatal("copy completed into a destroyed view")
	}
}
