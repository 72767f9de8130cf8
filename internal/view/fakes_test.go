package view

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/breeze-rmm/offscreen/internal/beginframe"
	"github.com/breeze-rmm/offscreen/internal/frame"
	"github.com/breeze-rmm/offscreen/internal/gfx"
	"github.com/breeze-rmm/offscreen/internal/workerpool"
)

type fakeRenderHost struct {
	mu      sync.Mutex
	shown   int
	hidden  int
	resized int
}

func (h *fakeRenderHost) WasShown() {
	h.mu.Lock()
	h.shown++
	h.mu.Unlock()
}

func (h *fakeRenderHost) WasHidden() {
	h.mu.Lock()
	h.hidden++
	h.mu.Unlock()
}

func (h *fakeRenderHost) WasResized() {
	h.mu.Lock()
	h.resized++
	h.mu.Unlock()
}

type fakeCompositor struct {
	mu          sync.Mutex
	resizes     []gfx.Size
	scales      []float64
	vsync       []time.Duration
	beginFrames []beginframe.Args
	copies      []image.Rectangle
	failCopies  bool
	// stale, when set, is the size of every copy result, like a compositor
	// that has not produced a frame since the last resize.
	stale gfx.Size
}

func (c *fakeCompositor) SetScaleAndSize(scale float64, size gfx.Size) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scales = append(c.scales, scale)
	c.resizes = append(c.resizes, size)
}

func (c *fakeCompositor) SetAuthoritativeVSyncInterval(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vsync = append(c.vsync, d)
}

func (c *fakeCompositor) SendBeginFrame(args beginframe.Args) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beginFrames = append(c.beginFrames, args)
}

func (c *fakeCompositor) RequestCopyOfOutput(area image.Rectangle, result func(*gfx.Bitmap)) {
	c.mu.Lock()
	c.copies = append(c.copies, area)
	fail := c.failCopies
	size := gfx.SizeOf(area)
	if !c.stale.IsEmpty() {
		size = c.stale
	}
	c.mu.Unlock()
	go func() {
		if fail {
			result(nil)
			return
		}
		result(gfx.NewBitmap(size, gfx.FormatBGRA))
	}()
}

func (c *fakeCompositor) resizeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.resizes)
}

func (c *fakeCompositor) copyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.copies)
}

type fakeFrameHost struct {
	mu     sync.Mutex
	calls  []string
	swaps  []*CompositorFrame
	bound  Compositor
	pixels gfx.Size
}

func (h *fakeFrameHost) record(call string) {
	h.mu.Lock()
	h.calls = append(h.calls, call)
	h.mu.Unlock()
}

func (h *fakeFrameHost) SetCompositor(c Compositor) {
	h.mu.Lock()
	h.bound = c
	h.mu.Unlock()
	h.record("SetCompositor")
}

func (h *fakeFrameHost) ResetCompositor() {
	h.mu.Lock()
	h.bound = nil
	h.mu.Unlock()
	h.record("ResetCompositor")
}

func (h *fakeFrameHost) WasShown() { h.record("WasShown") }
func (h *fakeFrameHost) WasHidden() { h.record("WasHidden") }

func (h *fakeFrameHost) WasResized(size gfx.Size) {
	h.mu.Lock()
	h.pixels = size
	h.mu.Unlock()
	h.record("WasResized")
}

func (h *fakeFrameHost) SwapCompositorFrame(f *CompositorFrame) {
	h.mu.Lock()
	h.swaps = append(h.swaps, f)
	h.mu.Unlock()
}

func (h *fakeFrameHost) callList() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

type paintRecorder struct {
	mu     sync.Mutex
	frames []*frame.Frame
}

func (p *paintRecorder) paint(f *frame.Frame) {
	p.mu.Lock()
	p.frames = append(p.frames, f)
	p.mu.Unlock()
}

func (p *paintRecorder) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

func (p *paintRecorder) completeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range p.frames {
		f.Complete()
	}
}

type harness struct {
	c     *Controller
	host  *fakeRenderHost
	comp  *fakeCompositor
	fh    *fakeFrameHost
	paint *paintRecorder
	seq   *workerpool.Sequence
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		host:  &fakeRenderHost{},
		comp:  &fakeCompositor{},
		fh:    &fakeFrameHost{},
		paint: &paintRecorder{},
		seq:   workerpool.NewSequence("ui"),
	}
	opts := Options{
		RenderHost:  h.host,
		Compositor:  h.comp,
		FrameHost:   h.fh,
		Poster:      h.seq,
		OnPaint:     h.paint.paint,
		Size:        gfx.Size{Width: 800, Height: 600},
		ScaleFactor: 1,
		FrameRate:   60,
		Painting:    true,
		RetryLimit:  2,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.c = NewController(opts)
	t.Cleanup(func() {
		h.c.Destroy()
		h.seq.Stop(context.Background())
		h.paint.completeAll()
	})
	return h
}

// settle runs the sequence until copy requests stop arriving.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	last := -1
	for stable := 0; stable < 3; {
		time.Sleep(5 * time.Millisecond)
		if err := h.seq.Flush(ctx); err != nil {
			t.Fatalf("Flush: %v", err)
		}
		if n := h.comp.copyCount() + h.paint.count(); n == last {
			stable++
		} else {
			last, stable = n, 0
		}
	}
}

func contentFrame(size gfx.Size, damage gfx.RectF) *CompositorFrame {
	return &CompositorFrame{HasContent: true, OutputSize: size, Damage: damage}
}
