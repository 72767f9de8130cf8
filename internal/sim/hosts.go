package sim

import (
	"sync"

	"github.com/breeze-rmm/offscreen/internal/gfx"
	"github.com/breeze-rmm/offscreen/internal/view"
	"github.com/breeze-rmm/offscreen/internal/workerpool"
)

// View is the part of the off-screen view the simulated page talks back to.
type View interface {
	OnSwapCompositorFrame(f *view.CompositorFrame)
	SetNeedsBeginFrames(needs bool)
}

// Poster schedules work on the coordinating sequence.
type Poster interface {
	Post(task workerpool.Task) bool
}

// RenderHost asks for begin frames while the page is visible. Requests are
// posted to the sequence the way a renderer message would arrive.
type RenderHost struct {
	post Poster

	mu      sync.Mutex
	view    View
	shown   bool
	resizes int
}

func NewRenderHost(post Poster) *RenderHost {
	return &RenderHost{post: post}
}

// Attach binds the host to the view that receives its begin-frame requests.
func (h *RenderHost) Attach(v View) {
	h.mu.Lock()
	h.view = v
	h.mu.Unlock()
}

func (h *RenderHost) WasShown() {
	h.setShown(true)
}

func (h *RenderHost) WasHidden() {
	h.setShown(false)
}

func (h *RenderHost) setShown(shown bool) {
	h.mu.Lock()
	h.shown = shown
	v := h.view
	h.mu.Unlock()
	if v == nil {
		return
	}
	h.post.Post(func() { v.SetNeedsBeginFrames(shown) })
}

func (h *RenderHost) WasResized() {
	h.mu.Lock()
	h.resizes++
	h.mu.Unlock()
}

func (h *RenderHost) Shown() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.shown
}

// Resizes counts WasResized notifications.
func (h *RenderHost) Resizes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resizes
}

// FrameHost records presentation state; delegated frames are counted, not
// displayed.
type FrameHost struct {
	mu      sync.Mutex
	comp    view.Compositor
	visible bool
	size    gfx.Size
	swaps   uint64
}

func NewFrameHost() *FrameHost {
	return &FrameHost{}
}

func (h *FrameHost) SetCompositor(c view.Compositor) {
	h.mu.Lock()
	h.comp = c
	h.mu.Unlock()
}

func (h *FrameHost) ResetCompositor() {
	h.mu.Lock()
	h.comp = nil
	h.mu.Unlock()
}

func (h *FrameHost) WasShown() {
	h.mu.Lock()
	h.visible = true
	h.mu.Unlock()
}

func (h *FrameHost) WasHidden() {
	h.mu.Lock()
	h.visible = false
	h.mu.Unlock()
}

func (h *FrameHost) WasResized(pixelSize gfx.Size) {
	h.mu.Lock()
	h.size = pixelSize
	h.mu.Unlock()
}

func (h *FrameHost) SwapCompositorFrame(f *view.CompositorFrame) {
	h.mu.Lock()
	h.swaps++
	h.mu.Unlock()
}

// Attached reports whether a compositor is bound.
func (h *FrameHost) Attached() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.comp != nil
}

func (h *FrameHost) Visible() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.visible
}

func (h *FrameHost) Swaps() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.swaps
}
