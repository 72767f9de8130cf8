// Package view is the off-screen view: it tracks visibility, size and
// painting state for one page, drives its render loop and routes composited
// frames into the configured capture strategy.
//
// Control methods (Show, SetSize, OnSwapCompositorFrame, ...) are expected
// to be called from the coordinating sequence. Query methods are safe from
// any goroutine.
package view

import (
	"errors"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/breeze-rmm/offscreen/internal/beginframe"
	"github.com/breeze-rmm/offscreen/internal/capture"
	"github.com/breeze-rmm/offscreen/internal/frame"
	"github.com/breeze-rmm/offscreen/internal/gfx"
	"github.com/breeze-rmm/offscreen/internal/logging"
	"github.com/breeze-rmm/offscreen/internal/stats"
)

var log = logging.L("view")

// ErrStrategyFixed is returned when a software surface is requested after
// frames are already produced by copying.
var ErrStrategyFixed = errors.New("view: capture strategy already chosen")

// State is the externally visible view state.
type State struct {
	Showing     bool
	Painting    bool
	FrameRate   int
	Size        gfx.Size
	ScaleFactor float64
}

type Options struct {
	RenderHost RenderHost
	Compositor Compositor
	FrameHost  FrameHost
	Poster     capture.Poster

	// OnPaint receives every produced frame.
	OnPaint frame.PaintFunc
	// OnBitmap, when set, receives copy-path bitmaps instead of OnPaint.
	OnBitmap capture.BitmapFunc

	Size        gfx.Size
	ScaleFactor float64
	FrameRate   int
	Painting    bool
	RetryLimit  int

	// VideoCapturer switches frame production to a push capture stream.
	VideoCapturer capture.Capturer
	Registry      *capture.Registry

	Metrics *stats.Pipeline
}

type Controller struct {
	id        string
	log       *slog.Logger
	poster    capture.Poster
	frameHost FrameHost
	comp      Compositor
	onPaint   frame.PaintFunc
	onBitmap  capture.BitmapFunc
	retry     int
	metrics   *stats.Pipeline
	governor  *beginframe.Governor
	video     *capture.VideoConsumer

	mu               sync.Mutex
	renderHost       RenderHost
	state            State
	rootSize         gfx.Size
	rootScale        float64
	needsBeginFrames bool
	tickRequested    bool
	scrollOffset     gfx.Vector2D
	surface          *SoftwareSurface
	strategy         strategy
	destroyed        bool
}

func NewController(opts Options) *Controller {
	scale := opts.ScaleFactor
	if scale <= 0 {
		scale = 1
	}
	rate := opts.FrameRate
	if rate == 0 {
		rate = beginframe.DefaultFrameRate
	}
	c := &Controller{
		id:         uuid.NewString(),
		poster:     opts.Poster,
		frameHost:  opts.FrameHost,
		comp:       opts.Compositor,
		onPaint:    opts.OnPaint,
		onBitmap:   opts.OnBitmap,
		retry:      opts.RetryLimit,
		metrics:    opts.Metrics,
		renderHost: opts.RenderHost,
		state: State{
			Painting:    opts.Painting,
			FrameRate:   beginframe.ClampFrameRate(rate),
			Size:        opts.Size,
			ScaleFactor: scale,
		},
	}
	c.log = log.With(logging.KeyViewID, c.id)
	c.governor = beginframe.NewGovernor(beginframe.GovernorOptions{
		Poster:    opts.Poster,
		Sink:      beginFrameSink{c},
		VSync:     opts.Compositor,
		FrameRate: c.state.FrameRate,
		Metrics:   opts.Metrics,
	})
	if opts.VideoCapturer != nil {
		c.video = capture.NewVideoConsumer(capture.VideoOptions{
			View:      c,
			Capturer:  opts.VideoCapturer,
			Registry:  opts.Registry,
			OnFrame:   c.paint,
			FrameRate: c.state.FrameRate,
			Metrics:   opts.Metrics,
		})
		c.strategy = &videoStrategy{c: c, video: c.video}
		c.video.SetActive(opts.Painting)
	}
	c.resizeRootLayer()
	return c
}

func (c *Controller) ID() string {
	return c.id
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Painting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Painting
}

// SizeInPixels is the view size scaled to physical pixels.
func (c *Controller) SizeInPixels() gfx.Size {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gfx.ScaleToPixels(c.state.Size, c.state.ScaleFactor)
}

// LastScrollOffset is the root scroll offset of the most recent swap.
func (c *Controller) LastScrollOffset() gfx.Vector2D {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scrollOffset
}

// Strategy names the active capture strategy, or "" before the first frame.
func (c *Controller) Strategy() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.strategy == nil {
		return ""
	}
	return c.strategy.name()
}

// tickSourceRequested reports whether the render host ever asked for
// begin frames.
func (c *Controller) tickSourceRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tickRequested
}

// Governor exposes the render loop for inspection.
func (c *Controller) Governor() *beginframe.Governor {
	return c.governor
}

func (c *Controller) Show() {
	c.mu.Lock()
	if c.state.Showing || c.destroyed {
		c.mu.Unlock()
		return
	}
	c.state.Showing = true
	host := c.renderHost
	c.mu.Unlock()

	c.frameHost.SetCompositor(c.comp)
	c.frameHost.WasShown()
	if host != nil {
		host.WasShown()
	}
	c.log.Debug("view shown")
}

func (c *Controller) Hide() {
	c.mu.Lock()
	if !c.state.Showing || c.destroyed {
		c.mu.Unlock()
		return
	}
	c.state.Showing = false
	host := c.renderHost
	c.mu.Unlock()

	if host != nil {
		host.WasHidden()
	}
	c.frameHost.WasHidden()
	c.frameHost.ResetCompositor()
	c.log.Debug("view hidden")
}

func (c *Controller) SetSize(size gfx.Size) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.state.Size = size
	c.mu.Unlock()
	c.resized()
}

func (c *Controller) SetScaleFactor(scale float64) {
	if scale <= 0 {
		scale = 1
	}
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.state.ScaleFactor = scale
	c.mu.Unlock()
	c.resized()
}

func (c *Controller) resized() {
	changed := c.resizeRootLayer()

	c.mu.Lock()
	host := c.renderHost
	c.mu.Unlock()
	if host != nil {
		host.WasResized()
	}
	if !changed {
		return
	}
	c.frameHost.WasResized(c.SizeInPixels())
	if c.video != nil {
		c.video.SizeChanged()
	}
}

// resizeRootLayer applies the current size to the compositor and surface
// and reports whether anything changed.
func (c *Controller) resizeRootLayer() bool {
	c.governor.Setup(false)

	c.mu.Lock()
	size, scale := c.state.Size, c.state.ScaleFactor
	if size == c.rootSize && scale == c.rootScale {
		c.mu.Unlock()
		return false
	}
	c.rootSize, c.rootScale = size, scale
	surface := c.surface
	c.mu.Unlock()

	pixels := gfx.ScaleToPixels(size, scale)
	c.comp.SetScaleAndSize(scale, pixels)
	if surface != nil {
		if err := surface.Allocate(pixels); err != nil {
			c.log.Warn("resizing software surface failed", logging.KeyError, err, "size", pixels.String())
		}
	}
	c.log.Debug("root layer resized", "size", size.String(), "scale", scale, "pixels", pixels.String())
	return true
}

// SetPainting pauses or resumes frame output without touching capture
// state.
func (c *Controller) SetPainting(painting bool) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.state.Painting = painting
	surface := c.surface
	c.mu.Unlock()

	if surface != nil {
		surface.SetActive(painting)
	}
	if c.video != nil {
		c.video.SetActive(painting)
	}
}

// SetNeedsBeginFrames is the render host asking for (or releasing) ticks.
func (c *Controller) SetNeedsBeginFrames(needs bool) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.governor.Setup(false)
	c.governor.SetActive(needs)

	c.mu.Lock()
	c.needsBeginFrames = needs
	c.tickRequested = true
	painting := c.state.Painting
	surface := c.surface
	c.mu.Unlock()

	if surface != nil {
		surface.SetActive(needs && painting)
	}
}

// SetFrameRate clamps rate to [1, 60] and returns the effective rate. A
// destroyed view keeps its last rate.
func (c *Controller) SetFrameRate(rate int) int {
	c.mu.Lock()
	if c.destroyed {
		rate = c.state.FrameRate
		c.mu.Unlock()
		return rate
	}
	c.mu.Unlock()

	rate = c.governor.SetFrameRate(rate)
	c.mu.Lock()
	c.state.FrameRate = rate
	c.mu.Unlock()
	if c.video != nil {
		c.video.SetFrameRate(rate)
	}
	return rate
}

// CreateSoftwareSurface switches frame production to a software surface. It
// must happen before the first content frame; afterwards the copy strategy
// is fixed and ErrStrategyFixed is returned.
func (c *Controller) CreateSoftwareSurface() (*SoftwareSurface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.surface != nil {
		return c.surface, nil
	}
	if c.strategy != nil {
		return nil, ErrStrategyFixed
	}
	s, err := newSoftwareSurface(gfx.ScaleToPixels(c.state.Size, c.state.ScaleFactor), c.paint)
	if err != nil {
		return nil, err
	}
	c.surface = s
	return s, nil
}

// OnSwapCompositorFrame ingests one composited frame.
func (c *Controller) OnSwapCompositorFrame(f *CompositorFrame) {
	c.mu.Lock()
	c.scrollOffset = f.ScrollOffset
	if c.destroyed || !f.HasContent {
		c.mu.Unlock()
		return
	}
	st := c.selectStrategyLocked()
	c.mu.Unlock()

	st.ingest(f)
}

func (c *Controller) selectStrategyLocked() strategy {
	if c.strategy != nil {
		return c.strategy
	}
	if c.surface != nil {
		c.strategy = &surfaceStrategy{c: c, surface: c.surface}
	} else {
		c.strategy = &copyStrategy{c: c, gen: capture.NewCopyFrameGenerator(capture.CopyOptions{
			Source:     c,
			Poster:     c.poster,
			OnBitmap:   c.onCopiedBitmap,
			RetryLimit: c.retry,
			Metrics:    c.metrics,
		})}
	}
	c.log.Info("capture strategy selected", "strategy", c.strategy.name())
	return c.strategy
}

// Invalidate captures the whole view once, outside the tick cadence.
func (c *Controller) Invalidate() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	st := c.strategy
	if st == nil && c.surface != nil {
		st = &surfaceStrategy{c: c, surface: c.surface, used: true}
	}
	bounds := gfx.ScaleToPixels(c.state.Size, c.state.ScaleFactor).Rect()
	c.mu.Unlock()

	if st == nil {
		c.log.Debug("invalidate before first frame ignored")
		return
	}
	st.invalidate(bounds)
}

// RenderProcessGone drops the render host; pending copies become no-ops.
func (c *Controller) RenderProcessGone() {
	c.mu.Lock()
	c.renderHost = nil
	c.mu.Unlock()
	c.governor.SetActive(false)
	c.log.Warn("render process gone")
}

// Destroy tears the view down. Outstanding completions become no-ops.
func (c *Controller) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	st := c.strategy
	showing := c.state.Showing
	c.state.Showing = false
	surface := c.surface
	c.mu.Unlock()

	if st != nil {
		st.destroy()
	}
	if c.video != nil {
		c.video.Close()
	}
	if showing {
		c.frameHost.WasHidden()
	}
	c.frameHost.ResetCompositor()

	c.governor.Stop()
	if surface != nil {
		if err := surface.Close(); err != nil {
			c.log.Debug("closing software surface", logging.KeyError, err)
		}
	}
	c.log.Debug("view destroyed")
}

// RenderHostAlive implements capture.CopySource.
func (c *Controller) RenderHostAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.renderHost != nil && !c.destroyed
}

// BackingSize implements capture.CopySource.
func (c *Controller) BackingSize() gfx.Size {
	return c.SizeInPixels()
}

// RequestCopyOfOutput implements capture.CopySource.
func (c *Controller) RequestCopyOfOutput(area image.Rectangle, result func(*gfx.Bitmap)) {
	c.comp.RequestCopyOfOutput(area, result)
}

func (c *Controller) onCopiedBitmap(damage image.Rectangle, bmp *gfx.Bitmap, start time.Time) {
	if c.onBitmap != nil {
		c.onBitmap(damage, bmp, start)
		return
	}
	f, err := frame.FromBitmap(bmp, damage)
	if err != nil {
		c.log.Warn("copying bitmap to shared memory failed", logging.KeyError, err)
		return
	}
	f.Timestamp = start
	c.paint(f)
}

func (c *Controller) paint(f *frame.Frame) {
	if c.onPaint == nil {
		f.Complete()
		return
	}
	c.onPaint(f)
}

// beginFrameSink forwards ticks to the compositor while a render host is
// attached.
type beginFrameSink struct {
	c *Controller
}

func (s beginFrameSink) SendBeginFrame(args beginframe.Args) {
	if !s.c.RenderHostAlive() {
		return
	}
	s.c.comp.SendBeginFrame(args)
}
