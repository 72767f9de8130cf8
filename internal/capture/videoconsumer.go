package capture

import (
	"image"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/breeze-rmm/offscreen/internal/frame"
	"github.com/breeze-rmm/offscreen/internal/gfx"
	"github.com/breeze-rmm/offscreen/internal/logging"
	"github.com/breeze-rmm/offscreen/internal/shm"
	"github.com/breeze-rmm/offscreen/internal/stats"
)

// SizeTolerance is how far, in pixels per dimension, a pushed frame may
// differ from the view before it is rejected.
const SizeTolerance = 2

// Constraints bound the resolution of pushed frames.
type Constraints struct {
	Min             gfx.Size
	Max             gfx.Size
	FixedResolution bool
}

// Capturer is a push-based capture stream. Started capturers deliver frames
// through Registry.Deliver under the stream id passed to Start.
type Capturer interface {
	SetResolutionConstraints(c Constraints)
	SetAutoThrottlingEnabled(enabled bool)
	SetMinSizeChangePeriod(d time.Duration)
	SetFormat(f gfx.PixelFormat)
	SetMinCapturePeriod(d time.Duration)
	RequestRefreshFrame()
	Start(streamID string)
	Stop()
}

// CapturedFrame is one pushed frame.
type CapturedFrame struct {
	Region      *shm.ReadOnlyRegion
	ContentRect image.Rectangle
	// UpdateRect is the changed area when the capturer reports one.
	UpdateRect *image.Rectangle
	Timestamp  time.Time
}

// SizeSource reports the size frames are expected to have.
type SizeSource interface {
	SizeInPixels() gfx.Size
}

type VideoOptions struct {
	View      SizeSource
	Capturer  Capturer
	Registry  *Registry
	OnFrame   frame.PaintFunc
	FrameRate int
	Metrics   *stats.Pipeline
}

// VideoConsumer validates frames from a push capturer and forwards them as
// read-only frames.
type VideoConsumer struct {
	view     SizeSource
	capturer Capturer
	registry *Registry
	onFrame  frame.PaintFunc
	metrics  *stats.Pipeline
	streamID string

	mu     sync.Mutex
	active bool
}

func NewVideoConsumer(opts VideoOptions) *VideoConsumer {
	reg := opts.Registry
	if reg == nil {
		reg = Default()
	}
	c := &VideoConsumer{
		view:     opts.View,
		capturer: opts.Capturer,
		registry: reg,
		onFrame:  opts.OnFrame,
		metrics:  opts.Metrics,
		streamID: uuid.NewString(),
	}
	c.applyConstraints()
	c.capturer.SetAutoThrottlingEnabled(false)
	c.capturer.SetMinSizeChangePeriod(0)
	c.capturer.SetFormat(gfx.FormatBGRA)
	c.SetFrameRate(opts.FrameRate)
	return c
}

func (c *VideoConsumer) StreamID() string {
	return c.streamID
}

func (c *VideoConsumer) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// SetActive starts or stops the stream.
func (c *VideoConsumer) SetActive(active bool) {
	c.mu.Lock()
	if c.active == active {
		c.mu.Unlock()
		return
	}
	c.active = active
	c.mu.Unlock()

	if active {
		c.registry.Register(c.streamID, c)
		c.capturer.Start(c.streamID)
		log.Debug("video capture started", logging.KeyStreamID, c.streamID)
		return
	}
	c.capturer.Stop()
	c.registry.Unregister(c.streamID, c)
	log.Debug("video capture stopped", logging.KeyStreamID, c.streamID)
}

// SetFrameRate sets the minimum capture period to one frame at rate.
func (c *VideoConsumer) SetFrameRate(rate int) {
	if rate < 1 {
		rate = 1
	}
	c.capturer.SetMinCapturePeriod(time.Second / time.Duration(rate))
}

// SizeChanged re-applies the constraints for the new view size and asks for
// a frame at that size.
func (c *VideoConsumer) SizeChanged() {
	c.applyConstraints()
	c.capturer.RequestRefreshFrame()
}

// RequestRefresh asks the capturer for a frame outside the regular cadence.
func (c *VideoConsumer) RequestRefresh() {
	c.capturer.RequestRefreshFrame()
}

func (c *VideoConsumer) applyConstraints() {
	size := c.view.SizeInPixels()
	c.capturer.SetResolutionConstraints(Constraints{Min: size, Max: size, FixedResolution: true})
}

// OnFrameCaptured implements Receiver.
func (c *VideoConsumer) OnFrameCaptured(f CapturedFrame, release func()) {
	done := func() {
		if release != nil {
			release()
		}
	}
	content := gfx.SizeOf(f.ContentRect)
	if !c.withinTolerance(content) {
		c.metrics.RecordReject()
		closeRegion(f.Region)
		done()
		c.SizeChanged()
		return
	}
	if !f.Region.Valid() {
		closeRegion(f.Region)
		done()
		return
	}

	damage := f.ContentRect
	if f.UpdateRect != nil {
		damage = *f.UpdateRect
	}
	damage = gfx.ClampDamage(damage.Sub(f.ContentRect.Min), content)

	c.metrics.RecordCapture(0)
	fr := frame.NewReadOnly(content, damage, f.Region, done)
	if !f.Timestamp.IsZero() {
		fr.Timestamp = f.Timestamp
	}
	if c.onFrame == nil {
		fr.Complete()
		return
	}
	c.onFrame(fr)
}

func (c *VideoConsumer) withinTolerance(content gfx.Size) bool {
	want := c.view.SizeInPixels()
	return abs(want.Width-content.Width) <= SizeTolerance && abs(want.Height-content.Height) <= SizeTolerance
}

// Close stops the stream and unregisters.
func (c *VideoConsumer) Close() {
	c.SetActive(false)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
