package sim

import (
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/offscreen/internal/capture"
	"github.com/breeze-rmm/offscreen/internal/gfx"
	"github.com/breeze-rmm/offscreen/internal/logging"
	"github.com/breeze-rmm/offscreen/internal/shm"
)

// maxInFlight bounds the frames handed out and not yet released, like a
// capture buffer pool.
const maxInFlight = 3

// FrameSource provides composited frames to the capturer.
type FrameSource interface {
	Latest() (*gfx.Bitmap, image.Rectangle, uint64)
}

// Capturer pushes the latest composited frame through a registry at the
// minimum capture period, copying each into a read-only shared region.
type Capturer struct {
	src      FrameSource
	registry *capture.Registry
	refresh  chan struct{}
	inFlight atomic.Int32

	mu          sync.Mutex
	constraints capture.Constraints
	throttling  bool
	sizePeriod  time.Duration
	format      gfx.PixelFormat
	period      time.Duration
	stop        chan struct{}
	done        chan struct{}
	lastSeq     uint64
	warned      bool
}

func NewCapturer(src FrameSource, registry *capture.Registry) *Capturer {
	if registry == nil {
		registry = capture.Default()
	}
	return &Capturer{
		src:      src,
		registry: registry,
		refresh:  make(chan struct{}, 1),
		period:   time.Second / 60,
	}
}

func (c *Capturer) SetResolutionConstraints(cons capture.Constraints) {
	c.mu.Lock()
	c.constraints = cons
	c.mu.Unlock()
}

func (c *Capturer) Constraints() capture.Constraints {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.constraints
}

func (c *Capturer) SetAutoThrottlingEnabled(enabled bool) {
	c.mu.Lock()
	c.throttling = enabled
	c.mu.Unlock()
}

func (c *Capturer) SetMinSizeChangePeriod(d time.Duration) {
	c.mu.Lock()
	c.sizePeriod = d
	c.mu.Unlock()
}

func (c *Capturer) SetFormat(f gfx.PixelFormat) {
	c.mu.Lock()
	c.format = f
	c.mu.Unlock()
}

func (c *Capturer) SetMinCapturePeriod(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.period = d
	c.mu.Unlock()
}

func (c *Capturer) capturePeriod() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.period
}

// RequestRefreshFrame captures the current frame on the next loop turn even
// if it was already delivered. Safe to call from a receiver.
func (c *Capturer) RequestRefreshFrame() {
	select {
	case c.refresh <- struct{}{}:
	default:
	}
}

// Start begins delivering frames under streamID. Starting a running
// capturer restarts it.
func (c *Capturer) Start(streamID string) {
	c.Stop()
	c.mu.Lock()
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.lastSeq = 0
	stop, done := c.stop, c.done
	cons, period, throttling, sizePeriod := c.constraints, c.period, c.throttling, c.sizePeriod
	c.mu.Unlock()

	log.Debug("capturer started",
		logging.KeyStreamID, streamID,
		"size", cons.Max.String(),
		"period", period,
		"throttling", throttling,
		"sizeChangePeriod", sizePeriod)

	go c.loop(streamID, stop, done)
}

// Stop ends delivery and waits for the loop to exit. Frames already handed
// out stay valid until released.
func (c *Capturer) Stop() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// InFlight is the number of delivered frames not yet released.
func (c *Capturer) InFlight() int {
	return int(c.inFlight.Load())
}

func (c *Capturer) loop(streamID string, stop, done chan struct{}) {
	defer close(done)
	timer := time.NewTimer(c.capturePeriod())
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-c.refresh:
			c.captureOnce(streamID, true)
		case <-timer.C:
			c.captureOnce(streamID, false)
			timer.Reset(c.capturePeriod())
		}
	}
}

func (c *Capturer) captureOnce(streamID string, force bool) {
	bmp, damage, seq := c.src.Latest()
	if bmp.IsEmpty() {
		return
	}
	if c.inFlight.Load() >= maxInFlight {
		return
	}

	c.mu.Lock()
	if !force && seq == c.lastSeq {
		c.mu.Unlock()
		return
	}
	// Damage is only meaningful relative to the frame delivered just
	// before; after a gap the whole frame is reported.
	var update *image.Rectangle
	if seq == c.lastSeq+1 {
		update = &damage
	}
	c.lastSeq = seq
	format := c.format
	c.mu.Unlock()

	region, err := c.copyToRegion(bmp, format)
	if err != nil {
		c.mu.Lock()
		warned := c.warned
		c.warned = true
		c.mu.Unlock()
		if !warned {
			log.Warn("capture buffer allocation failed", logging.KeyError, err, logging.KeyStreamID, streamID)
		}
		return
	}

	c.inFlight.Add(1)
	var once sync.Once
	release := func() {
		once.Do(func() { c.inFlight.Add(-1) })
	}
	c.registry.Deliver(streamID, capture.CapturedFrame{
		Region:      region,
		ContentRect: bmp.Size().Rect(),
		UpdateRect:  update,
		Timestamp:   time.Now(),
	}, release)
}

func (c *Capturer) copyToRegion(bmp *gfx.Bitmap, format gfx.PixelFormat) (*shm.ReadOnlyRegion, error) {
	if format != bmp.Format {
		bmp = gfx.FromImage(bmp.ToRGBA(), format)
	}
	u, err := shm.NewUnsafe(bmp.ByteLen())
	if err != nil {
		return nil, err
	}
	defer u.Close()
	bmp.CopyTo(u.Bytes())
	return u.ReadOnly()
}
