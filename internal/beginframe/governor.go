// Package beginframe drives the render loop: a governor turns a frame rate
// into periodic begin-frame requests carrying a composite deadline.
package beginframe

import (
	"sync"
	"time"

	"github.com/breeze-rmm/offscreen/internal/logging"
	"github.com/breeze-rmm/offscreen/internal/stats"
)

var log = logging.L("beginframe")

const (
	MinFrameRate     = 1
	MaxFrameRate     = 60
	DefaultFrameRate = 60

	// EstimatedCompositeTime is the share of a 60 Hz frame reserved for the
	// downstream composite after the render host answers.
	EstimatedCompositeTime = 1000000 / (3 * 60) * time.Microsecond
)

// Args accompanies one begin-frame request.
type Args struct {
	Sequence  uint64
	FrameTime time.Time
	Deadline  time.Time
	Interval  time.Duration
}

// Sink receives begin-frame requests, normally the compositor of the
// render host.
type Sink interface {
	SendBeginFrame(args Args)
}

// VSyncSink is told the authoritative frame interval whenever it changes.
type VSyncSink interface {
	SetAuthoritativeVSyncInterval(d time.Duration)
}

// ClampFrameRate bounds r to [MinFrameRate, MaxFrameRate].
func ClampFrameRate(r int) int {
	if r < MinFrameRate {
		return MinFrameRate
	}
	if r > MaxFrameRate {
		return MaxFrameRate
	}
	return r
}

type GovernorOptions struct {
	Poster    Poster
	Sink      Sink
	VSync     VSyncSink
	FrameRate int
	Metrics   *stats.Pipeline
}

type Governor struct {
	sink    Sink
	vsync   VSyncSink
	metrics *stats.Pipeline
	src     *Source

	mu        sync.Mutex
	rate      int
	threshold time.Duration
	seq       uint64
}

func NewGovernor(opts GovernorOptions) *Governor {
	g := &Governor{
		sink:    opts.Sink,
		vsync:   opts.VSync,
		metrics: opts.Metrics,
		rate:    ClampFrameRate(opts.FrameRate),
	}
	if opts.FrameRate == 0 {
		g.rate = DefaultFrameRate
	}
	g.src = NewSource(opts.Poster, time.Second/time.Duration(g.rate), g.tick)
	return g
}

// SetFrameRate clamps r, forces a setup and returns the effective rate.
func (g *Governor) SetFrameRate(r int) int {
	g.mu.Lock()
	g.rate = ClampFrameRate(r)
	rate := g.rate
	g.mu.Unlock()

	g.Setup(true)
	return rate
}

func (g *Governor) FrameRate() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rate
}

// Threshold is the current tick interval, zero before the first setup.
func (g *Governor) Threshold() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.threshold
}

// Setup recomputes the interval from the frame rate. Without force it only
// does so when no interval has been configured yet.
func (g *Governor) Setup(force bool) {
	g.mu.Lock()
	if !force && g.threshold != 0 {
		g.mu.Unlock()
		return
	}
	g.threshold = time.Second / time.Duration(g.rate)
	threshold, rate := g.threshold, g.rate
	g.mu.Unlock()

	if g.vsync != nil {
		g.vsync.SetAuthoritativeVSyncInterval(threshold)
	}
	g.src.SetInterval(threshold)
	log.Debug("begin frame interval configured", "frameRate", rate, "intervalMs", threshold.Milliseconds())
}

func (g *Governor) SetActive(active bool) {
	g.src.SetActive(active)
}

func (g *Governor) Active() bool {
	return g.src.Active()
}

// Stop deactivates the source; pending ticks become no-ops.
func (g *Governor) Stop() {
	g.src.SetActive(false)
}

func (g *Governor) tick(now time.Time) {
	g.mu.Lock()
	interval := g.threshold
	if interval == 0 {
		interval = time.Second / time.Duration(g.rate)
	}
	g.seq++
	args := Args{
		Sequence:  g.seq,
		FrameTime: now,
		Interval:  interval,
		Deadline:  now.Add(interval - EstimatedCompositeTime),
	}
	g.mu.Unlock()

	g.metrics.RecordBeginFrame()
	if g.sink != nil {
		g.sink.SendBeginFrame(args)
	}
}
