// Package overlay delivers produced frames to an external consumer process by
// handing it a shared-memory handle through an entry point exported by a
// module the consumer loads into (or ships next to) this process.
package overlay

import (
	"errors"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/breeze-rmm/offscreen/internal/frame"
	"github.com/breeze-rmm/offscreen/internal/logging"
	"github.com/breeze-rmm/offscreen/internal/shm"
	"github.com/breeze-rmm/offscreen/internal/stats"
)

var log = logging.L("overlay")

var ErrTransportUnavailable = errors.New("overlay: transport entry point unavailable")

const (
	DefaultModule = "discord_overlay2.node"
	DefaultSymbol = "SendOverlayFrame"
)

// SendFunc is the consumer's entry point. data points at the native record
// for version. A false return means the consumer did not take the handle.
type SendFunc func(version uint32, data unsafe.Pointer) bool

// Resolver looks up the entry point. It is called at most once per Channel.
type Resolver func(module, symbol string) (SendFunc, error)

type Options struct {
	Module        string
	Symbol        string
	RecordVersion uint32
	Metrics       *stats.Pipeline
	// Resolve overrides the platform lookup.
	Resolve Resolver
}

// Channel is the delivery end of the frame pipeline.
type Channel struct {
	module  string
	symbol  string
	version uint32
	metrics *stats.Pipeline
	resolve Resolver

	pid    atomic.Uint32
	active atomic.Bool

	once       sync.Once
	send       SendFunc
	resolveErr error
}

func NewChannel(opts Options) *Channel {
	c := &Channel{
		module:  opts.Module,
		symbol:  opts.Symbol,
		version: opts.RecordVersion,
		metrics: opts.Metrics,
		resolve: opts.Resolve,
	}
	if c.module == "" {
		c.module = DefaultModule
	}
	if c.symbol == "" {
		c.symbol = DefaultSymbol
	}
	if RecordSize(c.version) == 0 {
		c.version = RecordV2
	}
	if c.resolve == nil {
		c.resolve = resolvePlatform
	}
	return c
}

// SetTargetProcess designates the consumer. Zero disables delivery.
func (c *Channel) SetTargetProcess(pid uint32) {
	c.pid.Store(pid)
}

func (c *Channel) TargetProcess() uint32 {
	return c.pid.Load()
}

func (c *Channel) SetActive(active bool) {
	c.active.Store(active)
}

func (c *Channel) Active() bool {
	return c.active.Load()
}

// Available resolves the entry point if that has not happened yet and
// reports whether it was found.
func (c *Channel) Available() (bool, error) {
	fn := c.transport()
	return fn != nil, c.resolveErr
}

func (c *Channel) transport() SendFunc {
	c.once.Do(func() {
		c.send, c.resolveErr = c.resolve(c.module, c.symbol)
		if c.resolveErr != nil {
			c.send = nil
			log.Info("frame transport not available, delivery disabled",
				"module", c.module, "symbol", c.symbol, logging.KeyError, c.resolveErr)
			return
		}
		log.Info("frame transport resolved", "module", c.module, "symbol", c.symbol)
	})
	return c.send
}

// Send hands f to the consumer. f is always completed before Send returns.
func (c *Channel) Send(f *frame.Frame) {
	defer f.Complete()

	pid := c.pid.Load()
	if !c.active.Load() || pid == 0 || !f.Valid() {
		c.metrics.RecordSkip()
		return
	}
	fn := c.transport()
	if fn == nil {
		c.metrics.RecordSkip()
		return
	}

	h, err := f.TakeHandle()
	if err != nil {
		log.Debug("frame handle unavailable", logging.KeyError, err)
		c.metrics.RecordSkip()
		return
	}
	rec := Record{
		Version:   c.version,
		ProcessID: pid,
		Width:     uint32(f.PixelSize.Width),
		Height:    uint32(f.PixelSize.Height),
		Data:      uint64(h),
		DataSize:  uint32(f.DataSize()),
		Damage:    f.Damage,
	}
	if !rec.call(fn) {
		if err := shm.CloseHandle(h); err != nil {
			log.Debug("closing rejected frame handle", logging.KeyError, err)
		}
		c.metrics.RecordSkip()
		return
	}
	c.metrics.RecordDelivery(f.DataSize())
}
