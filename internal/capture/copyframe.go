// Package capture produces frames from the compositor, either by requesting
// copies of its output or by consuming a push-based capture stream.
package capture

import (
	"image"
	"time"

	"github.com/breeze-rmm/offscreen/internal/gfx"
	"github.com/breeze-rmm/offscreen/internal/lifetime"
	"github.com/breeze-rmm/offscreen/internal/logging"
	"github.com/breeze-rmm/offscreen/internal/stats"
	"github.com/breeze-rmm/offscreen/internal/workerpool"
)

var log = logging.L("capture")

// DefaultRetryLimit is how often a failed copy is re-requested.
const DefaultRetryLimit = 2

// Poster schedules work on the coordinating sequence.
type Poster interface {
	Post(task workerpool.Task) bool
}

// CopySource is the view side of copy capture.
type CopySource interface {
	// RenderHostAlive reports whether a render host is still attached.
	RenderHostAlive() bool
	// BackingSize is the view size in physical pixels.
	BackingSize() gfx.Size
	// RequestCopyOfOutput asks the compositor for a copy of area. result is
	// called exactly once, from any goroutine, with nil or an empty bitmap
	// on failure.
	RequestCopyOfOutput(area image.Rectangle, result func(*gfx.Bitmap))
}

// BitmapFunc receives a successful copy together with the damage it was
// requested for and the time of the first request.
type BitmapFunc func(damage image.Rectangle, bmp *gfx.Bitmap, start time.Time)

type CopyOptions struct {
	Source     CopySource
	Poster     Poster
	OnBitmap   BitmapFunc
	RetryLimit int
	Metrics    *stats.Pipeline
}

// CopyFrameGenerator turns damage notifications into copy-of-output
// requests, retrying failed copies up to the retry limit.
type CopyFrameGenerator struct {
	src        CopySource
	post       Poster
	onBitmap   BitmapFunc
	retryLimit int
	metrics    *stats.Pipeline
	owner      lifetime.Owner
}

// captureRequest is the state of one capture across its retries.
type captureRequest struct {
	damage   image.Rectangle
	attempts int
	start    time.Time
	ref      lifetime.Ref
}

func NewCopyFrameGenerator(opts CopyOptions) *CopyFrameGenerator {
	limit := opts.RetryLimit
	if limit < 0 {
		limit = 0
	}
	return &CopyFrameGenerator{
		src:        opts.Source,
		post:       opts.Poster,
		onBitmap:   opts.OnBitmap,
		retryLimit: limit,
		metrics:    opts.Metrics,
	}
}

func (g *CopyFrameGenerator) RetryLimit() int {
	return g.retryLimit
}

// GenerateCopyFrame requests a copy of the whole backing store. The result
// is reported for damage. Nothing happens once the render host is gone.
func (g *CopyFrameGenerator) GenerateCopyFrame(damage image.Rectangle) {
	g.issue(&captureRequest{damage: damage, start: time.Now(), ref: g.owner.Ref()})
}

func (g *CopyFrameGenerator) issue(req *captureRequest) {
	if !req.ref.Alive() || !g.src.RenderHostAlive() {
		return
	}
	area := g.src.BackingSize().Rect()
	g.metrics.RecordCopyRequest()
	g.src.RequestCopyOfOutput(area, func(bmp *gfx.Bitmap) {
		g.post.Post(func() {
			req.ref.Run(func() { g.onResult(req, bmp) })
		})
	})
}

func (g *CopyFrameGenerator) onResult(req *captureRequest, bmp *gfx.Bitmap) {
	if bmp.IsEmpty() || !g.src.RenderHostAlive() {
		g.onFailure(req)
		return
	}
	g.metrics.RecordCapture(time.Since(req.start))
	// The damage was recorded at request time; the bitmap may predate a
	// resize.
	damage := gfx.ClampDamage(req.damage, bmp.Size())
	if damage.Empty() {
		damage = bmp.Size().Rect()
	}
	if g.onBitmap != nil {
		g.onBitmap(damage, bmp, req.start)
	}
}

func (g *CopyFrameGenerator) onFailure(req *captureRequest) {
	req.attempts++
	if req.attempts > g.retryLimit {
		g.metrics.RecordDrop()
		log.Debug("copy of output failed, frame dropped", "attempts", req.attempts, "damage", req.damage.String())
		return
	}
	g.metrics.RecordRetry()
	g.post.Post(func() { g.issue(req) })
}

// Destroy makes every outstanding completion a no-op. It must not be called
// from within a BitmapFunc.
func (g *CopyFrameGenerator) Destroy() {
	g.owner.Revoke()
}
