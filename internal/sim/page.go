// Package sim is a self-contained page backend: it renders an animated test
// page with gg and plays the render host, compositor, frame host and push
// capturer roles so the frame pipeline can run without a browser.
package sim

import (
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	"github.com/gogpu/gg"

	"github.com/breeze-rmm/offscreen/internal/gfx"
	"github.com/breeze-rmm/offscreen/internal/logging"
)

var log = logging.L("sim")

const (
	headerHeight = 32.0
	ballRadius   = 24.0
	ballSpeedX   = 180.0 // px/s
	ballSpeedY   = 120.0
)

var background = gg.RGB(0.96, 0.96, 0.98)

// Page draws a header with a one-second progress bar and a bouncing ball.
// Only the header and the ball's old and new bounds are reported as damage.
type Page struct {
	transparent bool
	start       time.Time

	mu       sync.Mutex
	ctx      *gg.Context
	size     gfx.Size
	lastBall image.Rectangle
	full     bool
}

func NewPage(size gfx.Size, transparent bool) *Page {
	w, h := max(size.Width, 1), max(size.Height, 1)
	return &Page{
		transparent: transparent,
		start:       time.Now(),
		ctx:         gg.NewContext(w, h),
		size:        gfx.Size{Width: w, Height: h},
		full:        true,
	}
}

func (p *Page) Size() gfx.Size {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Resize reallocates the canvas. The next Render damages the whole page.
func (p *Page) Resize(size gfx.Size) error {
	if size.IsEmpty() {
		return fmt.Errorf("sim: invalid page size %s", size)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if size == p.size {
		return nil
	}
	if err := p.ctx.Resize(size.Width, size.Height); err != nil {
		return fmt.Errorf("sim: resize page: %w", err)
	}
	p.size = size
	p.full = true
	return nil
}

// Render draws the page as of t and returns its pixels and the area that
// changed since the previous call.
func (p *Page) Render(t time.Time) (image.Image, image.Rectangle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := t.Sub(p.start).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	w, h := float64(p.size.Width), float64(p.size.Height)

	if p.transparent {
		p.ctx.Clear()
	} else {
		p.ctx.ClearWithColor(background)
	}

	var fillErr error
	fill := func() {
		if err := p.ctx.Fill(); err != nil && fillErr == nil {
			fillErr = err
		}
	}

	p.ctx.SetRGB(0.18, 0.34, 0.62)
	p.ctx.DrawRectangle(0, 0, w, headerHeight)
	fill()

	progress := elapsed - math.Floor(elapsed)
	if bar := (w - 16) * progress; bar > 0 {
		p.ctx.SetRGB(1, 0.76, 0.2)
		p.ctx.DrawRoundedRectangle(8, 8, bar, headerHeight-16, 4)
		fill()
	}

	cx := bounce(elapsed*ballSpeedX, ballRadius, w-ballRadius)
	cy := bounce(elapsed*ballSpeedY, headerHeight+ballRadius, h-ballRadius)
	p.ctx.SetRGB(0.85, 0.2, 0.25)
	p.ctx.DrawCircle(cx, cy, ballRadius)
	fill()

	if fillErr != nil {
		log.Debug("page fill failed", logging.KeyError, fillErr)
	}

	ball := gfx.RectF{X: cx - ballRadius - 1, Y: cy - ballRadius - 1, W: 2*ballRadius + 2, H: 2*ballRadius + 2}.ToEnclosingRect()
	damage := ball.Union(p.lastBall).Union(image.Rect(0, 0, p.size.Width, int(headerHeight)))
	if p.full {
		damage = p.size.Rect()
		p.full = false
	}
	p.lastBall = ball
	return p.ctx.Image(), gfx.ClampDamage(damage, p.size)
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctx.Close()
}

// bounce maps a distance travelled onto a position moving back and forth
// between lo and hi.
func bounce(dist, lo, hi float64) float64 {
	span := hi - lo
	if span <= 0 {
		return lo
	}
	m := math.Mod(dist, 2*span)
	if m > span {
		m = 2*span - m
	}
	return lo + m
}
