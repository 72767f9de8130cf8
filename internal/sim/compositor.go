package sim

import (
	"image"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/breeze-rmm/offscreen/internal/beginframe"
	"github.com/breeze-rmm/offscreen/internal/gfx"
	"github.com/breeze-rmm/offscreen/internal/logging"
	"github.com/breeze-rmm/offscreen/internal/view"
)

// Compositor renders the page on every begin frame, swaps the result into
// the view and serves copy-of-output requests from the last frame.
type Compositor struct {
	page        *Page
	failureRate float64

	mu      sync.Mutex
	view    View
	surface *view.SoftwareSurface
	scale   float64
	size    gfx.Size
	vsync   time.Duration
	latest  *gfx.Bitmap
	damage  image.Rectangle
	seq     uint64
}

// NewCompositor composites page. failureRate is the probability in [0,1]
// that a copy request comes back empty.
func NewCompositor(page *Page, failureRate float64) *Compositor {
	return &Compositor{page: page, failureRate: failureRate, scale: 1}
}

func (c *Compositor) Attach(v View) {
	c.mu.Lock()
	c.view = v
	c.mu.Unlock()
}

// SetSurface makes the compositor raster into s after every frame.
func (c *Compositor) SetSurface(s *view.SoftwareSurface) {
	c.mu.Lock()
	c.surface = s
	c.mu.Unlock()
}

func (c *Compositor) SetScaleAndSize(scale float64, pixelSize gfx.Size) {
	c.mu.Lock()
	c.scale, c.size = scale, pixelSize
	c.mu.Unlock()
	if pixelSize.IsEmpty() {
		return
	}
	if err := c.page.Resize(pixelSize); err != nil {
		log.Warn("page resize failed", logging.KeyError, err)
	}
}

func (c *Compositor) SetAuthoritativeVSyncInterval(d time.Duration) {
	c.mu.Lock()
	c.vsync = d
	c.mu.Unlock()
}

func (c *Compositor) VSyncInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vsync
}

func (c *Compositor) SendBeginFrame(args beginframe.Args) {
	c.mu.Lock()
	v, surface, size := c.view, c.surface, c.size
	c.mu.Unlock()
	if v == nil || size.IsEmpty() {
		return
	}

	img, damage := c.page.Render(args.FrameTime)
	bmp := gfx.FromImage(img, gfx.FormatBGRA)

	c.mu.Lock()
	c.latest = bmp
	c.damage = damage
	c.seq++
	c.mu.Unlock()

	v.OnSwapCompositorFrame(&view.CompositorFrame{
		HasContent: true,
		OutputSize: bmp.Size(),
		Damage: gfx.RectF{
			X: float64(damage.Min.X),
			Y: float64(damage.Min.Y),
			W: float64(damage.Dx()),
			H: float64(damage.Dy()),
		},
	})
	if surface != nil {
		rasterInto(surface, bmp, damage)
	}
}

// rasterInto copies bmp into the surface backing store when the sizes agree
// and reports the damage.
func rasterInto(s *view.SoftwareSurface, bmp *gfx.Bitmap, damage image.Rectangle) {
	pix, size := s.Pixels()
	if size != bmp.Size() || len(pix) < bmp.ByteLen() {
		return
	}
	bmp.CopyTo(pix)
	s.Draw(damage, nil)
}

// RequestCopyOfOutput answers asynchronously with a crop of the last frame.
func (c *Compositor) RequestCopyOfOutput(area image.Rectangle, result func(*gfx.Bitmap)) {
	c.mu.Lock()
	bmp := c.latest
	c.mu.Unlock()

	go func() {
		if bmp == nil || c.shouldFail() {
			result(nil)
			return
		}
		result(crop(bmp, area))
	}()
}

// Latest returns the last composited frame, its damage and its sequence
// number. The bitmap must not be modified.
func (c *Compositor) Latest() (*gfx.Bitmap, image.Rectangle, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest, c.damage, c.seq
}

func (c *Compositor) shouldFail() bool {
	return c.failureRate > 0 && rand.Float64() < c.failureRate
}

// crop returns bmp itself for the full frame, otherwise a packed copy of
// area. Composited frames are never written after they are published.
func crop(bmp *gfx.Bitmap, area image.Rectangle) *gfx.Bitmap {
	bounds := bmp.Size().Rect()
	area = area.Intersect(bounds)
	if area.Empty() {
		return nil
	}
	if area == bounds {
		return bmp
	}
	out := gfx.NewBitmap(gfx.SizeOf(area), bmp.Format)
	row := area.Dx() * gfx.BytesPerPixel
	for y := 0; y < area.Dy(); y++ {
		src := (area.Min.Y+y)*bmp.Stride + area.Min.X*gfx.BytesPerPixel
		copy(out.Pix[y*out.Stride:y*out.Stride+row], bmp.Pix[src:src+row])
	}
	return out
}
