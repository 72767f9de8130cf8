package view

import (
	"image"

	"github.com/breeze-rmm/offscreen/internal/capture"
	"github.com/breeze-rmm/offscreen/internal/gfx"
)

// strategy is the way frames are produced for a view. It is chosen once.
type strategy interface {
	name() string
	ingest(f *CompositorFrame)
	invalidate(bounds image.Rectangle)
	destroy()
}

// surfaceStrategy paints whatever the compositor rasters into the software
// surface.
type surfaceStrategy struct {
	c       *Controller
	surface *SoftwareSurface
	used    bool
}

func (s *surfaceStrategy) name() string { return "software" }

func (s *surfaceStrategy) ingest(f *CompositorFrame) {
	if !s.used {
		s.used = true
		if !s.c.tickSourceRequested() {
			s.surface.SetActive(s.c.Painting())
		}
	}
	s.c.frameHost.SwapCompositorFrame(f)
}

func (s *surfaceStrategy) invalidate(bounds image.Rectangle) {
	s.surface.Draw(bounds, nil)
}

func (s *surfaceStrategy) destroy() {}

// copyStrategy requests a copy of the compositor output for every frame.
type copyStrategy struct {
	c   *Controller
	gen *capture.CopyFrameGenerator
}

func (s *copyStrategy) name() string { return "copy" }

func (s *copyStrategy) ingest(f *CompositorFrame) {
	s.c.frameHost.SwapCompositorFrame(f)
	damage := gfx.ClampDamage(f.Damage.ToEnclosingRect(), f.OutputSize)
	s.gen.GenerateCopyFrame(damage)
}

func (s *copyStrategy) invalidate(bounds image.Rectangle) {
	s.gen.GenerateCopyFrame(bounds)
}

func (s *copyStrategy) destroy() {
	s.gen.Destroy()
}

// videoStrategy leaves frame production to a push capturer; swaps are only
// presented.
type videoStrategy struct {
	c     *Controller
	video *capture.VideoConsumer
}

func (s *videoStrategy) name() string { return "video" }

func (s *videoStrategy) ingest(f *CompositorFrame) {
	s.c.frameHost.SwapCompositorFrame(f)
}

func (s *videoStrategy) invalidate(image.Rectangle) {
	s.video.RequestRefresh()
}

func (s *videoStrategy) destroy() {}
