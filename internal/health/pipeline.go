package health

import (
	"fmt"

	"github.com/breeze-rmm/offscreen/internal/stats"
)

// Components reported by Evaluate.
const (
	CheckRender    = "render"
	CheckCapture   = "capture"
	CheckTransport = "transport"
)

// PipelineState is the view and channel state Evaluate needs beyond the
// counters.
type PipelineState struct {
	Painting bool
	// TransportReady means a consumer process is set, the channel is active
	// and the entry point resolved.
	TransportReady bool
}

// Evaluate updates the render, capture and transport checks from the
// counter change between two snapshots.
func (m *Monitor) Evaluate(prev, cur stats.Snapshot, st PipelineState) {
	if cur.BeginFrames == prev.BeginFrames {
		m.Update(CheckRender, Degraded, "no begin frames")
	} else {
		m.Update(CheckRender, Healthy, "")
	}

	produced := (cur.FramesDelivered + cur.FramesSkipped) - (prev.FramesDelivered + prev.FramesSkipped)
	delivered := cur.FramesDelivered - prev.FramesDelivered
	dropped := cur.CopiesDropped - prev.CopiesDropped
	rejected := cur.FramesRejected - prev.FramesRejected

	switch {
	case !st.Painting:
		m.Update(CheckCapture, Healthy, "painting paused")
	case produced == 0 && dropped > 0:
		m.Update(CheckCapture, Unhealthy, fmt.Sprintf("all copies failed (%d dropped)", dropped))
	case dropped > 0 || rejected > 0:
		m.Update(CheckCapture, Degraded, fmt.Sprintf("%d copies dropped, %d frames rejected", dropped, rejected))
	case produced == 0:
		m.Update(CheckCapture, Degraded, "no frames produced")
	default:
		m.Update(CheckCapture, Healthy, "")
	}

	switch {
	case !st.TransportReady:
		m.Update(CheckTransport, Degraded, "no consumer")
	case produced > 0 && delivered == 0:
		m.Update(CheckTransport, Degraded, "consumer not accepting frames")
	default:
		m.Update(CheckTransport, Healthy, "")
	}
}
