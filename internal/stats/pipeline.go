// Package stats tracks frame pipeline counters for the periodic metrics log.
package stats

import (
	"sync"
	"time"
)

// Pipeline tracks frame production from capture request to delivery.
type Pipeline struct {
	mu sync.RWMutex

	CopiesRequested uint64
	CopiesRetried   uint64
	CopiesDropped   uint64
	FramesCaptured  uint64
	FramesRejected  uint64
	FramesDelivered uint64
	FramesSkipped   uint64
	BeginFrames     uint64

	LastCaptureTime time.Duration
	LastFrameSize   int
	TotalBytes      uint64
	startTime       time.Time
}

func New() *Pipeline {
	return &Pipeline{startTime: time.Now()}
}

func (m *Pipeline) RecordCopyRequest() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.CopiesRequested++
	m.mu.Unlock()
}

func (m *Pipeline) RecordRetry() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.CopiesRetried++
	m.mu.Unlock()
}

func (m *Pipeline) RecordDrop() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.CopiesDropped++
	m.mu.Unlock()
}

// RecordCapture counts a produced frame; d is the time from request to result.
func (m *Pipeline) RecordCapture(d time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.FramesCaptured++
	m.LastCaptureTime = d
	m.mu.Unlock()
}

// RecordReject counts a pushed frame discarded for a size mismatch.
func (m *Pipeline) RecordReject() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.FramesRejected++
	m.mu.Unlock()
}

func (m *Pipeline) RecordDelivery(size int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.FramesDelivered++
	m.LastFrameSize = size
	m.TotalBytes += uint64(size)
	m.mu.Unlock()
}

// RecordSkip counts a frame the delivery channel did not transmit.
func (m *Pipeline) RecordSkip() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.FramesSkipped++
	m.mu.Unlock()
}

func (m *Pipeline) RecordBeginFrame() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.BeginFrames++
	m.mu.Unlock()
}

// Snapshot is a point-in-time copy of the counters for logging.
type Snapshot struct {
	CopiesRequested uint64
	CopiesRetried   uint64
	CopiesDropped   uint64
	FramesCaptured  uint64
	FramesRejected  uint64
	FramesDelivered uint64
	FramesSkipped   uint64
	BeginFrames     uint64
	CaptureMs       float64
	LastFrameSize   int
	BandwidthKBps   float64
	Uptime          time.Duration
}

func (m *Pipeline) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	uptime := time.Since(m.startTime)
	bw := float64(0)
	if uptime.Seconds() > 0 {
		bw = float64(m.TotalBytes) / uptime.Seconds() / 1024.0
	}

	return Snapshot{
		CopiesRequested: m.CopiesRequested,
		CopiesRetried:   m.CopiesRetried,
		CopiesDropped:   m.CopiesDropped,
		FramesCaptured:  m.FramesCaptured,
		FramesRejected:  m.FramesRejected,
		FramesDelivered: m.FramesDelivered,
		FramesSkipped:   m.FramesSkipped,
		BeginFrames:     m.BeginFrames,
		CaptureMs:       float64(m.LastCaptureTime.Microseconds()) / 1000.0,
		LastFrameSize:   m.LastFrameSize,
		BandwidthKBps:   bw,
		Uptime:          uptime,
	}
}

// LogArgs flattens the snapshot into slog key/value pairs.
func (s Snapshot) LogArgs() []any {
	return []any{
		"copiesRequested", s.CopiesRequested,
		"copiesRetried", s.CopiesRetried,
		"copiesDropped", s.CopiesDropped,
		"framesCaptured", s.FramesCaptured,
		"framesRejected", s.FramesRejected,
		"framesDelivered", s.FramesDelivered,
		"framesSkipped", s.FramesSkipped,
		"beginFrames", s.BeginFrames,
		"captureMs", s.CaptureMs,
		"bandwidthKBps", s.BandwidthKBps,
		"uptime", s.Uptime.Round(time.Second).String(),
	}
}
