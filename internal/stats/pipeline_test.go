package stats

import (
	"sync"
	"testing"
	"time"
)

func TestSnapshotCounts(t *testing.T) {
	m := New()
	m.RecordCopyRequest()
	m.RecordCopyRequest()
	m.RecordRetry()
	m.RecordDrop()
	m.RecordCapture(4 * time.Millisecond)
	m.RecordReject()
	m.RecordDelivery(1000)
	m.RecordDelivery(3000)
	m.RecordSkip()
	m.RecordBeginFrame()

	s := m.Snapshot()
	if s.CopiesRequested != 2 || s.CopiesRetried != 1 || s.CopiesDropped != 1 {
		t.Fatalf("copy counters = %+v", s)
	}
	if s.FramesCaptured != 1 || s.FramesRejected != 1 || s.FramesDelivered != 2 || s.FramesSkipped != 1 {
		t.Fatalf("frame counters = %+v", s)
	}
	if s.BeginFrames != 1 {
		t.Fatalf("BeginFrames = %d", s.BeginFrames)
	}
	if s.CaptureMs != 4 {
		t.Fatalf("CaptureMs = %v, want 4", s.CaptureMs)
	}
	if s.LastFrameSize != 3000 {
		t.Fatalf("LastFrameSize = %d", s.LastFrameSize)
	}
	if len(s.LogArgs())%2 != 0 {
		t.Fatal("LogArgs must be key/value pairs")
	}
}

func TestNilPipelineIsNoop(t *testing.T) {
	var m *Pipeline
	m.RecordCopyRequest()
	m.RecordDelivery(10)
	m.RecordBeginFrame()
}

func TestConcurrentRecording(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordBeginFrame()
			}
		}()
	}
	wg.Wait()
	if got := m.Snapshot().BeginFrames; got != 800 {
		t.Fatalf("BeginFrames = %d, want 800", got)
	}
}
