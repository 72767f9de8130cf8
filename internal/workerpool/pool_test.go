package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitAndDrain(t *testing.T) {
	p := New("test", 2, 10)
	var count atomic.Int32

	for i := 0; i < 5; i++ {
		ok := p.Submit(func() {
			count.Add(1)
		})
		if !ok {
			t.Fatalf("Submit %d failed", i)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	if got := count.Load(); got != 5 {
		t.Fatalf("count = %d, want 5", got)
	}
}

func TestSubmitAfterShutdownReturnsFalse(t *testing.T) {
	p := New("test", 1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	if p.Submit(func() {}) {
		t.Fatal("Submit after Shutdown should return false")
	}
}

func TestQueueFullReturnsFalse(t *testing.T) {
	p := New("test", 1, 1)
	// Block the worker
	blocker := make(chan struct{})
	p.Submit(func() { <-blocker })

	// Fill the queue
	time.Sleep(10 * time.Millisecond) // let worker pick up first task
	p.Submit(func() {})               // fills the queue (size 1)

	// This should fail, queue full
	if p.Submit(func() {}) {
		t.Fatal("Submit should return false when queue is full")
	}

	close(blocker)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)
}

func TestDrainWithoutStopAcceptingAutoStops(t *testing.T) {
	p := New("test", 1, 10)
	p.Submit(func() {})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Drain without StopAccepting stops accepting on its own.
	p.Drain(ctx)

	if p.Submit(func() {}) {
		t.Fatal("Submit should return false after auto-stopped Drain")
	}
}

func TestContextCancelledAfterDrain(t *testing.T) {
	p := New("test", 1, 10)
	p.Submit(func() {})

	poolCtx := p.Context()
	if poolCtx.Err() != nil {
		t.Fatal("pool context should not be cancelled before Drain")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	if poolCtx.Err() == nil {
		t.Fatal("pool context should be cancelled after Drain")
	}
}

func TestDrainRespectsContextDeadline(t *testing.T) {
	p := New("test", 1, 10)
	blocker := make(chan struct{})
	p.Submit(func() { <-blocker })

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	p.Shutdown(ctx)
	elapsed := time.Since(start)

	if elapsed > 500*time.Millisecond {
		t.Fatalf("Drain should have timed out in ~100ms, took %v", elapsed)
	}

	close(blocker) // cleanup
}

func TestSingleWorkerDrainDoesNotDeadlock(t *testing.T) {
	p := New("test", 1, 10)
	var count atomic.Int32

	for i := 0; i < 5; i++ {
		p.Submit(func() {
			time.Sleep(1 * time.Millisecond)
			count.Add(1)
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	if got := count.Load(); got != 5 {
		t.Fatalf("single-worker drain: count = %d, want 5", got)
	}
}

func TestPanicRecovery(t *testing.T) {
	p := New("test", 1, 10)
	var count atomic.Int32

	// Submit a panicking task
	p.Submit(func() {
		panic("test panic")
	})
	// Submit a normal task after
	p.Submit(func() {
		count.Add(1)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	if got := count.Load(); got != 1 {
		t.Fatalf("task after panic: count = %d, want 1", got)
	}
}

func TestSequenceRunsInOrder(t *testing.T) {
	s := NewSequence("ui")
	defer s.Stop(context.Background())

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		if !s.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}) {
			t.Fatalf("Post %d refused", i)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 100 {
		t.Fatalf("ran %d tasks, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran at position %d", v, i)
		}
	}
}

func TestSequencePostFromTask(t *testing.T) {
	s := NewSequence("ui")
	defer s.Stop(context.Background())

	done := make(chan struct{})
	s.Post(func() {
		s.Post(func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("nested Post never ran")
	}
}

func TestSequenceStopRunsQueuedThenRefuses(t *testing.T) {
	s := NewSequence("ui")
	var count atomic.Int32
	blocker := make(chan struct{})
	s.Post(func() { <-blocker })
	for i := 0; i < 3; i++ {
		s.Post(func() { count.Add(1) })
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(blocker)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)

	if got := count.Load(); got != 3 {
		t.Fatalf("count = %d, want 3", got)
	}
	if s.Post(func() {}) {
		t.Fatal("Post after Stop should return false")
	}
}

func TestSequenceSurvivesPanic(t *testing.T) {
	s := NewSequence("ui")
	defer s.Stop(context.Background())

	s.Post(func() { panic("boom") })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush after panic: %v", err)
	}
}
