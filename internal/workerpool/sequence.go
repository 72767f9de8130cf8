package workerpool

import (
	"context"
	"sync"
)

// Sequence runs posted tasks one at a time in FIFO order on a dedicated
// goroutine. Post never blocks and never drops a task while the sequence is
// running; the queue is unbounded.
type Sequence struct {
	name    string
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []Task
	stopped bool
	done    chan struct{}
}

// NewSequence starts a sequence.
func NewSequence(name string) *Sequence {
	s := &Sequence{name: name, done: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	go s.loop()
	return s
}

// Post appends task to the queue. Returns false once the sequence is stopped.
func (s *Sequence) Post(task Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.tasks = append(s.tasks, task)
	s.cond.Signal()
	return true
}

// Flush blocks until every task posted before the call has run, or ctx ends.
func (s *Sequence) Flush(ctx context.Context) error {
	ran := make(chan struct{})
	if !s.Post(func() { close(ran) }) {
		return context.Canceled
	}
	select {
	case <-ran:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new tasks, runs what is already queued and waits for the
// worker to exit or ctx to end. Must not be called from a task.
func (s *Sequence) Stop(ctx context.Context) {
	s.mu.Lock()
	s.stopped = true
	s.cond.Signal()
	s.mu.Unlock()

	select {
	case <-s.done:
		log.Debug("sequence stopped", "sequence", s.name)
	case <-ctx.Done():
		log.Warn("sequence stop timed out", "sequence", s.name)
	}
}

// Pending reports the number of queued tasks.
func (s *Sequence) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Sequence) loop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.tasks) == 0 && !s.stopped {
			s.cond.Wait()
		}
		if len(s.tasks) == 0 {
			s.mu.Unlock()
			return
		}
		task := s.tasks[0]
		s.tasks[0] = nil
		s.tasks = s.tasks[1:]
		s.mu.Unlock()

		runRecovered(s.name, task)
	}
}
