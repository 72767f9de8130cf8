package beginframe

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/offscreen/internal/workerpool"
)

// Poster schedules work on the coordinating sequence.
type Poster interface {
	Post(task workerpool.Task) bool
}

// Source is a delay-based time source. While active it posts onTick to the
// sequence once per interval; ticks from a previous activation are dropped,
// and so are ticks that fire while the previous one is still queued.
type Source struct {
	post    Poster
	onTick  func(now time.Time)
	pending atomic.Bool

	mu       sync.Mutex
	interval time.Duration
	active   bool
	gen      uint64
	stop     chan struct{}
}

func NewSource(post Poster, interval time.Duration, onTick func(now time.Time)) *Source {
	if interval <= 0 {
		interval = time.Second / 60
	}
	return &Source{post: post, interval: interval, onTick: onTick}
}

// SetInterval changes the tick period, restarting the ticker if running.
func (s *Source) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d == s.interval {
		return
	}
	s.interval = d
	if s.active {
		s.stopLocked()
		s.startLocked()
	}
}

// SetThresholdMs is SetInterval in milliseconds.
func (s *Source) SetThresholdMs(ms float64) {
	s.SetInterval(time.Duration(ms * float64(time.Millisecond)))
}

func (s *Source) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

func (s *Source) SetActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == active {
		return
	}
	s.active = active
	if active {
		s.startLocked()
	} else {
		s.stopLocked()
	}
}

func (s *Source) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Source) startLocked() {
	s.gen++
	gen := s.gen
	stop := make(chan struct{})
	s.stop = stop
	go s.run(gen, s.interval, stop)
}

func (s *Source) stopLocked() {
	s.gen++
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

func (s *Source) run(gen uint64, interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			if !s.pending.CompareAndSwap(false, true) {
				continue
			}
			s.post.Post(func() {
				s.pending.Store(false)
				s.mu.Lock()
				current := s.active && s.gen == gen
				s.mu.Unlock()
				if current {
					s.onTick(now)
				}
			})
		}
	}
}
