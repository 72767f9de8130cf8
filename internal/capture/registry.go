package capture

import (
	"sync"

	"github.com/breeze-rmm/offscreen/internal/logging"
	"github.com/breeze-rmm/offscreen/internal/shm"
)

// Receiver consumes frames pushed for a stream. It owns f.Region and must
// call release exactly once.
type Receiver interface {
	OnFrameCaptured(f CapturedFrame, release func())
}

// Registry routes pushed frames to the receiver currently registered for a
// stream id.
type Registry struct {
	mu        sync.Mutex
	receivers map[string]Receiver
}

func NewRegistry() *Registry {
	return &Registry{receivers: make(map[string]Receiver)}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Register binds id to r, replacing any previous receiver.
func (reg *Registry) Register(id string, r Receiver) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.receivers[id] = r
}

// Unregister removes id only if it is still bound to r. Once it returns no
// further frames reach r.
func (reg *Registry) Unregister(id string, r Receiver) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if cur, ok := reg.receivers[id]; ok && cur == r {
		delete(reg.receivers, id)
	}
}

func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.receivers)
}

// Deliver hands f to the receiver for id. Frames for unknown ids are
// released immediately. Receivers must not call Register or Unregister from
// OnFrameCaptured.
func (reg *Registry) Deliver(id string, f CapturedFrame, release func()) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.receivers[id]
	if !ok {
		closeRegion(f.Region)
		if release != nil {
			release()
		}
		return false
	}
	r.OnFrameCaptured(f, release)
	return true
}

func closeRegion(r *shm.ReadOnlyRegion) {
	if err := r.Close(); err != nil {
		log.Debug("closing captured frame region", logging.KeyError, err)
	}
}
