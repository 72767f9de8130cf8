// Package lifetime provides revocable references: callbacks bound to an
// Owner stop running once the owner is revoked.
package lifetime

import "sync"

// Owner is the referent side. The zero value is ready to use.
type Owner struct {
	mu      sync.RWMutex
	revoked bool
}

// Ref returns a reference bound to o.
func (o *Owner) Ref() Ref {
	return Ref{o: o}
}

// Revoke invalidates every reference. It waits for callbacks currently inside
// Run to return, so it must not be called from within Run.
func (o *Owner) Revoke() {
	o.mu.Lock()
	o.revoked = true
	o.mu.Unlock()
}

func (o *Owner) Revoked() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.revoked
}

// Ref is a weak handle on an Owner.
type Ref struct {
	o *Owner
}

// Run calls fn unless the owner is gone, and reports whether it ran.
func (r Ref) Run(fn func()) bool {
	if r.o == nil {
		return false
	}
	r.o.mu.RLock()
	defer r.o.mu.RUnlock()
	if r.o.revoked {
		return false
	}
	fn()
	return true
}

// Alive reports whether the owner has not been revoked yet.
func (r Ref) Alive() bool {
	return r.o != nil && !r.o.Revoked()
}
