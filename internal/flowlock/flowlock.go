// Package flowlock provides per-review-unit mutual exclusion. A pipeline run
// must hold the unit's flow-lock for its full duration so two orchestrators
// never mutate the same ledger concurrently.
package flowlock

import (
	"context"
	"errors"
	"sync"
)

// ErrHeld is returned by TryAcquire when another run holds the lock.
var ErrHeld = errors.New("flow-lock already held")

// Registry hands out flow-locks keyed by review-unit key. Entries are
// reference counted and removed once nobody holds or waits on them.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

// NewRegistry creates an empty lock registry.
func NewRegistry() *Registry {
	return &Registry{locks: make(map[string]*entry)}
}

func (r *Registry) get(key string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		r.locks[key] = e
	}
	e.refs++
	return e
}

func (r *Registry) put(key string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(r.locks, key)
	}
}

// releaseFunc builds the idempotent release closure handed to the holder.
// Callers defer it, so release happens on every exit path including panics.
func (r *Registry) releaseFunc(key string, e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			r.put(key, e)
		})
	}
}

// TryAcquire takes the lock without blocking. On success the returned
// release func must be called (it is safe to call more than once); on
// contention it returns ErrHeld.
func (r *Registry) TryAcquire(key string) (func(), error) {
	e := r.get(key)
	select {
	case e.ch <- struct{}{}:
		return r.releaseFunc(key, e), nil
	default:
		r.put(key, e)
		return nil, ErrHeld
	}
}

// Acquire blocks until the lock is free or the context ends.
func (r *Registry) Acquire(ctx context.Context, key string) (func(), error) {
	e := r.get(key)
	select {
	case e.ch <- struct{}{}:
		return r.releaseFunc(key, e), nil
	case <-ctx.Done():
		r.put(key, e)
		return nil, ctx.Err()
	}
}

// Held reports whether the key's lock is currently taken.
func (r *Registry) Held(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.locks[key]
	return ok && len(e.ch) == 1
}

// Active returns how many keys currently have a holder or waiters.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
