package watch

import (
	"context"
	"sync"
)

// keyLock serializes work per key. Waiters for a key are granted the lock in
// the order they asked for it. Entries are dropped once nobody holds or
// waits for them.
type keyLock struct {
	mu    sync.Mutex
	locks map[string]*keyEntry
}

type keyEntry struct {
	held    bool
	waiters []chan struct{} // closed on handoff
}

func newKeyLock() *keyLock {
	return &keyLock{locks: map[string]*keyEntry{}}
}

// Lock blocks until key is free or ctx is done.
func (k *keyLock) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e := k.locks[key]
	if e == nil {
		e = &keyEntry{}
		k.locks[key] = e
	}
	if !e.held {
		e.held = true
		k.mu.Unlock()
		return k.unlocker(key, e), nil
	}
	turn := make(chan struct{})
	e.waiters = append(e.waiters, turn)
	k.mu.Unlock()

	select {
	case <-turn:
		return k.unlocker(key, e), nil
	case <-ctx.Done():
	}

	k.mu.Lock()
	select {
	case <-turn:
		// Handed over while giving up; pass it on.
		k.handoffLocked(key, e)
	default:
		for i, w := range e.waiters {
			if w == turn {
				e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
				break
			}
		}
	}
	k.mu.Unlock()
	return nil, ctx.Err()
}

func (k *keyLock) unlocker(key string, e *keyEntry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			k.mu.Lock()
			k.handoffLocked(key, e)
			k.mu.Unlock()
		})
	}
}

// handoffLocked gives the held lock to the oldest waiter, or frees it.
func (k *keyLock) handoffLocked(key string, e *keyEntry) {
	if len(e.waiters) > 0 {
		next := e.waiters[0]
		e.waiters = e.waiters[1:]
		close(next)
		return
	}
	e.held = false
	delete(k.locks, key)
}
