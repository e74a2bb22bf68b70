// Package lock provides per-key mutual exclusion with context-aware
// acquisition. Waiters are granted the key in arrival order, so work queued
// behind a long operation runs in FIFO order once the key frees up.
package lock

import (
	"context"
	"sync"
)

type keyState struct {
	held    bool
	waiters []chan struct{}
}

// KeyedMutex serializes work per string key. The zero value is not usable;
// construct with New.
type KeyedMutex struct {
	mu   sync.Mutex
	keys map[string]*keyState
}

// New creates an empty KeyedMutex.
func New() *KeyedMutex {
	return &KeyedMutex{keys: make(map[string]*keyState)}
}

// Acquire blocks until the caller holds the key or ctx is done. On success
// the returned release function must be called exactly once; calling it twice
// panics, like unlocking an unlocked sync.Mutex.
func (k *KeyedMutex) Acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	st, ok := k.keys[key]
	if !ok {
		st = &keyState{}
		k.keys[key] = st
	}
	if !st.held {
		st.held = true
		k.mu.Unlock()
		return k.releaseFunc(key), nil
	}

	ready := make(chan struct{})
	st.waiters = append(st.waiters, ready)
	k.mu.Unlock()

	select {
	case <-ready:
		return k.releaseFunc(key), nil
	case <-ctx.Done():
		k.abandon(key, ready)
		return nil, ctx.Err()
	}
}

// Held reports whether the key is currently held. Intended for tests and
// introspection; the answer is stale the moment it returns.
func (k *KeyedMutex) Held(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	st, ok := k.keys[key]
	return ok && st.held
}

func (k *KeyedMutex) releaseFunc(key string) func() {
	var once sync.Once
	return func() {
		released := false
		once.Do(func() {
			k.release(key)
			released = true
		})
		if !released {
			panic("lock: release called twice for key " + key)
		}
	}
}

// release passes ownership to the oldest waiter, or frees the key when none
// remain.
func (k *KeyedMutex) release(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	st, ok := k.keys[key]
	if !ok || !st.held {
		panic("lock: release of unheld key " + key)
	}
	if len(st.waiters) > 0 {
		// Ownership is handed off directly: held stays true so a late
		// arrival cannot barge in front of the queue.
		next := st.waiters[0]
		st.waiters = st.waiters[1:]
		close(next)
		return
	}
	delete(k.keys, key)
}

// abandon removes a cancelled waiter. If the handoff won the race and the
// waiter already owns the key, ownership is released on its behalf.
func (k *KeyedMutex) abandon(key string, ready chan struct{}) {
	k.mu.Lock()
	st, ok := k.keys[key]
	if ok {
		for i, w := range st.waiters {
			if w == ready {
				st.waiters = append(st.waiters[:i], st.waiters[i+1:]...)
				k.mu.Unlock()
				return
			}
		}
	}
	k.mu.Unlock()

	select {
	case <-ready:
		k.release(key)
	default:
		// Not queued and not granted: the release below would panic, and
		// rightly so, but this cannot happen with a correctly used mutex.
	}
}
