package keymutex

import (
	"context"
	"sync"
)

// KeyMutex hands out one mutual-exclusion scope per key. Entries are reference
// counted and dropped once the last holder or waiter releases them, so the map
// only grows with the number of keys under contention.
type KeyMutex[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*entry
}

type entry struct {
	// sem has capacity one; holding the token means holding the lock.
	sem  chan struct{}
	refs int
}

// New returns an empty KeyMutex.
func New[K comparable]() *KeyMutex[K] {
	return &KeyMutex[K]{locks: make(map[K]*entry)}
}

// Lock blocks until the key is free or ctx is done. On success the returned
// func releases the key and must be called exactly once.
func (m *KeyMutex[K]) Lock(ctx context.Context, key K) (func(), error) {
	e := m.acquire(key)
	select {
	case e.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.sem
				m.release(key)
			})
		}, nil
	case <-ctx.Done():
		m.release(key)
		return nil, ctx.Err()
	}
}

// Len reports how many keys currently have holders or waiters.
func (m *KeyMutex[K]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *KeyMutex[K]) acquire(key K) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.refs++
	return e
}

func (m *KeyMutex[K]) release(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.locks[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}
