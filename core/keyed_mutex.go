package core

import "sync"

// KeyedMutex provides mutual exclusion scoped to string keys. The dispatcher
// locks the session key for the critical section of every request so that
// requests naming the same session serialize while requests for distinct
// sessions proceed in parallel. The eviction janitor takes the same lock
// before destroying an idle session, so an idle check can never interleave
// with an in-flight merge.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedMutexEntry
}

type keyedMutexEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: map[string]*keyedMutexEntry{}}
}

// Lock acquires the mutex for key, creating it on first use. Entries are
// reference counted and dropped again once the last holder unlocks, so the
// map does not grow with the number of sessions ever seen.
func (km *KeyedMutex) Lock(key string) {
	km.mu.Lock()
	e, ok := km.entries[key]
	if !ok {
		e = &keyedMutexEntry{}
		km.entries[key] = e
	}
	e.refs++
	km.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the mutex for key. Unlocking a key that was never locked is
// a no-op.
func (km *KeyedMutex) Unlock(key string) {
	km.mu.Lock()
	e, ok := km.entries[key]
	if !ok {
		km.mu.Unlock()
		return
	}
	e.refs--
	if e.refs == 0 {
		delete(km.entries, key)
	}
	km.mu.Unlock()

	e.mu.Unlock()
}
