package concurrency

import "sync"

// KeyedMutex serializes work per string key. Entries are reference-counted
// and removed when the last holder releases, so the table does not grow with
// the key space.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates an empty lock table
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		locks: make(map[string]*keyedLock),
	}
}

// Lock acquires the mutex for key, blocking until it is available. The
// returned function releases it and must be called exactly once.
func (km *KeyedMutex) Lock(key string) func() {
	km.mu.Lock()
	l, ok := km.locks[key]
	if !ok {
		l = &keyedLock{}
		km.locks[key] = l
	}
	l.refs++
	km.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		km.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(km.locks, key)
		}
		km.mu.Unlock()
	}
}

// Size returns the number of keys currently held or waited on
func (km *KeyedMutex) Size() int {
	km.mu.Lock()
	defer km.mu.Unlock()
	return len(km.locks)
}
