package common

import "sync"

// KeyedLocks serialises writers per aggregate key. Entries are reference
// counted and released once no caller holds or waits on them.
type KeyedLocks[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the mutex for key and returns the matching unlock function.
func (l *KeyedLocks[K]) Lock(key K) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[K]*keyedLock)
	}
	entry, ok := l.locks[key]
	if !ok {
		entry = &keyedLock{}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()
			l.mu.Lock()
			entry.refs--
			if entry.refs == 0 {
				delete(l.locks, key)
			}
			l.mu.Unlock()
		})
	}
}
