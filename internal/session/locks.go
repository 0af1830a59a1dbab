package session

import "sync"

// Locks serializes read-modify-write cycles on one session key. Every writer
// of a chat's session takes the same lock. Entries are dropped once nobody
// holds or waits for them.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func NewLocks() *Locks {
	return &Locks{locks: map[string]*keyLock{}}
}

// Lock blocks until key is free and returns the release func.
func (l *Locks) Lock(key string) func() {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &keyLock{}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.Lock()
	return func() {
		entry.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
