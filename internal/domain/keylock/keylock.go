// Package keylock serializes work per key while letting distinct keys proceed in parallel.
package keylock

import (
	"sync"
	"sync/atomic"
)

// entry is the lock for one key; refs counts holders and waiters.
type entry struct {
	mu   sync.Mutex
	refs int
}

func (e *entry) reset() {
	e.refs = 0
}

// Locker hands out per-key mutexes and forgets keys nobody holds.
type Locker struct {
	mu        sync.Mutex
	locks     map[string]*entry
	size      atomic.Int64
	entryPool sync.Pool
}

// New creates an empty Locker.
func New(opts ...Option) *Locker {
	l := &Locker{}
	for _, opt := range opts {
		opt(l)
	}
	if l.locks == nil {
		l.locks = make(map[string]*entry)
	}
	l.entryPool = sync.Pool{
		New: func() any { return &entry{} },
	}
	return l
}

// Lock blocks until key is held by the caller and returns its release func.
// The release func must be called exactly once.
func (l *Locker) Lock(key string) (unlock func()) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = l.entryPool.Get().(*entry)
		l.locks[key] = e
		l.size.Add(1)
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, e) })
	}
}

func (l *Locker) release(key string, e *entry) {
	e.mu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
		l.size.Add(-1)
		e.reset()
		l.entryPool.Put(e)
	}
}

// Size returns the number of keys currently held or awaited.
func (l *Locker) Size() int64 {
	return l.size.Load()
}
