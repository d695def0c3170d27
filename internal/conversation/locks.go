package conversation

import (
	"context"
	"sync"
)

// turnLock admits one turn at a time. It is a buffered channel holding
// a single token so waiting can be abandoned when the context ends.
type turnLock struct {
	ch chan struct{}
	// refs counts the holder and waiters. Guarded by locks.mu.
	refs int
}

func newTurnLock() *turnLock {
	l := &turnLock{ch: make(chan struct{}, 1)}
	l.ch <- struct{}{}
	return l
}

// locks hands out one turnLock per conversation. A lock is dropped
// once nobody holds or waits for it.
type locks struct {
	mu sync.Mutex
	m  map[string]*turnLock
}

// acquire blocks until the conversation is free or ctx ends. The
// returned func releases the lock.
func (l *locks) acquire(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*turnLock)
	}
	lock, ok := l.m[id]
	if !ok {
		lock = newTurnLock()
		l.m[id] = lock
	}
	lock.refs++
	l.mu.Unlock()

	select {
	case <-lock.ch:
		return func() {
			lock.ch <- struct{}{}
			l.unref(id, lock)
		}, nil
	case <-ctx.Done():
		l.unref(id, lock)
		return nil, ctx.Err()
	}
}

func (l *locks) unref(id string, lock *turnLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.m, id)
	}
}

func (l *locks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
