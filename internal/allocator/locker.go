package allocator

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// keyedLocker hands out one mutual-exclusion slot per event id. Slots are
// dropped once nobody holds or waits for them.
type keyedLocker struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func newKeyedLocker() *keyedLocker {
	return &keyedLocker{slots: make(map[uuid.UUID]*slot)}
}

// Acquire blocks until the slot for id is free or ctx is done.
func (l *keyedLocker) Acquire(ctx context.Context, id uuid.UUID) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[id]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[id] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(id, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.unref(id, s)
		})
	}, nil
}

func (l *keyedLocker) unref(id uuid.UUID, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, id)
	}
}

func (l *keyedLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
