package executor

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// threadLocks serializes runs per thread and keeps the cancel func of the
// run currently holding each thread.
type threadLocks struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*threadSlot
}

type threadSlot struct {
	sem    chan struct{}
	refs   int
	cancel context.CancelFunc
}

func newThreadLocks() *threadLocks {
	return &threadLocks{slots: make(map[uuid.UUID]*threadSlot)}
}

// acquire waits for the thread until ctx is done. The returned release must be called exactly once.
func (l *threadLocks) acquire(ctx context.Context, id uuid.UUID) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[id]
	if !ok {
		slot = &threadSlot{sem: make(chan struct{}, 1)}
		l.slots[id] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.sem <- struct{}{}:
	case <-ctx.Done():
		l.drop(id, slot)
		return nil, ctx.Err()
	}

	return func() {
		l.mu.Lock()
		slot.cancel = nil
		l.mu.Unlock()
		<-slot.sem
		l.drop(id, slot)
	}, nil
}

func (l *threadLocks) drop(id uuid.UUID, slot *threadSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, id)
	}
}

// setCancel registers the cancel func of the run holding id.
func (l *threadLocks) setCancel(id uuid.UUID, cancel context.CancelFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if slot, ok := l.slots[id]; ok {
		slot.cancel = cancel
	}
}

func (l *threadLocks) cancel(id uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[id]
	if !ok || slot.cancel == nil {
		return false
	}
	slot.cancel()
	return true
}
