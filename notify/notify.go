// Package notify wakes billing executors when new work may be due. A wake-up
// carries no payload; receivers re-read the store.
package notify

import (
	"context"
	"sync"
)

// Notifier publishes and receives wake-ups.
type Notifier interface {
	Notify(ctx context.Context) error
	// Subscribe returns a channel that receives at least one value after
	// every Notify, and a function that stops delivery.
	Subscribe(ctx context.Context) (<-chan struct{}, func(), error)
}

// Local is an in-process Notifier. Signals coalesce: a subscriber that has
// not drained its channel sees one pending wake-up, not many.
type Local struct {
	mu   sync.Mutex
	subs map[uint64]chan struct{}
	seq  uint64
}

// NewLocal returns a Local notifier.
func NewLocal() *Local {
	return &Local{subs: make(map[uint64]chan struct{})}
}

func (l *Local) Notify(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ch := range l.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

func (l *Local) Subscribe(context.Context) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)

	l.mu.Lock()
	if l.subs == nil {
		l.subs = make(map[uint64]chan struct{})
	}
	l.seq++
	key := l.seq
	l.subs[key] = ch
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, key)
			l.mu.Unlock()
		})
	}, nil
}

// Drain empties any pending wake-ups on ch without blocking.
func Drain(ch <-chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
