// Package lock provides the keyed mutual exclusion the engine uses to
// serialize work on a contract or a subscription. Local serves a single
// process; lock/redislock extends it across processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/xraph/charter/id"
)

var (
	// ErrNotAcquired is returned when the context ends before the lock is held.
	ErrNotAcquired = errors.New("lock: not acquired")
	// ErrNotHeld is returned by Release when the lease was already lost.
	ErrNotHeld = errors.New("lock: lease not held")
)

// Locker hands out exclusive leases on string keys.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

// Lease is a held lock. Release is safe to call more than once.
type Lease interface {
	Key() string
	Release(ctx context.Context) error
}

// ContractKey is the lock key for a contract offer. When both are needed the
// contract lock is always taken before any subscription lock.
func ContractKey(contractID id.ContractID) string {
	return "charter:contract:" + contractID.String()
}

// SubscriptionKey is the lock key for a subscription.
func SubscriptionKey(subID id.SubscriptionID) string {
	return "charter:subscription:" + subID.String()
}

// Local is an in-process keyed mutex. The zero value is ready to use.
type Local struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

// NewLocal returns an empty Local locker.
func NewLocal() *Local {
	return &Local{entries: make(map[string]*entry)}
}

func (l *Local) Acquire(ctx context.Context, key string) (Lease, error) {
	l.mu.Lock()
	if l.entries == nil {
		l.entries = make(map[string]*entry)
	}
	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		return &localLease{owner: l, key: key, e: e}, nil
	case <-ctx.Done():
		l.unref(key, e)
		return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, ctx.Err())
	}
}

// Len returns the number of keys currently held or waited on.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Local) unref(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

type localLease struct {
	owner *Local
	key   string
	e     *entry
	once  sync.Once
}

func (ll *localLease) Key() string { return ll.key }

func (ll *localLease) Release(context.Context) error {
	released := false
	ll.once.Do(func() {
		<-ll.e.sem
		ll.owner.unref(ll.key, ll.e)
		released = true
	})
	if !released {
		return ErrNotHeld
	}
	return nil
}
