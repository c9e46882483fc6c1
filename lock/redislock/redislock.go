// Package redislock implements lock.Locker as a Redis lease so several
// engine processes can share contracts and subscriptions safely.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/xraph/charter/lock"
)

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

var errBusy = errors.New("redislock: key busy")

var _ lock.Locker = (*Locker)(nil)

// Locker takes leases with SET NX PX and polls until the context ends.
type Locker struct {
	client redis.UniversalClient
	ttl    time.Duration
	poll   time.Duration
	logger *slog.Logger
}

// Option configures a Locker.
type Option func(*Locker)

// WithTTL sets the lease expiry. A crashed holder's lease frees itself after
// this long, so it must exceed the longest critical section.
func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) { l.ttl = ttl }
}

// WithPollInterval sets the delay between acquisition attempts.
func WithPollInterval(d time.Duration) Option {
	return func(l *Locker) { l.poll = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Locker) { l.logger = logger }
}

// New returns a Locker backed by client.
func New(client redis.UniversalClient, opts ...Option) *Locker {
	l := &Locker{
		client: client,
		ttl:    30 * time.Second,
		poll:   25 * time.Millisecond,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Locker) Acquire(ctx context.Context, key string) (lock.Lease, error) {
	token := uuid.NewString()

	_, err := backoff.Retry(ctx, func() (bool, error) {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return false, err
		}
		if !ok {
			return false, errBusy
		}
		return true, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(l.poll)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %w", lock.ErrNotAcquired, key, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %s: %w", lock.ErrNotAcquired, key, err)
	}

	return &lease{client: l.client, key: key, token: token, logger: l.logger}, nil
}

type lease struct {
	client redis.UniversalClient
	key    string
	token  string
	logger *slog.Logger
}

func (le *lease) Key() string { return le.key }

func (le *lease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, le.client, []string{le.key}, le.token).Int()
	if err != nil {
		return fmt.Errorf("redislock: release %s: %w", le.key, err)
	}
	if n == 0 {
		le.logger.Warn("lease expired before release", "key", le.key)
		return lock.ErrNotHeld
	}
	return nil
}
