package redislock_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/charter/id"
	"github.com/xraph/charter/lock"
	"github.com/xraph/charter/lock/redislock"
)

// newClient connects to CHARTER_TEST_REDIS_ADDR or skips the test.
func newClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("CHARTER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CHARTER_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestAcquireRelease(t *testing.T) {
	client := newClient(t)
	l := redislock.New(client, redislock.WithTTL(5*time.Second), redislock.WithPollInterval(5*time.Millisecond))
	ctx := context.Background()
	key := lock.SubscriptionKey(id.NewSubscriptionID())

	held, err := l.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(tctx, key); !errors.Is(err, lock.ErrNotAcquired) {
		t.Fatalf("contended acquire = %v, want ErrNotAcquired", err)
	}

	if err := held.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := held.Release(ctx); !errors.Is(err, lock.ErrNotHeld) {
		t.Errorf("second release = %v, want ErrNotHeld", err)
	}

	again, err := l.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	_ = again.Release(ctx)
}

func TestExpiredLeaseIsNotReleasedByOldHolder(t *testing.T) {
	client := newClient(t)
	l := redislock.New(client, redislock.WithTTL(30*time.Millisecond), redislock.WithPollInterval(5*time.Millisecond))
	ctx := context.Background()
	key := lock.ContractKey(id.NewContractID())

	stale, err := l.Acquire(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(60 * time.Millisecond)

	fresh, err := l.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}
	if err := stale.Release(ctx); !errors.Is(err, lock.ErrNotHeld) {
		t.Errorf("stale release = %v, want ErrNotHeld", err)
	}
	if err := fresh.Release(ctx); err != nil {
		t.Errorf("fresh release: %v", err)
	}
}
