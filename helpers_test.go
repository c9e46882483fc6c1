package charter_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/charter"
	"github.com/xraph/charter/contract"
	"github.com/xraph/charter/store/memory"
	"github.com/xraph/charter/wallet"
	"github.com/xraph/charter/wallet/memwallet"
)

const (
	owner wallet.ID = 1
	alice wallet.ID = 100
	bob   wallet.ID = 101
	carol wallet.ID = 102
)

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *clock { return &clock{now: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	engine  *charter.Engine
	store   *memory.Store
	wallets *memwallet.Ledger
	clock   *clock
}

// start is 10:00 UTC so a daily midnight offer first bills the next day.
var start = time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, opts ...charter.Option) *harness {
	t.Helper()

	h := &harness{
		store:   memory.New(),
		wallets: memwallet.New(),
		clock:   newClock(start),
	}
	base := []charter.Option{
		charter.WithLogger(slog.New(slog.DiscardHandler)),
		charter.WithWalletLedger(h.wallets),
		charter.WithClock(h.clock.Now),
		charter.WithLockTimeout(time.Second),
	}
	h.engine = charter.New(h.store, append(base, opts...)...)
	return h
}

// dailyOffer publishes an offer billing price every midnight UTC.
func (h *harness) dailyOffer(t *testing.T, price string, mutate ...func(*charter.CreateOfferInput)) *contract.Offer {
	t.Helper()

	in := charter.CreateOfferInput{
		OwnerID:  owner,
		Title:    "Daily coffee",
		CronExpr: "0 0 * * *",
		Price:    charter.MustMoney(price),
	}
	for _, m := range mutate {
		m(&in)
	}
	o, err := h.engine.CreateOffer(context.Background(), in)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	return o
}

func (h *harness) sweep(t *testing.T) charter.SweepReport {
	t.Helper()
	report, err := h.engine.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	return report
}

// midnight returns 00:00 UTC on the given January 2026 day.
func midnight(day int) time.Time {
	return time.Date(2026, 1, day, 0, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }
