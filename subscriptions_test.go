package charter_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/charter"
	"github.com/xraph/charter/id"
	"github.com/xraph/charter/subscription"
	"github.com/xraph/charter/wallet"
)

func TestSubscribe(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	o := h.dailyOffer(t, "1")
	sub, err := h.engine.Subscribe(ctx, o.ID, alice)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if sub.Status != subscription.StatusPending {
		t.Errorf("status = %s, want pending", sub.Status)
	}
	if !sub.StartedAt.Equal(start) {
		t.Errorf("started_at = %v", sub.StartedAt)
	}
	if !sub.NextDueAt.Equal(midnight(2)) {
		t.Errorf("next_due_at = %v, want the first fire time after subscribing", sub.NextDueAt)
	}
	if sub.LapsedAt != nil || sub.FailureCount != 0 {
		t.Error("fresh subscription carries lapse state")
	}
}

func TestSubscribeRejections(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		setup func(t *testing.T, h *harness) (id.ContractID, wallet.ID)
		want  error
	}{
		{
			name: "unknown offer",
			setup: func(*testing.T, *harness) (id.ContractID, wallet.ID) {
				return id.NewContractID(), alice
			},
			want: charter.ErrContractNotFound,
		},
		{
			name: "invalid wallet",
			setup: func(t *testing.T, h *harness) (id.ContractID, wallet.ID) {
				return h.dailyOffer(t, "1").ID, 0
			},
			want: charter.ErrInvalidInput,
		},
		{
			name: "not on allow list",
			setup: func(t *testing.T, h *harness) (id.ContractID, wallet.ID) {
				o := h.dailyOffer(t, "1", func(in *charter.CreateOfferInput) { in.AllowList = []wallet.ID{bob} })
				return o.ID, alice
			},
			want: charter.ErrNotAllowed,
		},
		{
			name: "empty allow list admits nobody",
			setup: func(t *testing.T, h *harness) (id.ContractID, wallet.ID) {
				o := h.dailyOffer(t, "1", func(in *charter.CreateOfferInput) { in.AllowList = []wallet.ID{} })
				return o.ID, alice
			},
			want: charter.ErrNotAllowed,
		},
		{
			name: "owner subscribing to own offer",
			setup: func(t *testing.T, h *harness) (id.ContractID, wallet.ID) {
				return h.dailyOffer(t, "1").ID, owner
			},
			want: charter.ErrSelfSubscription,
		},
		{
			name: "already subscribed",
			setup: func(t *testing.T, h *harness) (id.ContractID, wallet.ID) {
				o := h.dailyOffer(t, "1")
				if _, err := h.engine.Subscribe(ctx, o.ID, alice); err != nil {
					t.Fatal(err)
				}
				return o.ID, alice
			},
			want: charter.ErrAlreadySubscribed,
		},
		{
			name: "resubscribe after unsubscribing",
			setup: func(t *testing.T, h *harness) (id.ContractID, wallet.ID) {
				o := h.dailyOffer(t, "1")
				sub, err := h.engine.Subscribe(ctx, o.ID, alice)
				if err != nil {
					t.Fatal(err)
				}
				if _, err := h.engine.CancelSubscription(ctx, sub.ID); err != nil {
					t.Fatal(err)
				}
				return o.ID, alice
			},
			want: charter.ErrAlreadySubscribed,
		},
		{
			name: "at capacity",
			setup: func(t *testing.T, h *harness) (id.ContractID, wallet.ID) {
				o := h.dailyOffer(t, "1", func(in *charter.CreateOfferInput) { in.MaxSubscribers = ptr(1) })
				if _, err := h.engine.Subscribe(ctx, o.ID, bob); err != nil {
					t.Fatal(err)
				}
				return o.ID, alice
			},
			want: charter.ErrCapacityExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			contractID, w := tt.setup(t, h)

			_, err := h.engine.Subscribe(ctx, contractID, w)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCanceledSubscriptionFreesCapacity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	o := h.dailyOffer(t, "1", func(in *charter.CreateOfferInput) { in.MaxSubscribers = ptr(1) })
	first, err := h.engine.Subscribe(ctx, o.ID, alice)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.CancelSubscription(ctx, first.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.Subscribe(ctx, o.ID, bob); err != nil {
		t.Errorf("canceled subscriptions must not count toward capacity: %v", err)
	}
}

func TestConcurrentSubscribeRespectsCapacity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	const capacity, callers = 5, 40
	o := h.dailyOffer(t, "1", func(in *charter.CreateOfferInput) { in.MaxSubscribers = ptr(capacity) })

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		full     int
	)
	for i := range callers {
		wg.Add(1)
		go func(w wallet.ID) {
			defer wg.Done()
			_, err := h.engine.Subscribe(ctx, o.ID, w)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, charter.ErrCapacityExceeded):
				full++
			default:
				t.Errorf("subscribe %d: %v", w, err)
			}
		}(wallet.ID(1000 + i))
	}
	wg.Wait()

	if accepted != capacity {
		t.Errorf("accepted = %d, want %d", accepted, capacity)
	}
	if full != callers-capacity {
		t.Errorf("rejected = %d, want %d", full, callers-capacity)
	}

	live, err := h.store.CountLiveSubscriptions(ctx, o.ID)
	if err != nil || live != capacity {
		t.Errorf("live = %d, %v", live, err)
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	o := h.dailyOffer(t, "1")
	sub, err := h.engine.Subscribe(ctx, o.ID, alice)
	if err != nil {
		t.Fatal(err)
	}

	active, err := h.engine.ActivateSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if active.Status != subscription.StatusActive {
		t.Errorf("status = %s", active.Status)
	}
	if _, err := h.engine.ActivateSubscription(ctx, sub.ID); err != nil {
		t.Errorf("activating twice must be a no-op: %v", err)
	}

	h.clock.Advance(time.Hour)
	canceled, err := h.engine.CancelSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.LapsedAt == nil || !canceled.LapsedAt.Equal(h.clock.Now()) {
		t.Errorf("lapsed_at = %v, want %v", canceled.LapsedAt, h.clock.Now())
	}
	if canceled.LapseReason != subscription.LapseUnsubscribed {
		t.Errorf("reason = %s", canceled.LapseReason)
	}

	again, err := h.engine.CancelSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("cancel twice: %v", err)
	}
	if !again.LapsedAt.Equal(*canceled.LapsedAt) {
		t.Error("second cancel must not move lapsed_at")
	}

	if _, err := h.engine.ActivateSubscription(ctx, sub.ID); !errors.Is(err, charter.ErrStateConflict) {
		t.Errorf("activate canceled: err = %v, want ErrStateConflict", err)
	}
	if _, err := h.engine.CancelSubscription(ctx, id.NewSubscriptionID()); !errors.Is(err, charter.ErrSubscriptionNotFound) {
		t.Errorf("cancel missing: err = %v", err)
	}
}

func TestListSubscribers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	o := h.dailyOffer(t, "1")
	for _, w := range []wallet.ID{alice, bob, carol} {
		if _, err := h.engine.Subscribe(ctx, o.ID, w); err != nil {
			t.Fatal(err)
		}
	}

	// Only alice can pay, so only alice becomes active.
	h.wallets.Deposit(alice, charter.MustMoney("1"))
	h.clock.Set(midnight(2))
	h.sweep(t)

	active, err := h.engine.ListSubscribers(ctx, o.ID, true, 0, 0)
	if err != nil {
		t.Fatalf("active subscribers: %v", err)
	}
	if active.Total != 1 || active.Items[0].WalletID != alice {
		t.Errorf("active = %+v", active.Items)
	}

	live, err := h.engine.ListSubscribers(ctx, o.ID, false, 0, 0)
	if err != nil {
		t.Fatalf("live subscribers: %v", err)
	}
	if live.Total != 3 {
		t.Errorf("live total = %d, want 3", live.Total)
	}

	byWallet, err := h.engine.ListSubscriptions(ctx, charter.ListSubscriptionsOpts{WalletID: bob})
	if err != nil {
		t.Fatalf("by wallet: %v", err)
	}
	if byWallet.Total != 1 || byWallet.Items[0].FailureCount != 1 {
		t.Errorf("bob = %+v", byWallet.Items)
	}
}
