package charter_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/xraph/charter"
	"github.com/xraph/charter/contract"
	"github.com/xraph/charter/id"
	"github.com/xraph/charter/subscription"
	"github.com/xraph/charter/wallet"
)

func TestCreateOfferValidation(t *testing.T) {
	valid := func() charter.CreateOfferInput {
		return charter.CreateOfferInput{
			OwnerID:  owner,
			Title:    "Weekly box",
			CronExpr: "0 9 * * 1",
			Price:    charter.MustMoney("12.00"),
		}
	}

	tests := []struct {
		name   string
		mutate func(*charter.CreateOfferInput)
		field  string
	}{
		{"missing owner", func(in *charter.CreateOfferInput) { in.OwnerID = 0 }, "owner_id"},
		{"empty title", func(in *charter.CreateOfferInput) { in.Title = "" }, "title"},
		{"long title", func(in *charter.CreateOfferInput) { in.Title = strings.Repeat("x", 65) }, "title"},
		{"long description", func(in *charter.CreateOfferInput) { in.Description = ptr(strings.Repeat("d", 501)) }, "description"},
		{"missing cron", func(in *charter.CreateOfferInput) { in.CronExpr = "" }, "cron_expr"},
		{"bad cron", func(in *charter.CreateOfferInput) { in.CronExpr = "every tuesday" }, "cron_expr"},
		{"zero price", func(in *charter.CreateOfferInput) { in.Price = charter.Zero() }, "price"},
		{"negative price", func(in *charter.CreateOfferInput) { in.Price = charter.MustMoney("-1") }, "price"},
		{"zero capacity", func(in *charter.CreateOfferInput) { in.MaxSubscribers = ptr(0) }, "max_subscribers"},
		{"bad allow list member", func(in *charter.CreateOfferInput) { in.AllowList = []wallet.ID{alice, 0} }, "allow_list[1]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			in := valid()
			tt.mutate(&in)

			_, err := h.engine.CreateOffer(context.Background(), in)
			if !errors.Is(err, charter.ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
			var verr charter.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %T, want ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}

			n, _ := h.store.CountContracts(context.Background(), contract.ListOpts{})
			if n != 0 {
				t.Errorf("invalid offer was persisted")
			}
		})
	}
}

func TestCreateOffer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	o := h.dailyOffer(t, "2.50", func(in *charter.CreateOfferInput) {
		in.Description = ptr("one espresso per day")
		in.MaxSubscribers = ptr(10)
		in.AllowList = []wallet.ID{alice, bob}
	})

	if o.Status != contract.StatusOpen {
		t.Errorf("status = %s, want open", o.Status)
	}
	if o.ID.Prefix() != id.PrefixContract {
		t.Errorf("id prefix = %s", o.ID.Prefix())
	}
	if !o.CreatedAt.Equal(start) {
		t.Errorf("created_at = %v, want %v", o.CreatedAt, start)
	}

	got, err := h.engine.GetOffer(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Permits(alice) || got.Permits(carol) {
		t.Error("allow list not persisted")
	}
}

func TestCloseOffer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	o := h.dailyOffer(t, "1")
	sub, err := h.engine.Subscribe(ctx, o.ID, alice)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	closed, err := h.engine.CloseOffer(ctx, o.ID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != contract.StatusClosed {
		t.Errorf("status = %s", closed.Status)
	}

	if _, err := h.engine.CloseOffer(ctx, o.ID); err != nil {
		t.Errorf("closing a closed offer must be a no-op, got %v", err)
	}

	if _, err := h.engine.Subscribe(ctx, o.ID, bob); !errors.Is(err, charter.ErrStateConflict) {
		t.Errorf("subscribe to closed offer: err = %v, want ErrStateConflict", err)
	}

	// Existing subscribers keep paying.
	h.wallets.Deposit(alice, charter.MustMoney("5"))
	h.clock.Set(midnight(2))
	if r := h.sweep(t); r.Charged != 1 {
		t.Errorf("charged = %d, want 1", r.Charged)
	}
	got, _ := h.engine.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusActive {
		t.Errorf("subscription status = %s, want active", got.Status)
	}

	if _, err := h.engine.CloseOffer(ctx, id.NewContractID()); !errors.Is(err, charter.ErrContractNotFound) {
		t.Errorf("close missing: err = %v", err)
	}
}

func TestCancelOfferLapsesSubscribers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	o := h.dailyOffer(t, "1")
	var subs []*subscription.Subscription
	for _, w := range []wallet.ID{alice, bob, carol} {
		h.wallets.Deposit(w, charter.MustMoney("10"))
		sub, err := h.engine.Subscribe(ctx, o.ID, w)
		if err != nil {
			t.Fatalf("subscribe %s: %v", w, err)
		}
		subs = append(subs, sub)
	}

	// One subscriber already left on their own.
	if _, err := h.engine.CancelSubscription(ctx, subs[2].ID); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	lapsed, err := h.engine.CancelOffer(ctx, o.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if lapsed != 2 {
		t.Errorf("lapsed = %d, want 2", lapsed)
	}

	for i, sub := range subs {
		got, err := h.engine.GetSubscription(ctx, sub.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != subscription.StatusCanceled || got.LapsedAt == nil {
			t.Errorf("sub %d: status = %s, lapsed_at = %v", i, got.Status, got.LapsedAt)
		}
		want := subscription.LapseContractCanceled
		if i == 2 {
			want = subscription.LapseUnsubscribed
		}
		if got.LapseReason != want {
			t.Errorf("sub %d: reason = %s, want %s", i, got.LapseReason, want)
		}
	}

	h.clock.Set(midnight(2))
	if r := h.sweep(t); r.Scanned != 0 {
		t.Errorf("canceled offer must not bill, scanned %d", r.Scanned)
	}
	if h.wallets.Attempts() != 0 {
		t.Errorf("transfers attempted after cancel: %d", h.wallets.Attempts())
	}

	again, err := h.engine.CancelOffer(ctx, o.ID)
	if err != nil || again != 0 {
		t.Errorf("second cancel = %d, %v; want 0, nil", again, err)
	}

	if _, err := h.engine.CloseOffer(ctx, o.ID); !errors.Is(err, charter.ErrStateConflict) {
		t.Errorf("close canceled offer: err = %v, want ErrStateConflict", err)
	}
}

func TestListOffers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for range 3 {
		h.dailyOffer(t, "1")
	}
	other := h.dailyOffer(t, "1", func(in *charter.CreateOfferInput) { in.OwnerID = 2 })
	if _, err := h.engine.CloseOffer(ctx, other.ID); err != nil {
		t.Fatal(err)
	}

	page, err := h.engine.ListOffers(ctx, charter.ListOffersOpts{OwnerID: owner, Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 3 || page.Count != 2 || page.Remaining != 1 {
		t.Errorf("page = total %d count %d remaining %d", page.Total, page.Count, page.Remaining)
	}

	closed, err := h.engine.ListOffers(ctx, charter.ListOffersOpts{Status: contract.StatusClosed})
	if err != nil {
		t.Fatalf("list closed: %v", err)
	}
	if closed.Total != 1 || closed.Items[0].ID != other.ID {
		t.Errorf("closed = %+v", closed)
	}

	all, err := h.engine.ListOffers(ctx, charter.ListOffersOpts{Limit: 10_000})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if all.Limit != charter.MaxPageLimit {
		t.Errorf("limit = %d, want clamp to %d", all.Limit, charter.MaxPageLimit)
	}
}
