// Package storetest is a conformance suite every store.Store backend runs
// from its own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/charter"
	"github.com/xraph/charter/charge"
	"github.com/xraph/charter/contract"
	"github.com/xraph/charter/id"
	"github.com/xraph/charter/store"
	"github.com/xraph/charter/subscription"
	"github.com/xraph/charter/types"
	"github.com/xraph/charter/wallet"
)

// Factory returns an empty, migrated store for one subtest.
type Factory func(t *testing.T) store.Store

var base = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

// Run exercises the full store.Store contract against fresh stores from f.
func Run(t *testing.T, f Factory) {
	t.Helper()

	t.Run("ContractRoundTrip", func(t *testing.T) { testContractRoundTrip(t, f(t)) })
	t.Run("ContractListAndCount", func(t *testing.T) { testContractListAndCount(t, f(t)) })
	t.Run("ContractStatus", func(t *testing.T) { testContractStatus(t, f(t)) })
	t.Run("SubscriptionPairUnique", func(t *testing.T) { testSubscriptionPairUnique(t, f(t)) })
	t.Run("SubscriptionUpdate", func(t *testing.T) { testSubscriptionUpdate(t, f(t)) })
	t.Run("SubscriptionCounts", func(t *testing.T) { testSubscriptionCounts(t, f(t)) })
	t.Run("DueSubscriptions", func(t *testing.T) { testDueSubscriptions(t, f(t)) })
	t.Run("ChargeIdempotency", func(t *testing.T) { testChargeIdempotency(t, f(t)) })
}

// NewOffer returns an open offer owned by owner.
func NewOffer(owner wallet.ID) *contract.Offer {
	return &contract.Offer{
		Entity:   types.NewEntityAt(base),
		ID:       id.NewContractID(),
		OwnerID:  owner,
		Status:   contract.StatusOpen,
		Title:    "Daily coffee",
		CronExpr: "0 0 * * *",
		Price:    types.MustMoney("2.50"),
	}
}

// NewSubscription returns a pending subscription of w to o, due at due.
func NewSubscription(o *contract.Offer, w wallet.ID, due time.Time) *subscription.Subscription {
	return &subscription.Subscription{
		Entity:     types.NewEntityAt(base),
		ID:         id.NewSubscriptionID(),
		ContractID: o.ID,
		WalletID:   w,
		Status:     subscription.StatusPending,
		StartedAt:  base,
		NextDueAt:  due,
	}
}

func mustCreateOffer(t *testing.T, s store.Store, o *contract.Offer) {
	t.Helper()
	if err := s.CreateContract(context.Background(), o); err != nil {
		t.Fatalf("create contract: %v", err)
	}
}

func mustCreateSub(t *testing.T, s store.Store, sub *subscription.Subscription) {
	t.Helper()
	if err := s.CreateSubscription(context.Background(), sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
}

func testContractRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()

	desc := "one espresso a day"
	limit := 3
	o := NewOffer(1)
	o.Description = &desc
	o.MaxSubscribers = &limit
	o.AllowList = contract.NewAllowList(7, 9)
	mustCreateOffer(t, s, o)

	empty := NewOffer(1)
	empty.AllowList = contract.NewAllowList()
	mustCreateOffer(t, s, empty)

	got, err := s.GetContract(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != o.Title || got.CronExpr != o.CronExpr || got.OwnerID != o.OwnerID {
		t.Errorf("got %+v", got)
	}
	if !got.Price.Equal(o.Price) {
		t.Errorf("price = %s, want %s", got.Price, o.Price)
	}
	if got.Description == nil || *got.Description != desc {
		t.Errorf("description = %v", got.Description)
	}
	if got.MaxSubscribers == nil || *got.MaxSubscribers != limit {
		t.Errorf("max_subscribers = %v", got.MaxSubscribers)
	}
	if got.AllowList == nil || !got.AllowList.Permits(7) || got.AllowList.Permits(8) {
		t.Errorf("allow list = %v", got.AllowList)
	}

	gotEmpty, err := s.GetContract(ctx, empty.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if gotEmpty.AllowList == nil || gotEmpty.AllowList.Len() != 0 {
		t.Errorf("empty allow list must survive as empty, got %v", gotEmpty.AllowList)
	}

	unrestricted := NewOffer(2)
	mustCreateOffer(t, s, unrestricted)
	gotOpen, err := s.GetContract(ctx, unrestricted.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if gotOpen.AllowList != nil {
		t.Errorf("absent allow list must stay nil, got %v", gotOpen.AllowList)
	}

	if _, err := s.GetContract(ctx, id.NewContractID()); !errors.Is(err, charter.ErrContractNotFound) {
		t.Errorf("missing contract: err = %v, want ErrContractNotFound", err)
	}
}

func testContractListAndCount(t *testing.T, s store.Store) {
	ctx := context.Background()

	for i := range 4 {
		o := NewOffer(wallet.ID(1 + i%2))
		o.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		mustCreateOffer(t, s, o)
	}

	all, err := s.ListContracts(ctx, contract.ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("len = %d, want 4", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt.After(all[i-1].CreatedAt) {
			t.Error("offers must be listed newest first")
		}
	}

	mine, err := s.ListContracts(ctx, contract.ListOpts{OwnerID: 1})
	if err != nil {
		t.Fatalf("list by owner: %v", err)
	}
	if len(mine) != 2 {
		t.Errorf("owner 1 has %d offers, want 2", len(mine))
	}

	page, err := s.ListContracts(ctx, contract.ListOpts{Limit: 3, Offset: 2})
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(page) != 2 {
		t.Errorf("page len = %d, want 2", len(page))
	}

	n, err := s.CountContracts(ctx, contract.ListOpts{OwnerID: 2})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func testContractStatus(t *testing.T, s store.Store) {
	ctx := context.Background()

	o := NewOffer(1)
	mustCreateOffer(t, s, o)

	at := base.Add(time.Hour)
	if err := s.UpdateContractStatus(ctx, o.ID, contract.StatusClosed, at); err != nil {
		t.Fatalf("update status: %v", err)
	}
	got, err := s.GetContract(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != contract.StatusClosed {
		t.Errorf("status = %s", got.Status)
	}
	if !got.UpdatedAt.Equal(at) {
		t.Errorf("updated_at = %v, want %v", got.UpdatedAt, at)
	}

	closed, err := s.CountContracts(ctx, contract.ListOpts{Status: contract.StatusClosed})
	if err != nil || closed != 1 {
		t.Errorf("closed count = %d, %v", closed, err)
	}

	err = s.UpdateContractStatus(ctx, id.NewContractID(), contract.StatusClosed, at)
	if !errors.Is(err, charter.ErrContractNotFound) {
		t.Errorf("missing contract: err = %v", err)
	}
}

func testSubscriptionPairUnique(t *testing.T, s store.Store) {
	ctx := context.Background()

	o := NewOffer(1)
	mustCreateOffer(t, s, o)

	first := NewSubscription(o, 5, base.Add(24*time.Hour))
	mustCreateSub(t, s, first)

	// The pair stays taken even after the first subscription is canceled.
	if err := first.Lapse(base.Add(time.Hour), subscription.LapseUnsubscribed); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateSubscription(ctx, first); err != nil {
		t.Fatalf("update: %v", err)
	}

	again := NewSubscription(o, 5, base.Add(24*time.Hour))
	if err := s.CreateSubscription(ctx, again); !errors.Is(err, charter.ErrAlreadySubscribed) {
		t.Errorf("duplicate pair: err = %v, want ErrAlreadySubscribed", err)
	}

	got, err := s.GetSubscriptionByPair(ctx, o.ID, 5)
	if err != nil {
		t.Fatalf("by pair: %v", err)
	}
	if got.ID != first.ID {
		t.Errorf("by pair returned %s, want %s", got.ID, first.ID)
	}

	if _, err := s.GetSubscriptionByPair(ctx, o.ID, 6); !errors.Is(err, charter.ErrSubscriptionNotFound) {
		t.Errorf("missing pair: err = %v", err)
	}
	if _, err := s.GetSubscription(ctx, id.NewSubscriptionID()); !errors.Is(err, charter.ErrSubscriptionNotFound) {
		t.Errorf("missing subscription: err = %v", err)
	}
}

func testSubscriptionUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()

	o := NewOffer(1)
	mustCreateOffer(t, s, o)
	sub := NewSubscription(o, 5, base.Add(24*time.Hour))
	mustCreateSub(t, s, sub)

	period := sub.NextDueAt
	sub.AdvancePeriod(period, period.Add(24*time.Hour))
	charged := period.Add(time.Second)
	sub.LastChargedAt = &charged
	if err := sub.Activate(charged); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateSubscription(ctx, sub); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != subscription.StatusActive {
		t.Errorf("status = %s", got.Status)
	}
	if got.LastPeriodAt == nil || !got.LastPeriodAt.Equal(period) {
		t.Errorf("last_period_at = %v, want %v", got.LastPeriodAt, period)
	}
	if got.LastChargedAt == nil || !got.LastChargedAt.Equal(charged) {
		t.Errorf("last_charged_at = %v", got.LastChargedAt)
	}
	if !got.NextDueAt.Equal(period.Add(24 * time.Hour)) {
		t.Errorf("next_due_at = %v", got.NextDueAt)
	}

	ghost := NewSubscription(o, 6, base)
	if err := s.UpdateSubscription(ctx, ghost); !errors.Is(err, charter.ErrSubscriptionNotFound) {
		t.Errorf("update missing: err = %v", err)
	}
}

func testSubscriptionCounts(t *testing.T, s store.Store) {
	ctx := context.Background()

	o := NewOffer(1)
	mustCreateOffer(t, s, o)

	subs := make([]*subscription.Subscription, 3)
	for i := range subs {
		subs[i] = NewSubscription(o, wallet.ID(10+i), base.Add(24*time.Hour))
		mustCreateSub(t, s, subs[i])
	}
	if err := subs[1].Lapse(base.Add(time.Hour), subscription.LapseUnsubscribed); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateSubscription(ctx, subs[1]); err != nil {
		t.Fatalf("update: %v", err)
	}

	live, err := s.CountLiveSubscriptions(ctx, o.ID)
	if err != nil {
		t.Fatalf("count live: %v", err)
	}
	if live != 2 {
		t.Errorf("live = %d, want 2", live)
	}

	total, err := s.CountSubscriptions(ctx, subscription.ListOpts{ContractID: o.ID})
	if err != nil || total != 3 {
		t.Errorf("total = %d, %v", total, err)
	}

	canceled, err := s.ListSubscriptions(ctx, subscription.ListOpts{ContractID: o.ID, Status: subscription.StatusCanceled})
	if err != nil {
		t.Fatalf("list canceled: %v", err)
	}
	if len(canceled) != 1 || canceled[0].ID != subs[1].ID {
		t.Errorf("canceled = %v", canceled)
	}
	if canceled[0].LapsedAt == nil {
		t.Error("canceled subscription must carry lapsed_at")
	}

	byWallet, err := s.ListSubscriptions(ctx, subscription.ListOpts{WalletID: 12})
	if err != nil || len(byWallet) != 1 {
		t.Errorf("by wallet = %d, %v", len(byWallet), err)
	}
}

func testDueSubscriptions(t *testing.T, s store.Store) {
	ctx := context.Background()

	next, err := s.NextDueAt(ctx)
	if err != nil {
		t.Fatalf("next due on empty store: %v", err)
	}
	if !next.IsZero() {
		t.Errorf("empty store next due = %v, want zero", next)
	}

	o := NewOffer(1)
	mustCreateOffer(t, s, o)

	now := base.Add(48 * time.Hour)
	late := NewSubscription(o, 1, now.Add(-time.Hour))
	later := NewSubscription(o, 2, now.Add(-2*time.Hour))
	future := NewSubscription(o, 3, now.Add(time.Hour))
	gone := NewSubscription(o, 4, now.Add(-3*time.Hour))
	for _, sub := range []*subscription.Subscription{late, later, future, gone} {
		mustCreateSub(t, s, sub)
	}
	if err := gone.Lapse(now, subscription.LapseUnsubscribed); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateSubscription(ctx, gone); err != nil {
		t.Fatalf("update: %v", err)
	}

	due, err := s.ListDueSubscriptions(ctx, now, 10)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("due = %d, want 2", len(due))
	}
	if due[0].ID != later.ID || due[1].ID != late.ID {
		t.Error("due subscriptions must come back earliest first")
	}

	one, err := s.ListDueSubscriptions(ctx, now, 1)
	if err != nil || len(one) != 1 {
		t.Errorf("limited due = %d, %v", len(one), err)
	}

	next, err = s.NextDueAt(ctx)
	if err != nil {
		t.Fatalf("next due: %v", err)
	}
	if !next.Equal(later.NextDueAt) {
		t.Errorf("next due = %v, want %v (canceled rows are ignored)", next, later.NextDueAt)
	}
}

func testChargeIdempotency(t *testing.T, s store.Store) {
	ctx := context.Background()

	o := NewOffer(1)
	mustCreateOffer(t, s, o)
	sub := NewSubscription(o, 5, base.Add(24*time.Hour))
	mustCreateSub(t, s, sub)

	newCharge := func(period time.Time, outcome charge.Outcome) *charge.Charge {
		return &charge.Charge{
			ID:             id.NewChargeID(),
			SubscriptionID: sub.ID,
			ContractID:     o.ID,
			From:           sub.WalletID,
			To:             o.OwnerID,
			Amount:         o.Price,
			PeriodStart:    period,
			IdempotencyKey: charge.IdempotencyKey(sub.ID, period),
			Outcome:        outcome,
			AttemptedAt:    period.Add(time.Second),
		}
	}

	day1 := base.Add(24 * time.Hour)
	day2 := day1.Add(24 * time.Hour)
	c1 := newCharge(day1, charge.OutcomeCommitted)
	c1.Reference = "tx-1"
	if err := s.CreateCharge(ctx, c1); err != nil {
		t.Fatalf("create charge: %v", err)
	}

	dup := newCharge(day1, charge.OutcomeDeclined)
	if err := s.CreateCharge(ctx, dup); !errors.Is(err, charter.ErrDuplicateCharge) {
		t.Errorf("second charge for the same period: err = %v, want ErrDuplicateCharge", err)
	}

	c2 := newCharge(day2, charge.OutcomeDeclined)
	c2.Reason = string(wallet.OutcomeInsufficientFunds)
	if err := s.CreateCharge(ctx, c2); err != nil {
		t.Fatalf("create charge: %v", err)
	}

	got, err := s.GetChargeByKey(ctx, c1.IdempotencyKey)
	if err != nil {
		t.Fatalf("get by key: %v", err)
	}
	if got.ID != c1.ID || !got.Committed() || got.Reference != "tx-1" {
		t.Errorf("got %+v", got)
	}
	if !got.Amount.Equal(o.Price) {
		t.Errorf("amount = %s", got.Amount)
	}
	if _, err := s.GetChargeByKey(ctx, "nope"); !errors.Is(err, charter.ErrChargeNotFound) {
		t.Errorf("missing key: err = %v", err)
	}

	all, err := s.ListCharges(ctx, sub.ID, charge.ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || !all[0].PeriodStart.Equal(day1) {
		t.Errorf("charges must list oldest period first, got %d", len(all))
	}

	declined, err := s.ListCharges(ctx, sub.ID, charge.ListOpts{Outcome: charge.OutcomeDeclined})
	if err != nil {
		t.Fatalf("list declined: %v", err)
	}
	if len(declined) != 1 || declined[0].Reason != string(wallet.OutcomeInsufficientFunds) {
		t.Errorf("declined = %v", declined)
	}
}
