package subscription_test

import (
	"testing"
	"time"

	"github.com/xraph/charter/id"
	"github.com/xraph/charter/subscription"
	"github.com/xraph/charter/types"
)

func newSub(status subscription.Status) *subscription.Subscription {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &subscription.Subscription{
		Entity:    types.NewEntityAt(start),
		ID:        id.NewSubscriptionID(),
		Status:    status,
		StartedAt: start,
		NextDueAt: start.AddDate(0, 0, 1),
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to subscription.Status
		allowed  bool
	}{
		{subscription.StatusPending, subscription.StatusActive, true},
		{subscription.StatusPending, subscription.StatusCanceled, true},
		{subscription.StatusActive, subscription.StatusCanceled, true},
		{subscription.StatusActive, subscription.StatusPending, false},
		{subscription.StatusCanceled, subscription.StatusActive, false},
		{subscription.StatusCanceled, subscription.StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.allowed {
				t.Errorf("CanTransition = %v, want %v", got, tt.allowed)
			}
		})
	}
}

func TestLapseSetsLapsedAt(t *testing.T) {
	s := newSub(subscription.StatusActive)
	if s.LapsedAt != nil {
		t.Fatal("fresh subscription must not have lapsed_at")
	}

	at := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	if err := s.Lapse(at, subscription.LapsePaymentFailed); err != nil {
		t.Fatalf("lapse: %v", err)
	}
	if s.Status != subscription.StatusCanceled {
		t.Errorf("status = %s", s.Status)
	}
	if s.LapsedAt == nil || !s.LapsedAt.Equal(at) {
		t.Errorf("lapsed_at = %v, want %v", s.LapsedAt, at)
	}
	if s.LapseReason != subscription.LapsePaymentFailed {
		t.Errorf("reason = %s", s.LapseReason)
	}

	if err := s.Lapse(at.Add(time.Hour), subscription.LapseUnsubscribed); err == nil {
		t.Error("second lapse must fail")
	}
	if !s.LapsedAt.Equal(at) {
		t.Error("failed lapse must not move lapsed_at")
	}
}

func TestActivate(t *testing.T) {
	s := newSub(subscription.StatusPending)
	if err := s.Activate(time.Now()); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if s.Status != subscription.StatusActive {
		t.Errorf("status = %s", s.Status)
	}
	if err := s.Activate(time.Now()); err == nil {
		t.Error("activating an active subscription must fail")
	}
}

func TestDueAndCursor(t *testing.T) {
	s := newSub(subscription.StatusPending)

	if s.Due(s.NextDueAt.Add(-time.Second)) {
		t.Error("not due before NextDueAt")
	}
	if !s.Due(s.NextDueAt) {
		t.Error("due exactly at NextDueAt")
	}
	if !s.BillingAnchor().Equal(s.StartedAt) {
		t.Error("anchor must be started_at before any period")
	}

	period := s.NextDueAt
	s.AdvancePeriod(period, period.AddDate(0, 0, 1))
	if !s.BillingAnchor().Equal(period) {
		t.Errorf("anchor = %v, want %v", s.BillingAnchor(), period)
	}
	if s.Due(period) {
		t.Error("advanced subscription must not be due at the old period")
	}

	_ = s.Lapse(period, subscription.LapseUnsubscribed)
	if s.Due(period.AddDate(1, 0, 0)) {
		t.Error("canceled subscriptions are never due")
	}
}
