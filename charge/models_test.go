package charge_test

import (
	"testing"
	"time"

	"github.com/xraph/charter/charge"
	"github.com/xraph/charter/id"
)

func TestIdempotencyKey(t *testing.T) {
	sub := id.NewSubscriptionID()
	period := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	key := charge.IdempotencyKey(sub, period)
	if len(key) != 64 {
		t.Fatalf("key length = %d, want 64 hex chars", len(key))
	}

	tests := []struct {
		name  string
		sub   id.SubscriptionID
		at    time.Time
		equal bool
	}{
		{"same inputs", sub, period, true},
		{"same instant other zone", sub, period.In(time.FixedZone("X", 5*3600)), true},
		{"next period", sub, period.Add(24 * time.Hour), false},
		{"other subscription", id.NewSubscriptionID(), period, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := charge.IdempotencyKey(tt.sub, tt.at)
			if (got == key) != tt.equal {
				t.Errorf("key equality = %v, want %v", got == key, tt.equal)
			}
		})
	}
}

func TestCommitted(t *testing.T) {
	c := &charge.Charge{Outcome: charge.OutcomeCommitted}
	if !c.Committed() {
		t.Error("committed charge must report Committed")
	}
	c.Outcome = charge.OutcomeDeclined
	if c.Committed() {
		t.Error("declined charge must not report Committed")
	}
}
