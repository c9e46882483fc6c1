package plugin_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/charter/charge"
	"github.com/xraph/charter/contract"
	"github.com/xraph/charter/plugin"
	"github.com/xraph/charter/subscription"
)

type recorder struct {
	name      string
	created   atomic.Int32
	lapsed    atomic.Int32
	sweeps    atomic.Int32
	committed atomic.Int32
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) OnContractCreated(context.Context, *contract.Offer) error {
	r.created.Add(1)
	return nil
}

func (r *recorder) OnSubscriptionLapsed(context.Context, *subscription.Subscription) error {
	r.lapsed.Add(1)
	return errors.New("boom")
}

func (r *recorder) OnSweepCompleted(context.Context, charge.SweepReport) error {
	r.sweeps.Add(1)
	return nil
}

func (r *recorder) OnChargeCommitted(context.Context, *charge.Charge) error {
	r.committed.Add(1)
	panic("plugin bug")
}

type slow struct{}

func (slow) Name() string { return "slow" }

func (slow) OnContractClosed(ctx context.Context, _ *contract.Offer) error {
	<-ctx.Done()
	return nil
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := plugin.NewRegistry()
	if err := r.Register(&recorder{name: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&recorder{name: "a"}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1", r.Count())
	}
	if r.Get("a") == nil || r.Get("missing") != nil {
		t.Error("Get returned unexpected result")
	}
}

func TestEmitDispatchesOnlyImplementedHooks(t *testing.T) {
	r := plugin.NewRegistry()
	rec := &recorder{name: "rec"}
	_ = r.Register(rec)
	ctx := context.Background()

	r.EmitContractCreated(ctx, &contract.Offer{})
	r.EmitContractClosed(ctx, &contract.Offer{})
	r.EmitSubscriptionLapsed(ctx, &subscription.Subscription{})
	r.EmitSweepCompleted(ctx, charge.SweepReport{Scanned: 1})
	r.EmitChargeCommitted(ctx, &charge.Charge{})

	if rec.created.Load() != 1 {
		t.Errorf("created = %d", rec.created.Load())
	}
	if rec.lapsed.Load() != 1 {
		t.Error("a failing hook must still be called")
	}
	if rec.sweeps.Load() != 1 {
		t.Errorf("sweeps = %d", rec.sweeps.Load())
	}
	if rec.committed.Load() != 1 {
		t.Error("a panicking hook must be called and recovered")
	}
}

func TestEmitTimesOut(t *testing.T) {
	r := plugin.NewRegistry().WithTimeout(20 * time.Millisecond)
	_ = r.Register(slow{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	r.EmitContractClosed(ctx, &contract.Offer{})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("emit blocked for %v", elapsed)
	}
}
