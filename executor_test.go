package charter_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/charter"
	"github.com/xraph/charter/charge"
	"github.com/xraph/charter/id"
	"github.com/xraph/charter/lock"
	"github.com/xraph/charter/subscription"
	"github.com/xraph/charter/wallet"
)

// recorder captures billing hooks.
type recorder struct {
	mu        sync.Mutex
	committed []*charge.Charge
	declined  []*charge.Charge
	deferred  int
	lapsed    []*subscription.Subscription
	sweeps    []charge.SweepReport
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) OnChargeCommitted(_ context.Context, c *charge.Charge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, c)
	return nil
}

func (r *recorder) OnChargeDeclined(_ context.Context, c *charge.Charge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.declined = append(r.declined, c)
	return nil
}

func (r *recorder) OnChargeDeferred(context.Context, *subscription.Subscription, time.Time, error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deferred++
	return nil
}

func (r *recorder) OnSubscriptionLapsed(_ context.Context, sub *subscription.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lapsed = append(r.lapsed, sub)
	return nil
}

func (r *recorder) OnSweepCompleted(_ context.Context, report charge.SweepReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweeps = append(r.sweeps, report)
	return nil
}

func TestSweepLapsesAfterConsecutiveDeclines(t *testing.T) {
	rec := &recorder{}
	h := newHarness(t, charter.WithPlugin(rec))
	ctx := context.Background()

	o := h.dailyOffer(t, "1.00")
	h.wallets.Deposit(alice, charter.MustMoney("2.00"))
	sub, err := h.engine.Subscribe(ctx, o.ID, alice)
	if err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		day      int
		charged  int
		declined int
		lapsed   int
		status   subscription.Status
		failures int
	}{
		{day: 2, charged: 1, status: subscription.StatusActive},
		{day: 3, charged: 1, status: subscription.StatusActive},
		{day: 4, declined: 1, status: subscription.StatusActive, failures: 1},
		{day: 5, declined: 1, status: subscription.StatusActive, failures: 2},
		{day: 6, declined: 1, lapsed: 1, status: subscription.StatusCanceled, failures: 3},
		{day: 7, status: subscription.StatusCanceled, failures: 3},
	}

	for _, step := range steps {
		h.clock.Set(midnight(step.day))
		r := h.sweep(t)
		if r.Charged != step.charged || r.Declined != step.declined || r.Lapsed != step.lapsed {
			t.Fatalf("day %d: report %+v", step.day, r)
		}

		got, err := h.engine.GetSubscription(ctx, sub.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != step.status || got.FailureCount != step.failures {
			t.Fatalf("day %d: status %s failures %d", step.day, got.Status, got.FailureCount)
		}
	}

	got, _ := h.engine.GetSubscription(ctx, sub.ID)
	if got.LapseReason != subscription.LapsePaymentFailed {
		t.Errorf("reason = %s, want payment_failed", got.LapseReason)
	}
	if got.LastChargedAt == nil || got.LastChargedAt.After(midnight(4)) {
		t.Errorf("last_charged_at = %v", got.LastChargedAt)
	}
	if !h.wallets.Balance(alice).IsZero() || !h.wallets.Balance(owner).Equal(charter.MustMoney("2")) {
		t.Errorf("balances: alice %s owner %s", h.wallets.Balance(alice), h.wallets.Balance(owner))
	}

	charges, err := h.store.ListCharges(ctx, sub.ID, charge.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(charges) != 5 {
		t.Fatalf("charges = %d, want 5", len(charges))
	}
	for _, c := range charges[2:] {
		if c.Outcome != charge.OutcomeDeclined || c.Reason != string(wallet.OutcomeInsufficientFunds) {
			t.Errorf("charge %s: outcome %s reason %q", c.PeriodStart, c.Outcome, c.Reason)
		}
	}

	if len(rec.committed) != 2 || len(rec.declined) != 3 || len(rec.lapsed) != 1 {
		t.Errorf("hooks: committed %d declined %d lapsed %d", len(rec.committed), len(rec.declined), len(rec.lapsed))
	}
	if len(rec.sweeps) != len(steps) {
		t.Errorf("sweep hooks = %d, want %d", len(rec.sweeps), len(steps))
	}
}

func TestSweepSuccessResetsFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	o := h.dailyOffer(t, "1")
	sub, err := h.engine.Subscribe(ctx, o.ID, alice)
	if err != nil {
		t.Fatal(err)
	}

	h.clock.Set(midnight(2))
	h.sweep(t)
	h.clock.Set(midnight(3))
	h.sweep(t)

	h.wallets.Deposit(alice, charter.MustMoney("1"))
	h.clock.Set(midnight(4))
	if r := h.sweep(t); r.Charged != 1 {
		t.Fatalf("report %+v", r)
	}

	got, _ := h.engine.GetSubscription(ctx, sub.ID)
	if got.FailureCount != 0 || got.Status != subscription.StatusActive {
		t.Errorf("status %s failures %d", got.Status, got.FailureCount)
	}
}

func TestSweepBillsOnePeriodPerPass(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	o := h.dailyOffer(t, "1")
	h.wallets.Deposit(alice, charter.MustMoney("10"))
	sub, err := h.engine.Subscribe(ctx, o.ID, alice)
	if err != nil {
		t.Fatal(err)
	}

	// Three periods elapsed while the executor was down.
	h.clock.Set(midnight(4).Add(time.Hour))
	for i, want := range []time.Time{midnight(3), midnight(4), midnight(5)} {
		if r := h.sweep(t); r.Charged != 1 {
			t.Fatalf("pass %d: report %+v", i, r)
		}
		got, _ := h.engine.GetSubscription(ctx, sub.ID)
		if !got.NextDueAt.Equal(want) {
			t.Fatalf("pass %d: next_due_at %v, want %v", i, got.NextDueAt, want)
		}
	}
	if r := h.sweep(t); r.Scanned != 0 {
		t.Errorf("caught up subscription still due: %+v", r)
	}
	if !h.wallets.Balance(alice).Equal(charter.MustMoney("7")) {
		t.Errorf("alice = %s, want 7", h.wallets.Balance(alice))
	}
}

func TestSweepDefersWhenWalletUnavailable(t *testing.T) {
	rec := &recorder{}
	h := newHarness(t, charter.WithPlugin(rec))
	ctx := context.Background()

	o := h.dailyOffer(t, "1")
	h.wallets.Deposit(alice, charter.MustMoney("5"))
	sub, err := h.engine.Subscribe(ctx, o.ID, alice)
	if err != nil {
		t.Fatal(err)
	}

	h.wallets.FailNext(wallet.ErrUnavailable, fmt.Errorf("dial tcp: connection refused"))
	h.clock.Set(midnight(2))

	for range 2 {
		r := h.sweep(t)
		if r.Deferred != 1 || r.Advanced() {
			t.Fatalf("report %+v", r)
		}
		got, _ := h.engine.GetSubscription(ctx, sub.ID)
		if !got.NextDueAt.Equal(midnight(2)) || got.FailureCount != 0 {
			t.Fatalf("deferred period moved the cursor: %+v", got)
		}
	}
	if rec.deferred != 2 {
		t.Errorf("deferred hooks = %d", rec.deferred)
	}

	if r := h.sweep(t); r.Charged != 1 {
		t.Fatalf("retry: %+v", r)
	}
	if _, err := h.store.GetChargeByKey(ctx, charge.IdempotencyKey(sub.ID, midnight(2))); err != nil {
		t.Errorf("charge not recorded: %v", err)
	}
}

func TestSweepRejectedTransferCountsAsDecline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	o := h.dailyOffer(t, "1")
	h.wallets.Deposit(alice, charter.MustMoney("5"))
	sub, err := h.engine.Subscribe(ctx, o.ID, alice)
	if err != nil {
		t.Fatal(err)
	}

	h.wallets.FailNext(fmt.Errorf("%w: wallet frozen", wallet.ErrRejected))
	h.clock.Set(midnight(2))
	if r := h.sweep(t); r.Declined != 1 {
		t.Fatalf("report %+v", r)
	}

	c, err := h.store.GetChargeByKey(ctx, charge.IdempotencyKey(sub.ID, midnight(2)))
	if err != nil {
		t.Fatal(err)
	}
	if c.Outcome != charge.OutcomeDeclined || c.Reason != string(wallet.OutcomeRejected) {
		t.Errorf("charge = %+v", c)
	}
}

func TestSweepResumesRecordedCharge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	o := h.dailyOffer(t, "1")
	sub, err := h.engine.Subscribe(ctx, o.ID, alice)
	if err != nil {
		t.Fatal(err)
	}

	// A previous executor recorded the outcome and died before advancing
	// the subscription.
	period := sub.NextDueAt
	recorded := &charge.Charge{
		ID:             id.NewChargeID(),
		SubscriptionID: sub.ID,
		ContractID:     o.ID,
		From:           alice,
		To:             owner,
		Amount:         o.Price,
		PeriodStart:    period,
		IdempotencyKey: charge.IdempotencyKey(sub.ID, period),
		Outcome:        charge.OutcomeCommitted,
		Reference:      "tx-before-crash",
		AttemptedAt:    period,
	}
	if err := h.store.CreateCharge(ctx, recorded); err != nil {
		t.Fatal(err)
	}

	h.clock.Set(midnight(2).Add(time.Minute))
	if r := h.sweep(t); r.Charged != 1 {
		t.Fatalf("report %+v", r)
	}
	if h.wallets.Attempts() != 0 {
		t.Errorf("recorded period must not be transferred again, attempts = %d", h.wallets.Attempts())
	}

	got, _ := h.engine.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusActive || !got.NextDueAt.Equal(midnight(3)) {
		t.Errorf("subscription not advanced: %+v", got)
	}
	if got.LastPeriodAt == nil || !got.LastPeriodAt.Equal(period) {
		t.Errorf("last_period_at = %v", got.LastPeriodAt)
	}
}

func TestSweepLapsesSubscribersOfCanceledOffer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	o := h.dailyOffer(t, "1")
	h.wallets.Deposit(alice, charter.MustMoney("5"))
	sub, err := h.engine.Subscribe(ctx, o.ID, alice)
	if err != nil {
		t.Fatal(err)
	}

	// Cancel the offer without lapsing, as if CancelOffer died half way.
	if err := h.store.UpdateContractStatus(ctx, o.ID, "canceled", h.clock.Now()); err != nil {
		t.Fatal(err)
	}

	h.clock.Set(midnight(2))
	r := h.sweep(t)
	if r.Lapsed != 1 || r.Advanced() {
		t.Fatalf("report %+v", r)
	}
	if h.wallets.Attempts() != 0 {
		t.Error("no transfer may be attempted for a canceled offer")
	}
	got, _ := h.engine.GetSubscription(ctx, sub.ID)
	if got.LapseReason != subscription.LapseContractCanceled {
		t.Errorf("reason = %s", got.LapseReason)
	}
}

func TestConcurrentExecutorsChargeOncePerPeriod(t *testing.T) {
	const executors, subscribers = 4, 25

	tests := []struct {
		name   string
		locker func() func() lock.Locker
		// exact means the locks serialize billing, so each period is
		// counted once across executors.
		exact bool
	}{
		{
			name: "shared locker",
			locker: func() func() lock.Locker {
				shared := lock.NewLocal()
				return func() lock.Locker { return shared }
			},
			exact: true,
		},
		{
			// Nothing coordinates the executors, so only the idempotency
			// key keeps a period from being paid twice.
			name: "independent lockers",
			locker: func() func() lock.Locker {
				return func() lock.Locker { return lock.NewLocal() }
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			newLocker := tt.locker()
			h := newHarness(t, charter.WithLocker(newLocker()))
			ctx := context.Background()

			o := h.dailyOffer(t, "1")
			subs := make([]*subscription.Subscription, subscribers)
			for i := range subs {
				w := wallet.ID(1000 + i)
				h.wallets.Deposit(w, charter.MustMoney("100"))
				sub, err := h.engine.Subscribe(ctx, o.ID, w)
				if err != nil {
					t.Fatal(err)
				}
				subs[i] = sub
			}

			engines := []*charter.Engine{h.engine}
			for i := 1; i < executors; i++ {
				engines = append(engines, charter.New(h.store,
					charter.WithLogger(slog.New(slog.DiscardHandler)),
					charter.WithWalletLedger(h.wallets),
					charter.WithClock(h.clock.Now),
					charter.WithLocker(newLocker()),
					charter.WithInstanceID(fmt.Sprintf("executor-%d", i)),
					charter.WithSweepConfig(10, 4),
				))
			}

			for day := 2; day <= 4; day++ {
				h.clock.Set(midnight(day))

				var (
					wg    sync.WaitGroup
					mu    sync.Mutex
					total charter.SweepReport
				)
				for _, e := range engines {
					wg.Add(1)
					go func(e *charter.Engine) {
						defer wg.Done()
						for {
							r, err := e.Sweep(ctx)
							if err != nil {
								t.Errorf("sweep: %v", err)
								return
							}
							mu.Lock()
							total.Merge(r)
							mu.Unlock()
							if r.Scanned == 0 {
								return
							}
						}
					}(e)
				}
				wg.Wait()

				if tt.exact && total.Charged != subscribers {
					t.Errorf("day %d: charged %d across executors, want %d", day, total.Charged, subscribers)
				}
				if total.Declined != 0 || total.Failed != 0 {
					t.Errorf("day %d: declined %d, failed %d", day, total.Declined, total.Failed)
				}
				for _, sub := range subs {
					key := charge.IdempotencyKey(sub.ID, midnight(day))
					if n := h.wallets.CommittedFor(key); n != 1 {
						t.Fatalf("day %d: %s committed %d times", day, sub.ID, n)
					}
					if _, err := h.store.GetChargeByKey(ctx, key); err != nil {
						t.Fatalf("day %d: %s has no charge row: %v", day, sub.ID, err)
					}
					got, err := h.store.GetSubscription(ctx, sub.ID)
					if err != nil {
						t.Fatal(err)
					}
					if !got.NextDueAt.Equal(midnight(day + 1)) {
						t.Fatalf("day %d: %s next due %v", day, sub.ID, got.NextDueAt)
					}
				}
			}

			if !h.wallets.Balance(owner).Equal(charter.MustMoney(fmt.Sprint(3 * subscribers))) {
				t.Errorf("owner = %s", h.wallets.Balance(owner))
			}
		})
	}
}

func TestStopDuringTransferRecordsCharge(t *testing.T) {
	h := newHarness(t,
		charter.WithPollInterval(10*time.Millisecond),
		charter.WithRetryInterval(10*time.Millisecond),
	)
	ctx := context.Background()

	o := h.dailyOffer(t, "1")
	h.wallets.Deposit(alice, charter.MustMoney("10"))
	sub, err := h.engine.Subscribe(ctx, o.ID, alice)
	if err != nil {
		t.Fatal(err)
	}

	inFlight := make(chan struct{})
	finish := make(chan struct{})
	var once sync.Once
	slow := wallet.LedgerFunc(func(ctx context.Context, req wallet.Request) (wallet.Receipt, error) {
		receipt, err := h.wallets.Transfer(ctx, req)
		once.Do(func() { close(inFlight) })
		select {
		case <-finish:
		case <-ctx.Done():
			return wallet.Receipt{}, fmt.Errorf("%w: %v", wallet.ErrUnavailable, ctx.Err())
		}
		return receipt, err
	})

	e := charter.New(h.store,
		charter.WithLogger(slog.New(slog.DiscardHandler)),
		charter.WithWalletLedger(slow),
		charter.WithClock(h.clock.Now),
		charter.WithPollInterval(10*time.Millisecond),
		charter.WithRetryInterval(10*time.Millisecond),
	)
	h.clock.Set(midnight(2))
	if err := e.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-inFlight:
	case <-time.After(5 * time.Second):
		t.Fatal("transfer never started")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- e.Stop() }()

	// Let the stop cancel the run context before the ledger answers.
	time.Sleep(20 * time.Millisecond)
	close(finish)

	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not return")
	}

	key := charge.IdempotencyKey(sub.ID, midnight(2))
	if n := h.wallets.CommittedFor(key); n != 1 {
		t.Fatalf("committed %d times", n)
	}
	c, err := h.store.GetChargeByKey(ctx, key)
	if err != nil {
		t.Fatalf("committed transfer has no charge row: %v", err)
	}
	if !c.Committed() {
		t.Errorf("charge outcome = %s", c.Outcome)
	}
	got, err := h.store.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.NextDueAt.Equal(midnight(3)) {
		t.Errorf("next due = %v, want %v", got.NextDueAt, midnight(3))
	}
	if got.Status != subscription.StatusActive {
		t.Errorf("status = %s, want active", got.Status)
	}
}

func TestSweepWithoutWalletLedger(t *testing.T) {
	h := newHarness(t)
	e := charter.New(h.store)
	if _, err := e.Sweep(context.Background()); !errors.Is(err, charter.ErrNoWalletLedger) {
		t.Errorf("err = %v, want ErrNoWalletLedger", err)
	}
}

func TestRunBillsInBackground(t *testing.T) {
	h := newHarness(t,
		charter.WithPollInterval(10*time.Millisecond),
		charter.WithRetryInterval(10*time.Millisecond),
	)
	ctx := context.Background()

	o := h.dailyOffer(t, "1")
	h.wallets.Deposit(alice, charter.MustMoney("5"))
	sub, err := h.engine.Subscribe(ctx, o.ID, alice)
	if err != nil {
		t.Fatal(err)
	}
	h.clock.Set(midnight(2))

	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.engine.Start(ctx); !errors.Is(err, charter.ErrAlreadyActive) {
		t.Errorf("second start: err = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := h.engine.GetSubscription(ctx, sub.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status == subscription.StatusActive {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("executor never billed the due subscription")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := h.engine.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := h.engine.Stop(); !errors.Is(err, charter.ErrNotStarted) {
		t.Errorf("second stop: err = %v", err)
	}
	if n := h.wallets.CommittedFor(charge.IdempotencyKey(sub.ID, midnight(2))); n != 1 {
		t.Errorf("committed %d times", n)
	}
}
