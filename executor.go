package charter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/charter/charge"
	"github.com/xraph/charter/contract"
	"github.com/xraph/charter/id"
	"github.com/xraph/charter/lock"
	"github.com/xraph/charter/notify"
	"github.com/xraph/charter/subscription"
	"github.com/xraph/charter/wallet"
)

// ──────────────────────────────────────────────────
// Billing executor
// ──────────────────────────────────────────────────

// result is what billing one subscription did.
type result struct {
	charged  bool
	declined bool
	deferred bool
	lapsed   bool
	skipped  bool
}

// Sweep bills every subscription whose period is due, at most one period per
// subscription. A failure on one subscription never stops the others; all
// failures are returned together as a MultiError.
func (e *Engine) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	if e.wallets == nil {
		return report, ErrNoWalletLedger
	}

	start := time.Now()
	now := e.now()

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 10 * time.Millisecond
	due, err := backoff.Retry(ctx, func() ([]*subscription.Subscription, error) {
		return e.store.ListDueSubscriptions(ctx, now, e.batchSize)
	}, backoff.WithBackOff(retry), backoff.WithMaxTries(5))
	if err != nil {
		return report, fmt.Errorf("charter: list due subscriptions: %w", err)
	}
	report.Scanned = len(due)

	var (
		mu   sync.Mutex
		errs MultiError
		g    errgroup.Group
	)
	g.SetLimit(e.concurrency)

	for _, sub := range due {
		if ctx.Err() != nil {
			break
		}
		subID := sub.ID
		g.Go(func() error {
			res, err := e.bill(ctx, subID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failed++
				errs.Add(fmt.Errorf("subscription %s: %w", subID, err))
			case res.charged:
				report.Charged++
			case res.declined:
				report.Declined++
			case res.deferred:
				report.Deferred++
			case res.skipped:
				report.Skipped++
			}
			if res.lapsed {
				report.Lapsed++
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors

	report.Elapsed = time.Since(start)
	e.plugins.EmitSweepCompleted(ctx, report)

	if report.Scanned > 0 {
		e.logger.Info("sweep completed",
			"scanned", report.Scanned,
			"charged", report.Charged,
			"declined", report.Declined,
			"deferred", report.Deferred,
			"lapsed", report.Lapsed,
			"skipped", report.Skipped,
			"failed", report.Failed,
			"elapsed_ms", report.Elapsed.Milliseconds(),
		)
	}
	for _, err := range errs.Errors {
		e.logger.Warn("subscription billing failed", "error", err)
	}

	return report, errs.ErrOrNil()
}

// bill processes one due period of a subscription under its lock.
func (e *Engine) bill(ctx context.Context, subID id.SubscriptionID) (result, error) {
	lease, err := e.acquire(ctx, lock.SubscriptionKey(subID))
	if err != nil {
		// Someone else holds it; the period stays due for the next sweep.
		e.logger.Debug("subscription busy, skipping", "subscription_id", subID.String(), "error", err)
		return result{skipped: true}, nil
	}
	defer e.release(ctx, lease)

	sub, err := e.store.GetSubscription(ctx, subID)
	if err != nil {
		return result{}, err
	}
	if !sub.Status.Billable() {
		return result{skipped: true}, nil
	}

	o, err := e.store.GetContract(ctx, sub.ContractID)
	if err != nil {
		return result{}, err
	}
	if o.Status == contract.StatusCanceled {
		if err := e.lapse(ctx, sub, subscription.LapseContractCanceled); err != nil {
			return result{}, err
		}
		return result{lapsed: true}, nil
	}

	if !sub.Due(e.now()) {
		return result{skipped: true}, nil
	}

	period := sub.NextDueAt
	key := charge.IdempotencyKey(sub.ID, period)

	// A record for this period means a previous attempt got as far as the
	// wallet; finish applying it instead of transferring again.
	existing, err := e.store.GetChargeByKey(ctx, key)
	switch {
	case err == nil:
		e.logger.Info("resuming recorded charge",
			"subscription_id", sub.ID.String(),
			"period", period,
			"outcome", string(existing.Outcome),
		)
		return e.apply(context.WithoutCancel(ctx), sub, o, existing)
	case !IsNotFound(err):
		return result{}, err
	}

	req := wallet.Request{
		From:           sub.WalletID,
		To:             o.OwnerID,
		Amount:         o.Price,
		IdempotencyKey: key,
	}
	// An in-flight transfer outlives shutdown so its outcome can be recorded;
	// only transferTimeout bounds it.
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.transferTimeout)
	receipt, terr := e.wallets.Transfer(tctx, req)
	cancel()

	outcome := wallet.Classify(terr)
	if outcome == wallet.OutcomeUnavailable {
		e.plugins.EmitChargeDeferred(ctx, sub, period, terr)
		e.logger.Warn("transfer deferred",
			"subscription_id", sub.ID.String(),
			"period", period,
			"error", terr,
		)
		return result{deferred: true}, nil
	}

	// From here the transfer outcome is final and must be recorded even if
	// the sweep is being shut down.
	actx := context.WithoutCancel(ctx)

	c := &charge.Charge{
		ID:             id.NewChargeID(),
		SubscriptionID: sub.ID,
		ContractID:     o.ID,
		From:           req.From,
		To:             req.To,
		Amount:         req.Amount,
		PeriodStart:    period,
		IdempotencyKey: key,
		Outcome:        charge.OutcomeCommitted,
		Reference:      receipt.Reference,
		AttemptedAt:    e.now(),
	}
	if outcome.Declined() {
		c.Outcome = charge.OutcomeDeclined
		c.Reason = string(outcome)
		c.Reference = ""
	}

	if err := e.store.CreateCharge(actx, c); err != nil {
		if !errors.Is(err, ErrDuplicateCharge) {
			return result{}, err
		}
		if c, err = e.store.GetChargeByKey(actx, key); err != nil {
			return result{}, err
		}
	}

	return e.apply(actx, sub, o, c)
}

// apply advances the subscription past c's period according to its outcome.
func (e *Engine) apply(ctx context.Context, sub *subscription.Subscription, o *contract.Offer, c *charge.Charge) (result, error) {
	sched, err := e.schedule(o.CronExpr)
	if err != nil {
		return result{}, err
	}
	sub.AdvancePeriod(c.PeriodStart, sched.Next(c.PeriodStart))

	var res result
	activated := false

	if c.Committed() {
		res.charged = true
		charged := c.AttemptedAt
		sub.LastChargedAt = &charged
		sub.FailureCount = 0
		if sub.Status == subscription.StatusPending {
			if err := sub.Activate(e.now()); err != nil {
				return result{}, err
			}
			activated = true
		}
	} else {
		res.declined = true
		sub.FailureCount++
		if sub.FailureCount >= e.maxFailures {
			if err := sub.Lapse(e.now(), subscription.LapsePaymentFailed); err != nil {
				return result{}, err
			}
			res.lapsed = true
		}
	}
	sub.Touch(e.now())

	if err := e.store.UpdateSubscription(ctx, sub); err != nil {
		return result{}, err
	}

	if c.Committed() {
		e.plugins.EmitChargeCommitted(ctx, c)
	} else {
		e.plugins.EmitChargeDeclined(ctx, c)
	}
	if activated {
		e.plugins.EmitSubscriptionActivated(ctx, sub)
	}
	if res.lapsed {
		e.plugins.EmitSubscriptionLapsed(ctx, sub)
		e.logger.Info("subscription lapsed",
			"subscription_id", sub.ID.String(),
			"contract_id", sub.ContractID.String(),
			"reason", string(subscription.LapsePaymentFailed),
			"failures", sub.FailureCount,
		)
	}

	e.logger.Debug("period billed",
		"subscription_id", sub.ID.String(),
		"period", c.PeriodStart,
		"outcome", string(c.Outcome),
		"next_due_at", sub.NextDueAt,
	)
	return res, nil
}

// Run sweeps until ctx is canceled. Between sweeps it sleeps until the
// earliest due subscription or the poll interval, whichever is sooner, and
// wakes early on a notification.
func (e *Engine) Run(ctx context.Context) error {
	if e.wallets == nil {
		return ErrNoWalletLedger
	}

	wake, stop, err := e.notifier.Subscribe(ctx)
	if err != nil {
		e.logger.Warn("wake-up subscription failed, polling only", "error", err)
		wake, stop = nil, func() {}
	}
	defer stop()

	e.logger.Info("billing executor running", "poll_interval", e.pollInterval)

	for {
		notify.Drain(wake)

		report, err := e.Sweep(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			e.logger.Warn("sweep finished with errors", "error", err)
		}

		wait := e.nextWait(ctx, report)
		if wait <= 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		case <-wake:
			timer.Stop()
		}
	}
}

// nextWait is how long Run sleeps after a sweep.
func (e *Engine) nextWait(ctx context.Context, report SweepReport) time.Duration {
	wait := e.pollInterval

	earliest, err := e.store.NextDueAt(ctx)
	if err != nil {
		e.logger.Warn("earliest due lookup failed", "error", err)
		return min(wait, e.retryInterval)
	}
	if earliest.IsZero() {
		return wait
	}

	until := earliest.Sub(e.now())
	if until > 0 {
		return min(wait, until)
	}
	// Work is already due. Go again at once if the last sweep made
	// progress; otherwise it is stuck on locks or an unavailable wallet.
	if report.Advanced() || report.Lapsed > 0 {
		return 0
	}
	return min(wait, e.retryInterval)
}
