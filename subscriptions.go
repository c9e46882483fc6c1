package charter

import (
	"context"
	"fmt"

	"github.com/xraph/charter/contract"
	"github.com/xraph/charter/id"
	"github.com/xraph/charter/lock"
	"github.com/xraph/charter/subscription"
	"github.com/xraph/charter/types"
	"github.com/xraph/charter/wallet"
)

// ──────────────────────────────────────────────────
// Subscriptions
// ──────────────────────────────────────────────────

// ListSubscriptionsOpts filters ListSubscriptions.
type ListSubscriptionsOpts struct {
	ContractID id.ContractID
	WalletID   wallet.ID
	Status     subscription.Status
	Limit      int
	Offset     int
}

// Subscribe enrolls walletID in an open offer. The checks run under the
// contract lock so capacity holds under concurrent subscribers.
func (e *Engine) Subscribe(ctx context.Context, contractID id.ContractID, walletID wallet.ID) (*subscription.Subscription, error) {
	if !walletID.Valid() {
		return nil, ValidationError{Field: "wallet_id", Message: "must be greater than 0"}
	}

	lease, err := e.acquire(ctx, lock.ContractKey(contractID))
	if err != nil {
		return nil, err
	}
	defer e.release(ctx, lease)

	o, err := e.store.GetContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if o.Status != contract.StatusOpen {
		return nil, fmt.Errorf("%w: offer %s is %s", ErrStateConflict, contractID, o.Status)
	}
	// The ledger refuses transfers to the paying wallet, so such a
	// subscription could only ever decline.
	if walletID == o.OwnerID {
		return nil, fmt.Errorf("%w: wallet %s owns offer %s", ErrSelfSubscription, walletID, contractID)
	}
	if !o.Permits(walletID) {
		return nil, fmt.Errorf("%w: wallet %s on offer %s", ErrNotAllowed, walletID, contractID)
	}

	if _, err := e.store.GetSubscriptionByPair(ctx, contractID, walletID); err == nil {
		return nil, fmt.Errorf("%w: wallet %s on offer %s", ErrAlreadySubscribed, walletID, contractID)
	} else if !IsNotFound(err) {
		return nil, err
	}

	if o.MaxSubscribers != nil {
		live, err := e.store.CountLiveSubscriptions(ctx, contractID)
		if err != nil {
			return nil, err
		}
		if !o.HasCapacity(live) {
			return nil, fmt.Errorf("%w: offer %s has %d of %d subscribers",
				ErrCapacityExceeded, contractID, live, *o.MaxSubscribers)
		}
	}

	sched, err := e.schedule(o.CronExpr)
	if err != nil {
		return nil, err
	}

	now := e.now()
	sub := &subscription.Subscription{
		Entity:     types.NewEntityAt(now),
		ID:         id.NewSubscriptionID(),
		ContractID: o.ID,
		WalletID:   walletID,
		Status:     subscription.StatusPending,
		StartedAt:  now,
		NextDueAt:  sched.Next(now),
	}
	if err := e.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	e.plugins.EmitSubscriptionCreated(ctx, sub)
	e.wake(ctx)

	e.logger.Info("subscription created",
		"subscription_id", sub.ID.String(),
		"contract_id", o.ID.String(),
		"wallet_id", walletID,
		"next_due_at", sub.NextDueAt,
	)
	return sub, nil
}

// ActivateSubscription moves a pending subscription to active. Activating an
// active subscription is a no-op.
func (e *Engine) ActivateSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	lease, err := e.acquire(ctx, lock.SubscriptionKey(subID))
	if err != nil {
		return nil, err
	}
	defer e.release(ctx, lease)

	sub, err := e.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	switch sub.Status {
	case subscription.StatusActive:
		return sub, nil
	case subscription.StatusCanceled:
		return nil, fmt.Errorf("%w: subscription %s is canceled", ErrStateConflict, subID)
	}

	if err := sub.Activate(e.now()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStateConflict, err)
	}
	if err := e.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	e.plugins.EmitSubscriptionActivated(ctx, sub)
	return sub, nil
}

// CancelSubscription unsubscribes. No transfer is attempted for the
// subscription afterwards. Canceling a canceled subscription is a no-op.
func (e *Engine) CancelSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	lease, err := e.acquire(ctx, lock.SubscriptionKey(subID))
	if err != nil {
		return nil, err
	}
	defer e.release(ctx, lease)

	sub, err := e.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	if sub.Status == subscription.StatusCanceled {
		return sub, nil
	}

	if err := e.lapse(ctx, sub, subscription.LapseUnsubscribed); err != nil {
		return nil, err
	}
	return sub, nil
}

// LapseAllForContract cancels every live subscription of an offer and
// returns how many it lapsed.
func (e *Engine) LapseAllForContract(ctx context.Context, contractID id.ContractID) (int, error) {
	lease, err := e.acquire(ctx, lock.ContractKey(contractID))
	if err != nil {
		return 0, err
	}
	defer e.release(ctx, lease)

	return e.lapseAll(ctx, contractID)
}

// lapseAll expects the caller to hold the contract lock. Subscriptions that
// fail to lapse are reported in a MultiError; the executor lapses them
// lazily later.
func (e *Engine) lapseAll(ctx context.Context, contractID id.ContractID) (int, error) {
	var ids []id.SubscriptionID
	for offset := 0; ; offset += MaxPageLimit {
		page, err := e.store.ListSubscriptions(ctx, subscription.ListOpts{
			ContractID: contractID,
			LiveOnly:   true,
			Limit:      MaxPageLimit,
			Offset:     offset,
		})
		if err != nil {
			return 0, err
		}
		for _, s := range page {
			ids = append(ids, s.ID)
		}
		if len(page) < MaxPageLimit {
			break
		}
	}

	var (
		lapsed int
		errs   MultiError
	)
	for _, subID := range ids {
		ok, err := e.lapseOne(ctx, subID)
		if err != nil {
			errs.Add(fmt.Errorf("lapse %s: %w", subID, err))
			continue
		}
		if ok {
			lapsed++
		}
	}

	if errs.HasErrors() {
		e.logger.Warn("some subscriptions were not lapsed",
			"contract_id", contractID.String(),
			"failed", len(errs.Errors),
		)
	}
	return lapsed, errs.ErrOrNil()
}

func (e *Engine) lapseOne(ctx context.Context, subID id.SubscriptionID) (bool, error) {
	lease, err := e.acquire(ctx, lock.SubscriptionKey(subID))
	if err != nil {
		return false, err
	}
	defer e.release(ctx, lease)

	sub, err := e.store.GetSubscription(ctx, subID)
	if err != nil {
		return false, err
	}
	if !sub.Status.Billable() {
		return false, nil
	}
	return true, e.lapse(ctx, sub, subscription.LapseContractCanceled)
}

// lapse cancels sub and persists it. The caller holds the subscription lock.
func (e *Engine) lapse(ctx context.Context, sub *subscription.Subscription, reason subscription.LapseReason) error {
	if err := sub.Lapse(e.now(), reason); err != nil {
		return fmt.Errorf("%w: %w", ErrStateConflict, err)
	}
	if err := e.store.UpdateSubscription(ctx, sub); err != nil {
		return err
	}

	e.plugins.EmitSubscriptionLapsed(ctx, sub)
	e.logger.Info("subscription lapsed",
		"subscription_id", sub.ID.String(),
		"contract_id", sub.ContractID.String(),
		"reason", string(reason),
	)
	return nil
}

// GetSubscription retrieves a subscription by ID.
func (e *Engine) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	return e.store.GetSubscription(ctx, subID)
}

// ListSubscriptions returns a page of subscriptions matching opts.
func (e *Engine) ListSubscriptions(ctx context.Context, opts ListSubscriptionsOpts) (*Page[*subscription.Subscription], error) {
	return e.pageSubscriptions(ctx, subscription.ListOpts{
		ContractID: opts.ContractID,
		WalletID:   opts.WalletID,
		Status:     opts.Status,
		Limit:      opts.Limit,
		Offset:     opts.Offset,
	})
}

// ListSubscribers returns the subscribers of an offer. With activeOnly set,
// only subscriptions that have been charged at least once are included;
// otherwise every non-canceled subscription is.
func (e *Engine) ListSubscribers(ctx context.Context, contractID id.ContractID, activeOnly bool, limit, offset int) (*Page[*subscription.Subscription], error) {
	opts := subscription.ListOpts{ContractID: contractID, Limit: limit, Offset: offset}
	if activeOnly {
		opts.Status = subscription.StatusActive
	} else {
		opts.LiveOnly = true
	}
	return e.pageSubscriptions(ctx, opts)
}

func (e *Engine) pageSubscriptions(ctx context.Context, opts subscription.ListOpts) (*Page[*subscription.Subscription], error) {
	limit, offset := clampPage(opts.Limit, opts.Offset)
	opts.Limit, opts.Offset = 0, 0

	total, err := e.store.CountSubscriptions(ctx, opts)
	if err != nil {
		return nil, err
	}
	opts.Limit, opts.Offset = limit, offset
	items, err := e.store.ListSubscriptions(ctx, opts)
	if err != nil {
		return nil, err
	}
	return newPage(items, total, limit, offset), nil
}
