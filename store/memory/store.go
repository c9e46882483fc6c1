// Package memory is an in-process Store for tests, examples and single-node
// development. Records are copied on the way in and out so callers never
// share state with the store.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/xraph/charter"
	"github.com/xraph/charter/charge"
	"github.com/xraph/charter/contract"
	"github.com/xraph/charter/id"
	"github.com/xraph/charter/store"
	"github.com/xraph/charter/subscription"
	"github.com/xraph/charter/wallet"
)

var _ store.Store = (*Store)(nil)

type pairKey struct {
	contract string
	wallet   wallet.ID
}

type Store struct {
	mu     sync.RWMutex
	closed bool

	contracts     map[string]contract.Offer
	subscriptions map[string]subscription.Subscription
	byPair        map[pairKey]string
	charges       map[string]charge.Charge // by idempotency key
}

func New() *Store {
	return &Store{
		contracts:     make(map[string]contract.Offer),
		subscriptions: make(map[string]subscription.Subscription),
		byPair:        make(map[pairKey]string),
		charges:       make(map[string]charge.Charge),
	}
}

// ──────────────────────────────────────────────────
// Contract Store implementation
// ──────────────────────────────────────────────────

func (s *Store) CreateContract(_ context.Context, o *contract.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.contracts[o.ID.String()]; exists {
		return charter.ErrAlreadyExists
	}
	s.contracts[o.ID.String()] = *o
	return nil
}

func (s *Store) GetContract(_ context.Context, contractID id.ContractID) (*contract.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if o, ok := s.contracts[contractID.String()]; ok {
		return &o, nil
	}
	return nil, charter.ErrContractNotFound
}

func (s *Store) ListContracts(_ context.Context, opts contract.ListOpts) ([]*contract.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*contract.Offer, 0)
	for _, o := range s.contracts {
		if matchContract(&o, opts) {
			result = append(result, &o)
		}
	}
	// Newest first; TypeIDs sort by creation time.
	slices.SortFunc(result, func(a, b *contract.Offer) int {
		return cmp.Compare(b.ID.String(), a.ID.String())
	})
	return paginate(result, opts.Limit, opts.Offset), nil
}

func (s *Store) CountContracts(_ context.Context, opts contract.ListOpts) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, o := range s.contracts {
		if matchContract(&o, opts) {
			n++
		}
	}
	return n, nil
}

func (s *Store) UpdateContractStatus(_ context.Context, contractID id.ContractID, status contract.Status, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.contracts[contractID.String()]
	if !ok {
		return charter.ErrContractNotFound
	}
	o.Status = status
	o.UpdatedAt = updatedAt
	s.contracts[contractID.String()] = o
	return nil
}

func matchContract(o *contract.Offer, opts contract.ListOpts) bool {
	if opts.OwnerID != 0 && o.OwnerID != opts.OwnerID {
		return false
	}
	return opts.Status == "" || o.Status == opts.Status
}

// ──────────────────────────────────────────────────
// Subscription Store implementation
// ──────────────────────────────────────────────────

func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[sub.ID.String()]; exists {
		return charter.ErrAlreadyExists
	}
	pk := pairKey{sub.ContractID.String(), sub.WalletID}
	if _, exists := s.byPair[pk]; exists {
		return fmt.Errorf("%w: wallet %s on offer %s", charter.ErrAlreadySubscribed, sub.WalletID, sub.ContractID)
	}
	s.subscriptions[sub.ID.String()] = *sub
	s.byPair[pk] = sub.ID.String()
	return nil
}

func (s *Store) GetSubscription(_ context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub, ok := s.subscriptions[subID.String()]; ok {
		return &sub, nil
	}
	return nil, charter.ErrSubscriptionNotFound
}

func (s *Store) GetSubscriptionByPair(_ context.Context, contractID id.ContractID, walletID wallet.ID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if key, ok := s.byPair[pairKey{contractID.String(), walletID}]; ok {
		sub := s.subscriptions[key]
		return &sub, nil
	}
	return nil, charter.ErrSubscriptionNotFound
}

func (s *Store) ListSubscriptions(_ context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if matchSubscription(&sub, opts) {
			result = append(result, &sub)
		}
	}
	slices.SortFunc(result, func(a, b *subscription.Subscription) int {
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return paginate(result, opts.Limit, opts.Offset), nil
}

func (s *Store) CountSubscriptions(_ context.Context, opts subscription.ListOpts) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, sub := range s.subscriptions {
		if matchSubscription(&sub, opts) {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountLiveSubscriptions(ctx context.Context, contractID id.ContractID) (int, error) {
	return s.CountSubscriptions(ctx, subscription.ListOpts{ContractID: contractID, LiveOnly: true})
}

func (s *Store) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[sub.ID.String()]; !exists {
		return charter.ErrSubscriptionNotFound
	}
	s.subscriptions[sub.ID.String()] = *sub
	return nil
}

func (s *Store) ListDueSubscriptions(_ context.Context, now time.Time, limit int) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.Due(now) {
			result = append(result, &sub)
		}
	}
	slices.SortFunc(result, func(a, b *subscription.Subscription) int {
		return a.NextDueAt.Compare(b.NextDueAt)
	})
	return paginate(result, limit, 0), nil
}

func (s *Store) NextDueAt(_ context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var earliest time.Time
	for _, sub := range s.subscriptions {
		if !sub.Status.Billable() {
			continue
		}
		if earliest.IsZero() || sub.NextDueAt.Before(earliest) {
			earliest = sub.NextDueAt
		}
	}
	return earliest, nil
}

func matchSubscription(sub *subscription.Subscription, opts subscription.ListOpts) bool {
	switch {
	case !opts.ContractID.IsNil() && sub.ContractID != opts.ContractID:
		return false
	case opts.WalletID != 0 && sub.WalletID != opts.WalletID:
		return false
	case opts.Status != "" && sub.Status != opts.Status:
		return false
	case opts.LiveOnly && !sub.Status.Billable():
		return false
	}
	return true
}

// ──────────────────────────────────────────────────
// Charge Store implementation
// ──────────────────────────────────────────────────

func (s *Store) CreateCharge(_ context.Context, c *charge.Charge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.charges[c.IdempotencyKey]; exists {
		return charter.ErrDuplicateCharge
	}
	s.charges[c.IdempotencyKey] = *c
	return nil
}

func (s *Store) GetChargeByKey(_ context.Context, key string) (*charge.Charge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.charges[key]; ok {
		return &c, nil
	}
	return nil, charter.ErrChargeNotFound
}

func (s *Store) ListCharges(_ context.Context, subID id.SubscriptionID, opts charge.ListOpts) ([]*charge.Charge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*charge.Charge, 0)
	for _, c := range s.charges {
		if c.SubscriptionID != subID {
			continue
		}
		if opts.Outcome != "" && c.Outcome != opts.Outcome {
			continue
		}
		result = append(result, &c)
	}
	slices.SortFunc(result, func(a, b *charge.Charge) int {
		return a.PeriodStart.Compare(b.PeriodStart)
	})
	return paginate(result, opts.Limit, opts.Offset), nil
}

// ──────────────────────────────────────────────────
// Core methods
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error {
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return charter.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

func paginate[T any](items []T, limit, offset int) []T {
	start := min(max(offset, 0), len(items))
	end := len(items)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return items[start:end]
}
