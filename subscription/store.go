package subscription

import (
	"context"
	"time"

	"github.com/xraph/charter/id"
	"github.com/xraph/charter/wallet"
)

type Store interface {
	// CreateSubscription inserts s. The (ContractID, WalletID) pair is unique
	// for the lifetime of the row; a duplicate returns ErrAlreadySubscribed.
	CreateSubscription(ctx context.Context, s *Subscription) error
	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*Subscription, error)
	GetSubscriptionByPair(ctx context.Context, contractID id.ContractID, walletID wallet.ID) (*Subscription, error)
	ListSubscriptions(ctx context.Context, opts ListOpts) ([]*Subscription, error)
	CountSubscriptions(ctx context.Context, opts ListOpts) (int, error)
	// CountLiveSubscriptions counts non-canceled subscriptions of a contract.
	CountLiveSubscriptions(ctx context.Context, contractID id.ContractID) (int, error)
	UpdateSubscription(ctx context.Context, s *Subscription) error
	// ListDueSubscriptions returns billable subscriptions with NextDueAt at
	// or before now, earliest first.
	ListDueSubscriptions(ctx context.Context, now time.Time, limit int) ([]*Subscription, error)
	// NextDueAt returns the earliest NextDueAt among billable subscriptions,
	// or the zero time when there are none.
	NextDueAt(ctx context.Context) (time.Time, error)
}

// ListOpts filters subscription listings. Zero values mean "no filter".
type ListOpts struct {
	ContractID id.ContractID
	WalletID   wallet.ID
	Status     Status
	// LiveOnly restricts results to pending and active subscriptions.
	LiveOnly bool
	Limit    int
	Offset   int
}
