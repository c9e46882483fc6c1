package charge

import (
	"context"

	"github.com/xraph/charter/id"
)

type Store interface {
	// CreateCharge inserts c. A second charge with the same idempotency key
	// returns ErrDuplicateCharge and leaves the first untouched.
	CreateCharge(ctx context.Context, c *Charge) error
	GetChargeByKey(ctx context.Context, key string) (*Charge, error)
	// ListCharges returns a subscription's charges ordered by period start.
	ListCharges(ctx context.Context, subID id.SubscriptionID, opts ListOpts) ([]*Charge, error)
}

type ListOpts struct {
	Outcome Outcome
	Limit   int
	Offset  int
}
