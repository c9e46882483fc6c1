package wallet

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Ledger with a token bucket so a sweep over many due
// subscriptions cannot flood the wallet service.
type RateLimited struct {
	next    Ledger
	limiter *rate.Limiter
}

// RateLimit returns a Ledger that allows at most limit transfers per second
// with the given burst. A non-positive limit disables throttling.
func RateLimit(next Ledger, limit float64, burst int) Ledger {
	if limit <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(limit), burst),
	}
}

// Transfer waits for a token, then delegates. A wait that cannot complete
// before the context ends is reported as ErrUnavailable.
func (r *RateLimited) Transfer(ctx context.Context, req Request) (Receipt, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Receipt{}, fmt.Errorf("%w: rate limit wait: %v", ErrUnavailable, err)
	}
	return r.next.Transfer(ctx, req)
}
