// Package store defines the unified persistence interface for Charter.
package store

import (
	"context"

	"github.com/xraph/charter/charge"
	"github.com/xraph/charter/contract"
	"github.com/xraph/charter/subscription"
)

// Store is the unified storage interface for all Charter entities.
//
// Backends must enforce two uniqueness rules atomically: one subscription per
// (contract, wallet) pair, and one charge per idempotency key.
type Store interface {
	contract.Store
	subscription.Store
	charge.Store

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
