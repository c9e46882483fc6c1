// Package charter provides a recurring wallet-to-wallet payment engine for Go
// applications.
//
// Charter is designed as a library, not a service. Import it directly into
// your Go application. It provides:
//
//   - Contract offers with a cron billing schedule, a fixed price, an optional
//     subscriber cap and an optional wallet allow list
//   - Subscriptions that bind a paying wallet to an offer
//   - A billing executor that charges each due period exactly once, safe to
//     run on many nodes against one store
//   - Pluggable wallet ledgers, stores, locks and wake-up notifiers
//   - Lifecycle hooks for audit trails and metrics
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/charter"
//	    "github.com/xraph/charter/store/memory"
//	)
//
//	// Create the engine over a store and your wallet ledger
//	engine := charter.New(memory.New(),
//	    charter.WithWalletLedger(myLedger),
//	)
//
//	// Start migrates the store and runs the billing executor
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop()
//
// # Core Concepts
//
// An offer is published by the wallet that receives payments. Its terms never
// change once created:
//
//	offer, err := engine.CreateOffer(ctx, charter.CreateOfferInput{
//	    OwnerID:  merchant,
//	    Title:    "Daily coffee",
//	    CronExpr: "0 0 * * *",
//	    Price:    charter.MustMoney("2.50"),
//	})
//
// A wallet subscribes to an open offer. The first charge falls on the first
// schedule fire time after subscribing:
//
//	sub, err := engine.Subscribe(ctx, offer.ID, customer)
//
// The executor transfers the price from subscriber to owner for every due
// period. A declined transfer counts as a failure; after
// DefaultMaxConsecutiveFailures in a row the subscription lapses. An
// unavailable ledger defers the period without penalty.
//
// Closing an offer stops new subscriptions. Canceling it also lapses every
// live subscription.
//
// # Schedules
//
// Cron expressions use the standard five fields and the @daily style
// descriptors. Every schedule is evaluated in UTC.
//
// # Distributed execution
//
// Several engines may bill the same store. Give them a shared lock.Locker
// (see lock/redislock) and, optionally, a shared notify.Notifier (see
// notify/redisnotify). Each period's transfer carries an idempotency key
// derived from the subscription and period, so a retried period never moves
// funds twice.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	offer_01h2xcejqtf2nbrexx3vqjhp41 // Contract offer ID
//	sub_01h2xcejqtf2nbrexx3vqjhp41   // Subscription ID
//	chg_01h455vb4pex5vsknk084sn02q   // Charge ID
package charter
