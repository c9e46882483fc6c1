// Package plugin provides an extensible plugin system for Charter.
// Plugins can hook into various lifecycle events to extend functionality.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/charter/charge"
	"github.com/xraph/charter/contract"
	"github.com/xraph/charter/subscription"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts. engine is the *charter.Engine.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Contract offer hooks
// ──────────────────────────────────────────────────

type OnContractCreated interface {
	Plugin
	OnContractCreated(ctx context.Context, offer *contract.Offer) error
}

type OnContractClosed interface {
	Plugin
	OnContractClosed(ctx context.Context, offer *contract.Offer) error
}

// OnContractCanceled is called after an offer is canceled and its live
// subscriptions have been lapsed.
type OnContractCanceled interface {
	Plugin
	OnContractCanceled(ctx context.Context, offer *contract.Offer, lapsed int) error
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

type OnSubscriptionCreated interface {
	Plugin
	OnSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) error
}

type OnSubscriptionActivated interface {
	Plugin
	OnSubscriptionActivated(ctx context.Context, sub *subscription.Subscription) error
}

// OnSubscriptionLapsed is called whenever a subscription becomes canceled,
// whatever the reason. sub.LapseReason tells them apart.
type OnSubscriptionLapsed interface {
	Plugin
	OnSubscriptionLapsed(ctx context.Context, sub *subscription.Subscription) error
}

// ──────────────────────────────────────────────────
// Billing hooks
// ──────────────────────────────────────────────────

type OnChargeCommitted interface {
	Plugin
	OnChargeCommitted(ctx context.Context, c *charge.Charge) error
}

type OnChargeDeclined interface {
	Plugin
	OnChargeDeclined(ctx context.Context, c *charge.Charge) error
}

// OnChargeDeferred is called when a transfer failed transiently. No charge
// record exists; the period is retried on a later sweep.
type OnChargeDeferred interface {
	Plugin
	OnChargeDeferred(ctx context.Context, sub *subscription.Subscription, period time.Time, err error) error
}

type OnSweepCompleted interface {
	Plugin
	OnSweepCompleted(ctx context.Context, report charge.SweepReport) error
}
