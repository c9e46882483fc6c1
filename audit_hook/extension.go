// Package audithook bridges Charter lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import an
// audit library directly. Callers inject a RecorderFunc adapter at wiring
// time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/charter/charge"
	"github.com/xraph/charter/contract"
	"github.com/xraph/charter/plugin"
	"github.com/xraph/charter/subscription"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                  = (*Extension)(nil)
	_ plugin.OnContractCreated       = (*Extension)(nil)
	_ plugin.OnContractClosed        = (*Extension)(nil)
	_ plugin.OnContractCanceled      = (*Extension)(nil)
	_ plugin.OnSubscriptionCreated   = (*Extension)(nil)
	_ plugin.OnSubscriptionActivated = (*Extension)(nil)
	_ plugin.OnSubscriptionLapsed    = (*Extension)(nil)
	_ plugin.OnChargeCommitted       = (*Extension)(nil)
	_ plugin.OnChargeDeclined        = (*Extension)(nil)
	_ plugin.OnChargeDeferred        = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Charter lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Contract lifecycle hooks
// ──────────────────────────────────────────────────

// OnContractCreated implements plugin.OnContractCreated.
func (e *Extension) OnContractCreated(ctx context.Context, o *contract.Offer) error {
	kv := []any{
		"owner_id", o.OwnerID.String(),
		"cron_expr", o.CronExpr,
		"price", o.Price.String(),
		"restricted", o.AllowList != nil,
	}
	if o.MaxSubscribers != nil {
		kv = append(kv, "max_subscribers", *o.MaxSubscribers)
	}
	return e.record(ctx, ActionContractCreated, SeverityInfo, OutcomeSuccess,
		ResourceContract, o.ID.String(), CategoryContract, nil,
		kv...,
	)
}

// OnContractClosed implements plugin.OnContractClosed.
func (e *Extension) OnContractClosed(ctx context.Context, o *contract.Offer) error {
	return e.record(ctx, ActionContractClosed, SeverityInfo, OutcomeSuccess,
		ResourceContract, o.ID.String(), CategoryContract, nil,
		"owner_id", o.OwnerID.String(),
	)
}

// OnContractCanceled implements plugin.OnContractCanceled.
func (e *Extension) OnContractCanceled(ctx context.Context, o *contract.Offer, lapsed int) error {
	return e.record(ctx, ActionContractCanceled, SeverityWarning, OutcomeSuccess,
		ResourceContract, o.ID.String(), CategoryContract, nil,
		"owner_id", o.OwnerID.String(),
		"lapsed_subscriptions", lapsed,
	)
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (e *Extension) OnSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) error {
	return e.record(ctx, ActionSubscriptionCreated, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), CategorySubscription, nil,
		"contract_id", sub.ContractID.String(),
		"wallet_id", sub.WalletID.String(),
		"next_due_at", sub.NextDueAt.Format(time.RFC3339),
	)
}

// OnSubscriptionActivated implements plugin.OnSubscriptionActivated.
func (e *Extension) OnSubscriptionActivated(ctx context.Context, sub *subscription.Subscription) error {
	return e.record(ctx, ActionSubscriptionActivated, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), CategorySubscription, nil,
		"contract_id", sub.ContractID.String(),
		"wallet_id", sub.WalletID.String(),
	)
}

// OnSubscriptionLapsed implements plugin.OnSubscriptionLapsed. Lapses caused
// by failed payments are recorded as warnings.
func (e *Extension) OnSubscriptionLapsed(ctx context.Context, sub *subscription.Subscription) error {
	severity := SeverityInfo
	if sub.LapseReason == subscription.LapsePaymentFailed {
		severity = SeverityWarning
	}
	return e.record(ctx, ActionSubscriptionLapsed, severity, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), CategorySubscription, nil,
		"contract_id", sub.ContractID.String(),
		"wallet_id", sub.WalletID.String(),
		"lapse_reason", string(sub.LapseReason),
		"failure_count", sub.FailureCount,
	)
}

// ──────────────────────────────────────────────────
// Charge hooks
// ──────────────────────────────────────────────────

// OnChargeCommitted implements plugin.OnChargeCommitted.
func (e *Extension) OnChargeCommitted(ctx context.Context, c *charge.Charge) error {
	return e.record(ctx, ActionChargeCommitted, SeverityInfo, OutcomeSuccess,
		ResourceCharge, c.ID.String(), CategoryPayment, nil,
		chargeFields(c, "reference", c.Reference)...,
	)
}

// OnChargeDeclined implements plugin.OnChargeDeclined.
func (e *Extension) OnChargeDeclined(ctx context.Context, c *charge.Charge) error {
	return e.record(ctx, ActionChargeDeclined, SeverityWarning, OutcomeFailure,
		ResourceCharge, c.ID.String(), CategoryPayment, fmt.Errorf("transfer declined: %s", c.Reason),
		chargeFields(c, "decline_reason", c.Reason)...,
	)
}

// OnChargeDeferred implements plugin.OnChargeDeferred.
func (e *Extension) OnChargeDeferred(ctx context.Context, sub *subscription.Subscription, period time.Time, err error) error {
	return e.record(ctx, ActionChargeDeferred, SeverityError, OutcomePartial,
		ResourceSubscription, sub.ID.String(), CategoryPayment, err,
		"contract_id", sub.ContractID.String(),
		"wallet_id", sub.WalletID.String(),
		"period_start", period.Format(time.RFC3339),
	)
}

func chargeFields(c *charge.Charge, extra ...any) []any {
	return append([]any{
		"subscription_id", c.SubscriptionID.String(),
		"contract_id", c.ContractID.String(),
		"from_wallet", c.From.String(),
		"to_wallet", c.To.String(),
		"amount", c.Amount.String(),
		"period_start", c.PeriodStart.Format(time.RFC3339),
		"idempotency_key", c.IdempotencyKey,
	}, extra...)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled. Recorder
// failures are logged and never returned, so auditing cannot block billing.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
