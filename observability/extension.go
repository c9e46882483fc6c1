// Package observability provides a metrics extension for Charter that records
// lifecycle event counts through a pluggable MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/charter/charge"
	"github.com/xraph/charter/contract"
	"github.com/xraph/charter/plugin"
	"github.com/xraph/charter/subscription"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                  = (*MetricsExtension)(nil)
	_ plugin.OnInit                  = (*MetricsExtension)(nil)
	_ plugin.OnContractCreated       = (*MetricsExtension)(nil)
	_ plugin.OnContractClosed        = (*MetricsExtension)(nil)
	_ plugin.OnContractCanceled      = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCreated   = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionActivated = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionLapsed    = (*MetricsExtension)(nil)
	_ plugin.OnChargeCommitted       = (*MetricsExtension)(nil)
	_ plugin.OnChargeDeclined        = (*MetricsExtension)(nil)
	_ plugin.OnChargeDeferred        = (*MetricsExtension)(nil)
	_ plugin.OnSweepCompleted        = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a Charter plugin to track billing activity.
type MetricsExtension struct {
	// Contract metrics
	ContractCreated  Counter
	ContractClosed   Counter
	ContractCanceled Counter

	// Subscription metrics
	SubscriptionCreated   Counter
	SubscriptionActivated Counter
	SubscriptionLapsed    Counter
	LapsedUnsubscribed    Counter
	LapsedContract        Counter
	LapsedPayment         Counter

	// Charge metrics
	ChargeCommitted Counter
	ChargeDeclined  Counter
	ChargeDeferred  Counter
	ChargeAmount    Histogram

	// Sweep metrics
	Sweeps        Counter
	SweepScanned  Histogram
	SweepFailed   Counter
	SweepDuration Histogram
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions or NewPrometheusFactory standalone.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		ContractCreated:  factory.Counter("charter.contract.created"),
		ContractClosed:   factory.Counter("charter.contract.closed"),
		ContractCanceled: factory.Counter("charter.contract.canceled"),

		SubscriptionCreated:   factory.Counter("charter.subscription.created"),
		SubscriptionActivated: factory.Counter("charter.subscription.activated"),
		SubscriptionLapsed:    factory.Counter("charter.subscription.lapsed"),
		LapsedUnsubscribed:    factory.Counter("charter.subscription.lapsed.unsubscribed"),
		LapsedContract:        factory.Counter("charter.subscription.lapsed.contract_canceled"),
		LapsedPayment:         factory.Counter("charter.subscription.lapsed.payment_failed"),

		ChargeCommitted: factory.Counter("charter.charge.committed"),
		ChargeDeclined:  factory.Counter("charter.charge.declined"),
		ChargeDeferred:  factory.Counter("charter.charge.deferred"),
		ChargeAmount:    factory.Histogram("charter.charge.amount"),

		Sweeps:        factory.Counter("charter.sweep.completed"),
		SweepScanned:  factory.Histogram("charter.sweep.scanned"),
		SweepFailed:   factory.Counter("charter.sweep.failed"),
		SweepDuration: factory.Histogram("charter.sweep.duration_ms"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// ──────────────────────────────────────────────────
// Contract lifecycle hooks
// ──────────────────────────────────────────────────

// OnContractCreated implements plugin.OnContractCreated.
func (m *MetricsExtension) OnContractCreated(_ context.Context, _ *contract.Offer) error {
	m.ContractCreated.Inc()
	return nil
}

// OnContractClosed implements plugin.OnContractClosed.
func (m *MetricsExtension) OnContractClosed(_ context.Context, _ *contract.Offer) error {
	m.ContractClosed.Inc()
	return nil
}

// OnContractCanceled implements plugin.OnContractCanceled.
func (m *MetricsExtension) OnContractCanceled(_ context.Context, _ *contract.Offer, _ int) error {
	m.ContractCanceled.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (m *MetricsExtension) OnSubscriptionCreated(_ context.Context, _ *subscription.Subscription) error {
	m.SubscriptionCreated.Inc()
	return nil
}

// OnSubscriptionActivated implements plugin.OnSubscriptionActivated.
func (m *MetricsExtension) OnSubscriptionActivated(_ context.Context, _ *subscription.Subscription) error {
	m.SubscriptionActivated.Inc()
	return nil
}

// OnSubscriptionLapsed implements plugin.OnSubscriptionLapsed.
func (m *MetricsExtension) OnSubscriptionLapsed(_ context.Context, sub *subscription.Subscription) error {
	m.SubscriptionLapsed.Inc()
	switch sub.LapseReason {
	case subscription.LapseUnsubscribed:
		m.LapsedUnsubscribed.Inc()
	case subscription.LapseContractCanceled:
		m.LapsedContract.Inc()
	case subscription.LapsePaymentFailed:
		m.LapsedPayment.Inc()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Billing hooks
// ──────────────────────────────────────────────────

// OnChargeCommitted implements plugin.OnChargeCommitted.
func (m *MetricsExtension) OnChargeCommitted(_ context.Context, c *charge.Charge) error {
	m.ChargeCommitted.Inc()
	amount, _ := c.Amount.Decimal().Float64()
	m.ChargeAmount.Observe(amount)
	return nil
}

// OnChargeDeclined implements plugin.OnChargeDeclined.
func (m *MetricsExtension) OnChargeDeclined(_ context.Context, _ *charge.Charge) error {
	m.ChargeDeclined.Inc()
	return nil
}

// OnChargeDeferred implements plugin.OnChargeDeferred.
func (m *MetricsExtension) OnChargeDeferred(_ context.Context, _ *subscription.Subscription, _ time.Time, _ error) error {
	m.ChargeDeferred.Inc()
	return nil
}

// OnSweepCompleted implements plugin.OnSweepCompleted.
func (m *MetricsExtension) OnSweepCompleted(_ context.Context, report charge.SweepReport) error {
	m.Sweeps.Inc()
	m.SweepScanned.Observe(float64(report.Scanned))
	if report.Failed > 0 {
		m.SweepFailed.Add(float64(report.Failed))
	}
	m.SweepDuration.Observe(float64(report.Elapsed.Milliseconds()))
	return nil
}
