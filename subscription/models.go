// Package subscription defines a wallet's enrollment in a contract offer and
// the billing cursor the executor persists on it.
package subscription

import (
	"fmt"
	"slices"
	"time"

	"github.com/xraph/charter/id"
	"github.com/xraph/charter/types"
	"github.com/xraph/charter/wallet"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusCanceled Status = "canceled"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusActive, StatusCanceled},
	StatusActive:   {StatusCanceled},
	StatusCanceled: nil,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	return slices.Contains(transitions[s], next)
}

// Billable reports whether the executor may charge a subscription in s.
func (s Status) Billable() bool {
	return s == StatusPending || s == StatusActive
}

// LapseReason records why a subscription was canceled.
type LapseReason string

const (
	LapseUnsubscribed     LapseReason = "unsubscribed"
	LapseContractCanceled LapseReason = "contract_canceled"
	LapsePaymentFailed    LapseReason = "payment_failed"
)

type Subscription struct {
	types.Entity
	ID         id.SubscriptionID `json:"id"`
	ContractID id.ContractID     `json:"contract_id"`
	WalletID   wallet.ID         `json:"wallet_id"`
	Status     Status            `json:"status"`
	StartedAt  time.Time         `json:"started_at"`
	// LapsedAt is set exactly when Status becomes canceled.
	LapsedAt    *time.Time  `json:"lapsed_at,omitempty"`
	LapseReason LapseReason `json:"lapse_reason,omitempty"`

	// Billing cursor. LastPeriodAt is the last period evaluated (charged or
	// declined); NextDueAt is the schedule's next fire time after it.
	LastChargedAt *time.Time `json:"last_charged_at,omitempty"`
	LastPeriodAt  *time.Time `json:"last_period_at,omitempty"`
	NextDueAt     time.Time  `json:"next_due_at"`
	FailureCount  int        `json:"failure_count"`
}

// Activate moves a pending subscription to active.
func (s *Subscription) Activate(at time.Time) error {
	if !s.Status.CanTransition(StatusActive) {
		return fmt.Errorf("subscription: cannot activate %s in status %s", s.ID, s.Status)
	}
	s.Status = StatusActive
	s.Touch(at)
	return nil
}

// Lapse cancels the subscription and records when and why.
func (s *Subscription) Lapse(at time.Time, reason LapseReason) error {
	if !s.Status.CanTransition(StatusCanceled) {
		return fmt.Errorf("subscription: cannot cancel %s in status %s", s.ID, s.Status)
	}
	lapsed := at.UTC()
	s.Status = StatusCanceled
	s.LapsedAt = &lapsed
	s.LapseReason = reason
	s.Touch(at)
	return nil
}

// BillingAnchor is the instant the next period is computed from.
func (s *Subscription) BillingAnchor() time.Time {
	if s.LastPeriodAt != nil {
		return *s.LastPeriodAt
	}
	return s.StartedAt
}

// Due reports whether the subscription is billable and its period has come.
func (s *Subscription) Due(now time.Time) bool {
	return s.Status.Billable() && !now.Before(s.NextDueAt)
}

// AdvancePeriod closes the current period and moves the cursor to next.
func (s *Subscription) AdvancePeriod(period, next time.Time) {
	p := period.UTC()
	s.LastPeriodAt = &p
	s.NextDueAt = next.UTC()
}
