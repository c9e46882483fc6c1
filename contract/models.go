// Package contract defines contract offers: published recurring-payment
// templates that wallets subscribe to.
package contract

import (
	"fmt"
	"slices"
	"time"

	"github.com/xraph/charter/id"
	"github.com/xraph/charter/types"
	"github.com/xraph/charter/wallet"
)

// Status is the lifecycle state of an offer.
type Status string

const (
	StatusOpen     Status = "open"
	StatusClosed   Status = "closed"
	StatusCanceled Status = "canceled"
)

// transitions is the single source of truth for allowed status moves.
var transitions = map[Status][]Status{
	StatusOpen:     {StatusClosed, StatusCanceled},
	StatusClosed:   {StatusCanceled},
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

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// Offer is a contract offer. Title, Description, CronExpr, Price,
// MaxSubscribers and AllowList are fixed at creation; changing any of them
// requires publishing a new offer.
type Offer struct {
	types.Entity
	ID             id.ContractID `json:"id"`
	OwnerID        wallet.ID     `json:"owner_id"`
	Status         Status        `json:"status"`
	Title          string        `json:"title"`
	Description    *string       `json:"description,omitempty"`
	CronExpr       string        `json:"cron_expr"`
	Price          types.Money   `json:"price"`
	MaxSubscribers *int          `json:"max_subscribers,omitempty"`
	AllowList      *AllowList    `json:"allow_list,omitempty"`
}

// Transition moves the offer to next, stamping UpdatedAt.
func (o *Offer) Transition(next Status, at time.Time) error {
	if !o.Status.CanTransition(next) {
		return fmt.Errorf("contract: cannot move offer %s from %s to %s", o.ID, o.Status, next)
	}
	o.Status = next
	o.Touch(at)
	return nil
}

// Permits reports whether wallet w may subscribe under the allow list.
func (o *Offer) Permits(w wallet.ID) bool {
	return o.AllowList.Permits(w)
}

// HasCapacity reports whether another subscriber fits given the number of
// currently non-canceled subscriptions.
func (o *Offer) HasCapacity(current int) bool {
	return o.MaxSubscribers == nil || current < *o.MaxSubscribers
}

// Remaining returns the number of free subscriber slots, or -1 when the
// offer is unlimited.
func (o *Offer) Remaining(current int) int {
	if o.MaxSubscribers == nil {
		return -1
	}
	return max(0, *o.MaxSubscribers-current)
}
