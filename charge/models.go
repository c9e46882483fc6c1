// Package charge records one billing attempt per subscription period.
package charge

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/xraph/charter/id"
	"github.com/xraph/charter/types"
	"github.com/xraph/charter/wallet"
)

// Outcome is the terminal result of a period's transfer.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeDeclined  Outcome = "declined"
)

// Charge is the durable record of a period's transfer. Exactly one exists
// per idempotency key; transient failures leave no record.
type Charge struct {
	ID             id.ChargeID       `json:"id"`
	SubscriptionID id.SubscriptionID `json:"subscription_id"`
	ContractID     id.ContractID     `json:"contract_id"`
	From           wallet.ID         `json:"from"`
	To             wallet.ID         `json:"to"`
	Amount         types.Money       `json:"amount"`
	PeriodStart    time.Time         `json:"period_start"`
	IdempotencyKey string            `json:"idempotency_key"`
	Outcome        Outcome           `json:"outcome"`
	Reason         string            `json:"reason,omitempty"`
	Reference      string            `json:"reference,omitempty"`
	AttemptedAt    time.Time         `json:"attempted_at"`
}

// Committed reports whether money moved for this period.
func (c *Charge) Committed() bool { return c.Outcome == OutcomeCommitted }

// IdempotencyKey derives the wallet idempotency key for a subscription
// period: the hex SHA-256 of "<subscription id>|<period start RFC3339 UTC>".
func IdempotencyKey(subID id.SubscriptionID, periodStart time.Time) string {
	sum := sha256.Sum256([]byte(subID.String() + "|" + periodStart.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(sum[:])
}
