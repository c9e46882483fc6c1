// Package wallet defines the boundary between Charter and the external wallet
// ledger that holds balances and moves funds.
//
// Charter never inspects balances. It asks the Ledger to transfer an amount
// under an idempotency key and reacts to one of four outcomes: committed,
// insufficient funds, rejected, or unavailable.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/xraph/charter/types"
)

// ID identifies a wallet. Wallets are owned by the external ledger; Charter
// only stores references.
type ID int64

// String returns the decimal form of the wallet ID.
func (i ID) String() string { return strconv.FormatInt(int64(i), 10) }

// Valid reports whether the ID can reference a wallet.
func (i ID) Valid() bool { return i > 0 }

// Transfer outcome errors returned by Ledger implementations.
var (
	// ErrInsufficientFunds means the payer cannot cover the amount. Declinable.
	ErrInsufficientFunds = errors.New("wallet: insufficient funds")

	// ErrRejected means the ledger refused the transfer for a definitive
	// reason (frozen wallet, unknown payee). Declinable.
	ErrRejected = errors.New("wallet: transfer rejected")

	// ErrUnavailable means the ledger could not be reached or timed out.
	// Transient: the caller should retry later without penalty.
	ErrUnavailable = errors.New("wallet: ledger unavailable")
)

// Request is a single transfer instruction.
type Request struct {
	From           ID          `json:"from"`
	To             ID          `json:"to"`
	Amount         types.Money `json:"amount"`
	IdempotencyKey string      `json:"idempotency_key"`
}

// Receipt describes a committed transfer.
type Receipt struct {
	Reference   string    `json:"reference"`
	CommittedAt time.Time `json:"committed_at"`
	// Replayed is true when the key had already committed and the ledger
	// returned the original receipt.
	Replayed bool `json:"replayed"`
}

// Ledger is the atomic transfer primitive consumed by the billing executor.
//
// Implementations must guarantee that a given IdempotencyKey commits at most
// once, and that a nil error means the transfer is durable.
type Ledger interface {
	Transfer(ctx context.Context, req Request) (Receipt, error)
}

// LedgerFunc adapts a plain function to the Ledger interface.
type LedgerFunc func(ctx context.Context, req Request) (Receipt, error)

// Transfer implements Ledger.
func (f LedgerFunc) Transfer(ctx context.Context, req Request) (Receipt, error) {
	return f(ctx, req)
}

// Outcome classifies the result of a transfer attempt.
type Outcome string

const (
	OutcomeCommitted         Outcome = "committed"
	OutcomeInsufficientFunds Outcome = "insufficient_funds"
	OutcomeRejected          Outcome = "rejected"
	OutcomeUnavailable       Outcome = "unavailable"
)

// Declined reports whether the outcome consumes the payment failure budget.
func (o Outcome) Declined() bool {
	return o == OutcomeInsufficientFunds || o == OutcomeRejected
}

// Classify maps a Transfer error onto an Outcome. Unknown errors, timeouts and
// cancellations are treated as unavailable so they never penalize the payer.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeCommitted
	case errors.Is(err, ErrInsufficientFunds):
		return OutcomeInsufficientFunds
	case errors.Is(err, ErrRejected):
		return OutcomeRejected
	default:
		return OutcomeUnavailable
	}
}

// Validate checks the request shape before it is sent to a ledger.
func (r Request) Validate() error {
	switch {
	case !r.From.Valid():
		return fmt.Errorf("%w: invalid payer %d", ErrRejected, r.From)
	case !r.To.Valid():
		return fmt.Errorf("%w: invalid payee %d", ErrRejected, r.To)
	case r.From == r.To:
		return fmt.Errorf("%w: payer and payee are the same wallet", ErrRejected)
	case !r.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", ErrRejected)
	case r.IdempotencyKey == "":
		return fmt.Errorf("%w: missing idempotency key", ErrRejected)
	}
	return nil
}
