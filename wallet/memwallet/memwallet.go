// Package memwallet provides an in-memory wallet.Ledger.
//
// It honors the full transfer contract (atomic debit/credit, at-most-once
// commit per idempotency key) and is intended for tests, examples and local
// development.
package memwallet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xraph/charter/types"
	"github.com/xraph/charter/wallet"
)

var _ wallet.Ledger = (*Ledger)(nil)

// Record is a committed transfer.
type Record struct {
	wallet.Request
	Receipt wallet.Receipt
}

// Ledger is a thread-safe in-memory wallet ledger.
type Ledger struct {
	mu       sync.Mutex
	balances map[wallet.ID]types.Money
	receipts map[string]wallet.Receipt
	records  []Record
	faults   []error
	attempts int
	seq      int64
	now      func() time.Time
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		balances: make(map[wallet.ID]types.Money),
		receipts: make(map[string]wallet.Receipt),
		now:      time.Now,
	}
}

// Deposit credits a wallet, creating it if needed.
func (l *Ledger) Deposit(w wallet.ID, amount types.Money) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[w] = l.balances[w].Add(amount)
}

// Balance returns the wallet's balance (zero for unknown wallets).
func (l *Ledger) Balance(w wallet.ID) types.Money {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[w]
}

// FailNext queues errors returned by the next transfer calls, in order,
// before any balance is touched.
func (l *Ledger) FailNext(errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults = append(l.faults, errs...)
}

// Records returns a copy of all committed transfers.
func (l *Ledger) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// CommittedFor counts committed transfers carrying the idempotency key.
func (l *Ledger) CommittedFor(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, r := range l.records {
		if r.IdempotencyKey == key {
			n++
		}
	}
	return n
}

// Attempts returns how many times Transfer was called.
func (l *Ledger) Attempts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts
}

// Transfer implements wallet.Ledger.
func (l *Ledger) Transfer(ctx context.Context, req wallet.Request) (wallet.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return wallet.Receipt{}, fmt.Errorf("%w: %v", wallet.ErrUnavailable, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.attempts++
	if len(l.faults) > 0 {
		err := l.faults[0]
		l.faults = l.faults[1:]
		if err != nil {
			return wallet.Receipt{}, err
		}
	}

	if err := req.Validate(); err != nil {
		return wallet.Receipt{}, err
	}

	if prior, ok := l.receipts[req.IdempotencyKey]; ok {
		prior.Replayed = true
		return prior, nil
	}

	if l.balances[req.From].LessThan(req.Amount) {
		return wallet.Receipt{}, fmt.Errorf("%w: wallet %s holds %s, needs %s",
			wallet.ErrInsufficientFunds, req.From, l.balances[req.From], req.Amount)
	}

	l.balances[req.From] = l.balances[req.From].Subtract(req.Amount)
	l.balances[req.To] = l.balances[req.To].Add(req.Amount)

	l.seq++
	receipt := wallet.Receipt{
		Reference:   fmt.Sprintf("mem-%d", l.seq),
		CommittedAt: l.now().UTC(),
	}
	l.receipts[req.IdempotencyKey] = receipt
	l.records = append(l.records, Record{Request: req, Receipt: receipt})

	return receipt, nil
}
