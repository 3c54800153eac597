// Package store is the read model the projector keeps in step with the saga.
package store

import (
	"context"
	"errors"
	"time"

	"ledgerflow/internal/events"
)

var ErrNotFound = errors.New("store: not found")

// Transaction is one row of the transactions read model, keyed by Number.
type Transaction struct {
	TransactionID   string
	Number          uint64
	DebitAccountID  uint64
	CreditAccountID uint64
	Amount          uint64
	Code            uint64
	Ledger          uint64
	Scale           int32
	Status          events.Status
	Verdict         events.Status
	Reason          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Account is one row of the accounts read model, keyed by Number.
type Account struct {
	AccountID string
	Number    uint64
	Ledger    uint64
	Status    events.AccountStatus
	Reason    string
	UpdatedAt time.Time
}

// Store writes are batched and monotonic: a status never moves backwards and
// terminal statuses are never replaced.
type Store interface {
	// UpsertTransactions inserts txs or merges them into existing rows.
	UpsertTransactions(ctx context.Context, txs []Transaction) error
	// UpdateTransactionStatus moves txs to status, inserting rows that were
	// not projected yet.
	UpdateTransactionStatus(ctx context.Context, status events.Status, txs []Transaction) error
	UpdateAccountStatus(ctx context.Context, status events.AccountStatus, accounts []Account) error
	Transaction(ctx context.Context, number uint64) (Transaction, error)
	Account(ctx context.Context, number uint64) (Account, error)
	Close() error
}

// MergeTransaction folds next into cur. Status only advances; descriptive
// fields keep the first non-zero value seen.
func MergeTransaction(cur, next Transaction) Transaction {
	out := cur
	if events.CanAdvance(cur.Status, next.Status) {
		out.Status = next.Status
		if next.Verdict != "" {
			out.Verdict = next.Verdict
		}
		if next.Reason != "" {
			out.Reason = next.Reason
		}
	}
	if out.TransactionID == "" {
		out.TransactionID = next.TransactionID
	}
	fill(&out.DebitAccountID, next.DebitAccountID)
	fill(&out.CreditAccountID, next.CreditAccountID)
	fill(&out.Amount, next.Amount)
	fill(&out.Code, next.Code)
	fill(&out.Ledger, next.Ledger)
	if out.Scale == 0 {
		out.Scale = next.Scale
	}
	if out.CreatedAt.IsZero() || (!next.CreatedAt.IsZero() && next.CreatedAt.Before(out.CreatedAt)) {
		out.CreatedAt = next.CreatedAt
	}
	if next.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = next.UpdatedAt
	}
	return out
}

func fill(dst *uint64, v uint64) {
	if *dst == 0 {
		*dst = v
	}
}

// CanMoveAccount reports whether an account in state from may be moved to
// to by a provisioning outcome. Blocked accounts are only changed by hand.
func CanMoveAccount(from, to events.AccountStatus) bool {
	switch from {
	case "", events.AccountPending:
		return true
	case events.AccountBlocked:
		return false
	}
	return from == to || to == events.AccountBlocked
}
