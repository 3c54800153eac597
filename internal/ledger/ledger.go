// Package ledger is the contract of the double-entry ledger the saga drives.
// Every operation is batched and reports failures per index; an error return
// means the whole call did not reach the ledger.
package ledger

import (
	"context"
	"fmt"
	"time"
)

// ErrorKind is the closed set of per-index outcomes a ledger reports.
type ErrorKind int

const (
	KindExists ErrorKind = iota + 1
	KindExistsWithDifferentFields
	KindInvalid
	KindAccountNotFound
	KindLedgerMismatch
	KindExceedsCredits
	KindExceedsDebits
	KindPendingNotFound
	KindAlreadyPosted
	KindAlreadyVoided
	KindPendingExpired
	KindOther
)

var kindNames = map[ErrorKind]string{
	KindExists:                    "exists",
	KindExistsWithDifferentFields: "exists_with_different_fields",
	KindInvalid:                   "invalid",
	KindAccountNotFound:           "account_not_found",
	KindLedgerMismatch:            "ledger_mismatch",
	KindExceedsCredits:            "exceeds_credits",
	KindExceedsDebits:             "exceeds_debits",
	KindPendingNotFound:           "pending_transfer_not_found",
	KindAlreadyPosted:             "pending_transfer_already_posted",
	KindAlreadyVoided:             "pending_transfer_already_voided",
	KindPendingExpired:            "pending_transfer_expired",
	KindOther:                     "other",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Failure is one rejected index of a batched call.
type Failure struct {
	Index int
	Kind  ErrorKind
}

// AdmissionError is a Failure surfaced as an error value.
type AdmissionError struct {
	Op string
	Failure
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("ledger: %s index %d: %s", e.Op, e.Index, e.Kind)
}

type AccountFlags uint8

const (
	FlagDebitsMustNotExceedCredits AccountFlags = 1 << iota
	FlagCreditsMustNotExceedDebits
)

type Account struct {
	ID     uint64
	Ledger uint32
	Code   uint16
	Flags  AccountFlags
}

// Transfer is a pending (first phase) transfer.
type Transfer struct {
	ID              uint64
	DebitAccountID  uint64
	CreditAccountID uint64
	Amount          uint64
	Ledger          uint32
	Code            uint16
	// Timeout voids the hold once elapsed; zero holds forever.
	Timeout time.Duration
}

// Finalize posts or voids the pending transfer PendingID. Amount zero means
// the full pending amount.
type Finalize struct {
	PendingID uint64
	Amount    uint64
}

type Ledger interface {
	CreateAccounts(ctx context.Context, accounts []Account) ([]Failure, error)
	CreatePendingTransfers(ctx context.Context, transfers []Transfer) ([]Failure, error)
	PostTransfers(ctx context.Context, finals []Finalize) ([]Failure, error)
	VoidTransfers(ctx context.Context, finals []Finalize) ([]Failure, error)
	Close() error
}

const finalizeBit = uint64(1) << 63

// FinalizeID is the id of the transfer that posts or voids pendingID. Post and
// void share it, so at most one of them can ever succeed.
func FinalizeID(pendingID uint64) uint64 { return pendingID | finalizeBit }

// Index turns failures into a lookup by batch index.
func Index(failures []Failure) map[int]ErrorKind {
	out := make(map[int]ErrorKind, len(failures))
	for _, f := range failures {
		out[f.Index] = f.Kind
	}
	return out
}
