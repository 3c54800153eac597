// Package tigerbeetle adapts a TigerBeetle cluster to ledger.Ledger.
package tigerbeetle

import (
	"context"
	"fmt"
	"strings"

	"ledgerflow/internal/ledger"

	tb "github.com/tigerbeetle/tigerbeetle-go"
	"github.com/tigerbeetle/tigerbeetle-go/pkg/types"
)

type Config struct {
	ClusterID uint64   `yaml:"cluster_id"`
	Addresses []string `yaml:"addresses"`
}

type Ledger struct {
	client tb.Client
}

func Dial(cfg Config) (*Ledger, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("tigerbeetle: no replica addresses")
	}
	client, err := tb.NewClient(types.ToUint128(cfg.ClusterID), cfg.Addresses)
	if err != nil {
		return nil, fmt.Errorf("tigerbeetle: connect: %w", err)
	}
	return &Ledger{client: client}, nil
}

var _ ledger.Ledger = (*Ledger)(nil)

func (l *Ledger) CreateAccounts(ctx context.Context, accounts []ledger.Account) ([]ledger.Failure, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	in := make([]types.Account, len(accounts))
	for i, a := range accounts {
		in[i] = types.Account{
			ID:     types.ToUint128(a.ID),
			Ledger: a.Ledger,
			Code:   a.Code,
			Flags: types.AccountFlags{
				DebitsMustNotExceedCredits: a.Flags&ledger.FlagDebitsMustNotExceedCredits != 0,
				CreditsMustNotExceedDebits: a.Flags&ledger.FlagCreditsMustNotExceedDebits != 0,
			}.ToUint16(),
		}
	}
	res, err := l.client.CreateAccounts(in)
	if err != nil {
		return nil, fmt.Errorf("tigerbeetle: create accounts: %w", err)
	}
	out := make([]ledger.Failure, 0, len(res))
	for _, r := range res {
		out = append(out, ledger.Failure{Index: int(r.Index), Kind: accountKind(r.Result)})
	}
	return out, nil
}

func (l *Ledger) CreatePendingTransfers(ctx context.Context, transfers []ledger.Transfer) ([]ledger.Failure, error) {
	in := make([]types.Transfer, len(transfers))
	for i, t := range transfers {
		in[i] = types.Transfer{
			ID:              types.ToUint128(t.ID),
			DebitAccountID:  types.ToUint128(t.DebitAccountID),
			CreditAccountID: types.ToUint128(t.CreditAccountID),
			Amount:          types.ToUint128(t.Amount),
			Timeout:         uint32(t.Timeout.Seconds()),
			Ledger:          t.Ledger,
			Code:            t.Code,
			Flags:           types.TransferFlags{Pending: true}.ToUint16(),
		}
	}
	return l.createTransfers(ctx, "create pending transfers", in)
}

func (l *Ledger) PostTransfers(ctx context.Context, finals []ledger.Finalize) ([]ledger.Failure, error) {
	return l.createTransfers(ctx, "post transfers", finalizations(finals, types.TransferFlags{PostPendingTransfer: true}))
}

func (l *Ledger) VoidTransfers(ctx context.Context, finals []ledger.Finalize) ([]ledger.Failure, error) {
	return l.createTransfers(ctx, "void transfers", finalizations(finals, types.TransferFlags{VoidPendingTransfer: true}))
}

// finalizations builds second-phase transfers; accounts, ledger and code are
// inherited from the pending transfer. A void carries amount 0, since any
// other value than the pending amount is refused with
// pending_transfer_has_different_amount.
func finalizations(finals []ledger.Finalize, flags types.TransferFlags) []types.Transfer {
	out := make([]types.Transfer, len(finals))
	for i, f := range finals {
		out[i] = types.Transfer{
			ID:        types.ToUint128(ledger.FinalizeID(f.PendingID)),
			PendingID: types.ToUint128(f.PendingID),
			Flags:     flags.ToUint16(),
		}
		if flags.PostPendingTransfer {
			out[i].Amount = postAmount(f.Amount)
		}
	}
	return out
}

// postAmount maps zero to AMOUNT_MAX, which posts the full pending amount.
func postAmount(amount uint64) types.Uint128 {
	if amount != 0 {
		return types.ToUint128(amount)
	}
	var max types.Uint128
	for i := range max {
		max[i] = 0xff
	}
	return max
}

func (l *Ledger) createTransfers(ctx context.Context, op string, in []types.Transfer) ([]ledger.Failure, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := l.client.CreateTransfers(in)
	if err != nil {
		return nil, fmt.Errorf("tigerbeetle: %s: %w", op, err)
	}
	out := make([]ledger.Failure, 0, len(res))
	for _, r := range res {
		out = append(out, ledger.Failure{Index: int(r.Index), Kind: transferKind(r.Result)})
	}
	return out, nil
}

func (l *Ledger) Close() error {
	l.client.Close()
	return nil
}

func accountKind(r types.CreateAccountResult) ledger.ErrorKind {
	if r == types.AccountExists {
		return ledger.KindExists
	}
	return byName(r.String())
}

func transferKind(r types.CreateTransferResult) ledger.ErrorKind {
	switch r {
	case types.TransferExists:
		return ledger.KindExists
	case types.TransferDebitAccountNotFound, types.TransferCreditAccountNotFound:
		return ledger.KindAccountNotFound
	case types.TransferExceedsCredits:
		return ledger.KindExceedsCredits
	case types.TransferExceedsDebits:
		return ledger.KindExceedsDebits
	case types.TransferPendingTransferNotFound:
		return ledger.KindPendingNotFound
	case types.TransferPendingTransferAlreadyPosted:
		return ledger.KindAlreadyPosted
	case types.TransferPendingTransferAlreadyVoided:
		return ledger.KindAlreadyVoided
	case types.TransferPendingTransferExpired:
		return ledger.KindPendingExpired
	}
	return byName(r.String())
}

// byName classifies the long tail of result codes by their generated names.
func byName(name string) ledger.ErrorKind {
	switch {
	case strings.Contains(name, "ExistsWithDifferent"):
		return ledger.KindExistsWithDifferentFields
	case strings.Contains(name, "SameLedger"), strings.Contains(name, "LedgerMust"):
		return ledger.KindLedgerMismatch
	case strings.Contains(name, "MustNotBeZero"), strings.Contains(name, "MustBeZero"),
		strings.Contains(name, "MustBeDifferent"), strings.Contains(name, "Reserved"),
		strings.Contains(name, "MutuallyExclusive"):
		return ledger.KindInvalid
	}
	return ledger.KindOther
}
