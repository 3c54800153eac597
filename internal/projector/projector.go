// Package projector keeps the read model in step with the saga topics.
package projector

import (
	"context"
	"errors"

	"ledgerflow/internal/batch"
	"ledgerflow/internal/events"
	"ledgerflow/internal/store"
)

type Projector struct {
	store store.Store
}

func New(s store.Store) (*Projector, error) {
	if s == nil {
		return nil, errors.New("projector: store is required")
	}
	return &Projector{store: s}, nil
}

// Created upserts pending transactions from transaction-created.
type Created struct{ *Projector }

func (p *Projector) Created() Created { return Created{p} }

func (c Created) Topic() events.Topic { return events.TopicTransactionCreated }

func (c Created) HandleBatch(ctx context.Context, b *batch.Batch, sess batch.Session) error {
	return batch.Process[events.TransactionCreated](ctx, b, sess, func(ctx context.Context, _ batch.Session, recs []batch.Record[events.TransactionCreated]) error {
		txs := make([]store.Transaction, 0, len(recs))
		for _, r := range recs {
			v := r.Value
			if v.Status != events.StatusPending {
				continue
			}
			txs = append(txs, store.Transaction{
				TransactionID:   v.TransactionID,
				Number:          uint64(v.Number),
				DebitAccountID:  uint64(v.DebitAccountID),
				CreditAccountID: uint64(v.CreditAccountID),
				Amount:          uint64(v.Amount),
				Code:            uint64(v.Code),
				Ledger:          uint64(v.Ledger),
				Scale:           v.Scale,
				Status:          v.Status,
				CreatedAt:       v.CreationDate,
				UpdatedAt:       v.CreationDate,
			})
		}
		return c.store.UpsertTransactions(ctx, txs)
	})
}

// Updated applies transaction-update, one store call per status.
type Updated struct{ *Projector }

func (p *Projector) Updated() Updated { return Updated{p} }

func (u Updated) Topic() events.Topic { return events.TopicTransactionUpdate }

func (u Updated) HandleBatch(ctx context.Context, b *batch.Batch, sess batch.Session) error {
	return batch.Process[events.TransactionUpdate](ctx, b, sess, func(ctx context.Context, _ batch.Session, recs []batch.Record[events.TransactionUpdate]) error {
		groups := batch.GroupBy(recs, func(v events.TransactionUpdate) events.Status { return v.Status })
		fns := make([]func(context.Context) error, len(groups))
		for i, g := range groups {
			txs := make([]store.Transaction, len(g.Records))
			for j, r := range g.Records {
				v := r.Value
				txs[j] = store.Transaction{
					TransactionID:   v.TransactionID,
					Number:          uint64(v.Number),
					DebitAccountID:  uint64(v.DebitAccountID),
					CreditAccountID: uint64(v.CreditAccountID),
					Amount:          uint64(v.Amount),
					Code:            uint64(v.Code),
					Ledger:          uint64(v.Ledger),
					Scale:           v.Scale,
					Verdict:         v.Verdict,
					Reason:          v.Reason,
					UpdatedAt:       v.UpdateDate,
				}
			}
			status := g.Key
			fns[i] = func(ctx context.Context) error {
				return u.store.UpdateTransactionStatus(ctx, status, txs)
			}
		}
		return batch.Join(ctx, fns...)
	})
}

// Accounts applies account-created: created enables, declined disables.
type Accounts struct{ *Projector }

func (p *Projector) Accounts() Accounts { return Accounts{p} }

func (a Accounts) Topic() events.Topic { return events.TopicAccountCreated }

func (a Accounts) HandleBatch(ctx context.Context, b *batch.Batch, sess batch.Session) error {
	return batch.Process[events.AccountCreated](ctx, b, sess, func(ctx context.Context, _ batch.Session, recs []batch.Record[events.AccountCreated]) error {
		groups := batch.GroupBy(recs, func(v events.AccountCreated) events.AccountStatus { return v.Status.AccountStatus() })
		fns := make([]func(context.Context) error, len(groups))
		for i, g := range groups {
			accs := make([]store.Account, len(g.Records))
			for j, r := range g.Records {
				accs[j] = store.Account{
					AccountID: r.Value.AccountID,
					Number:    uint64(r.Value.Number),
					Ledger:    uint64(r.Value.Ledger),
					Reason:    r.Value.Reason,
					UpdatedAt: r.Value.UpdateDate,
				}
			}
			status := g.Key
			fns[i] = func(ctx context.Context) error {
				return a.store.UpdateAccountStatus(ctx, status, accs)
			}
		}
		return batch.Join(ctx, fns...)
	})
}
