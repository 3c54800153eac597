package saga

import (
	"context"

	"ledgerflow/internal/batch"
	"ledgerflow/internal/codec"
	"ledgerflow/internal/events"
	"ledgerflow/internal/ledger"
)

// Provisioner opens ledger accounts and announces the outcome on
// account-created, created or declined.
type Provisioner struct{ *Saga }

func (s *Saga) Provisioner() Provisioner { return Provisioner{s} }

func (p Provisioner) Topic() events.Topic { return events.TopicAccountCreate }

func (p Provisioner) HandleBatch(ctx context.Context, b *batch.Batch, sess batch.Session) error {
	return batch.Process[events.AccountCreate](ctx, b, sess, func(ctx context.Context, sess batch.Session, recs []batch.Record[events.AccountCreate]) error {
		_, err := p.provision(ctx, sess, recs)
		return err
	})
}

// Reply serves the accounts-create rpc with one AccountCreated per request.
func (p Provisioner) Reply(ctx context.Context, sess batch.Session, recs []batch.Record[events.AccountCreate]) ([]events.AccountCreated, error) {
	return p.provision(ctx, sess, recs)
}

func (p Provisioner) provision(ctx context.Context, sess batch.Session, recs []batch.Record[events.AccountCreate]) ([]events.AccountCreated, error) {
	accounts := make([]ledger.Account, len(recs))
	for i, r := range recs {
		accounts[i] = ledger.Account{
			ID:     uint64(r.Value.Number),
			Ledger: uint32(r.Value.Ledger),
			Code:   uint16(r.Value.Operation),
			Flags:  p.cfg.AccountFlags,
		}
	}
	failures, err := p.ledger.CreateAccounts(ctx, accounts)
	if err != nil {
		return nil, err
	}
	if err := batch.Checkpoint(ctx, sess); err != nil {
		return nil, err
	}
	p.countFailures("create_accounts", failures)
	kinds := ledger.Index(failures)

	now := p.now()
	out := make([]events.AccountCreated, len(recs))
	msgs := make([]codec.Message, 0, len(recs))
	var created, declined int
	for i, r := range recs {
		ev := events.AccountCreated{
			AccountID:  r.Value.AccountID,
			Number:     r.Value.Number,
			Ledger:     r.Value.Ledger,
			Status:     events.ProvisionCreated,
			UpdateDate: now,
		}
		k, failed := kinds[i]
		out[i] = ev
		switch {
		case failed && k == ledger.KindExists:
			continue
		case failed:
			ev.Status, ev.Reason = events.ProvisionDeclined, k.String()
			out[i] = ev
			declined++
		default:
			created++
		}
		m, err := encode(events.TopicAccountCreated, r.Value.Key(), ev)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := p.publish(ctx, msgs); err != nil {
		return nil, err
	}
	transition("account", string(events.ProvisionCreated), created)
	transition("account", string(events.ProvisionDeclined), declined)
	return out, nil
}
