package saga

import (
	"context"

	"ledgerflow/internal/batch"
	"ledgerflow/internal/codec"
	"ledgerflow/internal/events"
	"ledgerflow/internal/ledger"
)

// Holds places two-phase holds for requested transfers. Only holds created by
// this call go to transaction-created and transaction-validate; a refused
// transfer is never announced and a replayed one was announced already.
type Holds struct{ *Saga }

func (s *Saga) Holds() Holds { return Holds{s} }

func (h Holds) Topic() events.Topic { return events.TopicTransferRequest }

func (h Holds) HandleBatch(ctx context.Context, b *batch.Batch, sess batch.Session) error {
	return batch.Process[events.TransferRequest](ctx, b, sess, func(ctx context.Context, sess batch.Session, recs []batch.Record[events.TransferRequest]) error {
		_, err := h.hold(ctx, sess, recs)
		return err
	})
}

// Reply serves the transactions-create rpc. Refused transfers are answered
// with status rejected and the ledger's reason; replays get the pending
// answer again without a second announcement.
func (h Holds) Reply(ctx context.Context, sess batch.Session, recs []batch.Record[events.TransferRequest]) ([]events.TransactionCreated, error) {
	return h.hold(ctx, sess, recs)
}

func (h Holds) hold(ctx context.Context, sess batch.Session, recs []batch.Record[events.TransferRequest]) ([]events.TransactionCreated, error) {
	transfers := make([]ledger.Transfer, len(recs))
	for i, r := range recs {
		f := r.Value.TransferFields
		transfers[i] = ledger.Transfer{
			ID:              uint64(f.Number),
			DebitAccountID:  uint64(f.DebitAccountID),
			CreditAccountID: uint64(f.CreditAccountID),
			Amount:          uint64(f.Amount),
			Ledger:          uint32(f.Ledger),
			Code:            uint16(f.Code),
			Timeout:         h.cfg.HoldTimeout,
		}
	}
	failures, err := h.ledger.CreatePendingTransfers(ctx, transfers)
	if err != nil {
		return nil, err
	}
	if err := batch.Checkpoint(ctx, sess); err != nil {
		return nil, err
	}
	h.countFailures("create_pending_transfers", failures)
	kinds := ledger.Index(failures)
	refused := make([]int, 0, len(failures))
	for _, f := range failures {
		refused = append(refused, f.Index)
	}
	held, _ := batch.Exclude(recs, refused)

	now := h.now()
	pending := func(f events.TransferFields) events.TransactionCreated {
		return events.TransactionCreated{
			TransactionID:  h.TransactionID(f.Number),
			TransferFields: f,
			Scale:          h.cfg.Scale,
			Status:         events.StatusPending,
			CreationDate:   now,
		}
	}
	msgs := make([]codec.Message, 0, 2*len(held))
	for _, r := range held {
		for _, topic := range []events.Topic{events.TopicTransactionCreated, events.TopicTransactionValidate} {
			m, err := encode(topic, r.Value.Key(), pending(r.Value.TransferFields))
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, m)
		}
	}
	if err := h.publish(ctx, msgs); err != nil {
		return nil, err
	}
	transition("transfer", string(events.StatusPending), len(held))

	out := make([]events.TransactionCreated, len(recs))
	for i, r := range recs {
		if k, failed := kinds[i]; failed && k != ledger.KindExists {
			out[i] = events.TransactionCreated{
				TransferFields: r.Value.TransferFields,
				Scale:          h.cfg.Scale,
				Status:         events.StatusRejected,
				CreationDate:   now,
				Reason:         k.String(),
			}
			continue
		}
		out[i] = pending(r.Value.TransferFields)
	}
	return out, nil
}
