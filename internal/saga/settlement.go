package saga

import (
	"context"

	"ledgerflow/internal/batch"
	"ledgerflow/internal/codec"
	"ledgerflow/internal/events"
	"ledgerflow/internal/ledger"
)

// Settlement posts approved holds and voids rejected ones, then announces the
// terminal status on transaction-update.
type Settlement struct{ *Saga }

func (s *Saga) Settlement() Settlement { return Settlement{s} }

func (st Settlement) Topic() events.Topic { return events.TopicFraudValidation }

func (st Settlement) HandleBatch(ctx context.Context, b *batch.Batch, sess batch.Session) error {
	return batch.Process[events.FraudVerdict](ctx, b, sess, st.settle)
}

// settled is the outcome of one finalize side.
type settled struct {
	recs     []batch.Record[events.FraudVerdict]
	statuses []events.Status
}

func (st Settlement) settle(ctx context.Context, sess batch.Session, recs []batch.Record[events.FraudVerdict]) error {
	var post, void []batch.Record[events.FraudVerdict]
	for _, g := range batch.GroupBy(recs, func(v events.FraudVerdict) events.Status { return v.Status }) {
		switch g.Key {
		case events.StatusApproved:
			post = g.Records
		case events.StatusRejected:
			void = g.Records
		}
	}

	var posted, voided settled
	err := batch.Join(ctx,
		func(ctx context.Context) (err error) {
			posted, err = st.finalize(ctx, post, true)
			return err
		},
		func(ctx context.Context) (err error) {
			voided, err = st.finalize(ctx, void, false)
			return err
		},
	)
	if err != nil {
		return err
	}
	if err := batch.Checkpoint(ctx, sess); err != nil {
		return err
	}

	now := st.now()
	msgs := make([]codec.Message, 0, len(posted.recs)+len(voided.recs))
	counts := map[events.Status]int{}
	for _, side := range []settled{posted, voided} {
		for i, r := range side.recs {
			v := r.Value
			ev := events.TransactionUpdate{
				TransactionID:   v.TransactionID,
				Number:          v.Number,
				DebitAccountID:  v.DebitAccountID,
				CreditAccountID: v.CreditAccountID,
				Amount:          v.Amount,
				Code:            v.Code,
				Ledger:          v.Ledger,
				Scale:           v.Scale,
				Status:          side.statuses[i],
				Verdict:         v.Status,
				UpdateDate:      now,
				Reason:          v.Reason,
			}
			m, err := encode(events.TopicTransactionUpdate, ev.Key(), ev)
			if err != nil {
				return err
			}
			msgs = append(msgs, m)
			counts[ev.Status]++
		}
	}
	if err := st.publish(ctx, msgs); err != nil {
		return err
	}
	for status, n := range counts {
		transition("transfer", string(status), n)
	}
	return nil
}

// finalize posts or voids recs and returns the records that reached a
// terminal state along with that state. The rest are logged and dropped.
func (st Settlement) finalize(ctx context.Context, recs []batch.Record[events.FraudVerdict], post bool) (settled, error) {
	if len(recs) == 0 {
		return settled{}, nil
	}
	finals := make([]ledger.Finalize, len(recs))
	for i, r := range recs {
		finals[i] = ledger.Finalize{PendingID: uint64(r.Value.Number)}
		if post {
			finals[i].Amount = uint64(r.Value.Amount)
		}
	}
	op, call := "void_transfers", st.ledger.VoidTransfers
	if post {
		op, call = "post_transfers", st.ledger.PostTransfers
	}
	failures, err := call(ctx, finals)
	if err != nil {
		return settled{}, err
	}
	st.countFailures(op, failures)
	kinds := ledger.Index(failures)

	var out settled
	for i, r := range recs {
		k, failed := kinds[i]
		status, ok := terminal(k, failed, post)
		if !ok {
			if replayed(k) {
				st.log.Info("settlement_replay", "op", op,
					"number", r.Value.Number.String(), "kind", k.String())
			} else {
				st.log.Warn("settlement_dropped", "op", op,
					"number", r.Value.Number.String(), "kind", k.String())
			}
			continue
		}
		out.recs = append(out.recs, r)
		out.statuses = append(out.statuses, status)
	}
	return out, nil
}

// terminal maps a finalize outcome onto the status to announce. Only a
// finalize made by this call is announced, plus a hold the ledger expired,
// which no earlier settlement can have reported.
func terminal(k ledger.ErrorKind, failed, post bool) (events.Status, bool) {
	switch {
	case !failed && post:
		return events.StatusPosted, true
	case !failed:
		return events.StatusVoided, true
	case k == ledger.KindPendingExpired:
		return events.StatusVoided, true
	}
	return "", false
}

// replayed reports whether k means the pending transfer was finalized
// before, by this or the opposite op sharing its id.
func replayed(k ledger.ErrorKind) bool {
	switch k {
	case ledger.KindExists, ledger.KindExistsWithDifferentFields,
		ledger.KindAlreadyPosted, ledger.KindAlreadyVoided:
		return true
	}
	return false
}
