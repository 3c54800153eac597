package saga

import (
	"context"
	"errors"

	"ledgerflow/internal/batch"
	"ledgerflow/internal/codec"
	"ledgerflow/internal/events"
)

// FraudCheck decides each held transfer and publishes the verdict.
type FraudCheck struct{ *Saga }

func (s *Saga) FraudCheck() (FraudCheck, error) {
	if s.policy == nil {
		return FraudCheck{}, errors.New("saga: fraud check needs a policy")
	}
	return FraudCheck{s}, nil
}

func (f FraudCheck) Topic() events.Topic { return events.TopicTransactionValidate }

func (f FraudCheck) HandleBatch(ctx context.Context, b *batch.Batch, sess batch.Session) error {
	return batch.Process[events.TransactionCreated](ctx, b, sess, f.decide)
}

func (f FraudCheck) decide(ctx context.Context, _ batch.Session, recs []batch.Record[events.TransactionCreated]) error {
	msgs := make([]codec.Message, 0, len(recs))
	var approved, rejected int
	for _, r := range recs {
		if r.Value.Status != events.StatusPending {
			continue
		}
		v := f.policy.Decide(r.Value)
		verdict := events.FraudVerdict{
			TransactionID:  r.Value.TransactionID,
			TransferFields: r.Value.TransferFields,
			Scale:          r.Value.Scale,
			Status:         v.Status,
			Reason:         v.Reason,
		}
		if v.Status == events.StatusApproved {
			approved++
		} else {
			rejected++
			f.log.Info("fraud_rejected", "number", r.Value.Number.String(), "reason", v.Reason)
		}
		m, err := encode(events.TopicFraudValidation, r.Value.Key(), verdict)
		if err != nil {
			return err
		}
		msgs = append(msgs, m)
	}
	if err := f.publish(ctx, msgs); err != nil {
		return err
	}
	transition("transfer", string(events.StatusApproved), approved)
	transition("transfer", string(events.StatusRejected), rejected)
	return nil
}
