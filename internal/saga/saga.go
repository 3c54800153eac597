// Package saga drives transfers and accounts through the ledger.
//
//	transfer-request ─ Holds ─▶ transaction-created, transaction-validate
//	transaction-validate ─ FraudCheck ─▶ transaction-fraud-validation
//	transaction-fraud-validation ─ Settlement ─▶ transaction-update
//	account-create ─ Provisioner ─▶ account-created
//
// Every handler is idempotent under redelivery: ledger ids are derived from
// business numbers and the ledger's answer decides what is announced.
package saga

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ledgerflow/internal/batch"
	"ledgerflow/internal/codec"
	"ledgerflow/internal/events"
	"ledgerflow/internal/fraud"
	"ledgerflow/internal/ledger"
	"ledgerflow/internal/logging"
	"ledgerflow/internal/telemetry"

	"github.com/google/uuid"
)

// DefaultNamespace seeds transaction ids.
var DefaultNamespace = uuid.MustParse("5b0c2f43-3f7e-4b55-9a53-6c1f0f3f2a61")

type Config struct {
	// Scale is the implicit decimal scale of amounts.
	Scale int32
	// HoldTimeout voids an unsettled hold in the ledger; zero never expires.
	HoldTimeout  time.Duration
	AccountFlags ledger.AccountFlags
	Namespace    uuid.UUID
	// PublishAttempts bounds the sends of one batch of events. A batch
	// that never gets out is redelivered, and the ledger then answers
	// exists, so those events are not announced again.
	PublishAttempts int
	PublishBackoff  time.Duration
}

func (c *Config) applyDefaults() {
	if c.Scale == 0 {
		c.Scale = 2
	}
	if c.Namespace == uuid.Nil {
		c.Namespace = DefaultNamespace
	}
	if c.PublishAttempts <= 0 {
		c.PublishAttempts = 5
	}
	if c.PublishBackoff <= 0 {
		c.PublishBackoff = 100 * time.Millisecond
	}
}

type Deps struct {
	Ledger    ledger.Ledger
	Publisher batch.Publisher
	Policy    fraud.Policy
	// Now defaults to time.Now in UTC.
	Now func() time.Time
}

// Saga holds what the four handlers share.
type Saga struct {
	cfg    Config
	ledger ledger.Ledger
	pub    batch.Publisher
	policy fraud.Policy
	now    func() time.Time
	log    *slog.Logger
}

func New(cfg Config, deps Deps) (*Saga, error) {
	if deps.Ledger == nil || deps.Publisher == nil {
		return nil, errors.New("saga: ledger and publisher are required")
	}
	cfg.applyDefaults()
	s := &Saga{
		cfg:    cfg,
		ledger: deps.Ledger,
		pub:    deps.Publisher,
		policy: deps.Policy,
		now:    deps.Now,
		log:    logging.Component("saga"),
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s, nil
}

// TransactionID is the id minted for transfer number n. Replays of the same
// transfer always get the same id.
func (s *Saga) TransactionID(n codec.Uint) string {
	return uuid.NewSHA1(s.cfg.Namespace, []byte(n.String())).String()
}

// publish sends out in one call, retrying with exponential backoff. The
// ledger call before it is not repeated.
func (s *Saga) publish(ctx context.Context, out []codec.Message) error {
	if len(out) == 0 {
		return nil
	}
	var err error
	delay := s.cfg.PublishBackoff
	for attempt := 1; ; attempt++ {
		if err = s.pub.Publish(ctx, out...); err == nil {
			return nil
		}
		if attempt == s.cfg.PublishAttempts {
			return err
		}
		s.log.Warn("publish_retry", "attempt", attempt, "records", len(out), "err", err)
		select {
		case <-time.After(delay):
			delay *= 2
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		}
	}
}

func encode(topic events.Topic, key string, v any) (codec.Message, error) {
	return codec.Encode(string(topic), key, v, nil)
}

// countFailures records ledger failures and logs the ones the saga does not
// fold into success.
func (s *Saga) countFailures(op string, failures []ledger.Failure) {
	for _, f := range failures {
		telemetry.LedgerFailures.WithLabelValues(op, f.Kind.String()).Inc()
		if f.Kind == ledger.KindExists {
			s.log.Info("ledger_replay", "op", op, "index", f.Index)
			continue
		}
		s.log.Warn("ledger_rejected", "err", &ledger.AdmissionError{Op: op, Failure: f})
	}
}

func transition(entity string, status string, n int) {
	if n > 0 {
		telemetry.SagaTransitions.WithLabelValues(entity, status).Add(float64(n))
	}
}
