package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"ledgerflow/internal/batch"
	"ledgerflow/internal/broker"
	"ledgerflow/internal/config"
	"ledgerflow/internal/events"
	"ledgerflow/internal/fraud"
	"ledgerflow/internal/ledger"
	"ledgerflow/internal/ledger/tigerbeetle"
	"ledgerflow/internal/logging"
	"ledgerflow/internal/pipeline"
	"ledgerflow/internal/projector"
	"ledgerflow/internal/saga"
	"ledgerflow/internal/spec"
	"ledgerflow/internal/store"
	"ledgerflow/internal/store/memory"
	"ledgerflow/internal/store/postgres"
	"ledgerflow/internal/transport"

	"github.com/google/uuid"
)

type Config struct {
	SpecPath string
	// Transport replaces the kafka connection, e.g. with an in-memory log.
	Transport broker.Transport
}

var sagaTopics = []events.Topic{
	events.TopicTransferRequest,
	events.TopicTransactionValidate,
	events.TopicFraudValidation,
	events.TopicAccountCreate,
}

// Bootstrap builds every component the service spec asks for. Nothing runs
// until Engine.Run.
func Bootstrap(ctx context.Context, cfg Config) (_ *Engine, err error) {
	f, err := config.LoadServiceSpec(cfg.SpecPath)
	if err != nil {
		return nil, fmt.Errorf("service spec: %w", err)
	}
	if f.Log.Level != "" || f.Log.JSON {
		logging.Configure(logging.Options{Level: f.Log.Level, JSON: f.Log.JSON})
	}

	e := &Engine{spec: f, log: logging.Component("engine").With("role", f.Role)}
	defer func() {
		if err != nil {
			e.release()
		}
	}()

	// 1. log transport
	tr := cfg.Transport
	if tr == nil {
		kc, err := config.LoadKafkaConfig(f)
		if err != nil {
			return nil, fmt.Errorf("kafka config: %w", err)
		}
		tr = broker.New(kc, broker.WithDriver(f.Kafka.Driver), broker.WithDryRun(f.Kafka.DryRun))
	}
	e.pub, err = tr.NewPublisher()
	if err != nil {
		return nil, fmt.Errorf("publisher: %w", err)
	}
	deps := pipeline.Deps{Transport: tr, Publisher: e.pub}

	// 2. saga
	if needsSaga(f) {
		e.ledger, err = openLedger(f.Ledger)
		if err != nil {
			return nil, fmt.Errorf("ledger: %w", err)
		}
		deps.Saga, err = newSaga(f, e.ledger, e.pub)
		if err != nil {
			return nil, err
		}
	}

	// 3. read model
	if needsStore(f) {
		e.store, err = openStore(ctx, f.Store)
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		deps.Projector, err = projector.New(e.store)
		if err != nil {
			return nil, err
		}
	}

	e.runner, err = pipeline.Compile(f, deps)
	if err != nil {
		return nil, err
	}

	// 4. control port
	e.transport, err = transport.StartServer(max(f.Telemetry.GRPCPort, 0))
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	return e, nil
}

func needsSaga(f spec.File) bool {
	if len(f.Responders) > 0 {
		return true
	}
	for _, h := range f.Handlers {
		if slices.Contains(sagaTopics, events.Topic(h)) {
			return true
		}
	}
	return false
}

func needsStore(f spec.File) bool {
	for _, h := range f.Handlers {
		switch events.Topic(h) {
		case events.TopicTransactionCreated, events.TopicTransactionUpdate, events.TopicAccountCreated:
			return true
		}
	}
	return false
}

func openLedger(s spec.LedgerSection) (ledger.Ledger, error) {
	switch s.Kind {
	case "tigerbeetle":
		tb, err := tigerbeetle.Dial(tigerbeetle.Config{ClusterID: s.ClusterID, Addresses: s.Addresses})
		if err != nil {
			return nil, err
		}
		return tb, nil
	case "memory":
		return ledger.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown ledger kind %q", s.Kind)
}

func openStore(ctx context.Context, s spec.StoreSection) (store.Store, error) {
	switch s.Kind {
	case "postgres":
		if s.Migrate {
			if err := postgres.Migrate(s.DSN, postgres.Up); err != nil {
				return nil, err
			}
		}
		pg, err := postgres.Open(ctx, postgres.Config{DSN: s.DSN, MaxConns: s.MaxConns})
		if err != nil {
			return nil, err
		}
		return pg, nil
	case "memory":
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown store kind %q", s.Kind)
}

func newSaga(f spec.File, l ledger.Ledger, pub batch.Publisher) (*saga.Saga, error) {
	flags, err := accountFlags(f.Saga.AccountFlags)
	if err != nil {
		return nil, err
	}
	cfg := saga.Config{
		Scale:        f.Saga.Scale,
		HoldTimeout:  f.Saga.HoldTimeout,
		AccountFlags: flags,

		PublishAttempts: f.Saga.RetryPolicy.Attempts,
		PublishBackoff:  time.Duration(f.Saga.RetryPolicy.BackoffMS) * time.Millisecond,
	}
	if f.Saga.Namespace != "" {
		if cfg.Namespace, err = uuid.Parse(f.Saga.Namespace); err != nil {
			return nil, fmt.Errorf("saga namespace: %w", err)
		}
	}
	policy, err := fraud.NewThresholdPolicy(f.Fraud.Threshold)
	if err != nil {
		return nil, err
	}
	return saga.New(cfg, saga.Deps{Ledger: l, Publisher: pub, Policy: policy})
}

func accountFlags(names []string) (ledger.AccountFlags, error) {
	var out ledger.AccountFlags
	for _, n := range names {
		switch n {
		case "debits_must_not_exceed_credits":
			out |= ledger.FlagDebitsMustNotExceedCredits
		case "credits_must_not_exceed_debits":
			out |= ledger.FlagCreditsMustNotExceedDebits
		default:
			return 0, errors.New("unknown account flag " + n)
		}
	}
	return out, nil
}
