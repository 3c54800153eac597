package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"ledgerflow/internal/broker"
	"ledgerflow/internal/broker/memlog"
	"ledgerflow/internal/codec"
	"ledgerflow/internal/events"
	"ledgerflow/internal/fraud"
	"ledgerflow/internal/ledger"
	"ledgerflow/internal/projector"
	"ledgerflow/internal/rpc"
	"ledgerflow/internal/saga"
	"ledgerflow/internal/spec"
	"ledgerflow/internal/store/memory"
)

type fixture struct {
	log   *memlog.Log
	store *memory.Store
	deps  Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l := memlog.New()
	pub, err := l.NewPublisher()
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	policy, _ := fraud.NewThresholdPolicy("1000.00")
	s, err := saga.New(saga.Config{}, saga.Deps{Ledger: ledger.NewMemory(), Publisher: pub, Policy: policy})
	if err != nil {
		t.Fatalf("saga: %v", err)
	}
	st := memory.New()
	proj, _ := projector.New(st)
	return &fixture{log: l, store: st, deps: Deps{Transport: l, Publisher: pub, Saga: s, Projector: proj}}
}

func allHandlers() []string {
	out := make([]string, 0, len(events.Topics()))
	for _, t := range events.Topics() {
		out = append(out, t.String())
	}
	return out
}

func start(t *testing.T, r *Runner) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	ch := make(chan error, 1)
	go func() { ch <- r.Run(ctx, func() { close(ready) }) }()
	select {
	case <-ready:
	case err := <-ch:
		t.Fatalf("runner exited before ready: %v", err)
	}
	return cancel, ch
}

func TestCompile_RunsWholeSagaIntoReadModel(t *testing.T) {
	fx := newFixture(t)
	r, err := Compile(spec.File{
		Role:       "all",
		Handlers:   allHandlers(),
		Responders: []string{"transactions-create", "accounts-create"},
	}, fx.deps)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if got := len(r.Topics()); got != len(events.Topics())+2 {
		t.Fatalf("want %d subscriptions, got %d", len(events.Topics())+2, got)
	}
	cancel, done := start(t, r)
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Fatalf("runner: %v", err)
		}
	}()

	accounts, err := rpc.New[events.AccountCreate, events.AccountCreated](fx.log, rpc.Config{RPC: events.RPCAccountsCreate, ClientName: "test"})
	if err != nil {
		t.Fatalf("accounts client: %v", err)
	}
	defer accounts.Close()
	transfers, err := rpc.New[events.TransferRequest, events.TransactionCreated](fx.log, rpc.Config{RPC: events.RPCTransactionsCreate, ClientName: "test"})
	if err != nil {
		t.Fatalf("transfers client: %v", err)
	}
	defer transfers.Close()

	ctx := context.Background()
	for _, n := range []codec.Uint{1, 2} {
		res, err := accounts.Request(ctx, events.AccountCreate{AccountID: "acc", Number: n, Ledger: 1, Operation: 1})
		if err != nil {
			t.Fatalf("open account %d: %v", n, err)
		}
		if res.Status != events.ProvisionCreated {
			t.Fatalf("account %d: %s %s", n, res.Status, res.Reason)
		}
	}

	created, err := transfers.Request(ctx, events.TransferRequest{TransferFields: events.TransferFields{
		Number: 77, DebitAccountID: 1, CreditAccountID: 2, Amount: 250, Code: 1, Ledger: 1,
	}})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if created.Status != events.StatusPending || created.TransactionID == "" {
		t.Fatalf("unexpected reply %+v", created)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		tx, err := fx.store.Transaction(ctx, 77)
		if err == nil && tx.Status == events.StatusPosted {
			if tx.TransactionID != created.TransactionID {
				t.Fatalf("transaction id: got %s want %s", tx.TransactionID, created.TransactionID)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("transaction never reached posted: %+v %v", tx, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	acc, err := fx.store.Account(ctx, 1)
	if err != nil || acc.Status != events.AccountEnabled {
		t.Fatalf("account read model: %+v %v", acc, err)
	}
}

func TestCompile_MissingDependencies(t *testing.T) {
	l := memlog.New()
	if _, err := Compile(spec.File{Role: "x", Handlers: []string{"transfer-request"}}, Deps{Transport: l}); err == nil {
		t.Fatal("want error without saga")
	}
	if _, err := Compile(spec.File{Role: "x", Handlers: []string{"transaction-update"}}, Deps{Transport: l}); err == nil {
		t.Fatal("want error without projector")
	}
	if _, err := Compile(spec.File{Role: "x", Handlers: []string{"no-such-topic"}}, Deps{Transport: l}); err == nil {
		t.Fatal("want error for unknown topic")
	}
	if _, err := Compile(spec.File{Role: "x"}, Deps{}); err == nil {
		t.Fatal("want error without transport")
	}
}

func TestRunner_CrashedConsumerIsRebuilt(t *testing.T) {
	fx := newFixture(t)
	r, err := Compile(spec.File{Role: "svc", Handlers: []string{"account-create", "account-created"}}, fx.deps)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	r.Backoff = 10 * time.Millisecond
	cancel, done := start(t, r)

	fx.log.CrashConsumers(broker.GroupName("svc", events.TopicAccountCreate.String()), errors.New("coordinator lost"))

	ctx := context.Background()
	acc := events.AccountCreate{AccountID: "acc-5", Number: 5, Ledger: 1, Operation: 1}
	m, err := codec.Encode(events.TopicAccountCreate.String(), acc.Key(), acc, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := fx.log.Publish(ctx, m); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		a, err := fx.store.Account(ctx, 5)
		if err == nil && a.Status == events.AccountEnabled {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("account never projected after crash: %+v %v", a, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case err := <-done:
		t.Fatalf("runner stopped after a consumer crash: %v", err)
	default:
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("runner: %v", err)
	}
}

func TestRunner_CloseStopsRun(t *testing.T) {
	fx := newFixture(t)
	r, err := Compile(spec.File{Role: "svc", Handlers: []string{"transaction-update"}}, fx.deps)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	cancel, done := start(t, r)
	defer cancel()
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runner: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after Close")
	}
}
