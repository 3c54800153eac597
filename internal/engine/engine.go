package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"ledgerflow/internal/batch"
	"ledgerflow/internal/ledger"
	"ledgerflow/internal/pipeline"
	"ledgerflow/internal/spec"
	"ledgerflow/internal/store"
	"ledgerflow/internal/telemetry"
	"ledgerflow/internal/transport"
)

type Engine struct {
	spec      spec.File
	log       *slog.Logger
	transport *transport.Server
	runner    *pipeline.Runner
	pub       batch.Publisher
	ledger    ledger.Ledger
	store     store.Store
	ready     telemetry.Readiness
}

// Run serves the control port and metrics, then runs every consumer until
// ctx ends. Crashed consumers are rebuilt by the runner.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if e.spec.Telemetry.MetricsPort > 0 {
		telemetry.Expose(ctx, e.spec.Telemetry.MetricsPort, &e.ready)
	}
	go func() {
		if err := e.transport.Serve(); err != nil {
			e.log.Error("control_server_failed", "err", err)
		}
	}()

	e.log.Info("engine_started", "handlers", e.spec.Handlers, "responders", e.spec.Responders)
	err := e.runner.Run(ctx, func() {
		e.ready.Set(true)
		e.transport.SetServing(true, e.runner.Topics()...)
	})
	e.ready.Set(false)
	e.transport.SetServing(false, e.runner.Topics()...)
	e.release()
	if err != nil {
		e.log.Error("engine_stopped", "err", err)
		return err
	}
	e.log.Info("engine_stopped")
	return nil
}

// release closes what Bootstrap opened, consumers before the publisher and
// the publisher before the ledger.
func (e *Engine) release() {
	var errs []error
	if e.runner != nil {
		errs = append(errs, e.runner.Close())
	}
	if e.transport != nil {
		e.transport.Stop()
	}
	for _, c := range []io.Closer{e.pub, e.ledger, e.store} {
		if c != nil {
			errs = append(errs, c.Close())
		}
	}
	if err := errors.Join(errs...); err != nil {
		e.log.Warn("engine_release_failed", "err", err)
	}
}
