package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ledgerflow/internal/batch"
	"ledgerflow/internal/broker"
	"ledgerflow/internal/logging"
	"ledgerflow/internal/telemetry"

	"golang.org/x/sync/errgroup"
)

// Subscription binds a handler to one topic under one consumer group.
type Subscription struct {
	Group   string
	Topic   string
	Handler batch.Handler
}

// Runner runs every subscription until ctx ends. A consumer whose Run fails
// is closed and rebuilt; unresolved records are redelivered to the new one.
type Runner struct {
	// Backoff is the wait between attempts to rebuild a crashed consumer.
	Backoff time.Duration

	transport broker.Transport
	subs      []Subscription

	mu        sync.Mutex
	consumers []batch.Consumer
	closed    bool
}

func NewRunner(t broker.Transport) *Runner {
	return &Runner{transport: t, Backoff: time.Second}
}

func (r *Runner) Add(s Subscription) { r.subs = append(r.subs, s) }

// Topics lists the subscribed topics in order.
func (r *Runner) Topics() []string {
	out := make([]string, len(r.subs))
	for i, s := range r.subs {
		out[i] = s.Topic
	}
	return out
}

// Run creates every consumer, calls ready once all exist, then blocks until
// ctx is cancelled or the runner is closed. Only a failure to create the
// consumers in the first place is returned.
func (r *Runner) Run(ctx context.Context, ready func()) error {
	if len(r.subs) == 0 {
		return errors.New("runner: no subscriptions")
	}
	consumers := make([]batch.Consumer, 0, len(r.subs))
	for _, s := range r.subs {
		c, err := r.transport.NewConsumer(s.Group, s.Topic)
		if err != nil {
			for _, made := range consumers {
				_ = made.Close()
			}
			return fmt.Errorf("runner: consumer %s: %w", s.Group, err)
		}
		consumers = append(consumers, c)
	}
	r.mu.Lock()
	r.consumers = consumers
	r.mu.Unlock()

	if ready != nil {
		ready()
	}

	log := logging.Component("runner")
	var g errgroup.Group
	for i, s := range r.subs {
		i, s := i, s
		g.Go(func() error {
			r.supervise(ctx, log, i, s, consumers[i])
			return nil
		})
	}
	return g.Wait()
}

func (r *Runner) supervise(ctx context.Context, log *slog.Logger, i int, s Subscription, c batch.Consumer) {
	for c != nil {
		log.Info("consumer_started", "group", s.Group, "topic", s.Topic)
		err := c.Run(ctx, s.Handler)
		if err == nil || ctx.Err() != nil || r.isClosed() {
			return
		}
		log.Error("consumer_crashed", "group", s.Group, "topic", s.Topic, "err", err)
		telemetry.ConsumerRestarts.WithLabelValues(s.Group).Inc()
		r.mu.Lock()
		if !r.closed {
			r.consumers[i] = nil
		}
		r.mu.Unlock()
		if cerr := c.Close(); cerr != nil {
			log.Warn("consumer_close_failed", "group", s.Group, "err", cerr)
		}
		c = r.rebuild(ctx, log, i, s)
	}
}

// rebuild creates a fresh consumer for s, retrying until it succeeds, ctx
// ends or the runner is closed.
func (r *Runner) rebuild(ctx context.Context, log *slog.Logger, i int, s Subscription) batch.Consumer {
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.Backoff):
		}
		c, err := r.transport.NewConsumer(s.Group, s.Topic)
		if err != nil {
			log.Warn("consumer_rebuild_failed", "group", s.Group, "attempt", attempt, "err", err)
			continue
		}
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			_ = c.Close()
			return nil
		}
		r.consumers[i] = c
		r.mu.Unlock()
		log.Info("consumer_rebuilt", "group", s.Group, "attempt", attempt)
		return c
	}
}

func (r *Runner) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	var errs []error
	for _, c := range r.consumers {
		if c != nil {
			errs = append(errs, c.Close())
		}
	}
	r.consumers = nil
	return errors.Join(errs...)
}
