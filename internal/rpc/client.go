// Package rpc implements request/reply over two log topics. Requests go to
// {rpc}-requests carrying correlationId and replyTopic headers; replies come
// back on {rpc}-replies with the same correlationId.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ledgerflow/internal/batch"
	"ledgerflow/internal/broker"
	"ledgerflow/internal/codec"
	"ledgerflow/internal/events"
	"ledgerflow/internal/logging"
	"ledgerflow/internal/telemetry"
	"ledgerflow/source/kafka"

	"github.com/google/uuid"
)

type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateCrashed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateCrashed:
		return "crashed"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type Config struct {
	RPC        events.RPC
	ClientName string
	// Timeout applies to requests without WithTimeout.
	Timeout       time.Duration
	MaxInFlight   int64
	ReinitBackoff time.Duration
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 1024
	}
	if c.ReinitBackoff <= 0 {
		c.ReinitBackoff = time.Second
	}
}

// ReplyGroup is the consumer group a client reads replies with. It is scoped
// to the client so replies do not fan out to unrelated clients.
func ReplyGroup(clientName string, r events.RPC) string {
	return clientName + "." + events.ReplyTopic(r)
}

type RequestOption func(*requestOptions)

type requestOptions struct {
	timeout time.Duration
}

// WithTimeout overrides the client's default timeout for one request.
func WithTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

type result[Res any] struct {
	val Res
	err error
}

type pendingRequest[Res any] struct {
	ch    chan result[Res]
	timer *time.Timer
}

type Client[Req any, Res codec.Validator] struct {
	cfg       Config
	transport broker.Transport
	log       *slog.Logger
	inflight  *kafka.Controller

	mu    sync.Mutex
	state State
	// changed is closed and replaced on every state change.
	changed chan struct{}
	pending map[string]*pendingRequest[Res]
	pub     batch.Publisher
	cons    batch.Consumer

	stop context.CancelFunc
	done chan struct{}
}

// New connects a publisher and a reply consumer and starts the consume loop.
// An initialization failure here is returned; later crashes self-heal.
func New[Req any, Res codec.Validator](transport broker.Transport, cfg Config) (*Client[Req, Res], error) {
	if _, err := events.ParseRPC(string(cfg.RPC)); err != nil {
		return nil, err
	}
	if cfg.ClientName == "" {
		return nil, errors.New("rpc: client name is required")
	}
	cfg.applyDefaults()
	c := &Client[Req, Res]{
		cfg:       cfg,
		transport: transport,
		log:       logging.Component("rpc").With("rpc", string(cfg.RPC), "client", cfg.ClientName),
		inflight:  kafka.NewController(cfg.MaxInFlight, 0, 0),
		pending:   make(map[string]*pendingRequest[Res]),
		changed:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	pub, cons, err := c.connect()
	if err != nil {
		return nil, err
	}
	c.pub, c.cons = pub, cons
	c.setStateLocked(StateReady)

	ctx, cancel := context.WithCancel(context.Background())
	c.stop = cancel
	go c.supervise(ctx, cons)
	c.log.Info("rpc_client_ready")
	return c, nil
}

func (c *Client[Req, Res]) connect() (batch.Publisher, batch.Consumer, error) {
	pub, err := c.transport.NewPublisher()
	if err != nil {
		return nil, nil, &TransportError{Op: "connect publisher", Err: err}
	}
	cons, err := c.transport.NewConsumer(ReplyGroup(c.cfg.ClientName, c.cfg.RPC), events.ReplyTopic(c.cfg.RPC))
	if err != nil {
		c.closeQuietly("publisher", pub)
		return nil, nil, &TransportError{Op: "connect consumer", Err: err}
	}
	return pub, cons, nil
}

func (c *Client[Req, Res]) setStateLocked(s State) {
	c.state = s
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *Client[Req, Res]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending is the number of requests waiting for a reply.
func (c *Client[Req, Res]) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Request publishes req and waits for the correlated reply, the deadline, a
// transport failure or ctx, whichever comes first.
func (c *Client[Req, Res]) Request(ctx context.Context, req Req, opts ...RequestOption) (res Res, err error) {
	o := requestOptions{timeout: c.cfg.Timeout}
	for _, opt := range opts {
		opt(&o)
	}
	defer func() {
		telemetry.RPCRequests.WithLabelValues(string(c.cfg.RPC), outcome(err)).Inc()
	}()

	if err := c.inflight.Acquire(ctx); err != nil {
		if errors.Is(err, kafka.ErrControllerClosed) {
			return res, ErrClosed
		}
		return res, err
	}
	defer c.inflight.Release(1)

	id := uuid.NewString()
	key := ""
	if k, ok := any(req).(interface{ Key() string }); ok {
		key = k.Key()
	}
	msg, err := codec.Encode(events.RequestTopic(c.cfg.RPC), key, req, map[string]string{
		codec.HeaderCorrelationID: id,
		codec.HeaderReplyTopic:    events.ReplyTopic(c.cfg.RPC),
	})
	if err != nil {
		return res, err
	}

	p := &pendingRequest[Res]{ch: make(chan result[Res], 1)}
	deadline := time.Now().Add(o.timeout)
	if err := c.awaitReady(ctx, deadline); err != nil {
		return res, err
	}
	pub := c.pub
	c.pending[id] = p
	p.timer = time.AfterFunc(time.Until(deadline), func() {
		if c.settle(id, result[Res]{err: ErrTimeout}) {
			c.log.Warn("rpc_timeout_reached", "correlation_id", id, "timeout", o.timeout)
		}
	})
	c.gaugeLocked()
	c.mu.Unlock()

	if err := pub.Publish(ctx, msg); err != nil {
		c.settle(id, result[Res]{err: &TransportError{Op: "publish", Err: err}})
	}

	select {
	case r := <-p.ch:
		return r.val, r.err
	case <-ctx.Done():
		c.settle(id, result[Res]{err: ctx.Err()})
		r := <-p.ch
		return r.val, r.err
	}
}

// awaitReady blocks while the client re-initializes and returns with c.mu
// held once it is Ready. A request that cannot start before its deadline
// times out.
func (c *Client[Req, Res]) awaitReady(ctx context.Context, deadline time.Time) error {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		c.mu.Lock()
		switch c.state {
		case StateReady:
			return nil
		case StateClosed:
			c.mu.Unlock()
			return ErrClosed
		}
		changed := c.changed
		c.mu.Unlock()

		if timer == nil {
			timer = time.NewTimer(time.Until(deadline))
		}
		select {
		case <-changed:
		case <-timer.C:
			c.log.Warn("rpc_timeout_reached", "phase", "reinit")
			return ErrTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// settle removes id from the table, stops its timer and delivers r. Only the
// first caller for an id wins.
func (c *Client[Req, Res]) settle(id string, r result[Res]) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
		p.timer.Stop()
		c.gaugeLocked()
	}
	c.mu.Unlock()
	if ok {
		p.ch <- r
	}
	return ok
}

func (c *Client[Req, Res]) gaugeLocked() {
	telemetry.RPCPending.WithLabelValues(string(c.cfg.RPC)).Set(float64(len(c.pending)))
}

// handleReplies resolves every reply offset once its pending entry, if any,
// has been settled.
func (c *Client[Req, Res]) handleReplies(ctx context.Context, b *batch.Batch, sess batch.Session) error {
	for _, m := range b.Messages {
		c.dispatch(m)
		if !batch.Alive(sess) {
			return batch.ErrStale
		}
		sess.ResolveOffset(m.Offset)
	}
	return sess.Heartbeat(ctx)
}

func (c *Client[Req, Res]) dispatch(m codec.Message) {
	id, ok := m.Header(codec.HeaderCorrelationID)
	if !ok {
		c.log.Warn("rpc_reply_uncorrelated", "offset", m.Offset)
		return
	}
	c.mu.Lock()
	_, known := c.pending[id]
	c.mu.Unlock()
	if !known {
		c.log.Info("rpc_reply_unmatched", "correlation_id", id, "offset", m.Offset)
		return
	}
	val, err := codec.Decode[Res](m.Value)
	if err != nil {
		err = asValidation(err)
		c.log.Warn("rpc_reply_invalid", "correlation_id", id, "err", err)
	}
	if !c.settle(id, result[Res]{val: val, err: err}) {
		c.log.Info("rpc_reply_unmatched", "correlation_id", id, "offset", m.Offset)
	}
}

func (c *Client[Req, Res]) supervise(ctx context.Context, cons batch.Consumer) {
	defer close(c.done)
	for {
		err := cons.Run(ctx, batch.HandlerFunc(c.handleReplies))
		if ctx.Err() != nil || c.State() == StateClosed {
			return
		}
		if err == nil {
			err = errors.New("reply consumer stopped")
		}
		c.crash(err)
		if cons = c.reinit(ctx); cons == nil {
			return
		}
	}
}

// crash rejects every pending request and tears down both sides.
func (c *Client[Req, Res]) crash(cause error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateCrashed)
	pending := c.pending
	c.pending = make(map[string]*pendingRequest[Res])
	pub, cons := c.pub, c.cons
	c.pub, c.cons = nil, nil
	c.gaugeLocked()
	c.mu.Unlock()

	c.log.Error("rpc_consumer_crashed", "err", cause, "rejected", len(pending))
	for _, p := range pending {
		p.timer.Stop()
		p.ch <- result[Res]{err: &TransportError{Op: "consume", Err: cause}}
	}
	c.closeQuietly("consumer", cons)
	c.closeQuietly("publisher", pub)
}

// reinit retries the full initialization until it succeeds or ctx ends.
func (c *Client[Req, Res]) reinit(ctx context.Context) batch.Consumer {
	for attempt := 1; ; attempt++ {
		telemetry.RPCReinits.WithLabelValues(string(c.cfg.RPC)).Inc()
		pub, cons, err := c.connect()
		if err == nil {
			c.mu.Lock()
			if c.state == StateClosed {
				c.mu.Unlock()
				c.closeQuietly("consumer", cons)
				c.closeQuietly("publisher", pub)
				return nil
			}
			c.pub, c.cons = pub, cons
			c.setStateLocked(StateReady)
			c.mu.Unlock()
			c.log.Info("rpc_client_reinitialized", "attempt", attempt)
			return cons
		}
		c.log.Warn("rpc_reinit_failed", "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.ReinitBackoff):
		}
	}
}

type closer interface{ Close() error }

func (c *Client[Req, Res]) closeQuietly(what string, cl closer) {
	if cl == nil {
		return
	}
	if err := cl.Close(); err != nil {
		c.log.Warn("rpc_disconnect_failed", "side", what, "err", err)
	}
}

// Close is terminal. Pending requests fail with ErrClosed; the consumer is
// detached before the producer.
func (c *Client[Req, Res]) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.setStateLocked(StateClosed)
	pending := c.pending
	c.pending = make(map[string]*pendingRequest[Res])
	pub, cons := c.pub, c.cons
	c.pub, c.cons = nil, nil
	c.gaugeLocked()
	c.mu.Unlock()

	for _, p := range pending {
		p.timer.Stop()
		p.ch <- result[Res]{err: ErrClosed}
	}
	c.inflight.Close()

	var errs []error
	if cons != nil {
		errs = append(errs, cons.Close())
	}
	c.stop()
	<-c.done
	if pub != nil {
		errs = append(errs, pub.Close())
	}
	c.log.Info("rpc_client_closed")
	return errors.Join(errs...)
}
