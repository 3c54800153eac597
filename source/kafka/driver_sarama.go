package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ledgerflow/internal/batch"
	"ledgerflow/internal/codec"
	"ledgerflow/internal/logging"

	"github.com/IBM/sarama"
)

func init() { Register("sarama", func() Adapter { return &SaramaDriver{} }) }

type SaramaDriver struct {
	cfg    Config
	cl     sarama.Client
	group  sarama.ConsumerGroup
	bp     *Controller
	closed atomic.Bool
}

func (d *SaramaDriver) Configure(config Config) error {
	if config.GroupID == "" || len(config.Topics) == 0 {
		return errors.New("kafka: group_id and topics are required")
	}
	sc, err := config.Sarama()
	if err != nil {
		return err
	}
	cl, err := sarama.NewClient(config.Brokers, sc)
	if err != nil {
		return err
	}
	group, err := sarama.NewConsumerGroupFromClient(config.GroupID, cl)
	if err != nil {
		_ = cl.Close()
		return err
	}
	d.attach(config, cl, group)
	return nil
}

func (d *SaramaDriver) attach(config Config, cl sarama.Client, group sarama.ConsumerGroup) {
	d.cfg, d.cl, d.group = config, cl, group
	d.bp = NewController(config.BackPressure.InFlight, 0, 0)
	go d.logErrors()
}

// logErrors drains the group's error channel. Claim and commit errors are
// reported here; a crash surfaces as a Consume error instead.
func (d *SaramaDriver) logErrors() {
	for err := range d.group.Errors() {
		logging.L().Warn("kafka_consumer_error", "group", d.cfg.GroupID, "err", err)
	}
}

// Run consumes until ctx is done. Any other error returned is a crash.
func (d *SaramaDriver) Run(ctx context.Context, h batch.Handler) error {
	handler := &groupHandler{driver: d, handler: h}

	for {
		if err := d.group.Consume(ctx, d.cfg.Topics, handler); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, sarama.ErrClosedConsumerGroup) && d.closed.Load() {
				return nil
			}
			return fmt.Errorf("kafka: consume %v: %w", d.cfg.Topics, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (d *SaramaDriver) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	d.bp.Close()
	err := d.group.Close()
	if cerr := d.cl.Close(); err == nil && !errors.Is(cerr, sarama.ErrClosedClient) {
		err = cerr
	}
	return err
}

type groupHandler struct {
	driver  *SaramaDriver
	handler batch.Handler
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	logging.L().Info("kafka_session_started",
		"group", h.driver.cfg.GroupID, "generation", sess.GenerationID(), "claims", sess.Claims())
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	sess.Commit()
	logging.L().Info("kafka_session_ended", "group", h.driver.cfg.GroupID, "generation", sess.GenerationID())
	return nil
}

func (h *groupHandler) ConsumeClaim(
	sess sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	ctx := sess.Context()
	cs := newClaimSession(h.driver, sess, claim.Topic(), claim.Partition())

	for {
		msgs, more := h.collect(ctx, claim)
		if len(msgs) > 0 && ctx.Err() == nil {
			if err := h.dispatch(ctx, cs, claim, msgs); err != nil {
				if errors.Is(err, batch.ErrStale) || errors.Is(err, ErrControllerClosed) || ctx.Err() != nil {
					return nil
				}
				// Ending the claim ends the session; unresolved records are
				// redelivered from the last committed offset.
				logging.L().Error("kafka_batch_failed",
					"topic", claim.Topic(), "partition", claim.Partition(), "err", err)
				return err
			}
		}
		if !more {
			return nil
		}
	}
}

// collect blocks for one message, then lingers until the batch is full.
func (h *groupHandler) collect(ctx context.Context, claim sarama.ConsumerGroupClaim) ([]*sarama.ConsumerMessage, bool) {
	var out []*sarama.ConsumerMessage
	select {
	case <-ctx.Done():
		return nil, false
	case m, ok := <-claim.Messages():
		if !ok {
			return nil, false
		}
		out = append(out, m)
	}

	timer := time.NewTimer(h.driver.cfg.Batch.Linger)
	defer timer.Stop()
	for len(out) < h.driver.cfg.Batch.MaxSize {
		select {
		case <-ctx.Done():
			return out, false
		case <-timer.C:
			return out, true
		case m, ok := <-claim.Messages():
			if !ok {
				return out, false
			}
			out = append(out, m)
		}
	}
	return out, true
}

func (h *groupHandler) dispatch(
	ctx context.Context,
	cs *claimSession,
	claim sarama.ConsumerGroupClaim,
	msgs []*sarama.ConsumerMessage,
) error {
	if err := h.driver.bp.Acquire(ctx); err != nil {
		return err
	}
	defer h.driver.bp.Release(1)

	b := &batch.Batch{
		Topic:         claim.Topic(),
		Partition:     claim.Partition(),
		HighWatermark: claim.HighWaterMarkOffset(),
		Messages:      make([]codec.Message, 0, len(msgs)),
	}
	for _, m := range msgs {
		if err := cs.track(ctx, m.Offset); err != nil {
			return err
		}
		b.Messages = append(b.Messages, toMessage(m))
	}
	return h.handler.HandleBatch(ctx, b, cs)
}

// claimSession is the batch.Session of one partition claim.
type claimSession struct {
	driver    *SaramaDriver
	sess      sarama.ConsumerGroupSession
	topic     string
	partition int32
	mgr       *Manager[int64]

	mu      sync.Mutex
	pending map[int64]func() (*int64, bool)
}

func newClaimSession(d *SaramaDriver, sess sarama.ConsumerGroupSession, topic string, partition int32) *claimSession {
	return &claimSession{
		driver:    d,
		sess:      sess,
		topic:     topic,
		partition: partition,
		mgr:       NewManager[int64](d.cfg.BackPressure.Capacity, d.cfg.Checkpoint.CommitInt),
		pending:   make(map[int64]func() (*int64, bool)),
	}
}

func (c *claimSession) track(ctx context.Context, offset int64) error {
	resolve, err := c.mgr.Track(ctx, offset)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.pending[offset] = resolve
	c.mu.Unlock()
	return nil
}

// ResolveOffset marks the next offset to consume once every earlier offset
// of the claim has been resolved too.
func (c *claimSession) ResolveOffset(offset int64) {
	c.mu.Lock()
	resolve, ok := c.pending[offset]
	delete(c.pending, offset)
	c.mu.Unlock()
	if !ok {
		return
	}
	highest, due := resolve()
	if highest != nil {
		c.sess.MarkOffset(c.topic, c.partition, *highest+1, "")
	}
	if due {
		c.sess.Commit()
	}
}

// Heartbeat is sent by sarama in the background; this only reports whether
// the claim is still owned.
func (c *claimSession) Heartbeat(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.IsStale() {
		return batch.ErrStale
	}
	return nil
}

func (c *claimSession) IsRunning() bool { return !c.driver.closed.Load() }

func (c *claimSession) IsStale() bool { return c.sess.Context().Err() != nil }

func toMessage(m *sarama.ConsumerMessage) codec.Message {
	return codec.Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Headers:   toHeaderMap(m.Headers),
		Value:     m.Value,
		Timestamp: m.Timestamp,
	}
}

func toHeaderMap(src []*sarama.RecordHeader) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for _, h := range src {
		if h == nil {
			continue
		}
		out[string(h.Key)] = string(h.Value)
	}
	return out
}
