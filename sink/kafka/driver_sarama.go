package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ledgerflow/internal/codec"
	"ledgerflow/sink"
	source "ledgerflow/source/kafka"

	"github.com/IBM/sarama"
)

// Driver publishes through a sarama SyncProducer. One Publish call is one
// SendMessages request.
type Driver struct {
	mu     sync.Mutex
	p      sarama.SyncProducer
	closed bool
}

// New wraps an existing producer, e.g. one from sarama/mocks.
func New(p sarama.SyncProducer) *Driver { return &Driver{p: p} }

func (d *Driver) Configure(c any) error {
	cfg, ok := c.(source.Config)
	if !ok {
		return fmt.Errorf("kafka-sink: want kafka.Config, got %T", c)
	}
	sc, err := cfg.Sarama()
	if err != nil {
		return err
	}
	p, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return err
	}
	d.p = p
	return nil
}

var ErrClosed = errors.New("kafka-sink: closed")

func (d *Driver) Publish(ctx context.Context, msgs ...codec.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	p, closed := d.p, d.closed
	d.mu.Unlock()
	if closed || p == nil {
		return ErrClosed
	}

	out := make([]*sarama.ProducerMessage, 0, len(msgs))
	for _, m := range msgs {
		pm := &sarama.ProducerMessage{
			Topic: m.Topic,
			Value: sarama.ByteEncoder(m.Value),
		}
		if len(m.Key) > 0 {
			pm.Key = sarama.ByteEncoder(m.Key)
		}
		for k, v := range m.Headers {
			pm.Headers = append(pm.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
		}
		out = append(out, pm)
	}
	if err := p.SendMessages(out); err != nil {
		var perrs sarama.ProducerErrors
		if errors.As(err, &perrs) && len(perrs) > 0 {
			return fmt.Errorf("kafka-sink: %d of %d messages failed, first to %s: %w",
				len(perrs), len(out), perrs[0].Msg.Topic, perrs[0].Err)
		}
		return fmt.Errorf("kafka-sink: send: %w", err)
	}
	return nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.p == nil {
		d.closed = true
		return nil
	}
	d.closed = true
	return d.p.Close()
}

func init() { sink.Register("kafka", func() sink.Adapter { return &Driver{} }) }
