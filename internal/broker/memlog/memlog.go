// Package memlog is an in-process log transport with consumer groups,
// committed offsets and fault injection. Every topic has one partition.
//
// A group is expected to have one running consumer at a time.
package memlog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"ledgerflow/internal/batch"
	"ledgerflow/internal/codec"
	"ledgerflow/internal/logging"
)

var ErrClosed = errors.New("memlog: closed")

type Option func(*Log)

// WithMaxBatch caps the records handed to one HandleBatch call.
func WithMaxBatch(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.maxBatch = n
		}
	}
}

type groupState struct {
	committed  map[string]int64
	resolved   map[string]map[int64]struct{}
	generation int64
	crash      error
}

type Log struct {
	maxBatch int

	mu      sync.Mutex
	topics  map[string][]codec.Message
	groups  map[string]*groupState
	changed chan struct{}

	failPublishes int
	publishErr    error
}

func New(opts ...Option) *Log {
	l := &Log{
		maxBatch: 100,
		topics:   make(map[string][]codec.Message),
		groups:   make(map[string]*groupState),
		changed:  make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// broadcastLocked wakes every waiting consumer.
func (l *Log) broadcastLocked() {
	close(l.changed)
	l.changed = make(chan struct{})
}

func (l *Log) groupLocked(name string) *groupState {
	g, ok := l.groups[name]
	if !ok {
		g = &groupState{
			committed: make(map[string]int64),
			resolved:  make(map[string]map[int64]struct{}),
		}
		l.groups[name] = g
	}
	return g
}

/* ───────────────────────── fault injection ───────────────────────────── */

// FailPublishes makes the next n Publish calls fail with err; n < 0 fails
// every call until FailPublishes(0, nil).
func (l *Log) FailPublishes(n int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failPublishes, l.publishErr = n, err
}

// CrashConsumers makes the running consumer of group return err from Run.
func (l *Log) CrashConsumers(group string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.groupLocked(group).crash = err
	l.broadcastLocked()
}

// Revoke simulates a rebalance: sessions of group turn stale and unresolved
// records are redelivered from the committed offset.
func (l *Log) Revoke(group string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	g := l.groupLocked(group)
	g.generation++
	g.resolved = make(map[string]map[int64]struct{})
	l.broadcastLocked()
}

/* ───────────────────────── inspection ───────────────────────────── */

func (l *Log) Records(topic string) []codec.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]codec.Message(nil), l.topics[topic]...)
}

// Committed is the next offset group will read from topic.
func (l *Log) Committed(group, topic string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.groupLocked(group).committed[topic]
}

/* ───────────────────────── transport ───────────────────────────── */

func (l *Log) Publish(ctx context.Context, msgs ...codec.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failPublishes != 0 {
		if l.failPublishes > 0 {
			l.failPublishes--
		}
		return l.publishErr
	}
	now := time.Now()
	for _, m := range msgs {
		m.Offset = int64(len(l.topics[m.Topic]))
		m.Partition = 0
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		l.topics[m.Topic] = append(l.topics[m.Topic], m)
	}
	l.broadcastLocked()
	return nil
}

func (l *Log) NewPublisher() (batch.Publisher, error) {
	return &publisher{log: l}, nil
}

func (l *Log) NewConsumer(group string, topics ...string) (batch.Consumer, error) {
	if group == "" || len(topics) == 0 {
		return nil, errors.New("memlog: group and topics are required")
	}
	return &consumer{log: l, group: group, topics: topics}, nil
}

type publisher struct {
	log    *Log
	closed atomic.Bool
}

func (p *publisher) Publish(ctx context.Context, msgs ...codec.Message) error {
	if p.closed.Load() {
		return ErrClosed
	}
	return p.log.Publish(ctx, msgs...)
}

func (p *publisher) Close() error {
	p.closed.Store(true)
	return nil
}

type consumer struct {
	log    *Log
	group  string
	topics []string
	closed atomic.Bool
}

// Run polls every subscribed topic from the group's committed offset. A
// handler error or a revocation rewinds to the committed offset.
func (c *consumer) Run(ctx context.Context, h batch.Handler) error {
	pos := make(map[string]int64)
	gen := int64(-1)
	for {
		if c.closed.Load() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		l := c.log
		l.mu.Lock()
		g := l.groupLocked(c.group)
		if g.crash != nil {
			err := g.crash
			g.crash = nil
			g.generation++
			g.resolved = make(map[string]map[int64]struct{})
			l.mu.Unlock()
			return err
		}
		if gen != g.generation {
			gen = g.generation
			for _, t := range c.topics {
				pos[t] = g.committed[t]
			}
		}
		var batches []*batch.Batch
		for _, t := range c.topics {
			recs := l.topics[t]
			from := pos[t]
			if from >= int64(len(recs)) {
				continue
			}
			to := min(from+int64(l.maxBatch), int64(len(recs)))
			b := &batch.Batch{
				Topic:         t,
				HighWatermark: int64(len(recs)),
				Messages:      append([]codec.Message(nil), recs[from:to]...),
			}
			batches = append(batches, b)
			pos[t] = to
		}
		wait := l.changed
		l.mu.Unlock()

		if len(batches) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-wait:
			}
			continue
		}

		for _, b := range batches {
			sess := &session{consumer: c, topic: b.Topic, generation: gen}
			err := h.HandleBatch(ctx, b, sess)
			switch {
			case err == nil:
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				if !errors.Is(err, batch.ErrStale) {
					logging.L().Warn("memlog_batch_failed", "group", c.group, "topic", b.Topic, "err", err)
				}
				// rejoin: everything unresolved is redelivered
				gen = -1
			}
			if gen == -1 {
				break
			}
		}
	}
}

func (c *consumer) Close() error {
	c.closed.Store(true)
	c.log.mu.Lock()
	c.log.broadcastLocked()
	c.log.mu.Unlock()
	return nil
}

type session struct {
	consumer   *consumer
	topic      string
	generation int64
}

func (s *session) ResolveOffset(offset int64) {
	l := s.consumer.log
	l.mu.Lock()
	defer l.mu.Unlock()
	g := l.groupLocked(s.consumer.group)
	if g.generation != s.generation {
		return
	}
	if offset < g.committed[s.topic] {
		return
	}
	set := g.resolved[s.topic]
	if set == nil {
		set = make(map[int64]struct{})
		g.resolved[s.topic] = set
	}
	set[offset] = struct{}{}
	next := g.committed[s.topic]
	for {
		if _, ok := set[next]; !ok {
			break
		}
		delete(set, next)
		next++
	}
	g.committed[s.topic] = next
}

func (s *session) Heartbeat(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.IsStale() {
		return batch.ErrStale
	}
	return nil
}

func (s *session) IsRunning() bool { return !s.consumer.closed.Load() }

func (s *session) IsStale() bool {
	l := s.consumer.log
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.groupLocked(s.consumer.group).generation != s.generation
}
