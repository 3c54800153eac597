// Package batch drives one partition batch at a time: decode every record,
// hand the valid ones to a bulk side effect, then resolve offsets whose
// outcome is known. Poison records never block a partition.
package batch

import (
	"context"
	"errors"

	"ledgerflow/internal/codec"
)

// Batch is an ordered run of records from one topic-partition.
type Batch struct {
	Topic         string
	Partition     int32
	HighWatermark int64
	Messages      []codec.Message
}

// Session is the transport's view of the claim a batch belongs to.
type Session interface {
	// ResolveOffset marks the record at offset as durably processed.
	ResolveOffset(offset int64)
	Heartbeat(ctx context.Context) error
	// IsRunning is false once the consumer is shutting down.
	IsRunning() bool
	// IsStale is true once the partition has been revoked by a rebalance.
	IsStale() bool
}

type Handler interface {
	HandleBatch(ctx context.Context, b *Batch, sess Session) error
}

type HandlerFunc func(ctx context.Context, b *Batch, sess Session) error

func (f HandlerFunc) HandleBatch(ctx context.Context, b *Batch, sess Session) error {
	return f(ctx, b, sess)
}

// Consumer delivers batches to a handler until ctx is done. A non-nil error
// that is not ctx.Err() is a consumer crash.
type Consumer interface {
	Run(ctx context.Context, h Handler) error
	Close() error
}

// Publisher sends records; one call is one produce request.
type Publisher interface {
	Publish(ctx context.Context, msgs ...codec.Message) error
	Close() error
}

var ErrStale = errors.New("batch: partition no longer owned by this session")

func Alive(sess Session) bool {
	return sess.IsRunning() && !sess.IsStale()
}

// Checkpoint is called after every suspension point. It fails with ErrStale
// when the cancellation predicate fired while the handler was suspended.
func Checkpoint(ctx context.Context, sess Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !Alive(sess) {
		return ErrStale
	}
	return sess.Heartbeat(ctx)
}
