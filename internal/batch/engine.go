package batch

import (
	"context"
	"errors"
	"time"

	"ledgerflow/internal/codec"
	"ledgerflow/internal/logging"
	"ledgerflow/internal/telemetry"

	"golang.org/x/sync/errgroup"
)

// Record is a decoded message that is still owned by its batch.
type Record[T any] struct {
	Msg   codec.Message
	Value T
}

func (r Record[T]) Offset() int64 { return r.Msg.Offset }

// Decode parses every message of b on its own. Malformed or invalid records
// are logged, counted and resolved immediately; the rest keep partition order.
func Decode[T codec.Validator](b *Batch, sess Session) []Record[T] {
	out := make([]Record[T], 0, len(b.Messages))
	for _, m := range b.Messages {
		v, err := codec.Decode[T](m.Value)
		if err != nil {
			logging.L().Warn("batch_record_dropped",
				"topic", b.Topic, "partition", b.Partition, "offset", m.Offset, "err", err)
			telemetry.Records.WithLabelValues(b.Topic, "dropped").Inc()
			if Alive(sess) {
				sess.ResolveOffset(m.Offset)
				telemetry.OffsetsResolved.WithLabelValues(b.Topic).Inc()
			}
			continue
		}
		telemetry.Records.WithLabelValues(b.Topic, "decoded").Inc()
		out = append(out, Record[T]{Msg: m, Value: v})
	}
	return out
}

// Resolve marks the offsets of recs in order. It stops at the first record
// after the session went stale; resolved offsets stand.
func Resolve[T any](sess Session, recs []Record[T]) error {
	for _, r := range recs {
		if !Alive(sess) {
			return ErrStale
		}
		sess.ResolveOffset(r.Msg.Offset)
		telemetry.OffsetsResolved.WithLabelValues(r.Msg.Topic).Inc()
	}
	return nil
}

// Group is one bucket produced by GroupBy.
type Group[K comparable, T any] struct {
	Key     K
	Records []Record[T]
}

// GroupBy buckets recs by key, keeping first-seen key order and record order
// inside each bucket.
func GroupBy[K comparable, T any](recs []Record[T], key func(T) K) []Group[K, T] {
	idx := make(map[K]int)
	var out []Group[K, T]
	for _, r := range recs {
		k := key(r.Value)
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, Group[K, T]{Key: k})
		}
		out[i].Records = append(out[i].Records, r)
	}
	return out
}

// Exclude splits recs into the ones not named by failed and the ones that
// are. failed holds indices into recs, as returned by a bulk call.
func Exclude[T any](recs []Record[T], failed []int) (kept, excluded []Record[T]) {
	if len(failed) == 0 {
		return recs, nil
	}
	drop := make(map[int]struct{}, len(failed))
	for _, i := range failed {
		drop[i] = struct{}{}
	}
	kept = make([]Record[T], 0, len(recs))
	for i, r := range recs {
		if _, ok := drop[i]; ok {
			excluded = append(excluded, r)
			continue
		}
		kept = append(kept, r)
	}
	return kept, excluded
}

// Join runs every side effect and waits for all of them before returning,
// so no offset can be resolved ahead of a pending side effect.
func Join(ctx context.Context, fns ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, fn := range fns {
		fn := fn
		g.Go(func() error { return fn(gctx) })
	}
	return g.Wait()
}

// BulkFunc performs the side effects for the valid records of one batch. It
// calls Checkpoint with sess after each of its own suspension points. Records
// it decides to drop permanently still count as decided.
type BulkFunc[T any] func(ctx context.Context, sess Session, recs []Record[T]) error

// Process is the standard batch pipeline: decode, one bulk call, checkpoint,
// resolve, heartbeat. When bulk fails no further offset is resolved and the
// error is returned so the transport can redeliver.
func Process[T codec.Validator](ctx context.Context, b *Batch, sess Session, bulk BulkFunc[T]) (err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		switch {
		case errors.Is(err, ErrStale):
			result = "stale"
		case err != nil:
			result = "error"
		}
		telemetry.BatchDuration.WithLabelValues(b.Topic, result).Observe(time.Since(start).Seconds())
	}()

	recs := Decode[T](b, sess)
	if len(recs) == 0 {
		return sess.Heartbeat(ctx)
	}
	if err := Checkpoint(ctx, sess); err != nil {
		return err
	}
	if err := bulk(ctx, sess, recs); err != nil {
		return err
	}
	if err := Checkpoint(ctx, sess); err != nil {
		return err
	}
	if err := Resolve(sess, recs); err != nil {
		return err
	}
	return sess.Heartbeat(ctx)
}
