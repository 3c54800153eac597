package rpc

import (
	"context"
	"fmt"
	"log/slog"

	"ledgerflow/internal/batch"
	"ledgerflow/internal/codec"
	"ledgerflow/internal/events"
	"ledgerflow/internal/logging"
)

// ReplyFunc answers a batch of requests with exactly one reply per record,
// in order.
type ReplyFunc[Req, Res any] func(ctx context.Context, sess batch.Session, recs []batch.Record[Req]) ([]Res, error)

// Responder serves one rpc from its request topic. Replies go to each
// request's replyTopic header with the request's correlationId.
type Responder[Req codec.Validator, Res any] struct {
	rpc   events.RPC
	pub   batch.Publisher
	reply ReplyFunc[Req, Res]
	log   *slog.Logger
}

func NewResponder[Req codec.Validator, Res any](r events.RPC, pub batch.Publisher, reply ReplyFunc[Req, Res]) *Responder[Req, Res] {
	return &Responder[Req, Res]{
		rpc:   r,
		pub:   pub,
		reply: reply,
		log:   logging.Component("rpc").With("rpc", string(r)),
	}
}

func (r *Responder[Req, Res]) Topic() string { return events.RequestTopic(r.rpc) }

func (r *Responder[Req, Res]) HandleBatch(ctx context.Context, b *batch.Batch, sess batch.Session) error {
	return batch.Process[Req](ctx, b, sess, r.serve)
}

func (r *Responder[Req, Res]) serve(ctx context.Context, sess batch.Session, recs []batch.Record[Req]) error {
	routable := make([]batch.Record[Req], 0, len(recs))
	for _, rec := range recs {
		_, hasID := rec.Msg.Header(codec.HeaderCorrelationID)
		_, hasReply := rec.Msg.Header(codec.HeaderReplyTopic)
		if !hasID || !hasReply {
			// nobody can be waiting for it; the offset is still resolved
			r.log.Warn("rpc_request_unroutable", "offset", rec.Msg.Offset, "partition", rec.Msg.Partition)
			continue
		}
		routable = append(routable, rec)
	}
	if len(routable) == 0 {
		return nil
	}

	replies, err := r.reply(ctx, sess, routable)
	if err != nil {
		return err
	}
	if err := batch.Checkpoint(ctx, sess); err != nil {
		return err
	}
	if len(replies) != len(routable) {
		return fmt.Errorf("rpc %s: %d replies for %d requests", r.rpc, len(replies), len(routable))
	}

	out := make([]codec.Message, 0, len(replies))
	for i, rec := range routable {
		id, _ := rec.Msg.Header(codec.HeaderCorrelationID)
		topic, _ := rec.Msg.Header(codec.HeaderReplyTopic)
		m, err := codec.Encode(topic, string(rec.Msg.Key), replies[i], map[string]string{
			codec.HeaderCorrelationID: id,
		})
		if err != nil {
			return err
		}
		out = append(out, m)
	}
	return r.pub.Publish(ctx, out...)
}
