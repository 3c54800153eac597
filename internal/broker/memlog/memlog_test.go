package memlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ledgerflow/internal/batch"
	"ledgerflow/internal/codec"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publishN(t *testing.T, l *Log, topic string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, l.Publish(context.Background(), codec.Message{Topic: topic, Value: []byte(fmt.Sprint(i))}))
	}
}

type recorder struct {
	mu   sync.Mutex
	seen []int64
}

func (r *recorder) add(off int64) {
	r.mu.Lock()
	r.seen = append(r.seen, off)
	r.mu.Unlock()
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func runConsumer(t *testing.T, c batch.Consumer, h batch.Handler) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() { ch <- c.Run(ctx, h) }()
	return cancel, ch
}

func TestLog_DeliversAndCommitsContiguousOffsets(t *testing.T) {
	l := New(WithMaxBatch(3))
	publishN(t, l, "t", 7)

	c, err := l.NewConsumer("g", "t")
	require.NoError(t, err)
	rec := &recorder{}
	cancel, done := runConsumer(t, c, batch.HandlerFunc(func(_ context.Context, b *batch.Batch, s batch.Session) error {
		assert.LessOrEqual(t, len(b.Messages), 3)
		for _, m := range b.Messages {
			rec.add(m.Offset)
			s.ResolveOffset(m.Offset)
		}
		return nil
	}))
	defer cancel()

	require.Eventually(t, func() bool { return l.Committed("g", "t") == 7 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 7, rec.len())
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestLog_HandlerErrorRedeliversUnresolved(t *testing.T) {
	l := New()
	publishN(t, l, "t", 3)
	c, _ := l.NewConsumer("g", "t")

	var calls int
	cancel, _ := runConsumer(t, c, batch.HandlerFunc(func(_ context.Context, b *batch.Batch, s batch.Session) error {
		calls++
		s.ResolveOffset(b.Messages[0].Offset)
		if calls == 1 {
			return errors.New("bulk failed")
		}
		for _, m := range b.Messages {
			s.ResolveOffset(m.Offset)
		}
		return nil
	}))
	defer cancel()

	require.Eventually(t, func() bool { return l.Committed("g", "t") == 3 }, time.Second, 5*time.Millisecond)
}

func TestLog_CrashEndsRunAndNextConsumerResumes(t *testing.T) {
	l := New()
	publishN(t, l, "t", 2)
	c, _ := l.NewConsumer("g", "t")

	resolveAll := batch.HandlerFunc(func(_ context.Context, b *batch.Batch, s batch.Session) error {
		for _, m := range b.Messages {
			s.ResolveOffset(m.Offset)
		}
		return nil
	})
	cancel, done := runConsumer(t, c, resolveAll)
	defer cancel()
	require.Eventually(t, func() bool { return l.Committed("g", "t") == 2 }, time.Second, 5*time.Millisecond)

	boom := errors.New("coordinator lost")
	l.CrashConsumers("g", boom)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("consumer did not crash")
	}

	publishN(t, l, "t", 1)
	c2, _ := l.NewConsumer("g", "t")
	cancel2, _ := runConsumer(t, c2, resolveAll)
	defer cancel2()
	require.Eventually(t, func() bool { return l.Committed("g", "t") == 3 }, time.Second, 5*time.Millisecond)
}

func TestLog_RevokeMakesSessionStale(t *testing.T) {
	l := New()
	publishN(t, l, "t", 1)
	c, _ := l.NewConsumer("g", "t")

	entered := make(chan batch.Session, 1)
	release := make(chan struct{})
	redelivered := make(chan struct{})
	var calls atomic.Int32
	cancel, _ := runConsumer(t, c, batch.HandlerFunc(func(ctx context.Context, b *batch.Batch, s batch.Session) error {
		switch calls.Add(1) {
		case 1:
			entered <- s
			<-release
			return batch.Checkpoint(ctx, s)
		case 2:
			close(redelivered)
		}
		return nil
	}))
	defer cancel()

	sess := <-entered
	l.Revoke("g")
	assert.True(t, sess.IsStale())
	close(release)

	select {
	case <-redelivered:
	case <-time.After(time.Second):
		t.Fatal("record was not redelivered after revocation")
	}
	assert.Equal(t, int64(0), l.Committed("g", "t"))
}

func TestLog_PublishFaults(t *testing.T) {
	l := New()
	boom := errors.New("broker unavailable")
	l.FailPublishes(1, boom)

	p, _ := l.NewPublisher()
	assert.ErrorIs(t, p.Publish(context.Background(), codec.Message{Topic: "t"}), boom)
	require.NoError(t, p.Publish(context.Background(), codec.Message{Topic: "t"}))
	assert.Len(t, l.Records("t"), 1)

	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Publish(context.Background(), codec.Message{Topic: "t"}), ErrClosed)
}
