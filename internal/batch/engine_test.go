package batch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"ledgerflow/internal/codec"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	ID     codec.Uint `json:"id"`
	Status string     `json:"status"`
}

func (i item) Validate() error {
	if i.ID == 0 {
		return codec.Invalid("id", "must be positive")
	}
	return nil
}

type fakeSession struct {
	resolved   []int64
	heartbeats int
	stopped    bool
	// staleAfter turns the session stale once this many offsets are resolved.
	staleAfter int
}

func (s *fakeSession) ResolveOffset(off int64) {
	s.resolved = append(s.resolved, off)
}
func (s *fakeSession) Heartbeat(context.Context) error { s.heartbeats++; return nil }
func (s *fakeSession) IsRunning() bool                 { return !s.stopped }
func (s *fakeSession) IsStale() bool {
	return s.staleAfter > 0 && len(s.resolved) >= s.staleAfter
}

func makeBatch(values ...string) *Batch {
	b := &Batch{Topic: "t", Partition: 0}
	for i, v := range values {
		b.Messages = append(b.Messages, codec.Message{Topic: "t", Offset: int64(i), Value: []byte(v)})
	}
	return b
}

func TestProcess_PoisonRecordIsResolvedButNotProcessed(t *testing.T) {
	var values []string
	for i := 1; i <= 10; i++ {
		if i == 4 {
			values = append(values, `{"id": 4,`)
			continue
		}
		values = append(values, fmt.Sprintf(`{"id": %d, "status": "a"}`, i))
	}
	b := makeBatch(values...)
	sess := &fakeSession{}

	var effects int
	err := Process[item](context.Background(), b, sess, func(_ context.Context, _ Session, recs []Record[item]) error {
		effects += len(recs)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 9, effects)
	assert.ElementsMatch(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, sess.resolved)
	assert.Positive(t, sess.heartbeats)
}

func TestProcess_BulkFailureLeavesValidOffsetsUnresolved(t *testing.T) {
	b := makeBatch(`{"id": 1}`, `not json`, `{"id": 3}`)
	sess := &fakeSession{}
	boom := errors.New("ledger unavailable")

	err := Process[item](context.Background(), b, sess, func(context.Context, Session, []Record[item]) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []int64{1}, sess.resolved)
}

func TestProcess_StaleAfterBulkStopsResolution(t *testing.T) {
	b := makeBatch(`{"id": 1}`, `{"id": 2}`)
	sess := &fakeSession{}

	err := Process[item](context.Background(), b, sess, func(context.Context, Session, []Record[item]) error {
		sess.stopped = true
		return nil
	})
	require.ErrorIs(t, err, ErrStale)
	assert.Empty(t, sess.resolved)
}

func TestResolve_AbortsMidBatchWhenStale(t *testing.T) {
	b := makeBatch(`{"id": 1}`, `{"id": 2}`, `{"id": 3}`, `{"id": 4}`)
	sess := &fakeSession{staleAfter: 2}
	recs := Decode[item](b, sess)
	require.Len(t, recs, 4)

	err := Resolve(sess, recs)
	require.ErrorIs(t, err, ErrStale)
	assert.Equal(t, []int64{0, 1}, sess.resolved)
}

func TestProcess_EmptyBatchHeartbeats(t *testing.T) {
	sess := &fakeSession{}
	called := false
	err := Process[item](context.Background(), makeBatch(`[]`), sess, func(context.Context, Session, []Record[item]) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, 1, sess.heartbeats)
	assert.Equal(t, []int64{0}, sess.resolved)
}

func TestGroupBy_KeepsFirstSeenOrder(t *testing.T) {
	b := makeBatch(
		`{"id": 1, "status": "b"}`,
		`{"id": 2, "status": "a"}`,
		`{"id": 3, "status": "b"}`,
	)
	recs := Decode[item](b, &fakeSession{})
	groups := GroupBy(recs, func(i item) string { return i.Status })
	require.Len(t, groups, 2)
	assert.Equal(t, "b", groups[0].Key)
	assert.Equal(t, codec.Uint(1), groups[0].Records[0].Value.ID)
	assert.Equal(t, codec.Uint(3), groups[0].Records[1].Value.ID)
	assert.Equal(t, "a", groups[1].Key)
}

func TestExclude_SplitsByIndex(t *testing.T) {
	recs := Decode[item](makeBatch(`{"id": 1}`, `{"id": 2}`, `{"id": 3}`), &fakeSession{})
	kept, excluded := Exclude(recs, []int{1})
	require.Len(t, kept, 2)
	require.Len(t, excluded, 1)
	assert.Equal(t, codec.Uint(2), excluded[0].Value.ID)

	kept, excluded = Exclude(recs, nil)
	assert.Len(t, kept, 3)
	assert.Empty(t, excluded)
}

func TestJoin_WaitsForEverySideEffect(t *testing.T) {
	var done atomic.Int32
	fns := make([]func(context.Context) error, 5)
	for i := range fns {
		fns[i] = func(context.Context) error { done.Add(1); return nil }
	}
	require.NoError(t, Join(context.Background(), fns...))
	assert.Equal(t, int32(5), done.Load())

	boom := errors.New("boom")
	err := Join(context.Background(),
		func(context.Context) error { return nil },
		func(context.Context) error { return boom },
	)
	assert.ErrorIs(t, err, boom)
}
