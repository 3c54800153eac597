package kafka

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var ErrTrackCancelled = errors.New("kafka: checkpoint track cancelled")

/* ───────────────────────── Uncapped & Capped ───────────────────────────── */

type node[T any] struct {
	pos        int64
	payload    T
	prev, next *node[T]
}

// Uncapped tracks payloads in arrival order. Resolving an entry folds it into
// its predecessor, so Highest only moves once every earlier entry resolved.
// Not safe for concurrent use.
type Uncapped[T any] struct {
	cpPos      int64
	cpPay      *T
	start, end *node[T]
}

func NewUncapped[T any]() *Uncapped[T] { return &Uncapped[T]{} }

func (u *Uncapped[T]) Track(p T, size int64) func() *T {
	n := &node[T]{payload: p, pos: size}
	if u.start == nil {
		u.start = n
	}
	if u.end != nil {
		n.prev = u.end
		n.pos += u.end.pos
		u.end.next = n
	} else {
		n.pos += u.cpPos
	}
	u.end = n
	return func() *T {
		if n.prev != nil {
			n.prev.pos = n.pos
			n.prev.payload = n.payload
			n.prev.next = n.next
		} else {
			tmp := n.payload
			u.cpPay, u.cpPos = &tmp, n.pos
			u.start = n.next
		}
		if n.next != nil {
			n.next.prev = n.prev
		} else {
			u.end = n.prev
		}
		return u.cpPay
	}
}

func (u *Uncapped[T]) Pending() int64 {
	if u.end == nil {
		return 0
	}
	return u.end.pos - u.cpPos
}

func (u *Uncapped[T]) Highest() *T { return u.cpPay }

// Capped blocks Track while more than cap entries are unresolved.
type Capped[T any] struct {
	u    *Uncapped[T]
	cap  int64
	cond *sync.Cond
}

func NewCapped[T any](cap int64) *Capped[T] {
	return &Capped[T]{u: NewUncapped[T](), cap: cap, cond: sync.NewCond(&sync.Mutex{})}
}

func (c *Capped[T]) Track(ctx context.Context, p T, batch int64) (func() *T, error) {
	c.cond.L.Lock()
	defer c.cond.L.Unlock()
	stop := context.AfterFunc(ctx, func() {
		c.cond.L.Lock()
		defer c.cond.L.Unlock()
		c.cond.Broadcast()
	})
	defer stop()

	for pend := c.u.Pending(); pend > 0 && pend+batch > c.cap; pend = c.u.Pending() {
		if ctx.Err() != nil {
			return nil, ErrTrackCancelled
		}
		c.cond.Wait()
	}
	res := c.u.Track(p, batch)
	var once sync.Once
	var out *T
	return func() *T {
		once.Do(func() {
			c.cond.L.Lock()
			defer c.cond.L.Unlock()
			out = res()
			c.cond.Broadcast()
		})
		return out
	}, nil
}

func (c *Capped[T]) Pending() int64 {
	c.cond.L.Lock()
	defer c.cond.L.Unlock()
	return c.u.Pending()
}

func (c *Capped[T]) Highest() *T {
	c.cond.L.Lock()
	defer c.cond.L.Unlock()
	return c.u.Highest()
}

/* ───────────────────────── Manager (commit helper) ────────────────────── */

// Manager tracks one claim's offsets and decides *when* the driver should
// flush them.
type Manager[T any] struct {
	capped        *Capped[T]
	commitEveryNS int64
	lastCommitNS  int64
}

func NewManager[T any](cap int64, commitEvery time.Duration) *Manager[T] {
	return &Manager[T]{
		capped:        NewCapped[T](cap),
		commitEveryNS: commitEvery.Nanoseconds(),
		lastCommitNS:  time.Now().UnixNano(),
	}
}

// Track returns (resolveFn, err).
// Once the payload's outcome is decided the driver calls resolveFn, which
// returns the highest contiguous resolved payload and whether a commit is due.
// resolveFn is idempotent.
func (m *Manager[T]) Track(ctx context.Context, payload T) (resolveFn func() (highest *T, shouldCommit bool), err error) {
	res, err := m.capped.Track(ctx, payload, 1)
	if err != nil {
		return nil, err
	}
	return func() (*T, bool) {
		highest := res()
		return highest, m.due()
	}, nil
}

func (m *Manager[T]) due() bool {
	now := time.Now().UnixNano()
	last := atomic.LoadInt64(&m.lastCommitNS)
	if last+m.commitEveryNS > now {
		return false
	}
	return atomic.CompareAndSwapInt64(&m.lastCommitNS, last, now)
}

func (m *Manager[T]) Pending() int64 { return m.capped.Pending() }

func (m *Manager[T]) Highest() *T { return m.capped.Highest() }
