package ledger

import (
	"context"
	"errors"
	"sync"
	"time"
)

type transferState int

const (
	statePending transferState = iota
	statePosted
	stateVoided
	stateExpired
)

type memAccount struct {
	Account
	Balance
}

// Balance is the running total of an account.
type Balance struct {
	DebitsPending  uint64
	DebitsPosted   uint64
	CreditsPending uint64
	CreditsPosted  uint64
}

type memTransfer struct {
	Transfer
	state     transferState
	createdAt time.Time
}

type finalization struct {
	pendingID uint64
	post      bool
	amount    uint64
}

var ErrLedgerClosed = errors.New("ledger: closed")

// Memory is an in-process two-phase ledger.
type Memory struct {
	now func() time.Time

	mu        sync.Mutex
	closed    bool
	accounts  map[uint64]*memAccount
	transfers map[uint64]*memTransfer
	finals    map[uint64]finalization
}

type MemoryOption func(*Memory)

func WithClock(now func() time.Time) MemoryOption { return func(m *Memory) { m.now = now } }

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		now:       time.Now,
		accounts:  make(map[uint64]*memAccount),
		transfers: make(map[uint64]*memTransfer),
		finals:    make(map[uint64]finalization),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Memory) begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrLedgerClosed
	}
	return nil
}

func (m *Memory) CreateAccounts(ctx context.Context, accounts []Account) ([]Failure, error) {
	if err := m.begin(ctx); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	var out []Failure
	for i, a := range accounts {
		if k, ok := m.createAccount(a); !ok {
			out = append(out, Failure{Index: i, Kind: k})
		}
	}
	return out, nil
}

func (m *Memory) createAccount(a Account) (ErrorKind, bool) {
	if a.ID == 0 || a.ID >= finalizeBit || a.Ledger == 0 || a.Code == 0 {
		return KindInvalid, false
	}
	if prev, ok := m.accounts[a.ID]; ok {
		if prev.Account == a {
			return KindExists, false
		}
		return KindExistsWithDifferentFields, false
	}
	m.accounts[a.ID] = &memAccount{Account: a}
	return 0, true
}

func (m *Memory) CreatePendingTransfers(ctx context.Context, transfers []Transfer) ([]Failure, error) {
	if err := m.begin(ctx); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	var out []Failure
	for i, t := range transfers {
		if k, ok := m.createPending(t); !ok {
			out = append(out, Failure{Index: i, Kind: k})
		}
	}
	return out, nil
}

func (m *Memory) createPending(t Transfer) (ErrorKind, bool) {
	if t.ID == 0 || t.ID >= finalizeBit || t.Amount == 0 || t.DebitAccountID == t.CreditAccountID || t.Ledger == 0 || t.Code == 0 {
		return KindInvalid, false
	}
	if prev, ok := m.transfers[t.ID]; ok {
		if prev.Transfer == t {
			return KindExists, false
		}
		return KindExistsWithDifferentFields, false
	}
	dr, ok := m.accounts[t.DebitAccountID]
	if !ok {
		return KindAccountNotFound, false
	}
	cr, ok := m.accounts[t.CreditAccountID]
	if !ok {
		return KindAccountNotFound, false
	}
	if dr.Ledger != t.Ledger || cr.Ledger != t.Ledger {
		return KindLedgerMismatch, false
	}
	if dr.Flags&FlagDebitsMustNotExceedCredits != 0 &&
		dr.DebitsPending+dr.DebitsPosted+t.Amount > dr.CreditsPosted {
		return KindExceedsCredits, false
	}
	if cr.Flags&FlagCreditsMustNotExceedDebits != 0 &&
		cr.CreditsPending+cr.CreditsPosted+t.Amount > cr.DebitsPosted {
		return KindExceedsDebits, false
	}
	dr.DebitsPending += t.Amount
	cr.CreditsPending += t.Amount
	m.transfers[t.ID] = &memTransfer{Transfer: t, createdAt: m.now()}
	return 0, true
}

func (m *Memory) PostTransfers(ctx context.Context, finals []Finalize) ([]Failure, error) {
	return m.finalize(ctx, finals, true)
}

func (m *Memory) VoidTransfers(ctx context.Context, finals []Finalize) ([]Failure, error) {
	return m.finalize(ctx, finals, false)
}

func (m *Memory) finalize(ctx context.Context, finals []Finalize, post bool) ([]Failure, error) {
	if err := m.begin(ctx); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	var out []Failure
	for i, f := range finals {
		if k, ok := m.finalizeOne(f, post); !ok {
			out = append(out, Failure{Index: i, Kind: k})
		}
	}
	return out, nil
}

func (m *Memory) finalizeOne(f Finalize, post bool) (ErrorKind, bool) {
	if f.PendingID == 0 || f.PendingID >= finalizeBit {
		return KindInvalid, false
	}
	fin := finalization{pendingID: f.PendingID, post: post, amount: f.Amount}
	if prev, ok := m.finals[FinalizeID(f.PendingID)]; ok {
		if prev == fin {
			return KindExists, false
		}
		return KindExistsWithDifferentFields, false
	}
	t, ok := m.transfers[f.PendingID]
	if !ok {
		return KindPendingNotFound, false
	}
	m.expire(t)
	switch t.state {
	case statePosted:
		return KindAlreadyPosted, false
	case stateVoided:
		return KindAlreadyVoided, false
	case stateExpired:
		return KindPendingExpired, false
	}
	amount := f.Amount
	if amount == 0 {
		amount = t.Amount
	}
	if amount > t.Amount || (!post && amount != t.Amount) {
		return KindInvalid, false
	}

	dr, cr := m.accounts[t.DebitAccountID], m.accounts[t.CreditAccountID]
	dr.DebitsPending -= t.Amount
	cr.CreditsPending -= t.Amount
	if post {
		dr.DebitsPosted += amount
		cr.CreditsPosted += amount
		t.state = statePosted
	} else {
		t.state = stateVoided
	}
	m.finals[FinalizeID(f.PendingID)] = fin
	return 0, true
}

// expire releases the hold of t once its timeout elapsed.
func (m *Memory) expire(t *memTransfer) {
	if t.state != statePending || t.Timeout <= 0 || m.now().Before(t.createdAt.Add(t.Timeout)) {
		return
	}
	m.accounts[t.DebitAccountID].DebitsPending -= t.Amount
	m.accounts[t.CreditAccountID].CreditsPending -= t.Amount
	t.state = stateExpired
}

// Balance reports the balance of account id.
func (m *Memory) Balance(id uint64) (Balance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return Balance{}, false
	}
	return a.Balance, true
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
