// Package memory is a map-backed store used by tests and dry runs.
package memory

import (
	"context"
	"sync"

	"ledgerflow/internal/events"
	"ledgerflow/internal/store"
)

type Store struct {
	mu       sync.RWMutex
	txs      map[uint64]store.Transaction
	accounts map[uint64]store.Account
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		txs:      make(map[uint64]store.Transaction),
		accounts: make(map[uint64]store.Account),
	}
}

func (s *Store) UpsertTransactions(ctx context.Context, txs []store.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range txs {
		s.txs[tx.Number] = store.MergeTransaction(s.txs[tx.Number], tx)
	}
	return nil
}

func (s *Store) UpdateTransactionStatus(ctx context.Context, status events.Status, txs []store.Transaction) error {
	moved := make([]store.Transaction, len(txs))
	for i, tx := range txs {
		tx.Status = status
		moved[i] = tx
	}
	return s.UpsertTransactions(ctx, moved)
}

func (s *Store) UpdateAccountStatus(ctx context.Context, status events.AccountStatus, accounts []store.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range accounts {
		cur, ok := s.accounts[a.Number]
		if ok && !store.CanMoveAccount(cur.Status, status) {
			continue
		}
		if ok && cur.AccountID != "" {
			a.AccountID = cur.AccountID
		}
		a.Status = status
		s.accounts[a.Number] = a
	}
	return nil
}

func (s *Store) Transaction(_ context.Context, number uint64) (store.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[number]
	if !ok {
		return store.Transaction{}, store.ErrNotFound
	}
	return tx, nil
}

func (s *Store) Account(_ context.Context, number uint64) (store.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[number]
	if !ok {
		return store.Account{}, store.ErrNotFound
	}
	return a, nil
}

func (s *Store) Close() error { return nil }
