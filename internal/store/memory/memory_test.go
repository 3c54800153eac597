package memory

import (
	"context"
	"testing"
	"time"

	"ledgerflow/internal/events"
	"ledgerflow/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_UpdateBeforeCreateKeepsTerminalStatus(t *testing.T) {
	s := New()
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpdateTransactionStatus(ctx, events.StatusVoided, []store.Transaction{
		{TransactionID: "tx", Number: 3, Verdict: events.StatusRejected, Reason: "too large", UpdatedAt: at.Add(time.Second)},
	}))
	require.NoError(t, s.UpsertTransactions(ctx, []store.Transaction{
		{TransactionID: "tx", Number: 3, Amount: 900, Status: events.StatusPending, CreatedAt: at, UpdatedAt: at},
	}))
	require.NoError(t, s.UpdateTransactionStatus(ctx, events.StatusPosted, []store.Transaction{{Number: 3}}))

	tx, err := s.Transaction(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, events.StatusVoided, tx.Status)
	assert.Equal(t, events.StatusRejected, tx.Verdict)
	assert.Equal(t, "too large", tx.Reason)
	assert.Equal(t, uint64(900), tx.Amount)
	assert.Equal(t, at, tx.CreatedAt)
	assert.Equal(t, at.Add(time.Second), tx.UpdatedAt)
}

func TestStore_AccountTransitions(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.UpdateAccountStatus(ctx, events.AccountEnabled, []store.Account{{AccountID: "a", Number: 1}}))
	require.NoError(t, s.UpdateAccountStatus(ctx, events.AccountDisabled, []store.Account{{AccountID: "b", Number: 1}}))
	a, err := s.Account(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, events.AccountEnabled, a.Status)
	assert.Equal(t, "a", a.AccountID)

	require.NoError(t, s.UpdateAccountStatus(ctx, events.AccountBlocked, []store.Account{{Number: 1}}))
	require.NoError(t, s.UpdateAccountStatus(ctx, events.AccountEnabled, []store.Account{{Number: 1}}))
	a, _ = s.Account(ctx, 1)
	assert.Equal(t, events.AccountBlocked, a.Status)

	_, err = s.Account(ctx, 9)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, New().UpsertTransactions(ctx, []store.Transaction{{Number: 1}}))
}
