// Package postgres keeps the read model in PostgreSQL. Every write call is
// one pgx batch; status merges happen in SQL so concurrent projectors stay
// monotonic.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"ledgerflow/internal/events"
	"ledgerflow/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Config struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

type Store struct {
	db *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Open connects a pool and pings it.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(pool), nil
}

func New(pool *pgxpool.Pool) *Store { return &Store{db: pool} }

const upsertTransaction = `
INSERT INTO transactions (
    number, transaction_id, debit_account_id, credit_account_id, amount, code, ledger,
    scale, status, verdict, reason, created_at, updated_at
) VALUES (
    $1, NULLIF($2, ''), $3::numeric, $4::numeric, $5::numeric, $6::numeric, $7::numeric,
    $8, $9, NULLIF($10, ''), NULLIF($11, ''), COALESCE($12, now()), COALESCE($13, now())
)
ON CONFLICT (number) DO UPDATE SET
    transaction_id    = COALESCE(transactions.transaction_id, EXCLUDED.transaction_id),
    debit_account_id  = COALESCE(NULLIF(transactions.debit_account_id, 0), EXCLUDED.debit_account_id),
    credit_account_id = COALESCE(NULLIF(transactions.credit_account_id, 0), EXCLUDED.credit_account_id),
    amount            = COALESCE(NULLIF(transactions.amount, 0), EXCLUDED.amount),
    code              = COALESCE(NULLIF(transactions.code, 0), EXCLUDED.code),
    ledger            = COALESCE(NULLIF(transactions.ledger, 0), EXCLUDED.ledger),
    scale             = COALESCE(NULLIF(transactions.scale, 0), EXCLUDED.scale),
    status  = CASE WHEN transfer_status_rank(EXCLUDED.status) > transfer_status_rank(transactions.status)
                   THEN EXCLUDED.status ELSE transactions.status END,
    verdict = CASE WHEN transfer_status_rank(EXCLUDED.status) > transfer_status_rank(transactions.status)
                   THEN COALESCE(EXCLUDED.verdict, transactions.verdict) ELSE transactions.verdict END,
    reason  = CASE WHEN transfer_status_rank(EXCLUDED.status) > transfer_status_rank(transactions.status)
                   THEN COALESCE(EXCLUDED.reason, transactions.reason) ELSE transactions.reason END,
    created_at = CASE WHEN $12::timestamptz IS NULL THEN transactions.created_at
                      ELSE LEAST(transactions.created_at, EXCLUDED.created_at) END,
    updated_at = GREATEST(transactions.updated_at, EXCLUDED.updated_at)`

func (s *Store) UpsertTransactions(ctx context.Context, txs []store.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, tx := range txs {
		b.Queue(upsertTransaction,
			int64(tx.Number), tx.TransactionID,
			u64(tx.DebitAccountID), u64(tx.CreditAccountID), u64(tx.Amount), u64(tx.Code), u64(tx.Ledger),
			tx.Scale, string(tx.Status), string(tx.Verdict), tx.Reason,
			nullTime(tx.CreatedAt), nullTime(tx.UpdatedAt),
		)
	}
	return s.send(ctx, b)
}

func (s *Store) UpdateTransactionStatus(ctx context.Context, status events.Status, txs []store.Transaction) error {
	moved := make([]store.Transaction, len(txs))
	for i, tx := range txs {
		tx.Status = status
		moved[i] = tx
	}
	return s.UpsertTransactions(ctx, moved)
}

const upsertAccount = `
INSERT INTO accounts (number, account_id, ledger, status, reason, updated_at)
VALUES ($1::numeric, $2, $3::numeric, $4, NULLIF($5, ''), COALESCE($6, now()))
ON CONFLICT (number) DO UPDATE SET
    status     = EXCLUDED.status,
    reason     = EXCLUDED.reason,
    updated_at = EXCLUDED.updated_at
WHERE accounts.status = 'pending'
   OR (accounts.status <> 'blocked' AND (accounts.status = EXCLUDED.status OR EXCLUDED.status = 'blocked'))`

func (s *Store) UpdateAccountStatus(ctx context.Context, status events.AccountStatus, accounts []store.Account) error {
	if len(accounts) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, a := range accounts {
		b.Queue(upsertAccount, u64(a.Number), a.AccountID, u64(a.Ledger), string(status), a.Reason, nullTime(a.UpdatedAt))
	}
	return s.send(ctx, b)
}

func (s *Store) send(ctx context.Context, b *pgx.Batch) error {
	br := s.db.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("batch statement %d: %w", i, err)
		}
	}
	return br.Close()
}

func (s *Store) Transaction(ctx context.Context, number uint64) (store.Transaction, error) {
	const q = `
SELECT COALESCE(transaction_id, ''), debit_account_id::text, credit_account_id::text, amount::text,
       code::text, ledger::text, scale, status, COALESCE(verdict, ''), COALESCE(reason, ''),
       created_at, updated_at
FROM transactions WHERE number = $1`
	tx := store.Transaction{Number: number}
	var dr, cr, amount, code, ledger, status, verdict string
	err := s.db.QueryRow(ctx, q, int64(number)).Scan(
		&tx.TransactionID, &dr, &cr, &amount, &code, &ledger, &tx.Scale,
		&status, &verdict, &tx.Reason, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Transaction{}, store.ErrNotFound
	}
	if err != nil {
		return store.Transaction{}, err
	}
	tx.Status, tx.Verdict = events.Status(status), events.Status(verdict)
	for _, f := range []struct {
		dst *uint64
		src string
	}{{&tx.DebitAccountID, dr}, {&tx.CreditAccountID, cr}, {&tx.Amount, amount}, {&tx.Code, code}, {&tx.Ledger, ledger}} {
		if *f.dst, err = strconv.ParseUint(f.src, 10, 64); err != nil {
			return store.Transaction{}, fmt.Errorf("transaction %d: %w", number, err)
		}
	}
	return tx, nil
}

func (s *Store) Account(ctx context.Context, number uint64) (store.Account, error) {
	const q = `
SELECT account_id, ledger::text, status, COALESCE(reason, ''), updated_at
FROM accounts WHERE number = $1::numeric`
	a := store.Account{Number: number}
	var ledger, status string
	err := s.db.QueryRow(ctx, q, u64(number)).Scan(&a.AccountID, &ledger, &status, &a.Reason, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Account{}, store.ErrNotFound
	}
	if err != nil {
		return store.Account{}, err
	}
	a.Status = events.AccountStatus(status)
	if a.Ledger, err = strconv.ParseUint(ledger, 10, 64); err != nil {
		return store.Account{}, fmt.Errorf("account %d: %w", number, err)
	}
	return a, nil
}

func (s *Store) Close() error {
	s.db.Close()
	return nil
}

// u64 renders v for a numeric parameter; pgx has no unsigned 64-bit numeric
// encoding past MaxInt64.
func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
