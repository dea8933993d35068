package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"kejapay.africa/gateway/ledger"
)

// Store keeps accounts in Postgres for multi-instance deployments.
// Per-account serialization relies on SELECT ... FOR UPDATE row locks, so
// concurrent Update calls for the same account queue on the database.
type Store struct {
	db *pgxpool.Pool
}

var _ ledger.Store = (*Store)(nil)

func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{db: pool}, nil
}

func (s *Store) Close() {
	s.db.Close()
}

// Migrate creates the ledger tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) (err error) {
	_, err = s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id              TEXT PRIMARY KEY,
			balance_due     BIGINT NOT NULL DEFAULT 0 CHECK (balance_due >= 0),
			streak_count    BIGINT NOT NULL DEFAULT 0,
			loyalty_score   BIGINT NOT NULL DEFAULT 0,
			last_payment_at TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS payment_records (
			receipt_number    TEXT PRIMARY KEY,
			account_id        TEXT NOT NULL REFERENCES accounts(id),
			amount            BIGINT NOT NULL,
			completed_at      TIMESTAMPTZ NOT NULL,
			method            TEXT NOT NULL,
			account_reference TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS payment_records_account_idx
			ON payment_records (account_id, completed_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, id string) (account ledger.Account, err error) {
	account, err = s.loadTx(ctx, s.db, id, false)
	if err != nil {
		return account, err
	}
	return account, nil
}

// querier covers both the pool and an open transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) loadTx(ctx context.Context, q querier, id string, forUpdate bool) (account ledger.Account, err error) {
	query := "SELECT id, balance_due, streak_count, loyalty_score, last_payment_at FROM accounts WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}

	var lastPayment *time.Time
	err = q.QueryRow(ctx, query, id).
		Scan(&account.Id, &account.BalanceDue, &account.StreakCount, &account.LoyaltyScore, &lastPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return account, ledger.ErrAccountNotFound
		}
		return account, fmt.Errorf("failed to query account: %w", err)
	}
	if lastPayment != nil {
		account.LastPaymentAt = *lastPayment
	}

	rows, err := q.Query(ctx,
		"SELECT receipt_number, amount, completed_at, method, account_reference FROM payment_records WHERE account_id = $1 ORDER BY completed_at",
		id)
	if err != nil {
		return account, fmt.Errorf("failed to query payment records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var record ledger.PaymentRecord
		err = rows.Scan(&record.ReceiptNumber, &record.Amount, &record.CompletedAt, &record.Method, &record.AccountReference)
		if err != nil {
			return account, fmt.Errorf("failed to scan payment record: %w", err)
		}
		account.PaymentHistory = append(account.PaymentHistory, record)
	}
	if err = rows.Err(); err != nil {
		return account, fmt.Errorf("failed to read payment records: %w", err)
	}
	return account, nil
}

func (s *Store) Put(ctx context.Context, account ledger.Account) (err error) {
	_, err = s.db.Exec(ctx, `
		INSERT INTO accounts (id, balance_due, streak_count, loyalty_score, last_payment_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, '0001-01-01 00:00:00+00'::timestamptz))
		ON CONFLICT (id) DO UPDATE SET
			balance_due = EXCLUDED.balance_due,
			streak_count = EXCLUDED.streak_count,
			loyalty_score = EXCLUDED.loyalty_score,
			last_payment_at = EXCLUDED.last_payment_at`,
		account.Id, account.BalanceDue, account.StreakCount, account.LoyaltyScore, account.LastPaymentAt)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, id string, fn func(account *ledger.Account) error) (err error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	// 1. Lock the account row and load current state
	account, err := s.loadTx(ctx, tx, id, true)
	if err != nil {
		return err
	}
	before := len(account.PaymentHistory)

	// 2. Apply the mutation
	err = fn(&account)
	if err != nil {
		return err
	}

	// 3. Write back the counters
	_, err = tx.Exec(ctx,
		"UPDATE accounts SET balance_due = $1, streak_count = $2, loyalty_score = $3, last_payment_at = $4 WHERE id = $5",
		account.BalanceDue, account.StreakCount, account.LoyaltyScore, account.LastPaymentAt, account.Id)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}

	// 4. Append any new payment records
	for _, record := range account.PaymentHistory[before:] {
		_, err = tx.Exec(ctx,
			"INSERT INTO payment_records (receipt_number, account_id, amount, completed_at, method, account_reference) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (receipt_number) DO NOTHING",
			record.ReceiptNumber, account.Id, record.Amount, record.CompletedAt, record.Method, record.AccountReference)
		if err != nil {
			return fmt.Errorf("failed to insert payment record: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}
