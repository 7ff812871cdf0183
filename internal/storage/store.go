package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Sentinel errors shared across all store operations.
var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrDailyCapExceeded indicates an action append would push the currency
	// over its daily mint or burn allowance.
	ErrDailyCapExceeded = errors.New("storage: daily cap exceeded")
	// ErrCooldownActive indicates an auto action append landed inside the
	// currency's cooldown window. Raised under the config row lock, so it
	// also catches a concurrent runner that acted after the caller's gate
	// checks.
	ErrCooldownActive = errors.New("storage: cooldown active")
	// ErrInvalidState indicates a transition was attempted on a transaction
	// that already reached a terminal state.
	ErrInvalidState = errors.New("storage: transaction not pending")
	// ErrInsufficientFunds indicates a debit would take a wallet below zero.
	ErrInsufficientFunds = errors.New("storage: insufficient funds")
)

// ConfigStore defines operations on per-currency parity configuration.
type ConfigStore interface {
	GetParityConfig(ctx context.Context, currency string) (ParityConfig, error)
	ListParityConfigs(ctx context.Context) ([]ParityConfig, error)
	UpsertParityConfig(ctx context.Context, cfg ParityConfig) (ParityConfig, error)
}

// RateStore defines operations on the append-only exchange-rate history.
type RateStore interface {
	InsertSnapshot(ctx context.Context, snap RateSnapshot) error
	LatestSnapshot(ctx context.Context, currency string) (RateSnapshot, error)
	LatestSnapshots(ctx context.Context) ([]RateSnapshot, error)
	ListSnapshotsBetween(ctx context.Context, currency string, from, to time.Time) ([]RateSnapshot, error)
}

// ActionStore defines operations on the monetary-action ledger.
type ActionStore interface {
	// AppendAction records the action, inserts its paired settlement
	// transaction (applying wallet deltas when it is already completed), and
	// advances the currency's last_action_at, all in one database
	// transaction. The daily cap and, for auto actions, the cooldown are
	// re-checked under the config row lock so two near-simultaneous appends
	// cannot both pass, and a failure anywhere leaves no ledger entry.
	AppendAction(ctx context.Context, action MonetaryAction, settlement Transaction) (MonetaryAction, error)
	SumActionsSince(ctx context.Context, currency string, mint bool, since time.Time) (decimal.Decimal, error)
	ListRecentActions(ctx context.Context, limit int) ([]MonetaryAction, error)
}

// TransactionStore defines the transaction lifecycle operations. Settle and
// Cancel are the only mutations; everything else about a transaction is
// immutable after insert.
type TransactionStore interface {
	InsertTransaction(ctx context.Context, tx Transaction) (Transaction, error)
	// InsertSettled inserts a transaction directly in completed state and
	// applies its wallet deltas in the same database transaction. Used for
	// auto-approved amounts.
	InsertSettled(ctx context.Context, tx Transaction) (Transaction, error)
	GetTransaction(ctx context.Context, id string) (Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
	// SettleTransaction moves a pending transaction to completed and applies
	// wallet deltas atomically. Returns ErrInvalidState if already terminal.
	SettleTransaction(ctx context.Context, id string, decidedBy *string, at time.Time) (Transaction, error)
	// CancelTransaction moves a pending transaction to cancelled without
	// touching balances.
	CancelTransaction(ctx context.Context, id string, decidedBy string, at time.Time) (Transaction, error)
	// MarkTransactionFailed moves a pending transaction to failed, recording
	// the fault. Balances are untouched.
	MarkTransactionFailed(ctx context.Context, id, reason string, at time.Time) (Transaction, error)
}

// WalletStore exposes read access to wallet balances.
type WalletStore interface {
	GetBalance(ctx context.Context, walletID, currency string) (decimal.Decimal, error)
}

// AdvisoryLocker exposes advisory lock helpers for single-runner scheduling.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the PostgreSQL-backed implementation of every store interface.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// withTx runs fn inside a database transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const (
	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a
// release func. Guards against two deployments driving the same tick.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; session close releases it anyway
		}
		conn.Release()
	}
	return unlock, true, nil
}

var (
	_ ConfigStore      = (*Store)(nil)
	_ RateStore        = (*Store)(nil)
	_ ActionStore      = (*Store)(nil)
	_ TransactionStore = (*Store)(nil)
	_ WalletStore      = (*Store)(nil)
	_ AdvisoryLocker   = (*Store)(nil)
)
