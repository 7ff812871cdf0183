package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	insertTransactionSQL = `INSERT INTO transactions (
        id, hash, amount, currency, tx_type, status, approval_level,
        from_wallet, to_wallet, decided_by, failure_reason, created_at, completed_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
    );`

	getTransactionSQL = `SELECT
        id, hash, amount, currency, tx_type, status, approval_level,
        from_wallet, to_wallet, decided_by, failure_reason, created_at, completed_at
    FROM transactions
    WHERE id = $1;`

	getTransactionForUpdateSQL = `SELECT
        id, hash, amount, currency, tx_type, status, approval_level,
        from_wallet, to_wallet, decided_by, failure_reason, created_at, completed_at
    FROM transactions
    WHERE id = $1
    FOR UPDATE;`

	finaliseTransactionSQL = `UPDATE transactions
    SET status = $2, decided_by = $3, failure_reason = $4, completed_at = $5
    WHERE id = $1;`

	debitWalletSQL = `UPDATE wallet_balances
    SET balance = balance - $3, updated_at = now()
    WHERE wallet_id = $1 AND currency = $2 AND balance >= $3;`

	creditWalletSQL = `INSERT INTO wallet_balances (wallet_id, currency, balance, updated_at)
    VALUES ($1, $2, $3, now())
    ON CONFLICT (wallet_id, currency) DO UPDATE
    SET balance = wallet_balances.balance + EXCLUDED.balance, updated_at = now();`

	getBalanceSQL = `SELECT balance FROM wallet_balances
    WHERE wallet_id = $1 AND currency = $2;`
)

// InsertTransaction persists a new pending transaction.
func (s *Store) InsertTransaction(ctx context.Context, tx Transaction) (Transaction, error) {
	pool, err := s.getPool()
	if err != nil {
		return Transaction{}, err
	}
	if _, execErr := pool.Exec(ctx, insertTransactionSQL, insertArgs(tx)...); execErr != nil {
		return Transaction{}, fmt.Errorf("insert transaction: %w", execErr)
	}
	return tx, nil
}

// InsertSettled persists an auto-approved transaction directly in completed
// state, applying its wallet deltas in the same database transaction so it is
// never observable as completed with unapplied balances.
func (s *Store) InsertSettled(ctx context.Context, tx Transaction) (Transaction, error) {
	tx.Status = StatusCompleted
	err := s.withTx(ctx, func(dbtx pgx.Tx) error {
		if _, execErr := dbtx.Exec(ctx, insertTransactionSQL, insertArgs(tx)...); execErr != nil {
			return fmt.Errorf("insert transaction: %w", execErr)
		}
		return applyDeltas(ctx, dbtx, tx)
	})
	if err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// GetTransaction loads one transaction by id.
func (s *Store) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	pool, err := s.getPool()
	if err != nil {
		return Transaction{}, err
	}

	tx, scanErr := scanTransaction(pool.QueryRow(ctx, getTransactionSQL, id))
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return Transaction{}, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
		}
		return Transaction{}, scanErr
	}
	return tx, nil
}

// ListTransactions lists transactions, newest first, optionally filtered by
// status and/or type.
func (s *Store) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	query := strings.Builder{}
	query.WriteString(`SELECT
        id, hash, amount, currency, tx_type, status, approval_level,
        from_wallet, to_wallet, decided_by, failure_reason, created_at, completed_at
    FROM transactions`)

	args := make([]any, 0, 3)
	clauses := make([]string, 0, 2)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, "status = $"+strconv.Itoa(len(args)))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		clauses = append(clauses, "tx_type = $"+strconv.Itoa(len(args)))
	}
	if len(clauses) > 0 {
		query.WriteString(" WHERE " + strings.Join(clauses, " AND "))
	}
	query.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query.WriteString(" LIMIT $" + strconv.Itoa(len(args)) + ";")

	rows, queryErr := pool.Query(ctx, query.String(), args...)
	if queryErr != nil {
		return nil, fmt.Errorf("list transactions: %w", queryErr)
	}
	defer rows.Close()

	txs := make([]Transaction, 0, limit)
	for rows.Next() {
		tx, scanErr := scanTransaction(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		txs = append(txs, tx)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return txs, nil
}

// SettleTransaction moves a pending transaction to completed and applies its
// wallet deltas as one atomic unit. The row lock serialises concurrent
// decisions on the same transaction; the single-statement balance updates
// serialise concurrent settlements touching the same wallet.
func (s *Store) SettleTransaction(ctx context.Context, id string, decidedBy *string, at time.Time) (Transaction, error) {
	var settled Transaction

	err := s.withTx(ctx, func(dbtx pgx.Tx) error {
		tx, lockErr := lockPending(ctx, dbtx, id)
		if lockErr != nil {
			return lockErr
		}

		if err := applyDeltas(ctx, dbtx, tx); err != nil {
			return err
		}

		if _, err := dbtx.Exec(ctx, finaliseTransactionSQL, id, string(StatusCompleted), decidedBy, nil, at); err != nil {
			return fmt.Errorf("complete transaction: %w", err)
		}

		tx.Status = StatusCompleted
		tx.DecidedBy = decidedBy
		tx.CompletedAt = &at
		settled = tx
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	return settled, nil
}

// CancelTransaction moves a pending transaction to cancelled. No balance is
// touched; the rejecting actor lands in decided_by.
func (s *Store) CancelTransaction(ctx context.Context, id string, decidedBy string, at time.Time) (Transaction, error) {
	return s.finalise(ctx, id, StatusCancelled, &decidedBy, nil, at)
}

// MarkTransactionFailed moves a pending transaction to failed, recording the
// system-detected fault that prevented settlement.
func (s *Store) MarkTransactionFailed(ctx context.Context, id, reason string, at time.Time) (Transaction, error) {
	return s.finalise(ctx, id, StatusFailed, nil, &reason, at)
}

// GetBalance returns a wallet's balance for one currency. Missing rows read
// as zero.
func (s *Store) GetBalance(ctx context.Context, walletID, currency string) (decimal.Decimal, error) {
	pool, err := s.getPool()
	if err != nil {
		return decimal.Zero, err
	}

	var balanceStr string
	scanErr := pool.QueryRow(ctx, getBalanceSQL, walletID, currency).Scan(&balanceStr)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if scanErr != nil {
		return decimal.Zero, fmt.Errorf("get balance: %w", scanErr)
	}

	balance, convErr := decimal.NewFromString(balanceStr)
	if convErr != nil {
		return decimal.Zero, fmt.Errorf("parse balance: %w", convErr)
	}
	return balance, nil
}

func (s *Store) finalise(ctx context.Context, id string, status TransactionStatus, decidedBy, reason *string, at time.Time) (Transaction, error) {
	var final Transaction

	err := s.withTx(ctx, func(dbtx pgx.Tx) error {
		tx, lockErr := lockPending(ctx, dbtx, id)
		if lockErr != nil {
			return lockErr
		}

		if _, err := dbtx.Exec(ctx, finaliseTransactionSQL, id, string(status), decidedBy, reason, at); err != nil {
			return fmt.Errorf("finalise transaction: %w", err)
		}

		tx.Status = status
		tx.DecidedBy = decidedBy
		tx.FailureReason = reason
		tx.CompletedAt = &at
		final = tx
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	return final, nil
}

func lockPending(ctx context.Context, dbtx pgx.Tx, id string) (Transaction, error) {
	tx, scanErr := scanTransaction(dbtx.QueryRow(ctx, getTransactionForUpdateSQL, id))
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return Transaction{}, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
		}
		return Transaction{}, scanErr
	}
	if tx.Status != StatusPending {
		return Transaction{}, fmt.Errorf("transaction %s is %s: %w", id, tx.Status, ErrInvalidState)
	}
	return tx, nil
}

func applyDeltas(ctx context.Context, dbtx pgx.Tx, tx Transaction) error {
	amount := tx.Amount.String()

	if tx.FromWallet != nil {
		tag, err := dbtx.Exec(ctx, debitWalletSQL, *tx.FromWallet, tx.Currency, amount)
		if err != nil {
			return fmt.Errorf("debit wallet: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("wallet %s: %w", *tx.FromWallet, ErrInsufficientFunds)
		}
	}

	if tx.ToWallet != nil {
		if _, err := dbtx.Exec(ctx, creditWalletSQL, *tx.ToWallet, tx.Currency, amount); err != nil {
			return fmt.Errorf("credit wallet: %w", err)
		}
	}
	return nil
}

func insertArgs(tx Transaction) []any {
	return []any{
		tx.ID,
		tx.Hash,
		tx.Amount.String(),
		tx.Currency,
		string(tx.Type),
		string(tx.Status),
		string(tx.ApprovalLevel),
		tx.FromWallet,
		tx.ToWallet,
		tx.DecidedBy,
		tx.FailureReason,
		tx.CreatedAt,
		tx.CompletedAt,
	}
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		tx        Transaction
		amountStr string
		txType    string
		status    string
		level     string
	)

	if err := row.Scan(
		&tx.ID,
		&tx.Hash,
		&amountStr,
		&tx.Currency,
		&txType,
		&status,
		&level,
		&tx.FromWallet,
		&tx.ToWallet,
		&tx.DecidedBy,
		&tx.FailureReason,
		&tx.CreatedAt,
		&tx.CompletedAt,
	); err != nil {
		return Transaction{}, err
	}

	tx.Type = TransactionType(txType)
	tx.Status = TransactionStatus(status)
	tx.ApprovalLevel = ApprovalLevel(level)

	amount, convErr := decimal.NewFromString(amountStr)
	if convErr != nil {
		return Transaction{}, fmt.Errorf("parse transaction amount: %w", convErr)
	}
	tx.Amount = amount

	return tx, nil
}
