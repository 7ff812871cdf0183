package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	lockConfigForActionSQL = `SELECT max_daily_mint, max_daily_burn, cooldown_minutes, last_action_at
    FROM parity_config
    WHERE currency = $1
    FOR UPDATE;`

	sumActionsSinceSQL = `SELECT COALESCE(SUM(amount), 0)
    FROM monetary_actions
    WHERE currency = $1
      AND action_type = ANY($2)
      AND executed_at >= $3;`

	insertActionSQL = `INSERT INTO monetary_actions (
        currency,
        action_type,
        amount,
        trigger_rate,
        target_rate,
        threshold_at_trigger,
        reason,
        transaction_id,
        executed_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    RETURNING id, created_at;`

	touchLastActionSQL = `UPDATE parity_config
    SET last_action_at = $2, updated_at = now()
    WHERE currency = $1;`

	listRecentActionsSQL = `SELECT
        id, currency, action_type, amount, trigger_rate, target_rate,
        threshold_at_trigger, reason, transaction_id, executed_at, created_at
    FROM monetary_actions
    ORDER BY executed_at DESC
    LIMIT $1;`
)

func mintBurnTypes(mint bool) []string {
	if mint {
		return []string{string(ActionAutoMint), string(ActionManualMint)}
	}
	return []string{string(ActionAutoBurn), string(ActionManualBurn)}
}

// AppendAction records one mint/burn, inserts its paired settlement
// transaction, and advances last_action_at as one atomic unit. The
// currency's config row is locked first so the cooldown and daily-cap
// re-checks, the inserts, and the timestamp update cannot interleave with a
// concurrent append for the same currency, not even one from another
// process.
func (s *Store) AppendAction(ctx context.Context, action MonetaryAction, settlement Transaction) (MonetaryAction, error) {
	recorded := action

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var (
			mintCapStr, burnCapStr string
			cooldownMinutes        int
			lastActionAt           *time.Time
		)
		if err := tx.QueryRow(ctx, lockConfigForActionSQL, action.Currency).
			Scan(&mintCapStr, &burnCapStr, &cooldownMinutes, &lastActionAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("parity config %s: %w", action.Currency, ErrNotFound)
			}
			return fmt.Errorf("lock parity config: %w", err)
		}

		if action.ActionType.Auto() && lastActionAt != nil {
			cooldown := time.Duration(cooldownMinutes) * time.Minute
			if action.ExecutedAt.Sub(*lastActionAt) < cooldown {
				return fmt.Errorf("last action at %s: %w", lastActionAt.UTC(), ErrCooldownActive)
			}
		}

		capStr := mintCapStr
		if !action.ActionType.IsMint() {
			capStr = burnCapStr
		}
		dailyCap, convErr := decimal.NewFromString(capStr)
		if convErr != nil {
			return fmt.Errorf("parse daily cap: %w", convErr)
		}

		var spentStr string
		if err := tx.QueryRow(ctx, sumActionsSinceSQL,
			action.Currency,
			mintBurnTypes(action.ActionType.IsMint()),
			StartOfDayUTC(action.ExecutedAt),
		).Scan(&spentStr); err != nil {
			return fmt.Errorf("sum daily actions: %w", err)
		}
		spent, convErr := decimal.NewFromString(spentStr)
		if convErr != nil {
			return fmt.Errorf("parse daily sum: %w", convErr)
		}

		if spent.Add(action.Amount).GreaterThan(dailyCap) {
			return ErrDailyCapExceeded
		}

		if err := tx.QueryRow(ctx, insertActionSQL,
			action.Currency,
			string(action.ActionType),
			action.Amount.String(),
			action.TriggerRate.String(),
			action.TargetRate.String(),
			action.ThresholdAtTrigger.String(),
			action.Reason,
			action.TransactionID,
			action.ExecutedAt,
		).Scan(&recorded.ID, &recorded.CreatedAt); err != nil {
			return fmt.Errorf("insert monetary action: %w", err)
		}

		if _, err := tx.Exec(ctx, touchLastActionSQL, action.Currency, action.ExecutedAt); err != nil {
			return fmt.Errorf("update last action at: %w", err)
		}

		if _, err := tx.Exec(ctx, insertTransactionSQL, insertArgs(settlement)...); err != nil {
			return fmt.Errorf("insert settlement transaction: %w", err)
		}
		if settlement.Status == StatusCompleted {
			if err := applyDeltas(ctx, tx, settlement); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return MonetaryAction{}, err
	}
	return recorded, nil
}

// SumActionsSince totals same-direction action amounts for a currency since
// the given instant. The controller uses it to clamp candidate amounts; the
// authoritative re-check happens inside AppendAction.
func (s *Store) SumActionsSince(ctx context.Context, currency string, mint bool, since time.Time) (decimal.Decimal, error) {
	pool, err := s.getPool()
	if err != nil {
		return decimal.Zero, err
	}

	var sumStr string
	if scanErr := pool.QueryRow(ctx, sumActionsSinceSQL, currency, mintBurnTypes(mint), since).Scan(&sumStr); scanErr != nil {
		return decimal.Zero, fmt.Errorf("sum actions since: %w", scanErr)
	}

	sum, convErr := decimal.NewFromString(sumStr)
	if convErr != nil {
		return decimal.Zero, fmt.Errorf("parse action sum: %w", convErr)
	}
	return sum, nil
}

// ListRecentActions lists the most recent ledger entries, newest first.
func (s *Store) ListRecentActions(ctx context.Context, limit int) ([]MonetaryAction, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentActionsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent actions: %w", queryErr)
	}
	defer rows.Close()

	actions := make([]MonetaryAction, 0, limit)
	for rows.Next() {
		action, scanErr := scanMonetaryAction(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		actions = append(actions, action)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return actions, nil
}

func scanMonetaryAction(row pgx.Row) (MonetaryAction, error) {
	var (
		action       MonetaryAction
		actionType   string
		amountStr    string
		triggerStr   string
		targetStr    string
		thresholdStr string
	)

	if err := row.Scan(
		&action.ID,
		&action.Currency,
		&actionType,
		&amountStr,
		&triggerStr,
		&targetStr,
		&thresholdStr,
		&action.Reason,
		&action.TransactionID,
		&action.ExecutedAt,
		&action.CreatedAt,
	); err != nil {
		return MonetaryAction{}, err
	}
	action.ActionType = ActionType(actionType)

	var convErr error
	if action.Amount, convErr = decimal.NewFromString(amountStr); convErr != nil {
		return MonetaryAction{}, fmt.Errorf("parse action amount: %w", convErr)
	}
	if action.TriggerRate, convErr = decimal.NewFromString(triggerStr); convErr != nil {
		return MonetaryAction{}, fmt.Errorf("parse trigger rate: %w", convErr)
	}
	if action.TargetRate, convErr = decimal.NewFromString(targetStr); convErr != nil {
		return MonetaryAction{}, fmt.Errorf("parse target rate: %w", convErr)
	}
	if action.ThresholdAtTrigger, convErr = decimal.NewFromString(thresholdStr); convErr != nil {
		return MonetaryAction{}, fmt.Errorf("parse threshold: %w", convErr)
	}

	return action, nil
}
