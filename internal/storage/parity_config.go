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
	upsertParityConfigSQL = `INSERT INTO parity_config (
        currency,
        auto_enabled,
        target_rate,
        deviation_threshold_pct,
        max_daily_mint,
        max_daily_burn,
        cooldown_minutes,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,now()
    )
    ON CONFLICT (currency) DO UPDATE
    SET
        auto_enabled            = EXCLUDED.auto_enabled,
        target_rate             = EXCLUDED.target_rate,
        deviation_threshold_pct = EXCLUDED.deviation_threshold_pct,
        max_daily_mint          = EXCLUDED.max_daily_mint,
        max_daily_burn          = EXCLUDED.max_daily_burn,
        cooldown_minutes        = EXCLUDED.cooldown_minutes,
        updated_at              = now()
    RETURNING currency, auto_enabled, target_rate, deviation_threshold_pct,
        max_daily_mint, max_daily_burn, cooldown_minutes, last_action_at, updated_at;`

	getParityConfigSQL = `SELECT
        currency,
        auto_enabled,
        target_rate,
        deviation_threshold_pct,
        max_daily_mint,
        max_daily_burn,
        cooldown_minutes,
        last_action_at,
        updated_at
    FROM parity_config
    WHERE currency = $1;`

	listParityConfigsSQL = `SELECT
        currency,
        auto_enabled,
        target_rate,
        deviation_threshold_pct,
        max_daily_mint,
        max_daily_burn,
        cooldown_minutes,
        last_action_at,
        updated_at
    FROM parity_config
    ORDER BY currency;`
)

// GetParityConfig loads one currency's configuration.
func (s *Store) GetParityConfig(ctx context.Context, currency string) (ParityConfig, error) {
	pool, err := s.getPool()
	if err != nil {
		return ParityConfig{}, err
	}

	cfg, scanErr := scanParityConfig(pool.QueryRow(ctx, getParityConfigSQL, currency))
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return ParityConfig{}, fmt.Errorf("parity config %s: %w", currency, ErrNotFound)
		}
		return ParityConfig{}, scanErr
	}
	return cfg, nil
}

// ListParityConfigs lists every configured currency.
func (s *Store) ListParityConfigs(ctx context.Context) ([]ParityConfig, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listParityConfigsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list parity configs: %w", queryErr)
	}
	defer rows.Close()

	configs := make([]ParityConfig, 0)
	for rows.Next() {
		cfg, scanErr := scanParityConfig(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		configs = append(configs, cfg)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return configs, nil
}

// UpsertParityConfig creates or replaces a currency's configuration. The
// last_action_at pointer is never touched here; only AppendAction advances it.
func (s *Store) UpsertParityConfig(ctx context.Context, cfg ParityConfig) (ParityConfig, error) {
	pool, err := s.getPool()
	if err != nil {
		return ParityConfig{}, err
	}

	row := pool.QueryRow(ctx, upsertParityConfigSQL,
		cfg.Currency,
		cfg.AutoEnabled,
		cfg.TargetRate.String(),
		cfg.DeviationThresholdPct.String(),
		cfg.MaxDailyMint.String(),
		cfg.MaxDailyBurn.String(),
		cfg.CooldownMinutes,
	)

	stored, scanErr := scanParityConfig(row)
	if scanErr != nil {
		return ParityConfig{}, fmt.Errorf("upsert parity config: %w", scanErr)
	}
	return stored, nil
}

func scanParityConfig(row pgx.Row) (ParityConfig, error) {
	var (
		cfg          ParityConfig
		targetStr    string
		thresholdStr string
		mintStr      string
		burnStr      string
		lastAction   *time.Time
	)

	if err := row.Scan(
		&cfg.Currency,
		&cfg.AutoEnabled,
		&targetStr,
		&thresholdStr,
		&mintStr,
		&burnStr,
		&cfg.CooldownMinutes,
		&lastAction,
		&cfg.UpdatedAt,
	); err != nil {
		return ParityConfig{}, err
	}

	var convErr error
	if cfg.TargetRate, convErr = decimal.NewFromString(targetStr); convErr != nil {
		return ParityConfig{}, fmt.Errorf("parse target rate: %w", convErr)
	}
	if cfg.DeviationThresholdPct, convErr = decimal.NewFromString(thresholdStr); convErr != nil {
		return ParityConfig{}, fmt.Errorf("parse deviation threshold: %w", convErr)
	}
	if cfg.MaxDailyMint, convErr = decimal.NewFromString(mintStr); convErr != nil {
		return ParityConfig{}, fmt.Errorf("parse max daily mint: %w", convErr)
	}
	if cfg.MaxDailyBurn, convErr = decimal.NewFromString(burnStr); convErr != nil {
		return ParityConfig{}, fmt.Errorf("parse max daily burn: %w", convErr)
	}
	cfg.LastActionAt = lastAction

	return cfg, nil
}
