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
	insertSnapshotSQL = `INSERT INTO exchange_rates (
        currency,
        target_rate,
        current_rate,
        market_rate,
        deviation_pct,
        feed_source,
        observed_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    );`

	latestSnapshotSQL = `SELECT
        currency, target_rate, current_rate, market_rate,
        deviation_pct, feed_source, observed_at, created_at
    FROM exchange_rates
    WHERE currency = $1
    ORDER BY observed_at DESC
    LIMIT 1;`

	latestSnapshotsSQL = `SELECT DISTINCT ON (currency)
        currency, target_rate, current_rate, market_rate,
        deviation_pct, feed_source, observed_at, created_at
    FROM exchange_rates
    ORDER BY currency, observed_at DESC;`

	listSnapshotsBetweenSQL = `SELECT
        currency, target_rate, current_rate, market_rate,
        deviation_pct, feed_source, observed_at, created_at
    FROM exchange_rates
    WHERE currency = $1
      AND observed_at >= $2
      AND observed_at < $3
    ORDER BY observed_at;`
)

// InsertSnapshot appends one observation to the exchange-rate history.
func (s *Store) InsertSnapshot(ctx context.Context, snap RateSnapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertSnapshotSQL,
		snap.Currency,
		snap.TargetRate.String(),
		snap.CurrentRate.String(),
		snap.MarketRate.String(),
		snap.DeviationPct.String(),
		snap.FeedSource,
		snap.ObservedAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert rate snapshot: %w", execErr)
	}
	return nil
}

// LatestSnapshot returns the most recent observation for a currency.
func (s *Store) LatestSnapshot(ctx context.Context, currency string) (RateSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return RateSnapshot{}, err
	}

	snap, scanErr := scanRateSnapshot(pool.QueryRow(ctx, latestSnapshotSQL, currency))
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return RateSnapshot{}, fmt.Errorf("rate snapshot %s: %w", currency, ErrNotFound)
		}
		return RateSnapshot{}, scanErr
	}
	return snap, nil
}

// LatestSnapshots returns the current snapshot of every currency.
func (s *Store) LatestSnapshots(ctx context.Context) ([]RateSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, latestSnapshotsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("latest snapshots: %w", queryErr)
	}
	defer rows.Close()

	return collectSnapshots(rows)
}

// ListSnapshotsBetween lists one currency's history within a time window.
func (s *Store) ListSnapshotsBetween(ctx context.Context, currency string, from, to time.Time) ([]RateSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSnapshotsBetweenSQL, currency, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshots between: %w", queryErr)
	}
	defer rows.Close()

	return collectSnapshots(rows)
}

func collectSnapshots(rows pgx.Rows) ([]RateSnapshot, error) {
	snaps := make([]RateSnapshot, 0)
	for rows.Next() {
		snap, scanErr := scanRateSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snaps = append(snaps, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snaps, nil
}

func scanRateSnapshot(row pgx.Row) (RateSnapshot, error) {
	var (
		snap         RateSnapshot
		targetStr    string
		currentStr   string
		marketStr    string
		deviationStr string
	)

	if err := row.Scan(
		&snap.Currency,
		&targetStr,
		&currentStr,
		&marketStr,
		&deviationStr,
		&snap.FeedSource,
		&snap.ObservedAt,
		&snap.CreatedAt,
	); err != nil {
		return RateSnapshot{}, err
	}

	var convErr error
	if snap.TargetRate, convErr = decimal.NewFromString(targetStr); convErr != nil {
		return RateSnapshot{}, fmt.Errorf("parse target rate: %w", convErr)
	}
	if snap.CurrentRate, convErr = decimal.NewFromString(currentStr); convErr != nil {
		return RateSnapshot{}, fmt.Errorf("parse current rate: %w", convErr)
	}
	if snap.MarketRate, convErr = decimal.NewFromString(marketStr); convErr != nil {
		return RateSnapshot{}, fmt.Errorf("parse market rate: %w", convErr)
	}
	if snap.DeviationPct, convErr = decimal.NewFromString(deviationStr); convErr != nil {
		return RateSnapshot{}, fmt.Errorf("parse deviation pct: %w", convErr)
	}

	return snap, nil
}
