package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/heavensprominence/credparity/internal/storage"
)

// ListParity prints every configured currency.
func (a *App) ListParity(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	cfgs, err := store.ListParityConfigs(ctx)
	if err != nil {
		return err
	}
	if len(cfgs) == 0 {
		fmt.Fprintln(os.Stdout, "no currencies configured")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Currency\tAuto\tTarget\tThreshold%\tMaxMint/day\tMaxBurn/day\tCooldown\tLast Action (UTC)")
	for _, cfg := range cfgs {
		lastAction := "-"
		if cfg.LastActionAt != nil {
			lastAction = cfg.LastActionAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(
			writer,
			"%s\t%t\t%s\t%s\t%s\t%s\t%dm\t%s\n",
			cfg.Currency,
			cfg.AutoEnabled,
			formatDecimal(cfg.TargetRate, 6),
			formatDecimal(cfg.DeviationThresholdPct, 2),
			formatDecimal(cfg.MaxDailyMint, 2),
			formatDecimal(cfg.MaxDailyBurn, 2),
			cfg.CooldownMinutes,
			lastAction,
		)
	}
	writer.Flush()
	return nil
}

// SetParity creates or updates one currency's parity configuration.
func (a *App) SetParity(ctx context.Context, cfg storage.ParityConfig) error {
	if cfg.Currency == "" {
		return fmt.Errorf("currency is required")
	}
	if !cfg.TargetRate.IsPositive() {
		return fmt.Errorf("target rate must be positive")
	}
	if !cfg.DeviationThresholdPct.IsPositive() {
		return fmt.Errorf("deviation threshold must be positive")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	stored, err := store.UpsertParityConfig(ctx, cfg)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "%s configured: auto=%t target=%s threshold=%s%% caps=%s/%s cooldown=%dm\n",
		stored.Currency, stored.AutoEnabled, stored.TargetRate, stored.DeviationThresholdPct,
		stored.MaxDailyMint, stored.MaxDailyBurn, stored.CooldownMinutes)
	return nil
}
