package app

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/heavensprominence/credparity/internal/parity"
	"github.com/heavensprominence/credparity/internal/storage"
)

// SimulateOptions feed a what-if evaluation with explicit rates.
type SimulateOptions struct {
	TargetRate   decimal.Decimal
	MarketRate   decimal.Decimal
	ThresholdPct decimal.Decimal
}

// Simulate previews the parity decision for a hypothetical observation
// without touching the database: deviation, direction, sized amount, and the
// approval level the settlement transaction would carry.
func (a *App) Simulate(opts SimulateOptions) error {
	if !opts.TargetRate.IsPositive() || !opts.MarketRate.IsPositive() {
		return fmt.Errorf("target and market rates must be positive")
	}
	if !opts.ThresholdPct.IsPositive() {
		return fmt.Errorf("threshold must be positive")
	}

	deviation := parity.Deviation(opts.MarketRate, opts.TargetRate)
	fmt.Fprintf(os.Stdout, "deviation: %s%%\n", deviation.StringFixed(4))

	if deviation.Abs().LessThan(opts.ThresholdPct) {
		fmt.Fprintf(os.Stdout, "within threshold %s%%: no action\n", opts.ThresholdPct)
		return nil
	}

	direction := storage.ActionAutoMint
	if deviation.IsNegative() {
		direction = storage.ActionAutoBurn
	}
	amount := parity.SizeAmount(deviation.Abs(), opts.ThresholdPct, a.sizing())
	level := a.policy().LevelFor(amount)

	fmt.Fprintf(os.Stdout, "action: %s %s (before daily-cap clamping)\n", direction, amount)
	fmt.Fprintf(os.Stdout, "settlement approval level: %s\n", level)
	return nil
}
