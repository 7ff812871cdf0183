package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/heavensprominence/credparity/internal/app"
)

var (
	simulateTarget    string
	simulateMarket    string
	simulateThreshold string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Preview the parity decision for hypothetical rates",
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := decimal.NewFromString(simulateTarget)
		if err != nil {
			return fmt.Errorf("invalid --target value: %w", err)
		}
		market, err := decimal.NewFromString(simulateMarket)
		if err != nil {
			return fmt.Errorf("invalid --market value: %w", err)
		}
		threshold, err := decimal.NewFromString(simulateThreshold)
		if err != nil {
			return fmt.Errorf("invalid --threshold value: %w", err)
		}

		return getApp().Simulate(app.SimulateOptions{
			TargetRate:   target,
			MarketRate:   market,
			ThresholdPct: threshold,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateTarget, "target", "1.0", "Target (peg) rate")
	simulateCmd.Flags().StringVar(&simulateMarket, "market", "", "Observed market rate")
	simulateCmd.Flags().StringVar(&simulateThreshold, "threshold", "2.0", "Deviation threshold in percent")
	_ = simulateCmd.MarkFlagRequired("market")
}
