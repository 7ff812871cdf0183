package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/heavensprominence/credparity/internal/storage"
)

var (
	paritySetAuto      bool
	paritySetTarget    string
	paritySetThreshold string
	paritySetMaxMint   string
	paritySetMaxBurn   string
	paritySetCooldown  int
)

var parityCmd = &cobra.Command{
	Use:   "parity",
	Short: "Inspect and manage per-currency parity configuration",
}

var parityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured currencies",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListParity(cmd.Context())
	},
}

var paritySetCmd = &cobra.Command{
	Use:   "set CURRENCY",
	Short: "Create or update a currency's parity configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := storage.ParityConfig{
			Currency:        args[0],
			AutoEnabled:     paritySetAuto,
			CooldownMinutes: paritySetCooldown,
		}

		var err error
		if cfg.TargetRate, err = decimal.NewFromString(paritySetTarget); err != nil {
			return fmt.Errorf("invalid --target value: %w", err)
		}
		if cfg.DeviationThresholdPct, err = decimal.NewFromString(paritySetThreshold); err != nil {
			return fmt.Errorf("invalid --threshold value: %w", err)
		}
		if cfg.MaxDailyMint, err = decimal.NewFromString(paritySetMaxMint); err != nil {
			return fmt.Errorf("invalid --max-mint value: %w", err)
		}
		if cfg.MaxDailyBurn, err = decimal.NewFromString(paritySetMaxBurn); err != nil {
			return fmt.Errorf("invalid --max-burn value: %w", err)
		}

		return getApp().SetParity(cmd.Context(), cfg)
	},
}

func init() {
	paritySetCmd.Flags().BoolVar(&paritySetAuto, "auto", true, "Enable automatic parity management")
	paritySetCmd.Flags().StringVar(&paritySetTarget, "target", "1.0", "Target (peg) rate")
	paritySetCmd.Flags().StringVar(&paritySetThreshold, "threshold", "2.0", "Deviation threshold in percent")
	paritySetCmd.Flags().StringVar(&paritySetMaxMint, "max-mint", "1000", "Maximum amount minted per UTC day")
	paritySetCmd.Flags().StringVar(&paritySetMaxBurn, "max-burn", "1000", "Maximum amount burned per UTC day")
	paritySetCmd.Flags().IntVar(&paritySetCooldown, "cooldown", 60, "Minutes between actions on the same currency")

	parityCmd.AddCommand(parityListCmd)
	parityCmd.AddCommand(paritySetCmd)
}
