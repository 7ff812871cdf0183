package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/heavensprominence/credparity/internal/app"
)

var (
	triggerAction string
	triggerAmount string
	triggerReason string
	triggerActor  string
	triggerRole   string
)

var triggerCmd = &cobra.Command{
	Use:   "trigger CURRENCY",
	Short: "Trigger a manual mint or burn",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.TriggerOptions{
			Currency:   args[0],
			ActionType: triggerAction,
			Reason:     triggerReason,
			ActorID:    triggerActor,
			ActorRole:  triggerRole,
		}

		if triggerAmount != "" {
			amount, err := decimal.NewFromString(triggerAmount)
			if err != nil {
				return fmt.Errorf("invalid --amount value: %w", err)
			}
			opts.Amount = amount
		}

		return getApp().Trigger(cmd.Context(), opts)
	},
}

func init() {
	triggerCmd.Flags().StringVar(&triggerAction, "action", "manual_mint", "Action type (manual_mint or manual_burn)")
	triggerCmd.Flags().StringVar(&triggerAmount, "amount", "", "Amount (defaults to deviation-sized)")
	triggerCmd.Flags().StringVar(&triggerReason, "reason", "", "Audit reason for the action")
	triggerCmd.Flags().StringVar(&triggerActor, "actor", "", "Acting operator id")
	triggerCmd.Flags().StringVar(&triggerRole, "role", "admin", "Acting operator role")
	_ = triggerCmd.MarkFlagRequired("actor")
}
