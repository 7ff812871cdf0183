package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/heavensprominence/credparity/internal/app"
)

var (
	submitAmount   string
	submitCurrency string
	submitType     string
	submitFrom     string
	submitTo       string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a transaction into the approval workflow",
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := decimal.NewFromString(submitAmount)
		if err != nil {
			return fmt.Errorf("invalid --amount value: %w", err)
		}

		return getApp().SubmitTx(cmd.Context(), app.SubmitOptions{
			Amount:     amount,
			Currency:   submitCurrency,
			Type:       submitType,
			FromWallet: submitFrom,
			ToWallet:   submitTo,
		})
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitAmount, "amount", "", "Transaction amount")
	submitCmd.Flags().StringVar(&submitCurrency, "currency", "", "Currency code")
	submitCmd.Flags().StringVar(&submitType, "type", "transfer", "Transaction type")
	submitCmd.Flags().StringVar(&submitFrom, "from", "", "Source wallet id")
	submitCmd.Flags().StringVar(&submitTo, "to", "", "Destination wallet id")
	_ = submitCmd.MarkFlagRequired("amount")
	_ = submitCmd.MarkFlagRequired("currency")
}
