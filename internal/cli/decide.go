package cli

import (
	"github.com/spf13/cobra"

	"github.com/heavensprominence/credparity/internal/app"
)

var (
	decideVerdict string
	decideActor   string
	decideRole    string
)

var decideCmd = &cobra.Command{
	Use:   "decide TRANSACTION_ID",
	Short: "Approve or reject a pending transaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().DecideTx(cmd.Context(), app.DecideOptions{
			TransactionID: args[0],
			Decision:      decideVerdict,
			ActorID:       decideActor,
			ActorRole:     decideRole,
		})
	},
}

func init() {
	decideCmd.Flags().StringVar(&decideVerdict, "decision", "approve", "Verdict (approve or reject)")
	decideCmd.Flags().StringVar(&decideActor, "actor", "", "Deciding operator id")
	decideCmd.Flags().StringVar(&decideRole, "role", "admin", "Deciding operator role")
	_ = decideCmd.MarkFlagRequired("actor")
}
