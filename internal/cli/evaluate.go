package cli

import (
	"github.com/spf13/cobra"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate CURRENCY",
	Short: "Run a single on-demand evaluation for one currency",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().EvaluateOnce(cmd.Context(), args[0])
	},
}
