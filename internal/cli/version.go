package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/heavensprominence/credparity/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the credparity build identity",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "credparity", version.String())
	},
}
