package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the zoolite version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("zoolite %s (commit %s, built %s)\n", Version, Commit, Date)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
