package cmd

import (
	"echofm/server"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a single stuck-download reclaim sweep and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.SweepOnce()
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
