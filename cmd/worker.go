package cmd

import (
	"echofm/server"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a headless acquisition worker (pool + reclaimer, no HTTP)",
	Run: func(cmd *cobra.Command, args []string) {
		server.StartWorker()
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
