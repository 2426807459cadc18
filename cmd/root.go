package cmd

import (
	"fmt"
	"os"

	"echofm/logger"
	"echofm/server"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "echofm",
	Short: "echofm is a shared music catalog and acquisition service.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.InitLogger(logger.Config{
			Level:      logger.LogLevel(os.Getenv("LOG_LEVEL")),
			OutputPath: os.Getenv("LOG_FILE"),
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		})
	},
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
