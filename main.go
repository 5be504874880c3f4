package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "intelhub",
	Short:         "Real-time intelligence WebSocket hub",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogger(cmd)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("log-format", "text", "log format: text or json")
	flags.String("log-level", "info", "log level: debug, info, warn or error")

	rootCmd.AddCommand(serveCmd, watchCmd, publishCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
