// Package cmd is the CLI entrypoint, mirroring the teacher's rootCmd/runCmd
// split (cobra root command + one operational subcommand).
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "modelop-gateway",
	Short: "Admission control and continuous batching core for an inference gateway",
}

// Execute runs the root command, exiting non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
