package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "trustgate",
	Short: "Trust-enforcing sidecar for inter-agent calls",
	Long:  "Sits between a calling agent and its targets. Discovers capability manifests, scores trust, inspects payloads for sensitive content, enforces policy, records every decision in a tamper-evident log, and tracks reversible calls for compensation.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
