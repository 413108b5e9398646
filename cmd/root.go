package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

// configPath is the --config flag shared by every command.
var configPath string

var rootCmd = &cobra.Command{
	Use:   "agentbus",
	Short: "agentbus: in-process agent messaging with a subprocess data service",
	Long: `agentbus runs cooperating agents that exchange envelopes over an in-process
mailbox bus, share context bundles, and query a child data-service process
over a line-delimited JSON protocol.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = Version
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ~/.agentbus/config.json)")
}
