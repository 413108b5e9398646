package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dayuer/agentbus/internal/config"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize agentbus configuration and mock data",
	RunE:  runOnboard,
}

func init() {
	rootCmd.AddCommand(onboardCmd)
}

func runOnboard(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	path := configPath
	if path == "" {
		path = config.GetConfigPath()
	}

	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(out, "Config already exists at %s\n", path)
	} else {
		if err := config.Save(config.DefaultConfig(), path); err != nil {
			return fmt.Errorf("creating config: %w", err)
		}
		fmt.Fprintf(out, "✓ Created config at %s\n", path)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	n, err := prepareData(cmd.Context(), cfg, newLogger(cfg), false)
	if err != nil {
		return fmt.Errorf("preparing data: %w", err)
	}
	fmt.Fprintf(out, "✓ Database at %s (%d records)\n", cfg.Data.DBPath, n)

	fmt.Fprintln(out, "\n🚌 agentbus is ready!")
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Review the config file")
	fmt.Fprintln(out, "  2. Run: agentbus run --once")
	return nil
}
