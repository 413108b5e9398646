package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dayuer/agentbus/internal/config"
	"github.com/dayuer/agentbus/internal/dataservice"
	"github.com/dayuer/agentbus/internal/mcp"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and check the data service",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	out := cmd.OutOrStdout()

	path := configPath
	if path == "" {
		path = config.GetConfigPath()
	}

	fmt.Fprintln(out, "🚌 agentbus Status")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Config: %s\n", path)
	fmt.Fprintf(out, "Database: %s\n", cfg.Data.DBPath)
	fmt.Fprintf(out, "Agents: %s → %s every %s\n", cfg.Agents.Monitor.Name, cfg.Agents.Monitor.Target, cfg.Agents.Monitor.Interval())
	if cfg.Bus.MailboxCapacity > 0 {
		fmt.Fprintf(out, "Mailbox capacity: %d\n", cfg.Bus.MailboxCapacity)
	} else {
		fmt.Fprintln(out, "Mailbox capacity: unbounded")
	}
	if cfg.Monitor.Enabled {
		fmt.Fprintf(out, "Monitor: http://%s\n", cfg.Monitor.Addr)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	cache := openCache(ctx, cfg, log)
	fmt.Fprintf(out, "Redis: %s\n", mark(cache.Available()))
	_ = cache.Close()

	clientCfg, err := dataServiceConfig(cfg, log)
	if err != nil {
		return err
	}
	client, err := mcp.Start(ctx, clientCfg)
	if err != nil {
		fmt.Fprintf(out, "Data service: ✗ (%v)\n", err)
		return nil
	}
	defer client.Close()

	start := time.Now()
	resp, err := client.Request(ctx, mcp.Request{"cmd": dataservice.CmdPing}, cfg.DataService.RequestTimeout())
	switch {
	case err != nil:
		fmt.Fprintf(out, "Data service: ✗ (%v)\n", err)
	case !resp.OK():
		fmt.Fprintf(out, "Data service: ✗ (%v)\n", resp.Err())
	default:
		fmt.Fprintf(out, "Data service: ✓ pid %d, %s\n", client.Pid(), time.Since(start).Round(time.Millisecond))
	}
	return nil
}

func mark(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗ (disabled)"
}
