package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dayuer/agentbus/internal/agent"
	"github.com/dayuer/agentbus/internal/bus"
	"github.com/dayuer/agentbus/internal/ctxstore"
	"github.com/dayuer/agentbus/internal/mcp"
	"github.com/dayuer/agentbus/internal/monitor"
	"github.com/dayuer/agentbus/internal/report"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitor and incentives agents",
	Long: `Start the bus, the context store, the data-service child process and both
agents. The monitor snapshots consumption on an interval and notifies the
incentives agent, which prints a report for every update.`,
	RunE: runAgents,
}

var (
	runOnce  bool
	runFresh bool
)

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Stop after the first incentive report")
	runCmd.Flags().BoolVar(&runFresh, "fresh", false, "Regenerate the mock database before starting")
	rootCmd.AddCommand(runCmd)
}

func runAgents(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	records, err := prepareData(ctx, cfg, log, runFresh || cfg.Data.FreshOnRun)
	if err != nil {
		return fmt.Errorf("preparing data: %w", err)
	}
	log.Info().Int("records", records).Str("db", cfg.Data.DBPath).Msg("data ready")

	msgBus := bus.New(bus.WithCapacity(cfg.Bus.MailboxCapacity), bus.WithLogger(log))
	store := ctxstore.New(ctxstore.WithTTL(cfg.Store.TTL()), ctxstore.WithLogger(log))
	if cfg.Store.TTL() > 0 {
		go store.RunSweeper(ctx, cfg.Store.SweepInterval())
	}

	clientCfg, err := dataServiceConfig(cfg, log)
	if err != nil {
		return err
	}
	client, err := mcp.Start(ctx, clientCfg)
	if err != nil {
		return fmt.Errorf("starting data service: %w", err)
	}
	defer client.Close()

	if cfg.Monitor.Enabled {
		srv := monitor.NewServer(monitor.Config{Addr: cfg.Monitor.Addr, Bus: msgBus, Store: store, Logger: log})
		go func() {
			if err := srv.Start(ctx); err != nil {
				log.Error().Err(err).Str("addr", cfg.Monitor.Addr).Msg("monitor server failed")
			}
		}()
	}

	out := report.New(cmd.OutOrStdout())
	timeout := cfg.DataService.RequestTimeout()
	inc := cfg.Agents.Incentives

	incentives := agent.NewIncentives(
		agent.NewShell(inc.Name, msgBus, agent.WithShellLogger(log)),
		client, store,
		agent.IncentivesConfig{
			MaxAvgKwh:          inc.MaxAvgKwh,
			HighUsageKwh:       inc.HighUsageKwh,
			TopDiscount:        inc.TopDiscount,
			BaseDiscount:       inc.BaseDiscount,
			MaxRecommendations: inc.MaxRecommendations,
			RequestTimeout:     timeout,
			Once:               runOnce,
		},
		func(ev agent.Evaluation) {
			if err := out.Write(ev); err != nil {
				log.Warn().Err(err).Msg("writing report")
			}
		},
	)
	mon := agent.NewMonitor(
		agent.NewShell(cfg.Agents.Monitor.Name, msgBus, agent.WithShellLogger(log)),
		client, store,
		agent.MonitorConfig{
			Target:         cfg.Agents.Monitor.Target,
			Interval:       cfg.Agents.Monitor.Interval(),
			RequestTimeout: timeout,
		},
	)

	log.Info().Int("pid", client.Pid()).Bool("once", runOnce).Msg("agents starting")
	err = agent.RunAll(ctx, mon, incentives, processWatch{client})
	log.Info().Interface("bus", msgBus.Stats()).Int("contexts", store.Len()).Msg("shutting down")
	return err
}

// processWatch ends the run if the data service dies on its own.
type processWatch struct {
	client *mcp.Client
}

func (processWatch) Name() string { return "data-service" }

func (w processWatch) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-w.client.Done():
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: %v", mcp.ErrProcessExited, w.client.ExitErr())
	}
}
