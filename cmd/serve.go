package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dayuer/agentbus/internal/dataservice"
	"github.com/dayuer/agentbus/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve consumption data over stdin/stdout",
	Long: `Run the data service: read one JSON request per line on stdin and write
one JSON response per line on stdout. Logs go to stderr. "agentbus run"
spawns this command unless dataService.command is configured.`,
	RunE: runServe,
}

var serveDB string

func init() {
	serveCmd.Flags().StringVar(&serveDB, "db", "", "SQLite database path (overrides data.dbPath)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveDB != "" {
		cfg.Data.DBPath = serveDB
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := dataservice.Open(cfg.Data.DBPath, log)
	if err != nil {
		return err
	}
	defer store.Close()

	cache := openCache(ctx, cfg, log)
	defer cache.Close()

	srv := mcp.NewServer(mcp.WithServerLogger(log))
	dataservice.NewService(store, cache, log).Register(srv)
	return srv.ServeStdio(ctx)
}
