package cmd

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"sort"

	"github.com/rs/zerolog"

	"github.com/dayuer/agentbus/internal/config"
	"github.com/dayuer/agentbus/internal/dataservice"
	"github.com/dayuer/agentbus/internal/logging"
	"github.com/dayuer/agentbus/internal/mcp"
	"github.com/dayuer/agentbus/internal/redis"
)

// loadConfig loads the --config file, or the default path.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// newLogger always writes to stderr; stdout belongs to reports and, in
// the serve command, to the protocol.
func newLogger(cfg config.Config) zerolog.Logger {
	return logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Out: os.Stderr})
}

// dataServiceConfig builds the protocol client settings. An empty command
// re-executes this binary as "agentbus serve" on the configured database.
func dataServiceConfig(cfg config.Config, log zerolog.Logger) (mcp.ClientConfig, error) {
	ds := cfg.DataService
	command, args := ds.Command, ds.Args
	if command == "" {
		exe, err := os.Executable()
		if err != nil {
			return mcp.ClientConfig{}, fmt.Errorf("locating executable: %w", err)
		}
		command = exe
		args = []string{"serve", "--db", cfg.Data.DBPath}
		if configPath != "" {
			args = append(args, "--config", configPath)
		}
	}

	keys := make([]string, 0, len(ds.Env))
	for k := range ds.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+ds.Env[k])
	}

	return mcp.ClientConfig{
		Command:   command,
		Args:      args,
		Env:       env,
		Correlate: ds.Correlate,
		Logger:    log.With().Str("server", ds.Name).Logger(),
	}, nil
}

// openCache connects the optional Redis cache. Connection failures are
// logged and caching is disabled.
func openCache(ctx context.Context, cfg config.Config, log zerolog.Logger) *redis.Cache {
	cache, err := redis.New(ctx, redis.Config{
		URL:      cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      cfg.Redis.TTL(),
	}, log)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, caching disabled")
		return nil
	}
	return cache
}

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		return nil
	}
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
}

// prepareData seeds the database when forced or when it holds no records.
// It returns the number of records available afterwards.
func prepareData(ctx context.Context, cfg config.Config, log zerolog.Logger, force bool) (int, error) {
	store, err := dataservice.Open(cfg.Data.DBPath, log)
	if err != nil {
		return 0, err
	}
	defer store.Close()

	n, err := store.Count(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 && !force {
		log.Debug().Int("records", n).Str("db", cfg.Data.DBPath).Msg("using existing data")
		return n, nil
	}

	n, err = store.Seed(ctx, dataservice.SeedOptions{
		Consumers: cfg.Data.Consumers,
		Days:      cfg.Data.Days,
		Rand:      newRand(cfg.Data.Seed),
	})
	if err != nil {
		return 0, err
	}

	cache := openCache(ctx, cfg, log)
	defer cache.Close()
	cache.Del(ctx, redis.SummaryKey(cfg.Data.DBPath))
	cache.DelPrefix(ctx, redis.RecordsPrefix(cfg.Data.DBPath))
	return n, nil
}
