// Package config handles configuration loading, saving, and schema definition.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Config is the top-level agentbus configuration.
// Uses json tags in camelCase to match the JSON config file format; the
// yaml tags mirror them for .yaml files.
type Config struct {
	Bus         BusConfig       `json:"bus" yaml:"bus"`
	Store       StoreConfig     `json:"store" yaml:"store"`
	DataService MCPServerConfig `json:"dataService" yaml:"dataService"`
	Data        DataConfig      `json:"data" yaml:"data"`
	Agents      AgentsConfig    `json:"agents" yaml:"agents"`
	Redis       RedisConfig     `json:"redis" yaml:"redis"`
	Monitor     MonitorConfig   `json:"monitor" yaml:"monitor"`
	Log         LogConfig       `json:"log" yaml:"log"`
}

// BusConfig holds mailbox settings.
type BusConfig struct {
	MailboxCapacity int `json:"mailboxCapacity,omitempty" yaml:"mailboxCapacity,omitempty"` // 0 = unbounded
}

// StoreConfig holds context store eviction settings.
type StoreConfig struct {
	TTLSeconds   int `json:"ttlSeconds,omitempty" yaml:"ttlSeconds,omitempty"` // 0 = never evict
	SweepSeconds int `json:"sweepSeconds,omitempty" yaml:"sweepSeconds,omitempty"`
}

// TTL returns the bundle time-to-live.
func (s StoreConfig) TTL() time.Duration { return time.Duration(s.TTLSeconds) * time.Second }

// SweepInterval returns how often stale bundles are swept.
func (s StoreConfig) SweepInterval() time.Duration {
	return time.Duration(s.SweepSeconds) * time.Second
}

// MCPServerConfig defines the data-service child process.
// An empty Command re-executes the running binary with the "serve" subcommand.
type MCPServerConfig struct {
	Name             string            `json:"name,omitempty" yaml:"name,omitempty"`
	Command          string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args             []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env              map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	RequestTimeoutMs int               `json:"requestTimeoutMs,omitempty" yaml:"requestTimeoutMs,omitempty"`
	Correlate        bool              `json:"correlate,omitempty" yaml:"correlate,omitempty"`
}

// RequestTimeout returns the per-request timeout.
func (m MCPServerConfig) RequestTimeout() time.Duration {
	return time.Duration(m.RequestTimeoutMs) * time.Millisecond
}

// DataConfig holds the consumption database settings.
type DataConfig struct {
	DBPath     string `json:"dbPath,omitempty" yaml:"dbPath,omitempty"`
	Consumers  int    `json:"consumers,omitempty" yaml:"consumers,omitempty"`
	Days       int    `json:"days,omitempty" yaml:"days,omitempty"`
	Seed       int64  `json:"seed,omitempty" yaml:"seed,omitempty"`             // 0 = time based
	FreshOnRun bool   `json:"freshOnRun,omitempty" yaml:"freshOnRun,omitempty"` // regenerate the DB on every run
}

// AgentsConfig holds per-agent settings.
type AgentsConfig struct {
	Monitor    MonitorAgentConfig    `json:"monitor" yaml:"monitor"`
	Incentives IncentivesAgentConfig `json:"incentives" yaml:"incentives"`
}

// MonitorAgentConfig configures the monitor agent.
type MonitorAgentConfig struct {
	Name       string `json:"name,omitempty" yaml:"name,omitempty"`
	IntervalMs int    `json:"intervalMs,omitempty" yaml:"intervalMs,omitempty"`
	Target     string `json:"target,omitempty" yaml:"target,omitempty"` // recipient of state_update
}

// Interval returns the polling interval.
func (m MonitorAgentConfig) Interval() time.Duration {
	return time.Duration(m.IntervalMs) * time.Millisecond
}

// IncentivesAgentConfig configures the incentives agent.
type IncentivesAgentConfig struct {
	Name               string  `json:"name,omitempty" yaml:"name,omitempty"`
	MaxAvgKwh          float64 `json:"maxAvgKwh,omitempty" yaml:"maxAvgKwh,omitempty"`
	HighUsageKwh       float64 `json:"highUsageKwh,omitempty" yaml:"highUsageKwh,omitempty"`
	TopDiscount        float64 `json:"topDiscount,omitempty" yaml:"topDiscount,omitempty"`
	BaseDiscount       float64 `json:"baseDiscount,omitempty" yaml:"baseDiscount,omitempty"`
	MaxRecommendations int     `json:"maxRecommendations,omitempty" yaml:"maxRecommendations,omitempty"`
}

// RedisConfig holds the optional response cache settings.
type RedisConfig struct {
	URL        string `json:"url,omitempty" yaml:"url,omitempty"` // empty = cache disabled
	Password   string `json:"password,omitempty" yaml:"password,omitempty"`
	DB         int    `json:"db,omitempty" yaml:"db,omitempty"`
	TTLSeconds int    `json:"ttlSeconds,omitempty" yaml:"ttlSeconds,omitempty"`
}

// TTL returns how long cached query results live.
func (r RedisConfig) TTL() time.Duration { return time.Duration(r.TTLSeconds) * time.Second }

// MonitorConfig holds the observer HTTP server settings.
type MonitorConfig struct {
	Enabled bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Addr    string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"` // console or json
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{
			SweepSeconds: 60,
		},
		DataService: MCPServerConfig{
			Name:             "data",
			RequestTimeoutMs: 5000,
		},
		Data: DataConfig{
			DBPath:    "data/mock_data.db",
			Consumers: 50,
			Days:      10,
		},
		Agents: AgentsConfig{
			Monitor: MonitorAgentConfig{
				Name:       "monitor",
				IntervalMs: 2000,
				Target:     "incentives",
			},
			Incentives: IncentivesAgentConfig{
				Name:               "incentives",
				MaxAvgKwh:          5.0,
				HighUsageKwh:       8.0,
				TopDiscount:        0.15,
				BaseDiscount:       0.10,
				MaxRecommendations: 5,
			},
		},
		Redis: RedisConfig{
			TTLSeconds: 30,
		},
		Monitor: MonitorConfig{
			Addr: "127.0.0.1:18791",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate reports every invalid setting, joined.
func (c Config) Validate() error {
	var errs []error
	if c.Bus.MailboxCapacity < 0 {
		errs = append(errs, fmt.Errorf("bus.mailboxCapacity must be >= 0, got %d", c.Bus.MailboxCapacity))
	}
	if c.Store.TTLSeconds < 0 {
		errs = append(errs, fmt.Errorf("store.ttlSeconds must be >= 0, got %d", c.Store.TTLSeconds))
	}
	if c.DataService.RequestTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("dataService.requestTimeoutMs must be > 0, got %d", c.DataService.RequestTimeoutMs))
	}
	if c.Agents.Monitor.IntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("agents.monitor.intervalMs must be > 0, got %d", c.Agents.Monitor.IntervalMs))
	}
	if c.Agents.Monitor.Name == "" || c.Agents.Incentives.Name == "" {
		errs = append(errs, errors.New("agent names must not be empty"))
	} else if c.Agents.Monitor.Name == c.Agents.Incentives.Name {
		errs = append(errs, fmt.Errorf("agent names must differ, both are %q", c.Agents.Monitor.Name))
	}
	if c.Data.Consumers <= 0 || c.Data.Days <= 0 {
		errs = append(errs, errors.New("data.consumers and data.days must be > 0"))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Monitor.Enabled && c.Monitor.Addr == "" {
		errs = append(errs, errors.New("monitor.addr is required when the monitor is enabled"))
	}
	return errors.Join(errs...)
}
