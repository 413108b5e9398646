package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvDBPath      = "AGENTBUS_DB_PATH"
	EnvRedisURL    = "AGENTBUS_REDIS_URL"
	EnvLogLevel    = "AGENTBUS_LOG_LEVEL"
	EnvLogFormat   = "AGENTBUS_LOG_FORMAT"
	EnvMonitorAddr = "AGENTBUS_MONITOR_ADDR"
	EnvCapacity    = "AGENTBUS_MAILBOX_CAPACITY"
)

// GetConfigPath returns the default config file path (~/.agentbus/config.json).
func GetConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".agentbus", "config.json")
}

// Load reads configuration from a JSON (comments allowed) or YAML file,
// then applies AGENTBUS_* environment overrides. A .env file in the
// working directory is loaded first when present.
// If path is empty, uses the default config path.
// If the file doesn't exist, the defaults are used.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = GetConfigPath()
	}

	cfg := DefaultConfig() // start with defaults so zero-value fields get filled
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, data, &cfg); err != nil {
			return DefaultConfig(), fmt.Errorf("parse %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return DefaultConfig(), err
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Save writes configuration to path, as YAML for .yaml/.yml files and
// indented JSON otherwise.
// If path is empty, uses the default config path.
func Save(cfg Config, path string) error {
	if path == "" {
		path = GetConfigPath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func decode(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return json.Unmarshal(jsonc.ToJSON(data), cfg)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.Data.DBPath = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv(EnvMonitorAddr); v != "" {
		cfg.Monitor.Addr = v
		cfg.Monitor.Enabled = true
	}
	if v := os.Getenv(EnvCapacity); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCapacity, err)
		}
		cfg.Bus.MailboxCapacity = n
	}
	return nil
}
