package config

import (
	"encoding/json"
	"os"
	"strconv"
)

// Config holds all application configuration
type Config struct {
	ServerAddress string   `json:"serverAddress"`
	DatabasePath  string   `json:"databasePath"`
	DatabaseURL   string   `json:"databaseUrl"`
	Security      Security `json:"security"`
	Rollout       Rollout  `json:"rollout"`
}

// UsePostgres returns true if PostgreSQL should be used
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// Security configuration
type Security struct {
	APIKey       string `json:"apiKey"`
	APIKeyHeader string `json:"apiKeyHeader"`
}

// Rollout configuration for the background orchestrator
type Rollout struct {
	TickIntervalSeconds int    `json:"tickIntervalSeconds"`
	GracePeriodSeconds  int    `json:"gracePeriodSeconds"`
	OnStuck             string `json:"onStuck"` // pause, proceed or fail
	AutoRollback        bool   `json:"autoRollback"`
}

// Default configuration
func defaultConfig() *Config {
	return &Config{
		ServerAddress: ":5000",
		DatabasePath:  "fleetsync.db",
		Security: Security{
			APIKey:       "CHANGE_THIS_TO_A_SECURE_API_KEY_AT_LEAST_32_CHARS",
			APIKeyHeader: "X-API-Key",
		},
		Rollout: Rollout{
			TickIntervalSeconds: 30,
			GracePeriodSeconds:  600,
			OnStuck:             "pause",
			AutoRollback:        false,
		},
	}
}

// Load loads configuration from file or environment
func Load() (*Config, error) {
	cfg := defaultConfig()

	// Try to load from config file
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// Override from environment variables
	if addr := os.Getenv("SERVER_ADDRESS"); addr != "" {
		cfg.ServerAddress = addr
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	if apiKey := os.Getenv("API_KEY"); apiKey != "" {
		cfg.Security.APIKey = apiKey
	}

	// Rollout orchestrator configuration
	if interval := os.Getenv("ROLLOUT_TICK_INTERVAL_SECONDS"); interval != "" {
		if seconds, err := strconv.Atoi(interval); err == nil && seconds > 0 {
			cfg.Rollout.TickIntervalSeconds = seconds
		}
	}
	if grace := os.Getenv("ROLLOUT_GRACE_PERIOD_SECONDS"); grace != "" {
		if seconds, err := strconv.Atoi(grace); err == nil && seconds >= 0 {
			cfg.Rollout.GracePeriodSeconds = seconds
		}
	}
	if onStuck := os.Getenv("ROLLOUT_ON_STUCK"); onStuck != "" {
		cfg.Rollout.OnStuck = onStuck
	}
	if autoRollback := os.Getenv("ROLLOUT_AUTO_ROLLBACK"); autoRollback != "" {
		cfg.Rollout.AutoRollback = autoRollback == "true" || autoRollback == "1"
	}

	return cfg, nil
}
