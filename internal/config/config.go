package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the harvester.
type Config struct {
	Storage  Storage  `yaml:"storage"`
	Exchange Exchange `yaml:"exchange"`
	Extract  Extract  `yaml:"extract"`
	Notify   Notify   `yaml:"notify"`
	Metrics  Metrics  `yaml:"metrics"`
	Logging  Logging  `yaml:"logging"`
}

// Storage selects the sink backend and its location.
type Storage struct {
	Backend    string `yaml:"backend"` // sqlite or parquet
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Exchange holds upstream endpoint settings. No credentials: all consumed
// endpoints are public market data.
type Exchange struct {
	BaseURL         string `yaml:"base_url"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Extract controls the extraction engine.
type Extract struct {
	Symbols             []string `yaml:"symbols"`
	DefaultStart        string   `yaml:"default_start"` // YYYY-MM-DD
	MaxWorkers          int      `yaml:"max_workers"`
	BatchSize           int      `yaml:"batch_size"`
	OverlapMinutes      int      `yaml:"overlap_minutes"`
	EndBufferMinutes    int      `yaml:"end_buffer_minutes"`
	MaxCatchupDays      int      `yaml:"max_catchup_days"`
	HealGaps            bool     `yaml:"heal_gaps"`
	HealChunkDays       int      `yaml:"heal_chunk_days"`
	GapToleranceMinutes int      `yaml:"gap_tolerance_minutes"`
	MaxRetries          int      `yaml:"max_retries"`
}

// Notify configures the event broker. Disabled when URL is empty.
type Notify struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
	Prefix   string `yaml:"prefix"`
}

// Metrics configures the Prometheus listener. Disabled when Addr is empty.
type Metrics struct {
	Addr string `yaml:"addr"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Storage: Storage{
			Backend:    "sqlite",
			SQLitePath: "harvester.db",
			DataDir:    "data",
		},
		Exchange: Exchange{
			TimeoutSeconds:  30,
			RateLimitPerMin: 1200,
		},
		Extract: Extract{
			DefaultStart:        "2020-01-01",
			MaxWorkers:          4,
			OverlapMinutes:      30,
			EndBufferMinutes:    5,
			MaxCatchupDays:      30,
			HealGaps:            true,
			HealChunkDays:       7,
			GapToleranceMinutes: 1,
			MaxRetries:          3,
		},
		Logging: Logging{Level: "info", Format: "json"},
	}
}

// Load reads the YAML configuration file at the given path, parses it over
// the defaults, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HARVESTER_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("EXCHANGE_BASE_URL"); v != "" {
		cfg.Exchange.BaseURL = v
	}
	if v := os.Getenv("RATE_LIMIT_PER_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Exchange.RateLimitPerMin = n
		}
	}

	if v := os.Getenv("MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Extract.MaxWorkers = n
		}
	}

	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.Notify.URL = v
	}

	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
