// Package config handles configuration loading for the fetcher. Configuration
// is read from a YAML file, overridden by environment variables, and validated
// before use.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/Arkalin/ccxt-plus/internal/errors"
)

// Config is the complete application configuration.
type Config struct {
	// DefaultSinceMillis is the start timestamp used when a fetch does not
	// specify one. Defaults to the 2017-08-17 Binance listing epoch.
	DefaultSinceMillis int64 `yaml:"default_since_millis"`

	Fetch    FetchConfig    `yaml:"fetch"`
	Saver    SaverConfig    `yaml:"saver"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Logging  LoggingConfig  `yaml:"logging"`

	// ProxyFile points to the optional SOCKS5 proxy list. An empty value or
	// a missing file disables the proxy pool.
	ProxyFile string `yaml:"proxy_file"`
}

// FetchConfig tunes the paging worker pool.
type FetchConfig struct {
	// Workers is the number of concurrent fetch workers per task.
	Workers int `yaml:"workers"`
	// LocalWorkerRatio divides Workers to size the collector goroutines:
	// collectors = max(1, Workers/LocalWorkerRatio).
	LocalWorkerRatio int `yaml:"local_worker_ratio"`
	// MaxAttempts is the per-page retry budget and the probe retry budget.
	MaxAttempts int `yaml:"max_attempts"`
}

// SaverConfig tunes CSV persistence.
type SaverConfig struct {
	// DataPath is the root directory for CSV output.
	DataPath string `yaml:"data_path"`
	// ChunkSize is the number of rows per CSV chunk file.
	ChunkSize int `yaml:"chunk_size"`
	// MaxMissingPoints is the largest number of detected holes tolerated
	// before a task is failed instead of repaired.
	MaxMissingPoints int `yaml:"max_missing_points"`
}

// ExchangeConfig tunes the exchange adapter.
type ExchangeConfig struct {
	// RateLimit is the maximum number of requests per second.
	RateLimit int `yaml:"rate_limit"`
	// TimeoutSeconds is the per-request HTTP timeout.
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// PageLimit is the number of records requested per page.
	PageLimit int `yaml:"page_limit"`
}

// LoggingConfig configures structured logging output.
type LoggingConfig struct {
	Level   string `yaml:"level"`   // debug, info, warn, error
	Format  string `yaml:"format"`  // text, json
	Console bool   `yaml:"console"` // log to stderr
	File    bool   `yaml:"file"`    // log to rotating file
	Path    string `yaml:"path"`    // log directory when File is set

	// Rotation settings for the file handler.
	MaxSizeMB  int `yaml:"max_size_mb"`
	MaxBackups int `yaml:"max_backups"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		DefaultSinceMillis: 1502928000000, // 2017-08-17T00:00:00Z
		Fetch: FetchConfig{
			Workers:          8,
			LocalWorkerRatio: 4,
			MaxAttempts:      5,
		},
		Saver: SaverConfig{
			DataPath:         "data",
			ChunkSize:        100000,
			MaxMissingPoints: 5000,
		},
		Exchange: ExchangeConfig{
			RateLimit:      10,
			TimeoutSeconds: 30,
			PageLimit:      1000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Console:    true,
			File:       false,
			Path:       "logs",
			MaxSizeMB:  3,
			MaxBackups: 3,
		},
	}
}

// Load reads configuration from the given YAML file, applies environment
// overrides and validates the result. A missing file is not an error; defaults
// plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, apperrors.Wrap(apperrors.CodeConfiguration, fmt.Sprintf("failed to read config file %s", path), err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeConfiguration, fmt.Sprintf("failed to parse config file %s", path), err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with CCXTPLUS_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("CCXTPLUS_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Fetch.Workers = n
		}
	}
	if v := os.Getenv("CCXTPLUS_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Fetch.MaxAttempts = n
		}
	}
	if v := os.Getenv("CCXTPLUS_DATA_PATH"); v != "" {
		c.Saver.DataPath = v
	}
	if v := os.Getenv("CCXTPLUS_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Saver.ChunkSize = n
		}
	}
	if v := os.Getenv("CCXTPLUS_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Exchange.RateLimit = n
		}
	}
	if v := os.Getenv("CCXTPLUS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CCXTPLUS_PROXY_FILE"); v != "" {
		c.ProxyFile = v
	}
}

// Validate checks the configuration for consistency, aggregating all problems
// into a single error.
func (c *Config) Validate() error {
	var problems []string

	if c.DefaultSinceMillis <= 0 {
		problems = append(problems, "default_since_millis must be greater than 0")
	}
	if c.Fetch.Workers <= 0 {
		problems = append(problems, "fetch.workers must be greater than 0")
	}
	if c.Fetch.LocalWorkerRatio <= 0 {
		problems = append(problems, "fetch.local_worker_ratio must be greater than 0")
	}
	if c.Fetch.MaxAttempts <= 0 {
		problems = append(problems, "fetch.max_attempts must be greater than 0")
	}
	if c.Saver.DataPath == "" {
		problems = append(problems, "saver.data_path is required")
	}
	if c.Saver.ChunkSize <= 0 {
		problems = append(problems, "saver.chunk_size must be greater than 0")
	}
	if c.Saver.MaxMissingPoints < 0 {
		problems = append(problems, "saver.max_missing_points cannot be negative")
	}
	if c.Exchange.RateLimit <= 0 {
		problems = append(problems, "exchange.rate_limit must be greater than 0")
	}
	if c.Exchange.TimeoutSeconds <= 0 {
		problems = append(problems, "exchange.timeout_seconds must be greater than 0")
	}
	if c.Exchange.PageLimit <= 0 {
		problems = append(problems, "exchange.page_limit must be greater than 0")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, "logging.level must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		problems = append(problems, "logging.format must be one of: text, json")
	}
	if c.Logging.File && c.Logging.Path == "" {
		problems = append(problems, "logging.path is required when logging.file is set")
	}

	if len(problems) > 0 {
		return apperrors.NewConfiguration("configuration validation errors:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}
