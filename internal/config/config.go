package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ArchiveConfig controls the optional SQLite mirror of the history file.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ServeConfig configures the HTTP presenter.
type ServeConfig struct {
	Listen       string        `yaml:"listen"`
	PollInterval time.Duration `yaml:"poll_interval"`
	StaleAfter   time.Duration `yaml:"stale_after"`
	HistoryLimit int           `yaml:"history_limit"`
}

// Config structure for the collector and presenter.
type Config struct {
	Output           string        `yaml:"output"`
	History          string        `yaml:"history"`
	Interval         time.Duration `yaml:"interval"`
	AdapterTimeout   time.Duration `yaml:"adapter_timeout"`
	HistoryMaxRows   int           `yaml:"history_max_rows"`
	HistoryTrimEvery int           `yaml:"history_trim_every"`
	WriteRetries     int           `yaml:"write_retries"`
	LogLevel         string        `yaml:"log_level"`
	LogFile          string        `yaml:"log_file"`
	Archive          ArchiveConfig `yaml:"archive"`
	Serve            ServeConfig   `yaml:"serve"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		Output:           filepath.Join("data", "metrics.json"),
		Interval:         2 * time.Second,
		AdapterTimeout:   1500 * time.Millisecond,
		HistoryMaxRows:   1440,
		HistoryTrimEvery: 10,
		WriteRetries:     3,
		LogLevel:         "info",
		Archive: ArchiveConfig{
			Path: filepath.Join("data", "history.db"),
		},
		Serve: ServeConfig{
			Listen:       ":8085",
			PollInterval: 2 * time.Second,
			StaleAfter:   10 * time.Second,
			HistoryLimit: 300,
		},
	}
}

// Load reads configuration from path, filling anything missing with
// defaults. An empty path or a missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("parsing config: %w", err)
	}

	return ValidateAndFillDefaults(cfg), nil
}

// ValidateAndFillDefaults replaces invalid or zero values with defaults
// and clamps the adapter timeout to the poll interval.
func ValidateAndFillDefaults(cfg Config) Config {
	defaults := Default()

	if cfg.Output == "" {
		cfg.Output = defaults.Output
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.AdapterTimeout <= 0 {
		cfg.AdapterTimeout = defaults.AdapterTimeout
	}
	if cfg.AdapterTimeout > cfg.Interval {
		cfg.AdapterTimeout = cfg.Interval
	}
	if cfg.HistoryMaxRows <= 0 {
		cfg.HistoryMaxRows = defaults.HistoryMaxRows
	}
	if cfg.HistoryTrimEvery <= 0 {
		cfg.HistoryTrimEvery = defaults.HistoryTrimEvery
	}
	if cfg.WriteRetries < 0 {
		cfg.WriteRetries = defaults.WriteRetries
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.Archive.Path == "" {
		cfg.Archive.Path = defaults.Archive.Path
	}

	if cfg.Serve.Listen == "" {
		cfg.Serve.Listen = defaults.Serve.Listen
	}
	if cfg.Serve.PollInterval <= 0 {
		cfg.Serve.PollInterval = defaults.Serve.PollInterval
	}
	if cfg.Serve.StaleAfter <= 0 {
		cfg.Serve.StaleAfter = defaults.Serve.StaleAfter
	}
	if cfg.Serve.HistoryLimit <= 0 {
		cfg.Serve.HistoryLimit = defaults.Serve.HistoryLimit
	}

	return cfg
}

// HistoryPath returns the history CSV location: the configured path, or
// history.csv next to the snapshot file.
func (c Config) HistoryPath() string {
	if c.History != "" {
		return c.History
	}
	return filepath.Join(filepath.Dir(c.Output), "history.csv")
}
