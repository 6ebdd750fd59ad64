// Package config loads build settings from an optional TOML file, a .env
// file, and ISDLITE_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/ngmaloney/isd-lite/internal/ncei"
)

// Config is the full application configuration.
type Config struct {
	Archive  ArchiveConfig  `toml:"archive"`  // Remote archive locations
	Download DownloadConfig `toml:"download"` // Fetch and concurrency settings
	Load     LoadConfig     `toml:"load"`     // Dataset assembly settings
	Logging  LoggingConfig  `toml:"logging"`  // Application logging settings
}

// ArchiveConfig points at the NCEI archive.
type ArchiveConfig struct {
	BaseURL    string `toml:"base_url"`    // ISD-Lite root, year directories below it
	HistoryURL string `toml:"history_url"` // isd-history.txt location
	UserAgent  string `toml:"user_agent"`  // User-Agent header for every request
}

// DownloadConfig controls the fetcher and orchestrator.
type DownloadConfig struct {
	Jobs               int     `toml:"jobs"`                    // Concurrent transfers
	MaxRetries         int     `toml:"max_retries"`             // Retries per request after the first attempt
	RetryDelayMs       int     `toml:"retry_delay_ms"`          // Initial backoff delay
	RetryMultiplier    float64 `toml:"retry_multiplier"`        // Backoff growth factor
	RequestTimeoutSecs int     `toml:"request_timeout_seconds"` // Per-attempt timeout including body transfer
	BreakerFailures    int     `toml:"breaker_failures"`        // Consecutive transient failures that open the circuit (0 = off)
	BreakerTimeoutSecs int     `toml:"breaker_timeout_seconds"` // How long the circuit stays open
	ValidatorStore     string  `toml:"validator_store"`         // "sidefile" or "sqlite"
	CacheDBPath        string  `toml:"cache_db_path"`           // sqlite file, defaults to <data dir>/isd-lite-cache.db
}

// LoadConfig controls observation loading.
type LoadConfig struct {
	OnParseError string `toml:"on_parse_error"` // "skip" drops the station, "abort" fails the build
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // "console" or "json"
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Archive: ArchiveConfig{
			BaseURL:    ncei.DefaultBaseURL,
			HistoryURL: ncei.DefaultHistoryURL,
			UserAgent:  "isd-lite/1.0",
		},
		Download: DownloadConfig{
			Jobs:               8,
			MaxRetries:         3,
			RetryDelayMs:       1000,
			RetryMultiplier:    2,
			RequestTimeoutSecs: 60,
			BreakerFailures:    10,
			BreakerTimeoutSecs: 30,
			ValidatorStore:     "sidefile",
		},
		Load:    LoadConfig{OnParseError: "skip"},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// Load builds the configuration. path may be empty; a named file that does
// not exist is an error. A .env file in the working directory is read if
// present.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	// .env values never override variables already set in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := []struct {
		key string
		dst *string
	}{
		{"ISDLITE_BASE_URL", &c.Archive.BaseURL},
		{"ISDLITE_HISTORY_URL", &c.Archive.HistoryURL},
		{"ISDLITE_USER_AGENT", &c.Archive.UserAgent},
		{"ISDLITE_VALIDATOR_STORE", &c.Download.ValidatorStore},
		{"ISDLITE_CACHE_DB", &c.Download.CacheDBPath},
		{"ISDLITE_ON_PARSE_ERROR", &c.Load.OnParseError},
		{"ISDLITE_LOG_LEVEL", &c.Logging.Level},
		{"ISDLITE_LOG_FORMAT", &c.Logging.Format},
	}
	for _, s := range strs {
		if v, ok := os.LookupEnv(s.key); ok {
			*s.dst = v
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"ISDLITE_JOBS", &c.Download.Jobs},
		{"ISDLITE_MAX_RETRIES", &c.Download.MaxRetries},
		{"ISDLITE_RETRY_DELAY_MS", &c.Download.RetryDelayMs},
		{"ISDLITE_REQUEST_TIMEOUT_SECONDS", &c.Download.RequestTimeoutSecs},
		{"ISDLITE_BREAKER_FAILURES", &c.Download.BreakerFailures},
		{"ISDLITE_BREAKER_TIMEOUT_SECONDS", &c.Download.BreakerTimeoutSecs},
	}
	for _, i := range ints {
		v, ok := os.LookupEnv(i.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", i.key, err)
		}
		*i.dst = n
	}

	if v, ok := os.LookupEnv("ISDLITE_RETRY_MULTIPLIER"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("ISDLITE_RETRY_MULTIPLIER: %w", err)
		}
		c.Download.RetryMultiplier = f
	}
	return nil
}

// Validate rejects settings the program cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Archive.BaseURL == "":
		return errors.New("archive.base_url is required")
	case c.Archive.HistoryURL == "":
		return errors.New("archive.history_url is required")
	case c.Download.Jobs < 1:
		return fmt.Errorf("download.jobs must be at least 1, got %d", c.Download.Jobs)
	case c.Download.MaxRetries < 0:
		return fmt.Errorf("download.max_retries must not be negative, got %d", c.Download.MaxRetries)
	case c.Download.RetryMultiplier < 1:
		return fmt.Errorf("download.retry_multiplier must be at least 1, got %g", c.Download.RetryMultiplier)
	case c.Download.BreakerFailures < 0:
		return fmt.Errorf("download.breaker_failures must not be negative, got %d", c.Download.BreakerFailures)
	}
	switch c.Download.ValidatorStore {
	case "sidefile", "sqlite":
	default:
		return fmt.Errorf("download.validator_store must be sidefile or sqlite, got %q", c.Download.ValidatorStore)
	}
	switch c.Load.OnParseError {
	case "skip", "abort":
	default:
		return fmt.Errorf("load.on_parse_error must be skip or abort, got %q", c.Load.OnParseError)
	}
	return nil
}

// Fetcher converts the download settings for ncei.NewFetcher.
func (c *Config) Fetcher() ncei.FetcherConfig {
	d := c.Download
	return ncei.FetcherConfig{
		UserAgent:       c.Archive.UserAgent,
		RequestTimeout:  time.Duration(d.RequestTimeoutSecs) * time.Second,
		MaxRetries:      d.MaxRetries,
		RetryDelay:      time.Duration(d.RetryDelayMs) * time.Millisecond,
		Multiplier:      d.RetryMultiplier,
		BreakerFailures: d.BreakerFailures,
		BreakerTimeout:  time.Duration(d.BreakerTimeoutSecs) * time.Second,
	}
}
