package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ngmaloney/isd-lite/internal/ncei"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Archive.BaseURL != ncei.DefaultBaseURL {
		t.Errorf("BaseURL = %q", cfg.Archive.BaseURL)
	}
	if cfg.Download.Jobs != 8 || cfg.Download.ValidatorStore != "sidefile" {
		t.Errorf("download = %+v", cfg.Download)
	}
	if cfg.Load.OnParseError != "skip" {
		t.Errorf("OnParseError = %q", cfg.Load.OnParseError)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "isdlite.toml")
	content := `
[archive]
user_agent = "station-builder/2"

[download]
jobs = 4
retry_delay_ms = 250
validator_store = "sqlite"

[logging]
level = "debug"
format = "json"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("ISDLITE_MAX_RETRIES=5\nISDLITE_JOBS=6\n"), 0644); err != nil {
		t.Fatal(err)
	}
	// the real environment wins over .env
	t.Setenv("ISDLITE_JOBS", "2")
	t.Setenv("ISDLITE_ON_PARSE_ERROR", "abort")

	// godotenv sets variables it loads; clean up so other tests are unaffected
	t.Cleanup(func() { os.Unsetenv("ISDLITE_MAX_RETRIES") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Download.Jobs != 2 {
		t.Errorf("Jobs = %d, want 2", cfg.Download.Jobs)
	}
	if cfg.Download.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.Download.MaxRetries)
	}
	if cfg.Download.ValidatorStore != "sqlite" || cfg.Logging.Format != "json" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Load.OnParseError != "abort" {
		t.Errorf("OnParseError = %q, want abort", cfg.Load.OnParseError)
	}
	// unset values keep their defaults
	if cfg.Archive.BaseURL != ncei.DefaultBaseURL {
		t.Errorf("BaseURL = %q", cfg.Archive.BaseURL)
	}

	fc := cfg.Fetcher()
	if fc.RetryDelay != 250*time.Millisecond || fc.UserAgent != "station-builder/2" || fc.RequestTimeout != time.Minute {
		t.Errorf("Fetcher() = %+v", fc)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	if _, err := Load(filepath.Join(dir, "missing.toml")); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("missing file error = %v", err)
	}

	bad := filepath.Join(dir, "bad.toml")
	os.WriteFile(bad, []byte("[download\njobs = "), 0644)
	if _, err := Load(bad); err == nil {
		t.Error("malformed file accepted")
	}

	t.Setenv("ISDLITE_JOBS", "many")
	if _, err := Load(""); err == nil {
		t.Error("non-numeric ISDLITE_JOBS accepted")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no base url", func(c *Config) { c.Archive.BaseURL = "" }},
		{"zero jobs", func(c *Config) { c.Download.Jobs = 0 }},
		{"negative retries", func(c *Config) { c.Download.MaxRetries = -1 }},
		{"shrinking backoff", func(c *Config) { c.Download.RetryMultiplier = 0.5 }},
		{"unknown store", func(c *Config) { c.Download.ValidatorStore = "redis" }},
		{"unknown policy", func(c *Config) { c.Load.OnParseError = "ignore" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() accepted invalid config")
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}
