// Package config loads ingestion configuration from a YAML file with
// command line flag overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Progress backend names accepted in configuration.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config represents the application configuration.
type Config struct {
	API      API      `yaml:"api"`
	Sources  []Source `yaml:"sources"`
	Ingest   Ingest   `yaml:"ingest"`
	Progress Progress `yaml:"progress"`
	Output   Output   `yaml:"output"`

	LogLevel    string `yaml:"log_level"`
	LogPretty   bool   `yaml:"log_pretty"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// API describes the remote endpoint records are fetched from.
type API struct {
	BaseURL   string `yaml:"base_url"`
	UserAgent string `yaml:"user_agent"`
}

// Source is one record source to ingest. Limit 0 means unbounded.
type Source struct {
	ID    string `yaml:"id"`
	Limit int64  `yaml:"limit"`
}

// Ingest holds pagination and retry tuning.
type Ingest struct {
	PageSize       int `yaml:"page_size"`
	RateIntervalMs int `yaml:"rate_interval_ms"`
	MaxAttempts    int `yaml:"max_attempts"`
}

// Progress selects and configures the cursor store backend.
type Progress struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	Redis   Redis  `yaml:"redis"`
}

// Redis holds connection settings for the redis progress backend.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Output configures where ingested records are written.
type Output struct {
	Dir string `yaml:"dir"`
}

// RateInterval returns the configured pacing interval as a duration.
func (c *Config) RateInterval() time.Duration {
	return time.Duration(c.Ingest.RateIntervalMs) * time.Millisecond
}

// Load loads configuration from file and command line flags.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := &Config{
		Ingest: Ingest{
			PageSize:       50,
			RateIntervalMs: 200,
			MaxAttempts:    5,
		},
		Progress: Progress{
			Backend: BackendFile,
			Path:    "./progress.json",
			Redis: Redis{
				Addr: "localhost:6379",
			},
		},
		Output: Output{
			Dir: "./out",
		},
		LogLevel: "info",
	}

	// Load from YAML file if provided
	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with command line flags
	if err := loadFromFlags(cfg, flags); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	if flags.Changed("base-url") {
		cfg.API.BaseURL, _ = flags.GetString("base-url")
	}
	if flags.Changed("user-agent") {
		cfg.API.UserAgent, _ = flags.GetString("user-agent")
	}
	if flags.Changed("source") {
		specs, _ := flags.GetStringSlice("source")
		sources, err := ParseSources(specs)
		if err != nil {
			return err
		}
		cfg.Sources = sources
	}
	if flags.Changed("page-size") {
		cfg.Ingest.PageSize, _ = flags.GetInt("page-size")
	}
	if flags.Changed("rate-interval-ms") {
		cfg.Ingest.RateIntervalMs, _ = flags.GetInt("rate-interval-ms")
	}
	if flags.Changed("max-attempts") {
		cfg.Ingest.MaxAttempts, _ = flags.GetInt("max-attempts")
	}
	if flags.Changed("progress-backend") {
		cfg.Progress.Backend, _ = flags.GetString("progress-backend")
	}
	if flags.Changed("progress-path") {
		cfg.Progress.Path, _ = flags.GetString("progress-path")
	}
	if flags.Changed("redis-addr") {
		cfg.Progress.Redis.Addr, _ = flags.GetString("redis-addr")
	}
	if flags.Changed("output-dir") {
		cfg.Output.Dir, _ = flags.GetString("output-dir")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-pretty") {
		cfg.LogPretty, _ = flags.GetBool("log-pretty")
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}

	return nil
}

// ParseSources parses source flag values of the form "id" or "id:limit".
func ParseSources(specs []string) ([]Source, error) {
	sources := make([]Source, 0, len(specs))
	for _, spec := range specs {
		id, limitPart, hasLimit := strings.Cut(spec, ":")
		if id == "" {
			return nil, fmt.Errorf("empty source id in %q", spec)
		}
		src := Source{ID: id}
		if hasLimit {
			var limit int64
			if _, err := fmt.Sscanf(limitPart, "%d", &limit); err != nil || limit < 0 {
				return nil, fmt.Errorf("invalid limit in source %q", spec)
			}
			src.Limit = limit
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func (c *Config) validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api base url is required")
	}

	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for _, src := range c.Sources {
		if src.ID == "" {
			return fmt.Errorf("source id must not be empty")
		}
		if _, dup := seen[src.ID]; dup {
			return fmt.Errorf("duplicate source id %q", src.ID)
		}
		seen[src.ID] = struct{}{}
		if src.Limit < 0 {
			return fmt.Errorf("source %q limit must not be negative", src.ID)
		}
	}

	if c.Ingest.PageSize <= 0 {
		return fmt.Errorf("page size must be positive")
	}
	if c.Ingest.RateIntervalMs < 0 {
		return fmt.Errorf("rate interval must not be negative")
	}
	if c.Ingest.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}

	switch c.Progress.Backend {
	case BackendFile, BackendSQLite:
		if c.Progress.Path == "" {
			return fmt.Errorf("progress path is required for %s backend", c.Progress.Backend)
		}
	case BackendRedis:
		if c.Progress.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required for redis backend")
		}
	default:
		return fmt.Errorf("unknown progress backend %q", c.Progress.Backend)
	}

	if c.Output.Dir == "" {
		return fmt.Errorf("output dir is required")
	}

	return nil
}
