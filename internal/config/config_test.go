package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func newFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("base-url", "", "")
	flags.String("user-agent", "", "")
	flags.StringSlice("source", nil, "")
	flags.Int("page-size", 50, "")
	flags.Int("rate-interval-ms", 200, "")
	flags.Int("max-attempts", 5, "")
	flags.String("progress-backend", "file", "")
	flags.String("progress-path", "./progress.json", "")
	flags.String("redis-addr", "localhost:6379", "")
	flags.String("output-dir", "./out", "")
	flags.String("log-level", "info", "")
	flags.Bool("log-pretty", false, "")
	flags.String("metrics-addr", "", "")
	return flags
}

func TestLoadDefaults(t *testing.T) {
	flags := newFlags()
	if err := flags.Parse([]string{"--base-url", "http://api.example.com/records", "--source", "alpha"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	cfg, err := Load("", flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Ingest.PageSize != 50 {
		t.Errorf("PageSize = %d, want 50", cfg.Ingest.PageSize)
	}
	if cfg.RateInterval() != 200*time.Millisecond {
		t.Errorf("RateInterval = %v, want 200ms", cfg.RateInterval())
	}
	if cfg.Ingest.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.Ingest.MaxAttempts)
	}
	if cfg.Progress.Backend != BackendFile {
		t.Errorf("Backend = %q, want file", cfg.Progress.Backend)
	}
	if cfg.Progress.Path != "./progress.json" {
		t.Errorf("Path = %q, want ./progress.json", cfg.Progress.Path)
	}
	if cfg.Output.Dir != "./out" {
		t.Errorf("Output.Dir = %q, want ./out", cfg.Output.Dir)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
api:
  base_url: http://api.example.com/records
  user_agent: record-ingest-test/1.0
sources:
  - id: alpha
    limit: 120
  - id: beta
ingest:
  page_size: 25
  rate_interval_ms: 100
progress:
  backend: sqlite
  path: /tmp/progress.db
output:
  dir: /tmp/records
log_level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path, newFlags())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.BaseURL != "http://api.example.com/records" {
		t.Errorf("BaseURL = %q", cfg.API.BaseURL)
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("Sources = %d, want 2", len(cfg.Sources))
	}
	if cfg.Sources[0].ID != "alpha" || cfg.Sources[0].Limit != 120 {
		t.Errorf("Sources[0] = %+v", cfg.Sources[0])
	}
	if cfg.Sources[1].ID != "beta" || cfg.Sources[1].Limit != 0 {
		t.Errorf("Sources[1] = %+v", cfg.Sources[1])
	}
	if cfg.Ingest.PageSize != 25 {
		t.Errorf("PageSize = %d, want 25", cfg.Ingest.PageSize)
	}
	if cfg.Ingest.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want default 5", cfg.Ingest.MaxAttempts)
	}
	if cfg.Progress.Backend != BackendSQLite {
		t.Errorf("Backend = %q, want sqlite", cfg.Progress.Backend)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
api:
  base_url: http://api.example.com/records
sources:
  - id: alpha
ingest:
  page_size: 25
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	flags := newFlags()
	args := []string{"--page-size", "100", "--source", "gamma:30", "--progress-backend", "redis"}
	if err := flags.Parse(args); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Ingest.PageSize != 100 {
		t.Errorf("PageSize = %d, want 100 (flag override)", cfg.Ingest.PageSize)
	}
	if len(cfg.Sources) != 1 || cfg.Sources[0].ID != "gamma" || cfg.Sources[0].Limit != 30 {
		t.Errorf("Sources = %+v, want [{gamma 30}]", cfg.Sources)
	}
	if cfg.Progress.Backend != BackendRedis {
		t.Errorf("Backend = %q, want redis", cfg.Progress.Backend)
	}
}

func TestParseSources(t *testing.T) {
	tests := []struct {
		name    string
		specs   []string
		want    []Source
		wantErr bool
	}{
		{
			name:  "bare id",
			specs: []string{"alpha"},
			want:  []Source{{ID: "alpha"}},
		},
		{
			name:  "id with limit",
			specs: []string{"alpha:120"},
			want:  []Source{{ID: "alpha", Limit: 120}},
		},
		{
			name:  "multiple",
			specs: []string{"alpha:120", "beta"},
			want:  []Source{{ID: "alpha", Limit: 120}, {ID: "beta"}},
		},
		{
			name:    "empty id",
			specs:   []string{":10"},
			wantErr: true,
		},
		{
			name:    "bad limit",
			specs:   []string{"alpha:many"},
			wantErr: true,
		},
		{
			name:    "negative limit",
			specs:   []string{"alpha:-5"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSources(tt.specs)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSources failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d sources, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("source %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			API:     API{BaseURL: "http://api.example.com/records"},
			Sources: []Source{{ID: "alpha"}},
			Ingest:  Ingest{PageSize: 50, RateIntervalMs: 200, MaxAttempts: 5},
			Progress: Progress{
				Backend: BackendFile,
				Path:    "./progress.json",
				Redis:   Redis{Addr: "localhost:6379"},
			},
			Output:   Output{Dir: "./out"},
			LogLevel: "info",
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing base url", func(c *Config) { c.API.BaseURL = "" }},
		{"no sources", func(c *Config) { c.Sources = nil }},
		{"empty source id", func(c *Config) { c.Sources = []Source{{ID: ""}} }},
		{"duplicate source", func(c *Config) { c.Sources = []Source{{ID: "a"}, {ID: "a"}} }},
		{"negative limit", func(c *Config) { c.Sources[0].Limit = -1 }},
		{"zero page size", func(c *Config) { c.Ingest.PageSize = 0 }},
		{"negative interval", func(c *Config) { c.Ingest.RateIntervalMs = -1 }},
		{"zero attempts", func(c *Config) { c.Ingest.MaxAttempts = 0 }},
		{"unknown backend", func(c *Config) { c.Progress.Backend = "etcd" }},
		{"file backend without path", func(c *Config) { c.Progress.Path = "" }},
		{"redis backend without addr", func(c *Config) {
			c.Progress.Backend = BackendRedis
			c.Progress.Redis.Addr = ""
		}},
		{"missing output dir", func(c *Config) { c.Output.Dir = "" }},
	}

	if err := valid().validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}
