package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/acme-corp/record-ingest/internal/config"
	"github.com/acme-corp/record-ingest/pkg/fetcher"
	"github.com/acme-corp/record-ingest/pkg/ingest"
	"github.com/acme-corp/record-ingest/pkg/logging"
	"github.com/acme-corp/record-ingest/pkg/progress"
	"github.com/acme-corp/record-ingest/pkg/ratelimit"
	"github.com/acme-corp/record-ingest/pkg/sink"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "record-ingest",
	Short: "Ingest paginated records from a remote JSON API",
	Long: `A resilient ingestion tool for paginated JSON record APIs with
rate-limited requests, classified retries, and crash-safe resumable progress.`,
	RunE: runIngest,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is none)")

	rootCmd.Flags().String("base-url", "", "Records endpoint base URL (required)")
	rootCmd.Flags().String("user-agent", "", "User-Agent header for outbound requests")
	rootCmd.Flags().StringSlice("source", nil, "Source to ingest, id or id:limit (repeatable)")
	rootCmd.Flags().Int("page-size", 50, "Records requested per page")
	rootCmd.Flags().Int("rate-interval-ms", 200, "Minimum milliseconds between requests")
	rootCmd.Flags().Int("max-attempts", 5, "Attempts per page fetch including the first")
	rootCmd.Flags().String("progress-backend", "file", "Progress backend (file/sqlite/redis)")
	rootCmd.Flags().String("progress-path", "./progress.json", "Progress file or database path")
	rootCmd.Flags().String("redis-addr", "localhost:6379", "Redis address for the redis backend")
	rootCmd.Flags().String("output-dir", "./out", "Directory for ingested JSONL output")
	rootCmd.Flags().String("log-level", "info", "Log level (debug/info/warn/error)")
	rootCmd.Flags().Bool("log-pretty", false, "Human-readable console log output")
	rootCmd.Flags().String("metrics-addr", "", "Optional listen address for Prometheus metrics")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})
	logger := logging.NewLogger("main")

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, logger)
	}

	store, err := newProgressStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open progress store: %w", err)
	}
	defer store.Close()

	out, err := sink.NewJSONLSink(cfg.Output.Dir, logging.NewLogger("sink"))
	if err != nil {
		return fmt.Errorf("failed to open output sink: %w", err)
	}
	defer out.Close()

	limiter := ratelimit.New(cfg.RateInterval(), logging.NewLogger("ratelimit"))

	fetchCfg := fetcher.DefaultConfig(buildURL(cfg.API.BaseURL))
	fetchCfg.MaxAttempts = cfg.Ingest.MaxAttempts
	if cfg.API.UserAgent != "" {
		fetchCfg.UserAgent = cfg.API.UserAgent
	}
	f, err := fetcher.New(fetchCfg, limiter, logging.NewLogger("fetcher"))
	if err != nil {
		return fmt.Errorf("failed to create fetcher: %w", err)
	}

	runner, err := ingest.New(f, store, out, cfg.Ingest.PageSize, logging.NewLogger("ingest"))
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info().Msg("Received shutdown signal, stopping after current page")
		cancel()
	}()

	sources := make([]ingest.Source, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		sources = append(sources, ingest.Source{ID: src.ID, Limit: src.Limit})
	}

	results := runner.RunAll(ctx, sources)
	return report(results, logger)
}

// newProgressStore opens the configured cursor backend.
func newProgressStore(cfg *config.Config) (progress.Store, error) {
	logger := logging.NewLogger("progress")

	switch cfg.Progress.Backend {
	case config.BackendFile:
		return progress.NewFileStore(cfg.Progress.Path, logger), nil
	case config.BackendSQLite:
		return progress.NewSQLiteStore(cfg.Progress.Path, logger)
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Progress.Redis.Addr,
			Password: cfg.Progress.Redis.Password,
			DB:       cfg.Progress.Redis.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		return progress.NewRedisStore(client, logger)
	default:
		return nil, fmt.Errorf("unknown progress backend %q", cfg.Progress.Backend)
	}
}

// buildURL encodes the startAt/maxResults pagination convention over the
// configured base URL.
func buildURL(baseURL string) fetcher.BuildURL {
	return func(sourceID string, offset int64, pageSize int) string {
		return fmt.Sprintf("%s?source=%s&startAt=%d&maxResults=%d",
			baseURL, url.QueryEscape(sourceID), offset, pageSize)
	}
}

// report logs per-source summaries and returns an error when any source
// failed so the process exits non-zero.
func report(results []ingest.Result, logger zerolog.Logger) error {
	failed := 0
	for _, res := range results {
		event := logger.Info()
		if res.Failed() {
			failed++
			event = logger.Error().Err(res.Err)
		}
		event.
			Str("source", res.SourceID).
			Str("reason", string(res.Reason)).
			Int("pages", res.Pages).
			Int64("records", res.Records).
			Int64("cursor", res.Cursor).
			Msg("Source finished")
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d sources failed", failed, len(results))
	}
	logger.Info().Int("sources", len(results)).Msg("Ingestion complete")
	return nil
}

func serveMetrics(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info().Str("addr", addr).Msg("Serving Prometheus metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("Metrics server failed")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
