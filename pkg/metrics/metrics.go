// Package metrics provides the centralized Prometheus metrics registry for the
// ingestion engine. All metrics are defined in their respective packages
// (ratelimit, fetcher, progress, ingest) to maintain modularity and avoid
// circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the ingestion engine.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - ingest_rate_limit_waits_total (Counter): Acquisitions that had to wait for the pacing interval
//   - ingest_rate_limit_wait_seconds (Histogram): Time spent waiting for the pacing interval
//
// Fetch Metrics (pkg/fetcher):
//   - ingest_fetch_requests_total{source, status} (Counter): Fetch attempts by source and HTTP status
//   - ingest_fetch_duration_seconds{source} (Histogram): Fetch attempt duration by source
//   - ingest_fetch_errors_total{class} (Counter): Fetch failures by class (client, server, rate_limit, network, empty, malformed)
//
// Retry Metrics (pkg/fetcher):
//   - ingest_retries_total{error_class} (Counter): Retry attempts by error class
//   - ingest_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - ingest_retry_exhausted_total{error_class} (Counter): Fetches that exhausted max attempts
//
// Progress Metrics (pkg/progress):
//   - ingest_progress_saves_total{backend} (Counter): Cursor saves by backend (file, sqlite, redis)
//   - ingest_progress_save_errors_total{backend} (Counter): Failed cursor saves by backend
//   - ingest_progress_recoveries_total{backend} (Counter): Unreadable progress state recovered as empty
//
// Ingestion Metrics (pkg/ingest):
//   - ingest_pages_total{source} (Counter): Pages ingested by source
//   - ingest_records_total{source} (Counter): Records ingested by source
//   - ingest_sources_finished_total{reason} (Counter): Source runs finished by stop reason (exhausted, limit_reached, fetch_failed)
//
// Example Prometheus Queries:
//
//   # Ingestion Throughput
//   rate(ingest_records_total[5m])
//
//   # Retry Rate by Error Class
//   rate(ingest_retries_total[5m])
//
//   # Failed Source Share
//   sum(rate(ingest_sources_finished_total{reason="fetch_failed"}[1h])) /
//   sum(rate(ingest_sources_finished_total[1h]))
//
//   # P95 Fetch Latency
//   histogram_quantile(0.95, rate(ingest_fetch_duration_seconds_bucket[5m]))
//
//   # Progress Save Error Rate
//   rate(ingest_progress_save_errors_total[5m]) / rate(ingest_progress_saves_total[5m])
