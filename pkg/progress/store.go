// Package progress persists per-source cursors so an interrupted run can
// resume from the last fully ingested page instead of from the beginning.
//
// All implementations share one recovery policy: absent or malformed
// persisted state loads as an empty mapping and is never surfaced as an
// error. Corrupted progress must not block ingestion; it only costs a
// from-scratch restart for the affected sources.
package progress

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for progress persistence.
var (
	progressSavesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_progress_saves_total",
		Help: "Total cursor saves by backend",
	}, []string{"backend"})

	progressSaveErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_progress_save_errors_total",
		Help: "Total failed cursor saves by backend",
	}, []string{"backend"})

	progressRecoveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_progress_recoveries_total",
		Help: "Times persisted progress was unreadable and recovered as empty",
	}, []string{"backend"})
)

// Store is the durable record of per-source cursors. A cursor is the number
// of records fully ingested for a source; it is advanced only after a page
// has been completely obtained and handed to the sink, never before.
//
// A single writer is assumed. Concurrent processes ingesting the same
// source set are unsupported and may corrupt the persisted cursor.
type Store interface {
	// Load reads the persisted mapping. Absent or malformed state yields
	// an empty mapping, never an error.
	Load(ctx context.Context) map[string]int64

	// Get returns the stored cursor for a source, or 0 if unknown.
	Get(ctx context.Context, sourceID string) int64

	// Save synchronously persists the cursor for a source before
	// returning. Called after every successfully obtained page.
	Save(ctx context.Context, sourceID string, cursor int64) error

	// Close releases any underlying resources.
	Close() error
}
