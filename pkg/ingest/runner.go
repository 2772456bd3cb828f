// Package ingest drives pagination for each source to completion,
// composing the fetcher, the progress store, and the output sink into a
// per-source state machine. Sources are processed strictly one after
// another and at most one fetch is ever in flight.
package ingest

import (
	"context"
	"fmt"

	"github.com/acme-corp/record-ingest/pkg/fetcher"
	"github.com/acme-corp/record-ingest/pkg/progress"
	"github.com/acme-corp/record-ingest/pkg/sink"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for ingestion runs.
var (
	pagesIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_pages_total",
		Help: "Total pages ingested by source",
	}, []string{"source"})

	recordsIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_records_total",
		Help: "Total records ingested by source",
	}, []string{"source"})

	sourcesFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_sources_finished_total",
		Help: "Total source runs finished by stop reason",
	}, []string{"reason"})
)

// DefaultPageSize is the number of records requested per fetch.
const DefaultPageSize = 50

// Source names one ingestion target. Limit caps the records fetched in
// this run; 0 means unbounded.
type Source struct {
	ID    string
	Limit int64
}

// StopReason says why a source's run ended.
type StopReason string

const (
	// ReasonExhausted marks the natural end of the source's data.
	ReasonExhausted StopReason = "exhausted"

	// ReasonLimitReached marks a per-source record limit being met.
	ReasonLimitReached StopReason = "limit_reached"

	// ReasonFetchFailed marks a terminal fetch or persistence failure.
	// The last saved cursor remains the resume point for a future run.
	ReasonFetchFailed StopReason = "fetch_failed"
)

// Result reports one source's run: totals for successful runs, the last
// successful cursor and failure for failed ones.
type Result struct {
	SourceID string
	Pages    int
	Records  int64
	Cursor   int64
	Reason   StopReason
	Err      error
}

// Failed reports whether the run ended on a failure.
func (r Result) Failed() bool {
	return r.Reason == ReasonFetchFailed
}

// Runner drives ingestion for sources.
type Runner struct {
	fetcher  *fetcher.Fetcher
	store    progress.Store
	sink     sink.Sink
	pageSize int
	logger   zerolog.Logger
}

// New creates a runner. A non-positive pageSize falls back to
// DefaultPageSize.
func New(f *fetcher.Fetcher, store progress.Store, out sink.Sink, pageSize int, logger zerolog.Logger) (*Runner, error) {
	if f == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if store == nil {
		return nil, fmt.Errorf("progress store is required")
	}
	if out == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	return &Runner{
		fetcher:  f,
		store:    store,
		sink:     out,
		pageSize: pageSize,
		logger:   logger.With().Str("component", "ingest").Logger(),
	}, nil
}

// Run ingests one source from its last persisted cursor until exhaustion,
// limit, or terminal failure. The cursor is persisted only after a page has
// been fully handed to the sink, so an interruption at any point loses at
// most one in-flight page.
func (r *Runner) Run(ctx context.Context, src Source) Result {
	cursor := r.store.Get(ctx, src.ID)
	res := Result{SourceID: src.ID, Cursor: cursor}

	r.logger.Info().
		Str("source", src.ID).
		Int64("cursor", cursor).
		Int64("limit", src.Limit).
		Msg("Starting ingestion")

	for {
		// A full page is never truncated to fit the limit; the final
		// count may exceed it by up to one page.
		if src.Limit > 0 && res.Records >= src.Limit {
			return r.finish(res, ReasonLimitReached, nil)
		}

		out := r.fetcher.Fetch(ctx, fetcher.Request{
			SourceID: src.ID,
			Offset:   cursor,
			PageSize: r.pageSize,
		})
		if out.Status != fetcher.StatusSuccess {
			return r.finish(res, ReasonFetchFailed, out.Err)
		}

		if out.Page.Count() == 0 {
			return r.finish(res, ReasonExhausted, nil)
		}

		if err := r.sink.WritePage(ctx, src.ID, out.Page.Records); err != nil {
			return r.finish(res, ReasonFetchFailed, fmt.Errorf("write page: %w", err))
		}

		cursor += int64(out.Page.Count())
		if err := r.store.Save(ctx, src.ID, cursor); err != nil {
			// The previous save stays the resume point; this page
			// will be re-fetched on the next run.
			return r.finish(res, ReasonFetchFailed, fmt.Errorf("save progress: %w", err))
		}

		res.Cursor = cursor
		res.Pages++
		res.Records += int64(out.Page.Count())

		pagesIngestedTotal.WithLabelValues(src.ID).Inc()
		recordsIngestedTotal.WithLabelValues(src.ID).Add(float64(out.Page.Count()))

		r.logger.Debug().
			Str("source", src.ID).
			Int64("cursor", cursor).
			Int("page_records", out.Page.Count()).
			Msg("Page ingested")
	}
}

// RunAll ingests the sources strictly sequentially. A failed source never
// prevents the remaining ones from being attempted; only context
// cancellation stops the sweep early.
func (r *Runner) RunAll(ctx context.Context, sources []Source) []Result {
	results := make([]Result, 0, len(sources))

	for _, src := range sources {
		if ctx.Err() != nil {
			break
		}
		results = append(results, r.Run(ctx, src))
	}

	return results
}

// finish records the stop reason and emits the run summary.
func (r *Runner) finish(res Result, reason StopReason, err error) Result {
	res.Reason = reason
	res.Err = err
	sourcesFinishedTotal.WithLabelValues(string(reason)).Inc()

	if res.Failed() {
		r.logger.Error().
			Err(err).
			Str("source", res.SourceID).
			Int64("cursor", res.Cursor).
			Msg("Ingestion failed, cursor kept for resumption")
		return res
	}

	r.logger.Info().
		Str("source", res.SourceID).
		Str("reason", string(reason)).
		Int("pages", res.Pages).
		Int64("records", res.Records).
		Int64("cursor", res.Cursor).
		Msg("Ingestion finished")
	return res
}
