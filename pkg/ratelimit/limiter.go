// Package ratelimit enforces a minimum spacing between outbound requests.
// The remote API tolerates at most a handful of requests per second; the
// limiter guarantees that for any N granted acquisitions the elapsed wall
// time is at least (N-1) * interval.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for request pacing.
var (
	rateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_rate_limit_waits_total",
		Help: "Total number of acquisitions that had to wait for the pacing interval",
	})

	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_rate_limit_wait_seconds",
		Help:    "Time spent waiting for the pacing interval",
		Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1},
	})
)

// DefaultInterval is the minimum spacing between requests (5 req/s).
const DefaultInterval = 200 * time.Millisecond

// Limiter paces outbound requests by enforcing a minimum interval between
// grants. The last-grant timestamp is owned by the Limiter instance and is
// only touched through Acquire, so tests can construct isolated limiters
// with controlled clocks.
type Limiter struct {
	interval time.Duration
	logger   zerolog.Logger

	mu        sync.Mutex
	lastGrant time.Time

	// Injectable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a limiter with the given minimum interval between grants.
// A non-positive interval falls back to DefaultInterval.
func New(interval time.Duration, logger zerolog.Logger) *Limiter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Limiter{
		interval: interval,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Interval returns the configured minimum spacing between grants.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// Acquire blocks until at least one interval has elapsed since the previous
// grant, then records the grant time. The wait is bounded by one interval.
// The only failure mode is context cancellation during the wait.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !l.lastGrant.IsZero() {
		if wait := l.interval - now.Sub(l.lastGrant); wait > 0 {
			rateLimitWaitsTotal.Inc()
			rateLimitWaitSeconds.Observe(wait.Seconds())

			l.logger.Debug().
				Dur("wait", wait).
				Msg("Pacing outbound request")

			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
			now = l.now()
		}
	}

	l.lastGrant = now
	return nil
}

// sleepContext waits for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
