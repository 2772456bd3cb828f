// Package fetcher obtains single pages from the remote API, classifying
// failures and retrying transient ones with bounded exponential backoff.
package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/acme-corp/record-ingest/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for fetch operations.
var (
	fetchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_fetch_requests_total",
		Help: "Total fetch attempts by source and HTTP status",
	}, []string{"source", "status"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ingest_fetch_duration_seconds",
		Help:    "Fetch attempt duration in seconds by source",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"source"})

	fetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_fetch_errors_total",
		Help: "Total fetch failures by class",
	}, []string{"class"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ingest_retry_backoff_seconds",
		Help:    "Backoff duration before retries by error class",
		Buckets: []float64{1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// BuildURL turns a source id, record offset, and page size into a request
// URL. It is supplied by the caller; the engine does not know endpoint
// shapes beyond the startAt/maxResults convention the builder encodes.
type BuildURL func(sourceID string, offset int64, pageSize int) string

// Config holds the fetcher configuration.
type Config struct {
	// BuildURL constructs the request URL for one page (required).
	BuildURL BuildURL

	// UserAgent header sent with every request.
	UserAgent string

	// MaxAttempts is the total number of attempts per fetch, including
	// the initial request.
	MaxAttempts int

	// InitialBackoff is the delay after the first failed attempt; it
	// doubles per attempt up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// RateLimitDelay is the wait applied to a 429 response that carries
	// no Retry-After header.
	RateLimitDelay time.Duration

	// Timeout is the hard per-request HTTP timeout.
	Timeout time.Duration
}

// DefaultConfig returns the default fetch configuration.
func DefaultConfig(buildURL BuildURL) Config {
	return Config{
		BuildURL:       buildURL,
		UserAgent:      "record-ingest/1.0",
		MaxAttempts:    5,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     60 * time.Second,
		RateLimitDelay: 60 * time.Second,
		Timeout:        30 * time.Second,
	}
}

// Fetcher issues one logical fetch at a time, waiting on the shared rate
// limiter before every attempt.
type Fetcher struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	config     Config
	logger     zerolog.Logger

	// Injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a fetcher. The limiter is required: every attempt, including
// retries, is paced through it.
func New(cfg Config, limiter *ratelimit.Limiter, logger zerolog.Logger) (*Fetcher, error) {
	if cfg.BuildURL == nil {
		return nil, fmt.Errorf("url builder is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 2 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 60 * time.Second
	}
	if cfg.RateLimitDelay <= 0 {
		cfg.RateLimitDelay = 60 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Fetcher{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: limiter,
		config:  cfg,
		logger:  logger.With().Str("component", "fetcher").Logger(),
		sleep:   sleepContext,
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (f *Fetcher) SetHTTPClient(client *http.Client) {
	f.httpClient = client
}

// Fetch obtains one page for the request, retrying transient failures.
// Fatal failures are returned immediately; after MaxAttempts transient
// failures the last one is surfaced wrapped in ErrRetryExhausted. The
// caller decides whether that ends the whole source or just this page.
func (f *Fetcher) Fetch(ctx context.Context, req Request) Outcome {
	var last Outcome

	for attempt := 1; attempt <= f.config.MaxAttempts; attempt++ {
		if err := f.limiter.Acquire(ctx); err != nil {
			return Outcome{
				Status: StatusFatal,
				Err:    fmt.Errorf("%w: %v", ErrContextCancelled, err),
			}
		}

		out := f.attempt(ctx, req)
		if out.Status != StatusRetryable {
			if out.Status == StatusSuccess && attempt > 1 {
				f.logger.Info().
					Str("source", req.SourceID).
					Int64("offset", req.Offset).
					Int("attempt", attempt).
					Msg("Fetch succeeded after retry")
			}
			return out
		}
		last = out

		class := errorClassOf(out.Err)
		if attempt >= f.config.MaxAttempts {
			break
		}

		delay := f.backoffDelay(attempt)
		if out.RetryAfter > delay {
			delay = out.RetryAfter
		}

		retriesTotal.WithLabelValues(string(class)).Inc()
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(delay.Seconds())

		f.logger.Warn().
			Str("source", req.SourceID).
			Int64("offset", req.Offset).
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Retrying fetch after backoff")

		if err := f.sleep(ctx, delay); err != nil {
			return Outcome{
				Status: StatusFatal,
				Err:    fmt.Errorf("%w: %v", ErrContextCancelled, err),
			}
		}
	}

	class := errorClassOf(last.Err)
	retryExhaustedTotal.WithLabelValues(string(class)).Inc()
	f.logger.Error().
		Str("source", req.SourceID).
		Int64("offset", req.Offset).
		Str("error_class", string(class)).
		Int("max_attempts", f.config.MaxAttempts).
		Msg("Retry attempts exhausted")

	last.Err = fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, f.config.MaxAttempts, last.Err)
	return last
}

// attempt issues a single HTTP GET and classifies the result.
func (f *Fetcher) attempt(ctx context.Context, req Request) Outcome {
	url := f.config.BuildURL(req.SourceID, req.Offset, req.PageSize)

	start := time.Now()
	defer func() {
		fetchDuration.WithLabelValues(req.SourceID).Observe(time.Since(start).Seconds())
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Outcome{
			Status: StatusFatal,
			Err: &FetchError{
				ErrorClass: ErrorClassClient,
				Message:    "create request",
				Err:        err,
			},
		}
	}
	httpReq.Header.Set("User-Agent", f.config.UserAgent)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		fetchErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		fetchRequestsTotal.WithLabelValues(req.SourceID, "network_error").Inc()
		return failureOutcome(&FetchError{
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}, 0)
	}
	defer resp.Body.Close()

	fetchRequestsTotal.WithLabelValues(req.SourceID, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		class := classifyStatus(resp.StatusCode)
		fetchErrorsTotal.WithLabelValues(string(class)).Inc()

		var retryAfter time.Duration
		if class == ErrorClassRateLimit {
			retryAfter = f.retryAfter(resp)
		}
		return failureOutcome(&FetchError{
			StatusCode: resp.StatusCode,
			ErrorClass: class,
			Message:    resp.Status,
		}, retryAfter)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fetchErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return failureOutcome(&FetchError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read body",
			Err:        err,
		}, 0)
	}

	if len(bytes.TrimSpace(body)) == 0 {
		fetchErrorsTotal.WithLabelValues(string(ErrorClassEmpty)).Inc()
		return failureOutcome(&FetchError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassEmpty,
			Message:    "empty response",
			Err:        ErrEmptyBody,
		}, 0)
	}

	page, err := parsePage(body)
	if err != nil {
		fetchErrorsTotal.WithLabelValues(string(ErrorClassMalformed)).Inc()
		return failureOutcome(&FetchError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassMalformed,
			Message:    "parse body",
			Err:        err,
		}, 0)
	}

	return Outcome{Status: StatusSuccess, Page: page}
}

// classifyStatus categorizes an HTTP error status for retry decisions.
func classifyStatus(statusCode int) ErrorClass {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case statusCode >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}

// failureOutcome tags a classified failure as retryable or fatal.
func failureOutcome(fe *FetchError, retryAfter time.Duration) Outcome {
	status := StatusFatal
	if shouldRetry(fe.ErrorClass) {
		status = StatusRetryable
	}
	return Outcome{Status: status, Err: fe, RetryAfter: retryAfter}
}

// retryAfter reads a Retry-After header given in seconds. Falls back to
// the configured rate limit delay when absent or unparseable.
func (f *Fetcher) retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return f.config.RateLimitDelay
}

// backoffDelay returns the wait after the k-th failed attempt (1-indexed):
// InitialBackoff doubled per attempt, capped at MaxBackoff.
func (f *Fetcher) backoffDelay(attempt int) time.Duration {
	delay := f.config.InitialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= f.config.MaxBackoff {
			return f.config.MaxBackoff
		}
	}
	if delay > f.config.MaxBackoff {
		return f.config.MaxBackoff
	}
	return delay
}

// parsePage accepts either a bare JSON array of records or an object
// wrapping one under a conventional field name.
func parsePage(body []byte) (Page, error) {
	var records []json.RawMessage
	if err := json.Unmarshal(body, &records); err == nil {
		return Page{Records: records}, nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}

	for _, field := range []string{"records", "issues", "items", "values"} {
		raw, ok := wrapper[field]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &records); err != nil {
			return Page{}, fmt.Errorf("%w: field %q is not an array: %v", ErrMalformedBody, field, err)
		}
		return Page{Records: records}, nil
	}

	return Page{}, fmt.Errorf("%w: no record array field found", ErrMalformedBody)
}

// errorClassOf extracts the class from a classified error.
func errorClassOf(err error) ErrorClass {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.ErrorClass
	}
	return ErrorClassNetwork
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
