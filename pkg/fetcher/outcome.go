package fetcher

import (
	"encoding/json"
	"time"
)

// Page is one batch of records returned by a single fetch. Records are kept
// as raw JSON; interpreting them is the sink's business.
type Page struct {
	Records []json.RawMessage
}

// Count returns the number of records in the page.
func (p Page) Count() int {
	return len(p.Records)
}

// Request identifies one page of one source.
type Request struct {
	SourceID string
	Offset   int64
	PageSize int
}

// Status tags the result of a fetch.
type Status string

const (
	// StatusSuccess carries a parsed page.
	StatusSuccess Status = "success"

	// StatusRetryable marks a transient failure. When returned from Fetch
	// (rather than a single attempt) it means all attempts were exhausted.
	StatusRetryable Status = "retryable"

	// StatusFatal marks a failure that must not be retried.
	StatusFatal Status = "fatal"
)

// Outcome is the tagged result of a fetch. The orchestrator branches on
// Status instead of error identity, so retry decisions stay data-driven.
type Outcome struct {
	Status Status
	Page   Page
	Err    error

	// RetryAfter is a server-suggested wait for retryable failures
	// (from a Retry-After header on 429). Zero when the backoff
	// schedule alone applies.
	RetryAfter time.Duration
}
