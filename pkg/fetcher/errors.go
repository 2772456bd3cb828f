package fetcher

import (
	"errors"
	"fmt"
)

// Common errors returned by the fetcher.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during
	// pacing or retry backoff.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrEmptyBody marks a success-status response with no usable body.
	ErrEmptyBody = errors.New("empty response body")

	// ErrMalformedBody marks a response body that is not a record array
	// nor an object wrapping one.
	ErrMalformedBody = errors.New("malformed response body")
)

// ErrorClass represents a classification of fetch failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents HTTP 429 responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassEmpty represents empty bodies on success statuses.
	ErrorClassEmpty ErrorClass = "empty"

	// ErrorClassMalformed represents unparseable response bodies.
	ErrorClassMalformed ErrorClass = "malformed"
)

// FetchError carries the classification and HTTP context of a failed fetch.
type FetchError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("fetch %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// shouldRetry determines if a failure should be retried based on its class.
func shouldRetry(class ErrorClass) bool {
	switch class {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork, ErrorClassEmpty:
		return true
	case ErrorClassClient, ErrorClassMalformed:
		// Client-side/configuration problems; retrying cannot help.
		return false
	default:
		return false
	}
}
