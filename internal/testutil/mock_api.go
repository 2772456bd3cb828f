// Package testutil provides a configurable mock paginated API server.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
)

// MockResponse is one scripted response, served before the real dataset.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
}

// MockAPI serves paginated record datasets the way the remote API does:
// GET with source, startAt, and maxResults query parameters, records
// wrapped in a JSON object (or served as a bare array). Failures can be
// scripted per source and are consumed in order before real pages.
type MockAPI struct {
	server *httptest.Server

	mu       sync.Mutex
	datasets map[string][]json.RawMessage
	scripted map[string][]MockResponse
	requests map[string]int

	// BareArray switches responses from the {"records": [...]} wrapper
	// to a bare JSON array.
	BareArray bool
}

// NewMockAPI creates a started mock server.
func NewMockAPI() *MockAPI {
	m := &MockAPI{
		datasets: make(map[string][]json.RawMessage),
		scripted: make(map[string][]MockResponse),
		requests: make(map[string]int),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// BuildURL is a url builder pointing fetches at this mock.
func (m *MockAPI) BuildURL(sourceID string, offset int64, pageSize int) string {
	return fmt.Sprintf("%s/records?source=%s&startAt=%d&maxResults=%d",
		m.server.URL, sourceID, offset, pageSize)
}

// SetDataset installs the record set served for a source.
func (m *MockAPI) SetDataset(sourceID string, records []json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.datasets[sourceID] = records
}

// SeedRecords installs n generated records {"id": 1} .. {"id": n}.
func (m *MockAPI) SeedRecords(sourceID string, n int) {
	records := make([]json.RawMessage, n)
	for i := range records {
		records[i] = json.RawMessage(fmt.Sprintf(`{"id":%d}`, i+1))
	}
	m.SetDataset(sourceID, records)
}

// ScriptResponse queues a response served before the dataset for a source.
// Queued responses are consumed in order, one per request.
func (m *MockAPI) ScriptResponse(sourceID string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripted[sourceID] = append(m.scripted[sourceID], resp)
}

// Requests returns the number of requests made for a source.
func (m *MockAPI) Requests(sourceID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[sourceID]
}

func (m *MockAPI) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sourceID := q.Get("source")
	startAt, _ := strconv.Atoi(q.Get("startAt"))
	maxResults, _ := strconv.Atoi(q.Get("maxResults"))

	m.mu.Lock()
	m.requests[sourceID]++

	if queue := m.scripted[sourceID]; len(queue) > 0 {
		resp := queue[0]
		m.scripted[sourceID] = queue[1:]
		m.mu.Unlock()

		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
		return
	}

	records := m.datasets[sourceID]
	bare := m.BareArray
	m.mu.Unlock()

	if maxResults <= 0 {
		maxResults = 50
	}
	if startAt > len(records) {
		startAt = len(records)
	}
	end := startAt + maxResults
	if end > len(records) {
		end = len(records)
	}
	page := records[startAt:end]

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	var body []byte
	if bare {
		body, _ = json.Marshal(page)
	} else {
		body, _ = json.Marshal(map[string]any{
			"startAt":    startAt,
			"maxResults": maxResults,
			"total":      len(records),
			"records":    page,
		})
	}
	w.Write(body)
}

// NewRateLimitResponse creates a 429 response with a Retry-After hint.
func NewRateLimitResponse(retryAfterSeconds int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "rate limit exceeded"}`,
		Headers: map[string]string{
			"Retry-After":  strconv.Itoa(retryAfterSeconds),
			"Content-Type": "application/json",
		},
	}
}

// NewServerErrorResponse creates a 500 response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewNotFoundResponse creates a 404 response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"error": "no such source"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewEmptyBodyResponse creates a 200 response with no body.
func NewEmptyBodyResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
	}
}
