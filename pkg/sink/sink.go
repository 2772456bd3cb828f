// Package sink receives ingested pages and is responsible for their
// durable form. The engine hands over parsed raw records per page in
// completion order and dictates nothing beyond that.
package sink

import (
	"context"
	"encoding/json"
)

// Sink consumes pages of raw records, one call per fetched page.
type Sink interface {
	WritePage(ctx context.Context, sourceID string, records []json.RawMessage) error
	Close() error
}

// CountSink tallies delivered pages and records. Used in tests and for
// dry runs.
type CountSink struct {
	Pages   int
	Records int
}

// WritePage counts the delivery.
func (s *CountSink) WritePage(ctx context.Context, sourceID string, records []json.RawMessage) error {
	s.Pages++
	s.Records += len(records)
	return nil
}

// Close is a no-op.
func (s *CountSink) Close() error {
	return nil
}
