package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// JSONLSink appends records to one <sourceID>.jsonl file per source, one
// record per line. Appending per page keeps memory constant and makes an
// interrupted run resumable: re-fetched pages simply continue the file.
type JSONLSink struct {
	dir    string
	logger zerolog.Logger
	files  map[string]*os.File
}

// NewJSONLSink creates the output directory if needed.
func NewJSONLSink(dir string, logger zerolog.Logger) (*JSONLSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &JSONLSink{
		dir:    dir,
		logger: logger.With().Str("component", "sink").Logger(),
		files:  make(map[string]*os.File),
	}, nil
}

// WritePage appends the page's records to the source's file.
func (s *JSONLSink) WritePage(ctx context.Context, sourceID string, records []json.RawMessage) error {
	f, err := s.file(sourceID)
	if err != nil {
		return err
	}

	for _, rec := range records {
		if _, err := f.Write(append(rec, '\n')); err != nil {
			return fmt.Errorf("write record for %s: %w", sourceID, err)
		}
	}

	s.logger.Debug().
		Str("source", sourceID).
		Int("records", len(records)).
		Msg("Page written")

	return nil
}

// Close closes all open source files.
func (s *JSONLSink) Close() error {
	var firstErr error
	for id, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close output for %s: %w", id, err)
		}
	}
	s.files = make(map[string]*os.File)
	return firstErr
}

func (s *JSONLSink) file(sourceID string) (*os.File, error) {
	if f, ok := s.files[sourceID]; ok {
		return f, nil
	}

	path := filepath.Join(s.dir, sourceID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output for %s: %w", sourceID, err)
	}
	s.files[sourceID] = f
	return f, nil
}
