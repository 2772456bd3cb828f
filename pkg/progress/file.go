package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// entry is the persisted per-source state.
type entry struct {
	LastOffset int64 `json:"lastOffset"`
}

// FileStore persists cursors as a single JSON document mapping source id to
// last offset, overwritten wholesale on each save. Writes go through a temp
// file and rename so a crash mid-save leaves the previous snapshot intact.
type FileStore struct {
	path   string
	logger zerolog.Logger

	mu      sync.Mutex
	cursors map[string]int64
	loaded  bool
}

// NewFileStore creates a store backed by the JSON document at path. The
// file does not need to exist yet.
func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{
		path:   path,
		logger: logger.With().Str("component", "progress").Str("backend", "file").Logger(),
	}
}

// Load reads the document from disk, replacing any in-memory state.
func (s *FileStore) Load(ctx context.Context) map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursors = s.read()
	s.loaded = true

	out := make(map[string]int64, len(s.cursors))
	for id, c := range s.cursors {
		out[id] = c
	}
	return out
}

// Get returns the stored cursor or 0 if unknown.
func (s *FileStore) Get(ctx context.Context, sourceID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureLoaded()
	return s.cursors[sourceID]
}

// Save updates the cursor and synchronously rewrites the whole document.
func (s *FileStore) Save(ctx context.Context, sourceID string, cursor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureLoaded()
	s.cursors[sourceID] = cursor

	doc := make(map[string]entry, len(s.cursors))
	for id, c := range s.cursors {
		doc[id] = entry{LastOffset: c}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		progressSaveErrorsTotal.WithLabelValues("file").Inc()
		return fmt.Errorf("marshal progress: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		progressSaveErrorsTotal.WithLabelValues("file").Inc()
		return fmt.Errorf("write progress: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		progressSaveErrorsTotal.WithLabelValues("file").Inc()
		return fmt.Errorf("replace progress file: %w", err)
	}

	progressSavesTotal.WithLabelValues("file").Inc()
	s.logger.Debug().
		Str("source", sourceID).
		Int64("cursor", cursor).
		Msg("Progress saved")

	return nil
}

// Close is a no-op; every save already leaves a durable snapshot.
func (s *FileStore) Close() error {
	return nil
}

// ensureLoaded populates in-memory state on first use. Callers hold s.mu.
func (s *FileStore) ensureLoaded() {
	if !s.loaded {
		s.cursors = s.read()
		s.loaded = true
	}
}

// read parses the on-disk document, recovering to empty on any failure.
func (s *FileStore) read() map[string]int64 {
	cursors := make(map[string]int64)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			progressRecoveriesTotal.WithLabelValues("file").Inc()
			s.logger.Warn().Err(err).
				Str("path", s.path).
				Msg("Progress file unreadable, starting from scratch")
		}
		return cursors
	}

	var doc map[string]entry
	if err := json.Unmarshal(data, &doc); err != nil {
		progressRecoveriesTotal.WithLabelValues("file").Inc()
		s.logger.Warn().Err(err).
			Str("path", s.path).
			Msg("Progress file malformed, starting from scratch")
		return cursors
	}

	for id, e := range doc {
		cursors[id] = e.LastOffset
	}
	return cursors
}

// Path returns the document location, e.g. for operator-facing reports.
func (s *FileStore) Path() string {
	return filepath.Clean(s.path)
}
