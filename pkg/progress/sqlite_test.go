package progress

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func newTestSQLiteStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "progress.db")
	s, err := NewSQLiteStore(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s, path
}

func TestSQLiteStore_GetUnknownSource(t *testing.T) {
	s, _ := newTestSQLiteStore(t)

	if got := s.Get(context.Background(), "alpha"); got != 0 {
		t.Errorf("Get() = %d, want 0 for unknown source", got)
	}
}

func TestSQLiteStore_SaveAndGet(t *testing.T) {
	s, _ := newTestSQLiteStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "alpha", 50); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Save(ctx, "alpha", 100); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Save(ctx, "beta", 25); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if got := s.Get(ctx, "alpha"); got != 100 {
		t.Errorf("Get(alpha) = %d, want 100", got)
	}
	if got := s.Get(ctx, "beta"); got != 25 {
		t.Errorf("Get(beta) = %d, want 25", got)
	}

	cursors := s.Load(ctx)
	if len(cursors) != 2 || cursors["alpha"] != 100 || cursors["beta"] != 25 {
		t.Errorf("Load() = %v, want map[alpha:100 beta:25]", cursors)
	}
}

func TestSQLiteStore_ResumeAcrossInstances(t *testing.T) {
	s, path := newTestSQLiteStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "alpha", 150); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	restarted, err := NewSQLiteStore(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSQLiteStore() reopen error = %v", err)
	}
	defer restarted.Close()

	if got := restarted.Get(ctx, "alpha"); got != 150 {
		t.Errorf("Get() after restart = %d, want 150", got)
	}
}

func TestSQLiteStore_LoadEmptyDatabase(t *testing.T) {
	s, _ := newTestSQLiteStore(t)

	cursors := s.Load(context.Background())
	if len(cursors) != 0 {
		t.Errorf("Load() = %v, want empty mapping for fresh database", cursors)
	}
}
