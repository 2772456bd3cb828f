package progress

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists cursors in an embedded SQLite database. Useful when
// the progress file lives on storage where wholesale rewrites are costly or
// when an operator wants to inspect progress with SQL.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open progress database: %w", err)
	}

	// Single writer; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:     db,
		logger: logger.With().Str("component", "progress").Str("backend", "sqlite").Logger(),
	}
	if err := s.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create progress table: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) createTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS progress (
		source_id TEXT PRIMARY KEY,
		last_offset INTEGER NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`

	_, err := s.db.Exec(query)
	return err
}

// Load reads all cursors, recovering to empty on any read failure.
func (s *SQLiteStore) Load(ctx context.Context) map[string]int64 {
	cursors := make(map[string]int64)

	rows, err := s.db.QueryContext(ctx, `SELECT source_id, last_offset FROM progress`)
	if err != nil {
		progressRecoveriesTotal.WithLabelValues("sqlite").Inc()
		s.logger.Warn().Err(err).Msg("Progress table unreadable, starting from scratch")
		return cursors
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var offset int64
		if err := rows.Scan(&id, &offset); err != nil {
			progressRecoveriesTotal.WithLabelValues("sqlite").Inc()
			s.logger.Warn().Err(err).Msg("Progress row unreadable, starting from scratch")
			return make(map[string]int64)
		}
		cursors[id] = offset
	}
	if err := rows.Err(); err != nil {
		progressRecoveriesTotal.WithLabelValues("sqlite").Inc()
		s.logger.Warn().Err(err).Msg("Progress scan failed, starting from scratch")
		return make(map[string]int64)
	}

	return cursors
}

// Get returns the stored cursor or 0 if unknown or unreadable.
func (s *SQLiteStore) Get(ctx context.Context, sourceID string) int64 {
	var offset int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_offset FROM progress WHERE source_id = ?`, sourceID).Scan(&offset)
	if err != nil {
		if err != sql.ErrNoRows {
			s.logger.Warn().Err(err).Str("source", sourceID).Msg("Cursor lookup failed, assuming 0")
		}
		return 0
	}
	return offset
}

// Save upserts the cursor for a source inside a transaction.
func (s *SQLiteStore) Save(ctx context.Context, sourceID string, cursor int64) error {
	query := `
	INSERT INTO progress (source_id, last_offset, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(source_id) DO UPDATE SET
		last_offset = excluded.last_offset,
		updated_at = excluded.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query, sourceID, cursor, time.Now().UTC()); err != nil {
		progressSaveErrorsTotal.WithLabelValues("sqlite").Inc()
		return fmt.Errorf("save cursor: %w", err)
	}

	progressSavesTotal.WithLabelValues("sqlite").Inc()
	s.logger.Debug().
		Str("source", sourceID).
		Int64("cursor", cursor).
		Msg("Progress saved")

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
