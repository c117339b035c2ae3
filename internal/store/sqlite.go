// ABOUTME: SQLite implementation of the HistoryStore interface using modernc.org/sqlite
// ABOUTME: Provides conversion history persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so timestamps sort correctly as text
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements HistoryStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Conversions finish on their own goroutines; a single connection
	// serializes writers instead of failing on a locked database
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversions (
			conversion_id TEXT PRIMARY KEY,
			session_id    TEXT NOT NULL,
			filename      TEXT NOT NULL,
			source_format TEXT NOT NULL,
			target_format TEXT NOT NULL,
			status        TEXT NOT NULL,
			reason        TEXT,
			bytes         INTEGER NOT NULL DEFAULT 0,
			duration_ms   INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL,

			CHECK (status IN ('succeeded', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_conversions_session
			ON conversions(session_id, created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// RecordConversion appends a conversion attempt.
// Generates ID and CreatedAt if not set.
func (s *SQLiteStore) RecordConversion(ctx context.Context, c *Conversion) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Status != StatusSucceeded && c.Status != StatusFailed {
		return fmt.Errorf("invalid conversion status %q", c.Status)
	}

	var reason *string
	if c.Reason != "" {
		reason = &c.Reason
	}

	query := `
		INSERT INTO conversions (conversion_id, session_id, filename, source_format, target_format, status, reason, bytes, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		c.ID,
		c.SessionID,
		c.Filename,
		c.SourceFormat,
		c.TargetFormat,
		c.Status,
		reason,
		c.Bytes,
		c.Duration.Milliseconds(),
		c.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting conversion: %w", err)
	}

	s.logger.Debug("recorded conversion",
		"id", c.ID,
		"session", c.SessionID,
		"pair", c.SourceFormat+"->"+c.TargetFormat,
		"status", c.Status,
	)
	return nil
}

const conversionColumns = `conversion_id, session_id, filename, source_format, target_format, status, reason, bytes, duration_ms, created_at`

// scanConversion scans a row into a Conversion.
func scanConversion(scanner interface{ Scan(dest ...any) error }) (*Conversion, error) {
	var c Conversion
	var reason *string
	var durationMS int64
	var createdStr string

	if err := scanner.Scan(
		&c.ID,
		&c.SessionID,
		&c.Filename,
		&c.SourceFormat,
		&c.TargetFormat,
		&c.Status,
		&reason,
		&c.Bytes,
		&durationMS,
		&createdStr,
	); err != nil {
		return nil, err
	}

	if reason != nil {
		c.Reason = *reason
	}
	c.Duration = time.Duration(durationMS) * time.Millisecond

	var err error
	c.CreatedAt, err = time.Parse(timeLayout, createdStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &c, nil
}

// ListConversions returns the session's most recent attempts, newest first.
func (s *SQLiteStore) ListConversions(ctx context.Context, sessionID string, limit int) ([]*Conversion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversionColumns+`
		FROM conversions
		WHERE session_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, sessionID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying conversions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Conversion
	for rows.Next() {
		c, err := scanConversion(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversion: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversions: %w", err)
	}

	if out == nil {
		out = []*Conversion{}
	}
	return out, nil
}

// ConversionStats counts the session's attempts. An empty sessionID counts
// every session.
func (s *SQLiteStore) ConversionStats(ctx context.Context, sessionID string) (*ConversionStats, error) {
	var stats ConversionStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'succeeded' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
		FROM conversions
		WHERE (? = '' OR session_id = ?)
	`, sessionID, sessionID).Scan(&stats.Total, &stats.Succeeded, &stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("querying conversion stats: %w", err)
	}
	return &stats, nil
}
