// ABOUTME: SQLite implementation of the ledger using modernc.org/sqlite
// ABOUTME: Creates the audit and usage schema on open; ":memory:" keeps the ledger process-local

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// MemoryPath opens an in-memory ledger.
const MemoryPath = ":memory:"

// tsLayout is fixed-width so timestamps sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens the ledger at path, creating parent directories and
// the schema as needed. Pass nil logger for default.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	if path == "" {
		path = MemoryPath
	}
	inMemory := path == MemoryPath

	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if inMemory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
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
		CREATE TABLE IF NOT EXISTS audit_log (
			audit_id        TEXT PRIMARY KEY,
			conversation_id TEXT,
			decision_type   TEXT NOT NULL,
			agent_id        TEXT,
			summary         TEXT NOT NULL,
			success         INTEGER NOT NULL,
			duration_ms     INTEGER NOT NULL DEFAULT 0,
			ts              TEXT NOT NULL,
			detail_json     TEXT,

			CHECK (decision_type IN ('agent_selection', 'tool_call', 'stage_transition', 'response_generation', 'error'))
		);

		CREATE INDEX IF NOT EXISTS idx_audit_conversation ON audit_log(conversation_id, ts);
		CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_log(decision_type, ts);

		CREATE TABLE IF NOT EXISTS token_usage (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			request_id      TEXT NOT NULL,
			agent_id        TEXT NOT NULL,
			input_tokens    INTEGER NOT NULL DEFAULT 0,
			output_tokens   INTEGER NOT NULL DEFAULT 0,
			total_tokens    INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_usage_conversation ON token_usage(conversation_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(tsLayout, s)
}

var _ Store = (*SQLiteStore)(nil)
