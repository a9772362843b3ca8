// This file implements an SQLite-backed store for transcripts.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/BTreeMap/SwasthPipe/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

// SQLiteStore stores transcripts and dedup records in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ TranscriptStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(sqlitePath(dsn))
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if err := runMigrations(db, DriverSQLite); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// sqlitePath strips the file: scheme and query parameters from a DSN.
func sqlitePath(dsn string) string {
	p := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	return p
}

// SaveTranscript inserts a transcript, assigning an ID when missing.
func (s *SQLiteStore) SaveTranscript(ctx context.Context, t models.Transcript) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts (id, chat_id, user_message, agent_reply, created_at) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.ConversationID, t.UserPrompt, t.AgentReply, t.Timestamp.UTC())
	if err != nil {
		slog.Error("SQLiteStore SaveTranscript failed", "error", err, "conversationID", t.ConversationID)
		return fmt.Errorf("failed to insert transcript for %s: %w", t.ConversationID, err)
	}
	slog.Debug("SQLiteStore SaveTranscript succeeded", "conversationID", t.ConversationID, "id", t.ID)
	return nil
}

// ListConversations returns the distinct conversation IDs.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT chat_id FROM transcripts ORDER BY chat_id`)
	if err != nil {
		slog.Error("SQLiteStore ListConversations query failed", "error", err)
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	return scanIDs(rows)
}

// GetTranscripts returns a conversation's transcripts, oldest first.
func (s *SQLiteStore) GetTranscripts(ctx context.Context, conversationID string) ([]models.Transcript, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, user_message, agent_reply, created_at FROM transcripts WHERE chat_id = ? ORDER BY created_at ASC`,
		conversationID)
	if err != nil {
		slog.Error("SQLiteStore GetTranscripts query failed", "error", err)
		return nil, fmt.Errorf("failed to query transcripts: %w", err)
	}
	return scanTranscripts(rows)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
