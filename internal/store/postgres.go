// This file implements a PostgreSQL-backed store for transcripts.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/BTreeMap/SwasthPipe/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

// PostgresStore stores transcripts and dedup records in Postgres.
type PostgresStore struct {
	db *sql.DB
}

var _ TranscriptStore = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open(DriverPostgres, dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if err := runMigrations(db, DriverPostgres); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// SaveTranscript inserts a transcript, assigning an ID when missing.
func (s *PostgresStore) SaveTranscript(ctx context.Context, t models.Transcript) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts (id, chat_id, user_message, agent_reply, created_at) VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.ConversationID, t.UserPrompt, t.AgentReply, t.Timestamp.UTC())
	if err != nil {
		slog.Error("PostgresStore SaveTranscript failed", "error", err, "conversationID", t.ConversationID)
		return fmt.Errorf("failed to insert transcript for %s: %w", t.ConversationID, err)
	}
	slog.Debug("PostgresStore SaveTranscript succeeded", "conversationID", t.ConversationID, "id", t.ID)
	return nil
}

// ListConversations returns the distinct conversation IDs.
func (s *PostgresStore) ListConversations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT chat_id FROM transcripts ORDER BY chat_id`)
	if err != nil {
		slog.Error("PostgresStore ListConversations query failed", "error", err)
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	return scanIDs(rows)
}

// GetTranscripts returns a conversation's transcripts, oldest first.
func (s *PostgresStore) GetTranscripts(ctx context.Context, conversationID string) ([]models.Transcript, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, user_message, agent_reply, created_at FROM transcripts WHERE chat_id = $1 ORDER BY created_at ASC`,
		conversationID)
	if err != nil {
		slog.Error("PostgresStore GetTranscripts query failed", "error", err)
		return nil, fmt.Errorf("failed to query transcripts: %w", err)
	}
	return scanTranscripts(rows)
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
