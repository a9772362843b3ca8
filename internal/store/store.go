// Package store provides storage backends for SwasthPipe: interview
// transcripts and inbound message de-duplication.
package store

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/BTreeMap/SwasthPipe/internal/models"
)

// ErrNotFound is returned when a conversation has no stored transcripts.
var ErrNotFound = errors.New("not found")

// Driver names understood by database/sql and the migration drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// TranscriptStore persists completed interview exchanges.
type TranscriptStore interface {
	SaveTranscript(ctx context.Context, t models.Transcript) error
	// ListConversations returns the distinct conversation IDs with transcripts.
	ListConversations(ctx context.Context) ([]string, error)
	// GetTranscripts returns a conversation's transcripts, oldest first.
	GetTranscripts(ctx context.Context, conversationID string) ([]models.Transcript, error)
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database path or DSN.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the Postgres connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns DriverPostgres for Postgres URLs and key/value
// connection strings, DriverSQLite otherwise.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") {
		return DriverPostgres
	}
	if strings.Contains(d, "host=") || strings.Contains(d, "dbname=") || strings.Contains(d, "user=") {
		return DriverPostgres
	}
	return DriverSQLite
}

// Open returns the SQL store matching the DSN type.
func Open(dsn string) (TranscriptStore, error) {
	if DetectDSNType(dsn) == DriverPostgres {
		s, err := NewPostgresStore(WithPostgresDSN(dsn))
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := NewSQLiteStore(WithSQLiteDSN(dsn))
	if err != nil {
		return nil, err
	}
	return s, nil
}

// InMemoryStore keeps transcripts in memory (for tests and ephemeral runs).
type InMemoryStore struct {
	mu          sync.RWMutex
	transcripts map[string][]models.Transcript
}

var _ TranscriptStore = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{transcripts: make(map[string][]models.Transcript)}
}

// SaveTranscript appends t to its conversation.
func (s *InMemoryStore) SaveTranscript(ctx context.Context, t models.Transcript) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts[t.ConversationID] = append(s.transcripts[t.ConversationID], t)
	slog.Debug("InMemoryStore SaveTranscript succeeded", "conversationID", t.ConversationID)
	return nil
}

// ListConversations returns the conversation IDs in sorted order.
func (s *InMemoryStore) ListConversations(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.transcripts))
	for id := range s.transcripts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// GetTranscripts returns a copy of a conversation's transcripts, oldest first.
func (s *InMemoryStore) GetTranscripts(ctx context.Context, conversationID string) ([]models.Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list, ok := s.transcripts[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	out := append([]models.Transcript(nil), list...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }
