// Package session provides the sqlite-backed conversation store that the
// Session-Managed isolation strategy injects into per-context agent handles.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Open-Agent-Tools/any-agent/internal/observability"
	"github.com/Open-Agent-Tools/any-agent/pkg/agent"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	context_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_context ON messages(context_id, id);
`

// Store persists conversation history keyed by context id.
type Store struct {
	db     *sql.DB
	dbPath string

	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// Open opens (creating if necessary) a store at the given sqlite path.
func Open(dbPath string) (*Store, error) {
	observability.EnsureRegistered()

	if dbPath == "" {
		return nil, fmt.Errorf("session store path is required")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize session store schema: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("Session store opened")

	return &Store{
		db:         db,
		dbPath:     dbPath,
		writeLocks: make(map[string]*sync.Mutex),
	}, nil
}

// validateContextID rejects context ids the store cannot key safely.
func validateContextID(contextID string) error {
	if contextID == "" {
		return fmt.Errorf("context id cannot be empty")
	}
	if strings.Contains(contextID, "\x00") {
		return fmt.Errorf("context id cannot contain null bytes")
	}
	return nil
}

func (s *Store) getWriteLock(contextID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if lock, exists := s.writeLocks[contextID]; exists {
		return lock
	}
	lock := &sync.Mutex{}
	s.writeLocks[contextID] = lock
	return lock
}

// Append records messages for a context.
func (s *Store) Append(ctx context.Context, contextID string, messages ...agent.Message) error {
	if err := validateContextID(contextID); err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		observability.RecordStoreWrite(time.Since(start))
	}()

	lock := s.getWriteLock(contextID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO messages (context_id, role, content, created_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, msg := range messages {
		if msg.Role == "" || msg.Content == "" {
			return fmt.Errorf("message role and content are required")
		}
		ts := msg.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, contextID, msg.Role, msg.Content, ts); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}

	log.Debug().
		Str("context_id", contextID).
		Int("messages", len(messages)).
		Msg("Messages appended to session store")

	return nil
}

// History returns all messages recorded for a context, oldest first.
func (s *Store) History(ctx context.Context, contextID string) ([]agent.Message, error) {
	if err := validateContextID(contextID); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		observability.RecordStoreLoad(time.Since(start))
	}()

	rows, err := s.db.QueryContext(ctx,
		"SELECT role, content, created_at FROM messages WHERE context_id = ? ORDER BY id", contextID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var messages []agent.Message
	for rows.Next() {
		var msg agent.Message
		if err := rows.Scan(&msg.Role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	return messages, nil
}

// Clear removes all messages recorded for a context.
func (s *Store) Clear(ctx context.Context, contextID string) error {
	if err := validateContextID(contextID); err != nil {
		return err
	}

	// The lock entry stays in the map for the store's lifetime: dropping it
	// here would let a concurrent Append mint a second mutex for the same
	// context and write alongside us.
	lock := s.getWriteLock(contextID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE context_id = ?", contextID); err != nil {
		return fmt.Errorf("failed to clear context: %w", err)
	}

	log.Debug().Str("context_id", contextID).Msg("Context cleared from session store")
	return nil
}

// Contexts lists the context ids with recorded history.
func (s *Store) Contexts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT context_id FROM messages ORDER BY context_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list contexts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan context id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.locksMu.Lock()
	s.writeLocks = make(map[string]*sync.Mutex)
	s.locksMu.Unlock()

	log.Info().Msg("Session store closed")
	return s.db.Close()
}

// ScopedHistory pins a store to a single context id so it can serve as an
// agent.HistorySource for that context's handle regardless of the context id
// the caller passes through.
type ScopedHistory struct {
	store     *Store
	contextID string
}

// Scope returns a history source bound to one context id.
func (s *Store) Scope(contextID string) *ScopedHistory {
	return &ScopedHistory{store: s, contextID: contextID}
}

// History returns the pinned context's messages.
func (h *ScopedHistory) History(ctx context.Context, _ string) ([]agent.Message, error) {
	return h.store.History(ctx, h.contextID)
}

// Append records messages against the pinned context.
func (h *ScopedHistory) Append(ctx context.Context, _ string, messages ...agent.Message) error {
	return h.store.Append(ctx, h.contextID, messages...)
}

// Provision returns a history source pinned to the given context id,
// validating the id up front. It satisfies the session backend contract the
// Session-Managed isolation strategy acquires handles through.
func (s *Store) Provision(_ context.Context, contextID string) (agent.HistorySource, error) {
	if err := validateContextID(contextID); err != nil {
		return nil, err
	}
	return s.Scope(contextID), nil
}

// Drop discards a context's provisioned history.
func (s *Store) Drop(ctx context.Context, contextID string) error {
	return s.Clear(ctx, contextID)
}
