// Package history is the optional SQLite-backed conversation store used
// by the ask surface to carry multi-turn context.
package history

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tierd-ai/tierd/pkg/config"
	"github.com/tierd-ai/tierd/pkg/models"
)

// Store reads and appends per-session conversation turns.
type Store interface {
	// Current returns the session's current conversation id, creating
	// one if absent.
	Current(ctx context.Context, session string) (string, error)
	// Reset starts a fresh conversation for the session and returns
	// its id.
	Reset(ctx context.Context, session string) (string, error)
	// Append adds a user/assistant exchange to the conversation.
	// Empty texts are skipped. The oldest turns are dropped once the
	// conversation exceeds the configured cap.
	Append(ctx context.Context, conversationID, userText, assistantText string) error
	// Turns returns the conversation's messages, oldest first, capped
	// to the configured turn limit.
	Turns(ctx context.Context, conversationID string) ([]models.ChatMessage, error)
	// Close releases resources.
	Close() error
}

// SQLiteStore implements Store with a SQLite database.
type SQLiteStore struct {
	db       *sql.DB
	maxTurns int
}

const createTables = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	session TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations(session, created_at);

CREATE TABLE IF NOT EXISTS turns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, id);
`

// New creates a SQLiteStore and runs auto-migration.
func New(cfg config.HistoryConfig) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(createTables); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 10
	}
	return &SQLiteStore{db: db, maxTurns: maxTurns}, nil
}

// generateConversationID creates an id like conv_20260827_a3f9c2.
func generateConversationID() string {
	b := make([]byte, 3)
	rand.Read(b)
	return fmt.Sprintf("conv_%s_%s", time.Now().UTC().Format("20060102"), hex.EncodeToString(b))
}

// Current returns the most recent conversation for the session,
// creating one if the session has none.
func (s *SQLiteStore) Current(ctx context.Context, session string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE session = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		session,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("current conversation: %w", err)
	}
	return s.Reset(ctx, session)
}

// Reset creates a fresh conversation for the session.
func (s *SQLiteStore) Reset(ctx context.Context, session string) (string, error) {
	id := generateConversationID()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, session, created_at) VALUES (?, ?, ?)`,
		id, session, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	return id, nil
}

// Append stores a user/assistant exchange and trims the conversation to
// the turn cap (two messages per turn, oldest dropped first).
func (s *SQLiteStore) Append(ctx context.Context, conversationID, userText, assistantText string) error {
	now := time.Now().UTC()
	for _, m := range []models.ChatMessage{
		{Role: "user", Content: userText},
		{Role: "assistant", Content: assistantText},
	} {
		if m.Content == "" {
			continue
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO turns (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
			conversationID, m.Role, m.Content, now,
		)
		if err != nil {
			return fmt.Errorf("append turn: %w", err)
		}
	}

	limit := s.maxTurns * 2
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM turns WHERE conversation_id = ? AND id NOT IN (
			SELECT id FROM turns WHERE conversation_id = ? ORDER BY id DESC LIMIT ?
		)`,
		conversationID, conversationID, limit,
	)
	if err != nil {
		return fmt.Errorf("trim turns: %w", err)
	}
	return nil
}

// Turns returns the conversation's messages, oldest first.
func (s *SQLiteStore) Turns(ctx context.Context, conversationID string) ([]models.ChatMessage, error) {
	limit := s.maxTurns * 2
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM turns WHERE conversation_id = ?
		 AND role IN ('user', 'assistant')
		 ORDER BY id DESC LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var reversed []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		reversed = append(reversed, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]models.ChatMessage, len(reversed))
	for i, m := range reversed {
		out[len(reversed)-1-i] = m
	}
	return out, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
