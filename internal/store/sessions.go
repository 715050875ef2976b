package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/meridian-ai/meridian/internal/provider"
)

// Session represents a row in the sessions table. Memory is the long-term
// summary carried across conversations, distinct from the message history.
type Session struct {
	ID        string
	UserID    string
	Memory    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StoredMessage represents a row in the messages table.
type StoredMessage struct {
	ID        int64
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
}

// memoryShare is the fraction of a context budget reserved for long-term
// memory when the session has any. The remainder goes to recent history.
const memoryShare = 4 // one quarter

// EnsureSession upserts a session row, keeping the existing memory on
// conflict.
func (s *Store) EnsureSession(ctx context.Context, id, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET updated_at = now()`,
		id, userID)
	if err != nil {
		return fmt.Errorf("EnsureSession: %w", err)
	}
	return nil
}

// GetSession returns a session by ID, or nil if not found.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(user_id, ''), COALESCE(memory, ''), created_at, updated_at
		FROM sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.UserID, &sess.Memory, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetSession: %w", err)
	}
	return &sess, nil
}

// SetMemory replaces a session's long-term memory summary.
func (s *Store) SetMemory(ctx context.Context, sessionID, memory string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET memory = $2, updated_at = now() WHERE id = $1`,
		sessionID, memory)
	if err != nil {
		return fmt.Errorf("SetMemory: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AddMessage appends a message to a session's history.
func (s *Store) AddMessage(ctx context.Context, sessionID, role, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (session_id, role, content)
		VALUES ($1, $2, $3)`,
		sessionID, role, content)
	if err != nil {
		return fmt.Errorf("AddMessage: %w", err)
	}
	return nil
}

// ListMessages returns a session's newest messages, most recent first.
func (s *Store) ListMessages(ctx context.Context, sessionID string, limit int) ([]*StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, created_at
		FROM messages
		WHERE session_id = $1
		ORDER BY id DESC
		LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("ListMessages: %w", err)
	}
	defer rows.Close()

	var msgs []*StoredMessage
	for rows.Next() {
		var m StoredMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListMessages: %w", err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// maxContextMessages bounds how much history one context build reads. The
// token budget is the real limit; this just caps the query.
const maxContextMessages = 200

// BuildContext assembles the conversation context for a model call within a
// token budget (4 chars per token). When the session carries long-term
// memory, about a quarter of the budget goes to it as a leading system
// message; recent messages fill the remainder newest-first, then are
// returned in chronological order.
func (s *Store) BuildContext(ctx context.Context, sessionID string, tokenBudget int) ([]provider.Message, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("BuildContext: %w", err)
	}

	charBudget := tokenBudget * 4
	var out []provider.Message

	if sess != nil && sess.Memory != "" {
		memBudget := charBudget / memoryShare
		memory := sess.Memory
		if len(memory) > memBudget {
			memory = memory[:memBudget]
		}
		out = append(out, provider.Message{
			Role:    provider.RoleSystem,
			Content: "Relevant long-term memory for this user:\n" + memory,
		})
		charBudget -= len(memory)
	}

	history, err := s.ListMessages(ctx, sessionID, maxContextMessages)
	if err != nil {
		return nil, fmt.Errorf("BuildContext: %w", err)
	}

	var kept []provider.Message
	for _, m := range history {
		if len(m.Content) > charBudget {
			break
		}
		kept = append(kept, provider.Message{Role: m.Role, Content: m.Content})
		charBudget -= len(m.Content)
	}

	// kept is newest-first; flip to chronological.
	for i := len(kept) - 1; i >= 0; i-- {
		out = append(out, kept[i])
	}
	return out, nil
}
