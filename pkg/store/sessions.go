package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateSession opens a new chat session, optionally scoped to a
// collection.
func (s *Store) CreateSession(ctx context.Context, userID, collectionID, title string) (*ChatSession, error) {
	sess := &ChatSession{
		ID:           uuid.NewString(),
		UserID:       userID,
		CollectionID: collectionID,
		Title:        title,
		CreatedAt:    time.Now().UTC(),
	}

	var colID interface{}
	if collectionID != "" {
		colID = collectionID
	}

	_, err := s.exec(ctx,
		`INSERT INTO chat_sessions (id, user_id, collection_id, title, created_at, message_count)
         VALUES (?, ?, ?, ?, ?, 0)`,
		sess.ID, sess.UserID, colID, sess.Title, sess.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

// GetSession fetches a session, enforcing ownership.
func (s *Store) GetSession(ctx context.Context, userID, id string) (*ChatSession, error) {
	sess, err := s.scanSession(s.queryRow(ctx,
		`SELECT id, user_id, collection_id, title, created_at, last_message_at, message_count
         FROM chat_sessions WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, fmt.Errorf("session %s: %w", id, ErrForbidden)
	}
	return sess, nil
}

// ListSessions returns the user's sessions, most recently active first.
func (s *Store) ListSessions(ctx context.Context, userID string, page Page) ([]*ChatSession, int, error) {
	page = page.Clamp()

	var total int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM chat_sessions WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	rows, err := s.query(ctx,
		`SELECT id, user_id, collection_id, title, created_at, last_message_at, message_count
         FROM chat_sessions WHERE user_id = ?
         ORDER BY COALESCE(last_message_at, created_at) DESC LIMIT ? OFFSET ?`,
		userID, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []*ChatSession
	for rows.Next() {
		sess, err := s.scanSessionRows(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, sess)
	}
	return out, total, rows.Err()
}

// DeleteSession removes a session and its messages.
func (s *Store) DeleteSession(ctx context.Context, userID, id string) error {
	if _, err := s.GetSession(ctx, userID, id); err != nil {
		return err
	}
	if _, err := s.exec(ctx, `DELETE FROM chat_sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// SetSessionTitle records a derived title on first user turn.
func (s *Store) SetSessionTitle(ctx context.Context, id, title string) error {
	_, err := s.exec(ctx,
		`UPDATE chat_sessions SET title = ? WHERE id = ? AND (title IS NULL OR title = '')`,
		title, id)
	if err != nil {
		return fmt.Errorf("failed to set session title: %w", err)
	}
	return nil
}

// AppendTurn persists a user/assistant message pair atomically and
// advances the session counters. A completed turn is either fully
// persisted or not at all.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, userMsg, assistantMsg *ChatMessage) error {
	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, m := range []*ChatMessage{userMsg, assistantMsg} {
			if m == nil {
				continue
			}
			m.ID = uuid.NewString()
			m.SessionID = sessionID
			if m.CreatedAt.IsZero() {
				m.CreatedAt = now
			}
			if _, err := tx.ExecContext(ctx, s.rebind(
				`INSERT INTO chat_messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`),
				m.ID, m.SessionID, m.Role, m.Content, m.CreatedAt); err != nil {
				return fmt.Errorf("failed to append message: %w", err)
			}
		}
		added := 0
		if userMsg != nil {
			added++
		}
		if assistantMsg != nil {
			added++
		}
		if _, err := tx.ExecContext(ctx, s.rebind(
			`UPDATE chat_sessions SET last_message_at = ?, message_count = message_count + ? WHERE id = ?`),
			now, added, sessionID); err != nil {
			return fmt.Errorf("failed to touch session: %w", err)
		}
		return nil
	})
}

// GetMessages returns a session's messages oldest first.
func (s *Store) GetMessages(ctx context.Context, userID, sessionID string, page Page) ([]*ChatMessage, int, error) {
	if _, err := s.GetSession(ctx, userID, sessionID); err != nil {
		return nil, 0, err
	}
	page = page.Clamp()

	var total int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM chat_messages WHERE session_id = ?`, sessionID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	rows, err := s.query(ctx,
		`SELECT id, session_id, role, content, created_at FROM chat_messages
         WHERE session_id = ? ORDER BY created_at, id LIMIT ? OFFSET ?`,
		sessionID, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []*ChatMessage
	for rows.Next() {
		m := &ChatMessage{}
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

// RecentMessages returns the newest n messages oldest-first, for
// assembling conversation history under a token budget.
func (s *Store) RecentMessages(ctx context.Context, sessionID string, n int) ([]*ChatMessage, error) {
	rows, err := s.query(ctx,
		`SELECT id, session_id, role, content, created_at FROM chat_messages
         WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recent messages: %w", err)
	}
	defer rows.Close()

	var out []*ChatMessage
	for rows.Next() {
		m := &ChatMessage{}
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// reverse to chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) scanSession(row *sql.Row) (*ChatSession, error) {
	sess := &ChatSession{}
	var colID, title sql.NullString
	var lastMsg sql.NullTime
	err := row.Scan(&sess.ID, &sess.UserID, &colID, &title, &sess.CreatedAt, &lastMsg, &sess.MessageCount)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	sess.CollectionID = colID.String
	sess.Title = title.String
	if lastMsg.Valid {
		sess.LastMessageAt = &lastMsg.Time
	}
	return sess, nil
}

func (s *Store) scanSessionRows(rows *sql.Rows) (*ChatSession, error) {
	sess := &ChatSession{}
	var colID, title sql.NullString
	var lastMsg sql.NullTime
	err := rows.Scan(&sess.ID, &sess.UserID, &colID, &title, &sess.CreatedAt, &lastMsg, &sess.MessageCount)
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	sess.CollectionID = colID.String
	sess.Title = title.String
	if lastMsg.Valid {
		sess.LastMessageAt = &lastMsg.Time
	}
	return sess, nil
}
