package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

func (s *SQLiteStore) CreateThread(ctx context.Context, conversationID, userID, title string) (*Thread, error) {
	t := &Thread{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		UserID:         userID,
		Title:          title,
		CreatedAt:      s.nowMillis(),
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO threads (id, conversation_id, user_id, title, created_at) VALUES (?, ?, ?, ?, ?)",
		t.ID, t.ConversationID, t.UserID, t.Title, t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert thread: %w", err)
	}
	return t, nil
}

// GetThread returns nil, nil when the thread does not exist.
func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	var t Thread
	err := s.db.QueryRowContext(ctx,
		"SELECT id, conversation_id, user_id, title, created_at FROM threads WHERE id = ?", id).
		Scan(&t.ID, &t.ConversationID, &t.UserID, &t.Title, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	return &t, nil
}
