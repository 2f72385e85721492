package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rethoric/rethoric/internal/apperr"
)

const conversationColumns = "id, user_id, question_id, status, message_count, started_at, completed_at"

func scanConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	var completedAt sql.NullInt64
	if err := row.Scan(&c.ID, &c.UserID, &c.QuestionID, &c.Status, &c.MessageCount, &c.StartedAt, &completedAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		v := completedAt.Int64
		c.CompletedAt = &v
	}
	return &c, nil
}

// InitialMessageContent renders the opening assistant turn of a conversation.
func InitialMessageContent(q *Question) string {
	return fmt.Sprintf("**%s**\n\n%s", q.Title, q.Description)
}

// CreateConversation inserts an active conversation for q together with the
// opening assistant message that restates the question.
func (s *SQLiteStore) CreateConversation(ctx context.Context, userID string, q *Question) (*Conversation, *Message, error) {
	conv := &Conversation{
		ID:         uuid.NewString(),
		UserID:     userID,
		QuestionID: q.ID,
		Status:     StatusActive,
		StartedAt:  s.nowMillis(),
	}
	var first *Message

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO conversations (id, user_id, question_id, status, message_count, started_at) VALUES (?, ?, ?, ?, 0, ?)",
			conv.ID, conv.UserID, conv.QuestionID, conv.Status, conv.StartedAt)
		if err != nil {
			return fmt.Errorf("failed to insert conversation: %w", err)
		}
		first, err = s.insertMessageTx(ctx, tx, conv.ID, RoleAssistant, InitialMessageContent(q))
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	conv.MessageCount = 1
	return conv, first, nil
}

// GetConversation returns nil, nil when the conversation does not exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	c, err := scanConversation(s.db.QueryRowContext(ctx, "SELECT "+conversationColumns+" FROM conversations WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return c, nil
}

// GetOwnedConversation fails with NotFound or PermissionDenied unless
// requesterID owns the conversation.
func (s *SQLiteStore) GetOwnedConversation(ctx context.Context, id, requesterID string) (*Conversation, error) {
	c, err := s.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	return c, checkOwnership(c, id, requesterID)
}

func checkOwnership(c *Conversation, id, requesterID string) error {
	if c == nil {
		return apperr.NotFound("conversation %s not found", id)
	}
	if c.UserID != requesterID {
		return apperr.PermissionDenied("access denied: conversation %s is not owned by the requester", id)
	}
	return nil
}

func (s *SQLiteStore) getConversationTx(ctx context.Context, tx *sql.Tx, id, requesterID string) (*Conversation, error) {
	c, err := scanConversation(tx.QueryRowContext(ctx, "SELECT "+conversationColumns+" FROM conversations WHERE id = ?", id))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		c = nil
	}
	return c, checkOwnership(c, id, requesterID)
}

// ListConversationsByUser returns the user's conversations, most recent
// first, each joined with its question.
func (s *SQLiteStore) ListConversationsByUser(ctx context.Context, userID string, status *ConversationStatus) ([]ConversationWithQuestion, error) {
	query := "SELECT " + conversationColumns + " FROM conversations WHERE user_id = ?"
	args := []any{userID}
	if status != nil {
		query += " AND status = ?"
		args = append(args, *status)
	}
	query += " ORDER BY started_at DESC, rowid DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		convs = append(convs, *c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	questions := map[string]*Question{}
	result := make([]ConversationWithQuestion, 0, len(convs))
	for _, c := range convs {
		q, seen := questions[c.QuestionID]
		if !seen {
			q, err = s.GetQuestion(ctx, c.QuestionID)
			if err != nil {
				return nil, err
			}
			questions[c.QuestionID] = q
		}
		result = append(result, ConversationWithQuestion{Conversation: c, Question: q})
	}
	return result, nil
}

// AddMessage is the single write path for messages. Ownership, status and
// content are checked in the same transaction as the insert, so a completed
// conversation can never be appended to.
func (s *SQLiteStore) AddMessage(ctx context.Context, conversationID, requesterID string, role Role, content string) (*Message, error) {
	if !role.Valid() {
		return nil, apperr.InvalidArgument("invalid message role %q", role)
	}

	var msg *Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		conv, err := s.getConversationTx(ctx, tx, conversationID, requesterID)
		if err != nil {
			return err
		}
		if conv.Status != StatusActive {
			return apperr.InvalidState("cannot add messages to completed conversation")
		}
		trimmed := strings.TrimSpace(content)
		if trimmed == "" {
			return apperr.InvalidArgument("message content cannot be empty")
		}
		msg, err = s.insertMessageTx(ctx, tx, conversationID, role, trimmed)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// insertMessageTx assigns a timestamp strictly greater than every existing
// timestamp in the conversation.
func (s *SQLiteStore) insertMessageTx(ctx context.Context, tx *sql.Tx, conversationID string, role Role, content string) (*Message, error) {
	var last int64
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(timestamp), 0) FROM messages WHERE conversation_id = ?",
		conversationID).Scan(&last); err != nil {
		return nil, fmt.Errorf("failed to read last message timestamp: %w", err)
	}
	ts := s.nowMillis()
	if ts <= last {
		ts = last + 1
	}

	msg := &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Timestamp:      ts,
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO messages (id, conversation_id, role, content, timestamp) VALUES (?, ?, ?, ?, ?)",
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.Timestamp); err != nil {
		return nil, fmt.Errorf("failed to execute message insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE conversations SET message_count = message_count + 1 WHERE id = ?",
		conversationID); err != nil {
		return nil, fmt.Errorf("failed to update message count: %w", err)
	}
	return msg, nil
}

// ListMessages returns the conversation's messages in timestamp order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, conversation_id, role, content, timestamp FROM messages WHERE conversation_id = ? ORDER BY timestamp ASC, seq ASC",
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// CompleteConversation flips an active conversation to completed and records
// the answered question in one transaction. It reports changed=false when
// the conversation was already completed.
func (s *SQLiteStore) CompleteConversation(ctx context.Context, conversationID, requesterID string) (*Conversation, bool, error) {
	var conv *Conversation
	changed := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		conv, err = s.getConversationTx(ctx, tx, conversationID, requesterID)
		if err != nil {
			return err
		}
		if conv.Status == StatusCompleted {
			return nil
		}

		now := s.nowMillis()
		if _, err := tx.ExecContext(ctx,
			"UPDATE conversations SET status = ?, completed_at = ? WHERE id = ? AND status = ?",
			StatusCompleted, now, conversationID, StatusActive); err != nil {
			return fmt.Errorf("failed to complete conversation: %w", err)
		}
		// A record from an earlier conversation on the same question already
		// marks it answered; keep that one.
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO user_answered_questions (id, user_id, question_id, conversation_id, answered_at)
             VALUES (?, ?, ?, ?, ?)`,
			uuid.NewString(), conv.UserID, conv.QuestionID, conversationID, now); err != nil {
			return fmt.Errorf("failed to record answered question: %w", err)
		}

		conv.Status = StatusCompleted
		conv.CompletedAt = &now
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return conv, changed, nil
}
