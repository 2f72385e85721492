package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rethoric/rethoric/internal/apperr"
)

const questionColumns = "id, seq, title, description, category, tags_json, difficulty, is_active, is_daily, daily_date, created_at"

func scanQuestion(row rowScanner) (*Question, error) {
	var q Question
	var tagsJSON string
	var dailyDate sql.NullString
	if err := row.Scan(&q.ID, &q.Seq, &q.Title, &q.Description, &q.Category, &tagsJSON,
		&q.Difficulty, &q.IsActive, &q.IsDaily, &dailyDate, &q.CreatedAt); err != nil {
		return nil, err
	}
	q.DailyDate = stringPtr(dailyDate)
	if tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &q.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags for question %s: %w", q.ID, err)
		}
	}
	if q.Tags == nil {
		q.Tags = []string{}
	}
	return &q, nil
}

func (s *SQLiteStore) queryQuestions(ctx context.Context, query string, args ...any) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query questions: %w", err)
	}
	defer rows.Close()

	questions := []Question{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan question row: %w", err)
		}
		questions = append(questions, *q)
	}
	return questions, rows.Err()
}

func marshalTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tags: %w", err)
	}
	return string(b), nil
}

// CreateQuestion assigns ID, Seq and CreatedAt on q.
func (s *SQLiteStore) CreateQuestion(ctx context.Context, q *Question) error {
	tagsJSON, err := marshalTags(q.Tags)
	if err != nil {
		return err
	}
	q.ID = uuid.NewString()
	q.CreatedAt = s.nowMillis()
	if q.Difficulty == "" {
		q.Difficulty = "beginner"
	}
	if q.Tags == nil {
		q.Tags = []string{}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO questions (id, title, description, category, tags_json, difficulty, is_active, is_daily, daily_date, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.Title, q.Description, q.Category, tagsJSON, q.Difficulty, q.IsActive, q.IsDaily, nullString(q.DailyDate), q.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert question: %w", err)
	}
	q.Seq, _ = res.LastInsertId()
	return nil
}

// GetQuestion returns nil, nil when the question does not exist.
func (s *SQLiteStore) GetQuestion(ctx context.Context, id string) (*Question, error) {
	q, err := scanQuestion(s.db.QueryRowContext(ctx, "SELECT "+questionColumns+" FROM questions WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get question: %w", err)
	}
	return q, nil
}

func (s *SQLiteStore) UpdateQuestion(ctx context.Context, q *Question) error {
	tagsJSON, err := marshalTags(q.Tags)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE questions SET title = ?, description = ?, category = ?, tags_json = ?, difficulty = ?,
         is_active = ?, is_daily = ?, daily_date = ? WHERE id = ?`,
		q.Title, q.Description, q.Category, tagsJSON, q.Difficulty, q.IsActive, q.IsDaily, nullString(q.DailyDate), q.ID)
	if err != nil {
		return fmt.Errorf("failed to update question: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return apperr.NotFound("question %s not found", q.ID)
	}
	return nil
}

// DeleteQuestion does not cascade; conversations referencing the question
// keep a dangling question id.
func (s *SQLiteStore) DeleteQuestion(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM questions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete question: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return apperr.NotFound("question %s not found", id)
	}
	return nil
}

// ListQuestions returns every question in insertion order.
func (s *SQLiteStore) ListQuestions(ctx context.Context) ([]Question, error) {
	return s.queryQuestions(ctx, "SELECT "+questionColumns+" FROM questions ORDER BY seq ASC")
}

// ListActiveQuestions returns active questions in insertion order.
func (s *SQLiteStore) ListActiveQuestions(ctx context.Context) ([]Question, error) {
	return s.queryQuestions(ctx, "SELECT "+questionColumns+" FROM questions WHERE is_active = TRUE ORDER BY seq ASC")
}

// FindDailyQuestions returns the active questions featured on date, in
// insertion order.
func (s *SQLiteStore) FindDailyQuestions(ctx context.Context, date string) ([]Question, error) {
	return s.queryQuestions(ctx,
		"SELECT "+questionColumns+" FROM questions WHERE is_daily = TRUE AND daily_date = ? AND is_active = TRUE ORDER BY seq ASC",
		date)
}

func (s *SQLiteStore) HasAnswered(ctx context.Context, userID, questionID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM user_answered_questions WHERE user_id = ? AND question_id = ?",
		userID, questionID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query answered questions: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListAnsweredQuestions(ctx context.Context, userID string) ([]AnsweredQuestion, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, question_id, conversation_id, answered_at FROM user_answered_questions WHERE user_id = ? ORDER BY answered_at ASC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query answered questions: %w", err)
	}
	defer rows.Close()

	answered := []AnsweredQuestion{}
	for rows.Next() {
		var a AnsweredQuestion
		if err := rows.Scan(&a.ID, &a.UserID, &a.QuestionID, &a.ConversationID, &a.AnsweredAt); err != nil {
			return nil, fmt.Errorf("failed to scan answered question row: %w", err)
		}
		answered = append(answered, a)
	}
	return answered, rows.Err()
}
