package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rethoric/rethoric/internal/metrics"
	"github.com/rethoric/rethoric/internal/store"
	"github.com/rethoric/rethoric/internal/utils"
	"github.com/rs/zerolog"
)

type SelectionKind string

const (
	SelectionDaily     SelectionKind = "daily"
	SelectionRandom    SelectionKind = "random"
	SelectionCompleted SelectionKind = "completed"
)

const (
	dailyMessage     = "Here's today's featured question"
	randomMessage    = "Here's a question for you to explore"
	completedMessage = "Congratulations! You've answered all available questions. Check back later for new content."
)

type Selection struct {
	Kind     SelectionKind   `json:"type"`
	Question *store.Question `json:"question"`
	Message  string          `json:"message"`
}

// QuestionSelector picks the next question for a user. For a fixed user,
// UTC day and answered set the pick is always the same.
type QuestionSelector struct {
	dbStore *store.SQLiteStore
	logger  zerolog.Logger
}

func NewQuestionSelector(db *store.SQLiteStore, logger zerolog.Logger) *QuestionSelector {
	return &QuestionSelector{
		dbStore: db,
		logger:  logger.With().Str("component", "question_selector").Logger(),
	}
}

func (s *QuestionSelector) SelectNextQuestion(ctx context.Context, userID string, now time.Time) (*Selection, error) {
	today := now.UTC().Format("2006-01-02")

	dailies, err := s.dbStore.FindDailyQuestions(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("failed to look up daily question: %w", err)
	}
	if len(dailies) > 0 {
		daily := dailies[0]
		answered, err := s.dbStore.HasAnswered(ctx, userID, daily.ID)
		if err != nil {
			return nil, err
		}
		if !answered {
			metrics.SelectionsTotal.WithLabelValues(string(SelectionDaily)).Inc()
			return &Selection{Kind: SelectionDaily, Question: &daily, Message: dailyMessage}, nil
		}
	}

	active, err := s.dbStore.ListActiveQuestions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	answeredRecords, err := s.dbStore.ListAnsweredQuestions(ctx, userID)
	if err != nil {
		return nil, err
	}
	answered := make(map[string]struct{}, len(answeredRecords))
	for _, a := range answeredRecords {
		answered[a.QuestionID] = struct{}{}
	}

	candidates := make([]store.Question, 0, len(active))
	for _, q := range active {
		if _, done := answered[q.ID]; !done {
			candidates = append(candidates, q)
		}
	}

	if len(candidates) == 0 {
		metrics.SelectionsTotal.WithLabelValues(string(SelectionCompleted)).Inc()
		return &Selection{Kind: SelectionCompleted, Message: completedMessage}, nil
	}

	idx := utils.SeedIndex(userID+"_"+today, len(candidates))
	picked := candidates[idx]
	s.logger.Debug().
		Str("user_id", userID).
		Int("candidates", len(candidates)).
		Int("index", idx).
		Msg("selected question")
	metrics.SelectionsTotal.WithLabelValues(string(SelectionRandom)).Inc()
	return &Selection{Kind: SelectionRandom, Question: &picked, Message: randomMessage}, nil
}
