package core

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rethoric/rethoric/internal/apperr"
	"github.com/rethoric/rethoric/internal/store"
	"github.com/rs/zerolog"
)

// QuestionInput is the admin payload for creating or replacing a question.
type QuestionInput struct {
	Title       string   `json:"title" validate:"required,max=300"`
	Description string   `json:"description" validate:"max=5000"`
	Category    string   `json:"category" validate:"max=100"`
	Tags        []string `json:"tags" validate:"max=20,dive,required,max=50"`
	Difficulty  string   `json:"difficulty" validate:"omitempty,oneof=beginner intermediate advanced"`
	IsActive    *bool    `json:"isActive"`
	IsDaily     bool     `json:"isDaily"`
	DailyDate   *string  `json:"dailyDate" validate:"omitempty,datetime=2006-01-02"`
}

type QuestionService struct {
	dbStore  *store.SQLiteStore
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewQuestionService(db *store.SQLiteStore, logger zerolog.Logger) *QuestionService {
	return &QuestionService{
		dbStore:  db,
		validate: validator.New(),
		logger:   logger.With().Str("component", "question_service").Logger(),
	}
}

func (s *QuestionService) toQuestion(in QuestionInput) (*store.Question, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := s.validate.Struct(in); err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidArgument, "invalid question", err)
	}
	if in.IsDaily && in.DailyDate == nil {
		return nil, apperr.InvalidArgument("dailyDate is required for daily questions")
	}

	q := &store.Question{
		Title:       in.Title,
		Description: strings.TrimSpace(in.Description),
		Category:    in.Category,
		Tags:        in.Tags,
		Difficulty:  in.Difficulty,
		IsActive:    in.IsActive == nil || *in.IsActive,
		IsDaily:     in.IsDaily,
	}
	if in.IsDaily {
		q.DailyDate = in.DailyDate
	}
	if q.Tags == nil {
		q.Tags = []string{}
	}
	return q, nil
}

func (s *QuestionService) List(ctx context.Context) ([]store.Question, error) {
	return s.dbStore.ListQuestions(ctx)
}

func (s *QuestionService) Get(ctx context.Context, id string) (*store.Question, error) {
	q, err := s.dbStore.GetQuestion(ctx, id)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, apperr.NotFound("question %s not found", id)
	}
	return q, nil
}

func (s *QuestionService) Create(ctx context.Context, in QuestionInput) (*store.Question, error) {
	q, err := s.toQuestion(in)
	if err != nil {
		return nil, err
	}
	if err := s.dbStore.CreateQuestion(ctx, q); err != nil {
		return nil, err
	}
	s.logger.Info().Str("question_id", q.ID).Str("title", q.Title).Msg("question created")
	return q, nil
}

func (s *QuestionService) Update(ctx context.Context, id string, in QuestionInput) (*store.Question, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	q, err := s.toQuestion(in)
	if err != nil {
		return nil, err
	}
	q.ID = existing.ID
	q.Seq = existing.Seq
	q.CreatedAt = existing.CreatedAt
	if q.Difficulty == "" {
		q.Difficulty = existing.Difficulty
	}
	if err := s.dbStore.UpdateQuestion(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

// Delete leaves conversations on the question in place; they list with a
// nil question afterwards.
func (s *QuestionService) Delete(ctx context.Context, id string) error {
	if err := s.dbStore.DeleteQuestion(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("question_id", id).Msg("question deleted")
	return nil
}
