package core

import (
	"context"
	"fmt"

	"github.com/rethoric/rethoric/internal/apperr"
	"github.com/rethoric/rethoric/internal/events"
	"github.com/rethoric/rethoric/internal/store"
	"github.com/rs/zerolog"
)

// ConversationService owns conversation and message mutations. Every
// committed change is published to the hub after the transaction returns.
type ConversationService struct {
	dbStore *store.SQLiteStore
	hub     *events.Hub
	logger  zerolog.Logger
}

func NewConversationService(db *store.SQLiteStore, hub *events.Hub, logger zerolog.Logger) *ConversationService {
	return &ConversationService{
		dbStore: db,
		hub:     hub,
		logger:  logger.With().Str("component", "conversation_service").Logger(),
	}
}

// ConversationDetail is a conversation with its question and full message log.
type ConversationDetail struct {
	Conversation store.Conversation `json:"conversation"`
	Question     *store.Question    `json:"question"`
	Messages     []store.Message    `json:"messages"`
}

func (s *ConversationService) StartConversation(ctx context.Context, userID, questionID string) (*store.Conversation, *store.Question, error) {
	q, err := s.dbStore.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load question: %w", err)
	}
	if q == nil {
		return nil, nil, apperr.NotFound("question %s not found", questionID)
	}

	conv, first, err := s.dbStore.CreateConversation(ctx, userID, q)
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info().
		Str("conversation_id", conv.ID).
		Str("user_id", userID).
		Str("question_id", q.ID).
		Msg("conversation started")
	s.publishMessage(first)
	return conv, q, nil
}

func (s *ConversationService) AddMessage(ctx context.Context, conversationID, requesterID string, role store.Role, content string) (*store.Message, error) {
	msg, err := s.dbStore.AddMessage(ctx, conversationID, requesterID, role, content)
	if err != nil {
		return nil, err
	}
	s.publishMessage(msg)
	return msg, nil
}

func (s *ConversationService) ListMessages(ctx context.Context, conversationID, requesterID string) (*ConversationDetail, error) {
	conv, err := s.dbStore.GetOwnedConversation(ctx, conversationID, requesterID)
	if err != nil {
		return nil, err
	}
	messages, err := s.dbStore.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	q, err := s.dbStore.GetQuestion(ctx, conv.QuestionID)
	if err != nil {
		return nil, err
	}
	return &ConversationDetail{Conversation: *conv, Question: q, Messages: messages}, nil
}

func (s *ConversationService) ListConversations(ctx context.Context, userID string, status *store.ConversationStatus) ([]store.ConversationWithQuestion, error) {
	if status != nil && !status.Valid() {
		return nil, apperr.InvalidArgument("invalid conversation status %q", *status)
	}
	return s.dbStore.ListConversationsByUser(ctx, userID, status)
}

// CompleteConversation is idempotent. The answered record is written in the
// same transaction as the status change.
func (s *ConversationService) CompleteConversation(ctx context.Context, conversationID, requesterID string) (*store.Conversation, error) {
	conv, changed, err := s.dbStore.CompleteConversation(ctx, conversationID, requesterID)
	if err != nil {
		return nil, err
	}
	if changed {
		s.logger.Info().Str("conversation_id", conversationID).Msg("conversation completed")
		s.hub.Publish(events.Event{
			Type:           events.TypeStatus,
			ConversationID: conversationID,
			Status:         store.StatusCompleted,
		})
	}
	return conv, nil
}

// UpdateConversationStatus applies a client-requested status. Completed
// conversations cannot be reopened.
func (s *ConversationService) UpdateConversationStatus(ctx context.Context, conversationID, requesterID string, status store.ConversationStatus) (*store.Conversation, error) {
	switch status {
	case store.StatusCompleted:
		return s.CompleteConversation(ctx, conversationID, requesterID)
	case store.StatusActive:
		conv, err := s.dbStore.GetOwnedConversation(ctx, conversationID, requesterID)
		if err != nil {
			return nil, err
		}
		if conv.Status != store.StatusActive {
			return nil, apperr.InvalidState("completed conversations cannot be reopened")
		}
		return conv, nil
	default:
		return nil, apperr.InvalidArgument("invalid conversation status %q", status)
	}
}

// PublishDelta forwards a streaming fragment of the given generation attempt
// to live subscribers. Deltas are never persisted.
func (s *ConversationService) PublishDelta(conversationID string, attempt int, delta string) {
	s.hub.Publish(events.Event{Type: events.TypeDelta, ConversationID: conversationID, Attempt: attempt, Delta: delta})
}

// Subscribe registers a live subscription after checking ownership.
func (s *ConversationService) Subscribe(ctx context.Context, conversationID, requesterID string) (<-chan events.Event, func(), error) {
	if _, err := s.dbStore.GetOwnedConversation(ctx, conversationID, requesterID); err != nil {
		return nil, nil, err
	}
	ch, cancel := s.hub.Subscribe(conversationID)
	return ch, cancel, nil
}

func (s *ConversationService) publishMessage(msg *store.Message) {
	if msg == nil {
		return
	}
	s.hub.Publish(events.Event{Type: events.TypeMessage, ConversationID: msg.ConversationID, Message: msg})
}
