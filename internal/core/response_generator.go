package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rethoric/rethoric/internal/apperr"
	"github.com/rethoric/rethoric/internal/llm"
	"github.com/rethoric/rethoric/internal/metrics"
	"github.com/rethoric/rethoric/internal/store"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxAttempts  = 3
	DefaultBaseDelay    = time.Second
	DefaultFallbackText = "I'm having some technical difficulties right now, but let's keep going. " +
		"Could you tell me a bit more about how you're thinking about this question?"
	defaultThreadTitle = "Conversation"
)

// GeneratorConfig is built once at startup and passed to the generator.
type GeneratorConfig struct {
	Persona      string
	MaxAttempts  int
	BaseDelay    time.Duration
	FallbackText string
}

type Outcome string

const (
	OutcomeSucceeded  Outcome = "succeeded"
	OutcomeFallback   Outcome = "fallback"
	OutcomeHardFailed Outcome = "hard_failed"
)

type GenerateRequest struct {
	ConversationID string
	RequesterID    string
	ThreadID       string
	UserMessage    string
}

type Metadata struct {
	Model          string `json:"model"`
	ConversationID string `json:"conversationId"`
	ThreadID       string `json:"threadId"`
	Stage          Stage  `json:"stage"`
	Attempt        int    `json:"attempt"`
	Timestamp      int64  `json:"timestamp"`
}

type GenerateResult struct {
	Response string         `json:"response"`
	ThreadID string         `json:"threadId"`
	Fallback bool           `json:"fallback"`
	Attempt  int            `json:"attempt"`
	Outcome  Outcome        `json:"outcome"`
	Cause    error          `json:"-"`
	Metadata Metadata       `json:"metadata"`
	Message  *store.Message `json:"message,omitempty"`
}

// ResponseGenerator produces one assistant turn per call. Transient provider
// failures are retried with exponential backoff; when retries run out, or
// the failure is permanent, a fixed fallback reply is persisted instead.
type ResponseGenerator struct {
	conversations *ConversationService
	dbStore       *store.SQLiteStore
	llm           llm.TextGenerator
	cfg           GeneratorConfig
	logger        zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewResponseGenerator(conversations *ConversationService, db *store.SQLiteStore, gen llm.TextGenerator, cfg GeneratorConfig, logger zerolog.Logger) *ResponseGenerator {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if strings.TrimSpace(cfg.FallbackText) == "" {
		cfg.FallbackText = DefaultFallbackText
	}
	return &ResponseGenerator{
		conversations: conversations,
		dbStore:       db,
		llm:           gen,
		cfg:           cfg,
		logger:        logger.With().Str("component", "response_generator").Logger(),
		sleep:         sleepContext,
	}
}

// BuildContext loads the conversation the requester owns and derives the
// prompt context from it.
func (g *ResponseGenerator) BuildContext(ctx context.Context, conversationID, requesterID string) (*ConversationContext, *ConversationDetail, error) {
	detail, err := g.conversations.ListMessages(ctx, conversationID, requesterID)
	if err != nil {
		return nil, nil, err
	}
	return buildConversationContext(detail.Question, detail.Messages), detail, nil
}

func (g *ResponseGenerator) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	start := time.Now()
	if strings.TrimSpace(req.UserMessage) == "" {
		return nil, apperr.InvalidArgument("message cannot be empty")
	}

	convCtx, detail, err := g.BuildContext(ctx, req.ConversationID, req.RequesterID)
	if err != nil {
		return nil, err
	}
	if detail.Conversation.Status != store.StatusActive {
		return nil, apperr.InvalidState("cannot generate a reply for a completed conversation")
	}

	threadID, err := g.ensureThread(ctx, req, detail)
	if err != nil {
		return nil, err
	}

	logger := g.logger.With().
		Str("conversation_id", req.ConversationID).
		Str("thread_id", threadID).
		Str("stage", string(convCtx.Stage)).
		Logger()

	llmReq := llm.Request{
		System: convCtx.SystemInstruction(g.cfg.Persona),
		Turns:  convCtx.Turns(req.UserMessage),
	}

	var lastErr error
	attempt := 1
	for ; ; attempt++ {
		n := attempt
		onDelta := func(delta string) error {
			g.conversations.PublishDelta(req.ConversationID, n, delta)
			return nil
		}
		text, err := g.llm.Stream(ctx, llmReq, onDelta)
		if err == nil {
			metrics.GenerationAttempts.WithLabelValues(g.llm.Model(), "success").Inc()
			logger.Info().Int("attempt", attempt).Msg("generated response")
			res, perr := g.persist(ctx, req, convCtx, threadID, text, attempt, nil)
			g.observe(res, start)
			return res, perr
		}

		lastErr = err
		retryable := IsRetryable(err) && ctx.Err() == nil
		if !retryable || attempt >= g.cfg.MaxAttempts {
			metrics.GenerationAttempts.WithLabelValues(g.llm.Model(), "failure").Inc()
			logger.Warn().Err(err).Int("attempt", attempt).Bool("retryable", retryable).Msg("generation failed, issuing fallback")
			break
		}

		delay := backoff(g.cfg.BaseDelay, attempt)
		metrics.GenerationAttempts.WithLabelValues(g.llm.Model(), "retry").Inc()
		logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("retryable generation error")
		if err := g.sleep(ctx, delay); err != nil {
			logger.Warn().Err(err).Int("attempt", attempt).Msg("retry wait interrupted, issuing fallback")
			break
		}
	}

	res, perr := g.persist(ctx, req, convCtx, threadID, g.cfg.FallbackText, attempt, classifyProviderError(lastErr))
	g.observe(res, start)
	return res, perr
}

func (g *ResponseGenerator) persist(ctx context.Context, req GenerateRequest, convCtx *ConversationContext, threadID, text string, attempt int, cause error) (*GenerateResult, error) {
	res := &GenerateResult{
		ThreadID: threadID,
		Attempt:  attempt,
		Fallback: cause != nil,
		Cause:    cause,
		Metadata: Metadata{
			Model:          g.llm.Model(),
			ConversationID: req.ConversationID,
			ThreadID:       threadID,
			Stage:          convCtx.Stage,
			Attempt:        attempt,
		},
	}

	// The reply is persisted even when the caller has gone away.
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	msg, err := g.conversations.AddMessage(ctx, req.ConversationID, req.RequesterID, store.RoleAssistant, text)
	if err != nil {
		res.Outcome = OutcomeHardFailed
		if cause != nil {
			err = errors.Join(err, cause)
		}
		g.logger.Error().Err(err).Str("conversation_id", req.ConversationID).Msg("failed to persist assistant reply")
		return res, fmt.Errorf("failed to persist assistant reply: %w", err)
	}

	res.Response = msg.Content
	res.Message = msg
	res.Metadata.Timestamp = msg.Timestamp
	res.Outcome = OutcomeSucceeded
	if cause != nil {
		res.Outcome = OutcomeFallback
	}
	return res, nil
}

func (g *ResponseGenerator) ensureThread(ctx context.Context, req GenerateRequest, detail *ConversationDetail) (string, error) {
	if req.ThreadID != "" {
		t, err := g.dbStore.GetThread(ctx, req.ThreadID)
		if err != nil {
			return "", err
		}
		if t == nil || t.ConversationID != req.ConversationID {
			return "", apperr.NotFound("thread %s not found", req.ThreadID)
		}
		return t.ID, nil
	}

	title := defaultThreadTitle
	if detail.Question != nil && detail.Question.Title != "" {
		title = detail.Question.Title
	}
	t, err := g.dbStore.CreateThread(ctx, req.ConversationID, req.RequesterID, title)
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

func (g *ResponseGenerator) observe(res *GenerateResult, start time.Time) {
	metrics.GenerationDuration.Observe(time.Since(start).Seconds())
	if res != nil {
		metrics.GenerationOutcomes.WithLabelValues(string(res.Outcome)).Inc()
	}
}

func classifyProviderError(err error) error {
	if err == nil {
		err = llm.ErrEmptyResponse
	}
	if IsRetryable(err) {
		return apperr.Wrap(apperr.KindTransientProvider, "text generation unavailable", err)
	}
	return apperr.Wrap(apperr.KindPermanentProvider, "text generation failed", err)
}
