// Package llm adapts text-generation providers to a single streaming
// interface used by the response generator.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rethoric/rethoric/internal/config"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one entry of the conversation history sent to a provider.
type Turn struct {
	Role    string
	Content string
}

type Request struct {
	System string
	Turns  []Turn
}

// DeltaFunc receives each streamed text fragment in order. Returning an
// error aborts the stream.
type DeltaFunc func(delta string) error

// TextGenerator streams a completion and returns the full text once the
// provider's stream is exhausted.
type TextGenerator interface {
	Stream(ctx context.Context, req Request, onDelta DeltaFunc) (string, error)
	Model() string
}

var ErrEmptyResponse = errors.New("provider returned an empty response")

// ProviderError annotates a provider failure with its HTTP-like status.
type ProviderError struct {
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (status %d): %v", e.StatusCode, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func validateRequest(req Request) error {
	if len(req.Turns) == 0 {
		return errors.New("prompt history is empty")
	}
	if last := req.Turns[len(req.Turns)-1]; last.Role != RoleUser {
		return fmt.Errorf("last turn must be from %q, got %q", RoleUser, last.Role)
	}
	return nil
}

// New builds the generator selected by cfg.LLMProvider, wrapped in a rate
// limiter.
func New(ctx context.Context, cfg *config.Config) (TextGenerator, func() error, error) {
	var (
		gen   TextGenerator
		close = func() error { return nil }
	)
	switch strings.ToLower(cfg.LLMProvider) {
	case "gemini":
		g, err := NewGemini(ctx, cfg.GeminiAPIKey, cfg.LLMModel)
		if err != nil {
			return nil, nil, err
		}
		gen, close = g, g.Close
	case "openai":
		gen = NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.LLMModel)
	case "ollama":
		o, err := NewOllama(cfg.OllamaBaseURL, cfg.LLMModel)
		if err != nil {
			return nil, nil, err
		}
		gen = o
	default:
		return nil, nil, fmt.Errorf("unsupported LLM provider %q", cfg.LLMProvider)
	}
	return NewRateLimited(gen, cfg.LLMRateLimit, 1), close, nil
}
