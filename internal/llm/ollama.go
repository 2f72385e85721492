package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

const defaultOllamaModel = "llama3"

type Ollama struct {
	client *api.Client
	model  string
}

func NewOllama(baseURL, model string) (*Ollama, error) {
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if model == "" {
		model = defaultOllamaModel
	}
	return &Ollama{client: api.NewClient(parsedURL, http.DefaultClient), model: model}, nil
}

func (o *Ollama) Model() string { return o.model }

func (o *Ollama) Stream(ctx context.Context, req Request, onDelta DeltaFunc) (string, error) {
	if err := validateRequest(req); err != nil {
		return "", err
	}

	messages := make([]api.Message, 0, len(req.Turns)+1)
	messages = append(messages, api.Message{Role: "system", Content: req.System})
	for _, t := range req.Turns {
		messages = append(messages, api.Message{Role: t.Role, Content: t.Content})
	}

	stream := true
	var responseText strings.Builder
	err := o.client.Chat(ctx, &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
	}, func(resp api.ChatResponse) error {
		if resp.Message.Content == "" {
			return nil
		}
		responseText.WriteString(resp.Message.Content)
		if onDelta != nil {
			return onDelta(resp.Message.Content)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat failed: %w", err)
	}

	if strings.TrimSpace(responseText.String()) == "" {
		return "", ErrEmptyResponse
	}
	return responseText.String(), nil
}
