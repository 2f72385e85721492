package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-2.0-flash"

type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if model == "" {
		model = defaultGeminiModel
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Model() string { return g.model }

func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *Gemini) Stream(ctx context.Context, req Request, onDelta DeltaFunc) (string, error) {
	if err := validateRequest(req); err != nil {
		return "", err
	}

	model := g.client.GenerativeModel(g.model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(req.System)},
	}

	chatSession := model.StartChat()
	chatSession.History = geminiHistory(req.Turns[:len(req.Turns)-1])
	last := req.Turns[len(req.Turns)-1]

	iter := chatSession.SendMessageStream(ctx, genai.Text(last.Content))
	var responseText strings.Builder
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("gemini stream failed: %w", err)
		}
		if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			txt, ok := part.(genai.Text)
			if !ok || txt == "" {
				continue
			}
			responseText.WriteString(string(txt))
			if onDelta != nil {
				if err := onDelta(string(txt)); err != nil {
					return "", err
				}
			}
		}
	}

	if strings.TrimSpace(responseText.String()) == "" {
		return "", ErrEmptyResponse
	}
	return responseText.String(), nil
}

// geminiHistory maps turns onto Gemini roles. Gemini expects the history to
// open with a user turn, so a leading assistant turn gets a short user cue.
func geminiHistory(turns []Turn) []*genai.Content {
	history := make([]*genai.Content, 0, len(turns)+1)
	if len(turns) > 0 && turns[0].Role != RoleUser {
		history = append(history, &genai.Content{
			Role:  "user",
			Parts: []genai.Part{genai.Text("Let's begin.")},
		})
	}
	for _, t := range turns {
		role := "user"
		if t.Role == RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(t.Content)},
		})
	}
	return history
}
