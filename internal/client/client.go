// Package client is a Go SDK for the Rethoric HTTP API, including the
// optimistic message reconciler used by interactive front ends.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rethoric/rethoric/internal/core"
	"github.com/rethoric/rethoric/internal/store"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("rethoric api error (%d %s): %s", e.StatusCode, e.Code, e.Message)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type Client struct {
	httpClient   *resty.Client
	streamClient *resty.Client
}

// NewClient creates a Resty-backed client authenticated with token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		httpClient: resty.New().
			SetBaseURL(baseURL).
			SetAuthToken(token).
			SetHeader("Content-Type", "application/json").
			SetTimeout(150 * time.Second),
		// Event streams stay open indefinitely, so no client timeout.
		streamClient: resty.New().
			SetBaseURL(baseURL).
			SetAuthToken(token),
	}
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.httpClient.R().SetContext(ctx).SetError(&errorBody{})
}

func checkResponse(resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}
	apiErr := &APIError{StatusCode: resp.StatusCode(), Message: resp.String()}
	if body, ok := resp.Error().(*errorBody); ok && body.Error != "" {
		apiErr.Code = body.Code
		apiErr.Message = body.Error
	}
	return apiErr
}

func (c *Client) Me(ctx context.Context) (*store.User, error) {
	var user store.User
	resp, err := c.request(ctx).SetResult(&user).Get("/api/me")
	if err != nil {
		return nil, err
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) UpdateName(ctx context.Context, name string) (*store.User, error) {
	var user store.User
	resp, err := c.request(ctx).
		SetBody(map[string]string{"name": name}).
		SetResult(&user).
		Patch("/api/me")
	if err != nil {
		return nil, err
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) NextQuestion(ctx context.Context) (*core.Selection, error) {
	var sel core.Selection
	resp, err := c.request(ctx).SetResult(&sel).Get("/api/questions/next")
	if err != nil {
		return nil, err
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return &sel, nil
}

type StartedConversation struct {
	Conversation *store.Conversation `json:"conversation"`
	Question     *store.Question     `json:"question"`
}

func (c *Client) StartConversation(ctx context.Context, questionID string) (*StartedConversation, error) {
	var started StartedConversation
	resp, err := c.request(ctx).
		SetBody(map[string]string{"questionId": questionID}).
		SetResult(&started).
		Post("/api/conversations")
	if err != nil {
		return nil, err
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return &started, nil
}

// ListConversations returns the caller's conversations; status may be empty.
func (c *Client) ListConversations(ctx context.Context, status store.ConversationStatus) ([]store.ConversationWithQuestion, error) {
	var convs []store.ConversationWithQuestion
	req := c.request(ctx).SetResult(&convs)
	if status != "" {
		req.SetQueryParam("status", string(status))
	}
	resp, err := req.Get("/api/conversations")
	if err != nil {
		return nil, err
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return convs, nil
}

func (c *Client) ListMessages(ctx context.Context, conversationID string) (*core.ConversationDetail, error) {
	var detail core.ConversationDetail
	resp, err := c.request(ctx).
		SetPathParam("id", conversationID).
		SetResult(&detail).
		Get("/api/conversations/{id}/messages")
	if err != nil {
		return nil, err
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return &detail, nil
}

// AddMessage posts a user message. It satisfies Sender.
func (c *Client) AddMessage(ctx context.Context, conversationID, content string) (*store.Message, error) {
	var msg store.Message
	resp, err := c.request(ctx).
		SetPathParam("id", conversationID).
		SetBody(map[string]string{"role": string(store.RoleUser), "content": content}).
		SetResult(&msg).
		Post("/api/conversations/{id}/messages")
	if err != nil {
		return nil, err
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) Reply(ctx context.Context, conversationID, threadID, message string) (*core.GenerateResult, error) {
	var result core.GenerateResult
	resp, err := c.request(ctx).
		SetPathParam("id", conversationID).
		SetBody(map[string]string{"threadId": threadID, "message": message}).
		SetResult(&result).
		Post("/api/conversations/{id}/reply")
	if err != nil {
		return nil, err
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) CompleteConversation(ctx context.Context, conversationID string) (*store.Conversation, error) {
	var conv store.Conversation
	resp, err := c.request(ctx).
		SetPathParam("id", conversationID).
		SetBody(map[string]string{"status": string(store.StatusCompleted)}).
		SetResult(&conv).
		Patch("/api/conversations/{id}/status")
	if err != nil {
		return nil, err
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return &conv, nil
}

// Subscribe opens the conversation's event stream. The caller must Close it.
func (c *Client) Subscribe(ctx context.Context, conversationID string) (*EventStream, error) {
	resp, err := c.streamClient.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "text/event-stream").
		SetPathParam("id", conversationID).
		Get("/api/conversations/{id}/events")
	if err != nil {
		return nil, fmt.Errorf("open event stream: %w", err)
	}

	body := resp.RawBody()
	if resp.StatusCode() != http.StatusOK {
		defer body.Close()
		raw, _ := io.ReadAll(body)
		return nil, &APIError{StatusCode: resp.StatusCode(), Message: string(raw)}
	}
	return newEventStream(body), nil
}
