package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/rethoric/rethoric/internal/llm"
	"github.com/rethoric/rethoric/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageFor(t *testing.T) {
	tests := []struct {
		count int
		want  Stage
	}{
		{0, StageOpening},
		{1, StageOpening},
		{2, StageExploring},
		{4, StageExploring},
		{5, StageDeepening},
		{7, StageDeepening},
		{8, StageSynthesizing},
		{40, StageSynthesizing},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StageFor(tt.count), "count %d", tt.count)
	}
}

func TestConversationContextTurns(t *testing.T) {
	cc := buildConversationContext(
		&store.Question{Title: "T", Description: "D", Tags: []string{"a", "b"}},
		[]store.Message{
			{Role: store.RoleAssistant, Content: "**T**\n\nD"},
			{Role: store.RoleUser, Content: "my answer"},
		},
	)
	assert.Equal(t, StageExploring, cc.Stage)

	turns := cc.Turns("my answer")
	require.Len(t, turns, 2)

	turns = cc.Turns("a new thought")
	require.Len(t, turns, 3)
	assert.Equal(t, llm.Turn{Role: llm.RoleUser, Content: "a new thought"}, turns[2])

	sys := cc.SystemInstruction("persona")
	assert.Contains(t, sys, "persona")
	assert.Contains(t, sys, "Question: T")
	assert.Contains(t, sys, "Tags: a, b")
	assert.Contains(t, sys, "Conversation stage: exploring")
}

func TestConversationContextWithDeletedQuestion(t *testing.T) {
	cc := buildConversationContext(nil, nil)
	assert.Equal(t, StageOpening, cc.Stage)
	assert.NotContains(t, cc.SystemInstruction("p"), "Question:")
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o deadline" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", &llm.ProviderError{StatusCode: 429}, true},
		{"500", &llm.ProviderError{StatusCode: 500}, true},
		{"502", &llm.ProviderError{StatusCode: 502}, true},
		{"503", &llm.ProviderError{StatusCode: 503}, true},
		{"504", &llm.ProviderError{StatusCode: 504}, true},
		{"400", &llm.ProviderError{StatusCode: 400}, false},
		{"401", &llm.ProviderError{StatusCode: 401}, false},
		{"timeout text", errors.New("request Timeout exceeded"), true},
		{"network text", errors.New("network unreachable"), true},
		{"connection text", fmt.Errorf("dial: %w", errors.New("connection reset by peer")), true},
		{"net.Error", timeoutErr{}, true},
		{"cancelled", context.Canceled, false},
		{"empty output", llm.ErrEmptyResponse, false},
		{"other", errors.New("safety block"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, backoff(time.Second, 1))
	assert.Equal(t, 2*time.Second, backoff(time.Second, 2))
	assert.Equal(t, 4*time.Second, backoff(time.Second, 3))
	assert.Equal(t, time.Second, backoff(time.Second, 0))
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}

func TestRateLimitWaitIsRetryable(t *testing.T) {
	gen := &scriptedGenerator{steps: []step{{deltas: []string{"ok"}}}}
	limited := llm.NewRateLimited(gen, 0.001, 1)
	req := llm.Request{Turns: []llm.Turn{{Role: llm.RoleUser, Content: "hi"}}}

	_, err := limited.Stream(context.Background(), req, func(string) error { return nil })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = limited.Stream(ctx, req, func(string) error { return nil })
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, 1, gen.Calls())
}
