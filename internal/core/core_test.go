package core

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rethoric/rethoric/internal/events"
	"github.com/rethoric/rethoric/internal/llm"
	"github.com/rethoric/rethoric/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	store         *store.SQLiteStore
	hub           *events.Hub
	conversations *ConversationService
	selector      *QuestionSelector
	logger        zerolog.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "core.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := zerolog.Nop()
	hub := events.NewHub(256)
	return &testEnv{
		store:         db,
		hub:           hub,
		conversations: NewConversationService(db, hub, logger),
		selector:      NewQuestionSelector(db, logger),
		logger:        logger,
	}
}

func (e *testEnv) user(t *testing.T, externalID string) *store.User {
	t.Helper()
	u, _, err := e.store.CreateUserIfNotExists(context.Background(), externalID, externalID+"@example.com", nil, store.UserRoleUser)
	require.NoError(t, err)
	return u
}

func (e *testEnv) question(t *testing.T, title string) *store.Question {
	t.Helper()
	q := &store.Question{
		Title:       title,
		Description: "Think about " + title,
		Tags:        []string{"logic"},
		IsActive:    true,
	}
	require.NoError(t, e.store.CreateQuestion(context.Background(), q))
	return q
}

func (e *testEnv) dailyQuestion(t *testing.T, title, date string) *store.Question {
	t.Helper()
	q := &store.Question{Title: title, Description: "daily", IsActive: true, IsDaily: true, DailyDate: &date}
	require.NoError(t, e.store.CreateQuestion(context.Background(), q))
	return q
}

// answer starts and completes a conversation so the question counts as
// answered for the user.
func (e *testEnv) answer(t *testing.T, userID, questionID string) {
	t.Helper()
	ctx := context.Background()
	conv, _, err := e.conversations.StartConversation(ctx, userID, questionID)
	require.NoError(t, err)
	_, err = e.conversations.CompleteConversation(ctx, conv.ID, userID)
	require.NoError(t, err)
}

// step streams its deltas and then fails with err when err is set.
type step struct {
	deltas []string
	err    error
}

// scriptedGenerator plays back one step per call.
type scriptedGenerator struct {
	mu     sync.Mutex
	steps  []step
	calls  int
	before func(call int)
	seen   []llm.Request
}

func (g *scriptedGenerator) Model() string { return "scripted" }

func (g *scriptedGenerator) Stream(ctx context.Context, req llm.Request, onDelta llm.DeltaFunc) (string, error) {
	g.mu.Lock()
	call := g.calls
	g.calls++
	g.seen = append(g.seen, req)
	g.mu.Unlock()

	if g.before != nil {
		g.before(call)
	}
	if call >= len(g.steps) {
		return "", llm.ErrEmptyResponse
	}
	s := g.steps[call]
	text := ""
	for _, d := range s.deltas {
		text += d
		if err := onDelta(d); err != nil {
			return "", err
		}
	}
	if s.err != nil {
		return "", s.err
	}
	return text, nil
}

func (g *scriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}
