package core

import (
	"context"
	"testing"
	"time"

	"github.com/rethoric/rethoric/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var selectionDay = time.Date(2024, 3, 15, 22, 30, 0, 0, time.FixedZone("UTC-5", -5*3600))

func TestSelectDailyQuestionFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.user(t, "user_daily")
	env.question(t, "Regular")
	// selectionDay is 2024-03-16 in UTC.
	daily := env.dailyQuestion(t, "Featured", "2024-03-16")
	env.dailyQuestion(t, "Wrong day", "2024-03-15")

	sel, err := env.selector.SelectNextQuestion(ctx, u.ID, selectionDay)
	require.NoError(t, err)
	assert.Equal(t, SelectionDaily, sel.Kind)
	assert.Equal(t, daily.ID, sel.Question.ID)
	assert.Equal(t, "Here's today's featured question", sel.Message)
}

func TestSelectDuplicateDailyUsesInsertionOrder(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "user_dupe")
	first := env.dailyQuestion(t, "First", "2024-03-16")
	env.dailyQuestion(t, "Second", "2024-03-16")

	sel, err := env.selector.SelectNextQuestion(context.Background(), u.ID, selectionDay)
	require.NoError(t, err)
	assert.Equal(t, first.ID, sel.Question.ID)
}

func TestSelectSkipsAnsweredDaily(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "user_skip")
	daily := env.dailyQuestion(t, "Featured", "2024-03-16")
	env.answer(t, u.ID, daily.ID)
	other := env.question(t, "Other")

	sel, err := env.selector.SelectNextQuestion(context.Background(), u.ID, selectionDay)
	require.NoError(t, err)
	assert.Equal(t, SelectionRandom, sel.Kind)
	assert.Equal(t, other.ID, sel.Question.ID)
	assert.Equal(t, "Here's a question for you to explore", sel.Message)
}

func TestSelectRandomIsDeterministicAndExcludesAnswered(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.user(t, "user_five")

	var qs []string
	for _, title := range []string{"Q1", "Q2", "Q3", "Q4", "Q5"} {
		qs = append(qs, env.question(t, title).ID)
	}
	env.answer(t, u.ID, qs[1])
	env.answer(t, u.ID, qs[3])

	candidates := []string{qs[0], qs[2], qs[4]}
	want := candidates[utils.SeedIndex(u.ID+"_2024-03-16", len(candidates))]

	first, err := env.selector.SelectNextQuestion(ctx, u.ID, selectionDay)
	require.NoError(t, err)
	assert.Equal(t, SelectionRandom, first.Kind)
	assert.Equal(t, want, first.Question.ID)
	assert.NotEqual(t, qs[1], first.Question.ID)
	assert.NotEqual(t, qs[3], first.Question.ID)

	for i := 0; i < 5; i++ {
		again, err := env.selector.SelectNextQuestion(ctx, u.ID, selectionDay.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, first.Question.ID, again.Question.ID)
	}
}

func TestSelectIgnoresInactiveQuestions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.user(t, "user_inactive")
	active := env.question(t, "Active")
	inactive := env.question(t, "Inactive")
	inactive.IsActive = false
	require.NoError(t, env.store.UpdateQuestion(ctx, inactive))

	sel, err := env.selector.SelectNextQuestion(ctx, u.ID, selectionDay)
	require.NoError(t, err)
	assert.Equal(t, active.ID, sel.Question.ID)
}

func TestSelectAllAnswered(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "user_done")
	q := env.question(t, "Only")
	env.answer(t, u.ID, q.ID)

	sel, err := env.selector.SelectNextQuestion(context.Background(), u.ID, selectionDay)
	require.NoError(t, err)
	assert.Equal(t, SelectionCompleted, sel.Kind)
	assert.Nil(t, sel.Question)
	assert.Equal(t, "Congratulations! You've answered all available questions. Check back later for new content.", sel.Message)
}

func TestSelectEmptyCatalogue(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "user_empty")

	sel, err := env.selector.SelectNextQuestion(context.Background(), u.ID, selectionDay)
	require.NoError(t, err)
	assert.Equal(t, SelectionCompleted, sel.Kind)
}
