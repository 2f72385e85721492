package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rethoric/rethoric/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createUser(t *testing.T, s *SQLiteStore, externalID string) *User {
	t.Helper()
	u, _, err := s.CreateUserIfNotExists(context.Background(), externalID, externalID+"@example.com", nil, UserRoleUser)
	require.NoError(t, err)
	return u
}

func createQuestion(t *testing.T, s *SQLiteStore, title string) *Question {
	t.Helper()
	q := &Question{Title: title, Description: "Why " + title + "?", Tags: []string{"ethics"}, IsActive: true}
	require.NoError(t, s.CreateQuestion(context.Background(), q))
	return q
}

func TestNewStore(t *testing.T) {
	s := newTestStore(t)
	require.NotNil(t, s.db)
	require.NoError(t, s.Ping(context.Background()))
}

func TestCreateUserIfNotExistsIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	name := "Ada Lovelace"

	first, created, err := s.CreateUserIfNotExists(ctx, "user_1", "ada@example.com", &name, UserRoleUser)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := s.CreateUserIfNotExists(ctx, "user_1", "other@example.com", nil, UserRoleAdmin)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "ada@example.com", second.Email)
	assert.Equal(t, UserRoleUser, second.Role)

	missing, err := s.GetUserByExternalID(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpdateUserName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "user_1")

	name := "Grace"
	require.NoError(t, s.UpdateUserName(ctx, u.ID, &name))
	got, err := s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Name)
	assert.Equal(t, "Grace", *got.Name)

	err = s.UpdateUserName(ctx, "missing", &name)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestQuestionCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	q := createQuestion(t, s, "Free will")
	assert.NotEmpty(t, q.ID)
	assert.Equal(t, "beginner", q.Difficulty)

	q.Title = "Free will, revisited"
	q.Tags = []string{"philosophy", "ethics"}
	require.NoError(t, s.UpdateQuestion(ctx, q))

	got, err := s.GetQuestion(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, "Free will, revisited", got.Title)
	assert.Equal(t, []string{"philosophy", "ethics"}, got.Tags)

	require.NoError(t, s.DeleteQuestion(ctx, q.ID))
	got, err = s.GetQuestion(ctx, q.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.True(t, apperr.Is(s.DeleteQuestion(ctx, q.ID), apperr.KindNotFound))
	assert.True(t, apperr.Is(s.UpdateQuestion(ctx, q), apperr.KindNotFound))
}

func TestFindDailyQuestionsOrdersBySeq(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	date := "2026-10-19"

	for _, title := range []string{"first", "second"} {
		q := &Question{Title: title, IsActive: true, IsDaily: true, DailyDate: &date}
		require.NoError(t, s.CreateQuestion(ctx, q))
	}
	other := "2026-10-20"
	require.NoError(t, s.CreateQuestion(ctx, &Question{Title: "tomorrow", IsActive: true, IsDaily: true, DailyDate: &other}))

	daily, err := s.FindDailyQuestions(ctx, date)
	require.NoError(t, err)
	require.Len(t, daily, 2)
	assert.Equal(t, "first", daily[0].Title)
	assert.Equal(t, "second", daily[1].Title)
}

func TestCreateConversationAddsOpeningMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "user_1")
	q := createQuestion(t, s, "Free will")

	conv, first, err := s.CreateConversation(ctx, u.ID, q)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, conv.Status)
	assert.Equal(t, RoleAssistant, first.Role)
	assert.Equal(t, "**Free will**\n\nWhy Free will?", first.Content)

	stored, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.MessageCount)
}

func TestAddMessageValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := createUser(t, s, "owner")
	stranger := createUser(t, s, "stranger")
	q := createQuestion(t, s, "Free will")
	conv, _, err := s.CreateConversation(ctx, owner.ID, q)
	require.NoError(t, err)

	_, err = s.AddMessage(ctx, "missing", owner.ID, RoleUser, "hi")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = s.AddMessage(ctx, conv.ID, stranger.ID, RoleUser, "hi")
	assert.True(t, apperr.Is(err, apperr.KindPermissionDenied))

	_, err = s.AddMessage(ctx, conv.ID, owner.ID, RoleUser, "   \n\t")
	assert.True(t, apperr.Is(err, apperr.KindInvalidArgument))

	_, err = s.AddMessage(ctx, conv.ID, owner.ID, Role("system"), "hi")
	assert.True(t, apperr.Is(err, apperr.KindInvalidArgument))

	msg, err := s.AddMessage(ctx, conv.ID, owner.ID, RoleUser, "  I think so.  ")
	require.NoError(t, err)
	assert.Equal(t, "I think so.", msg.Content)
}

func TestAddMessageRejectedAfterCompletion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "user_1")
	q := createQuestion(t, s, "Free will")
	conv, _, err := s.CreateConversation(ctx, u.ID, q)
	require.NoError(t, err)

	_, _, err = s.CompleteConversation(ctx, conv.ID, u.ID)
	require.NoError(t, err)

	for _, role := range []Role{RoleUser, RoleAssistant} {
		for _, content := range []string{"late", "", "another"} {
			_, err := s.AddMessage(ctx, conv.ID, u.ID, role, content)
			assert.True(t, apperr.Is(err, apperr.KindInvalidState), "role=%s content=%q", role, content)
		}
	}
}

func TestCompleteConversationIsIdempotentAndAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "user_1")
	q := createQuestion(t, s, "Free will")
	conv, _, err := s.CreateConversation(ctx, u.ID, q)
	require.NoError(t, err)

	done, changed, err := s.CompleteConversation(ctx, conv.ID, u.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	_, changed, err = s.CompleteConversation(ctx, conv.ID, u.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	answered, err := s.ListAnsweredQuestions(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, answered, 1)
	assert.Equal(t, q.ID, answered[0].QuestionID)
	assert.Equal(t, conv.ID, answered[0].ConversationID)

	stored, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
}

func TestCompleteConversationOwnership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := createUser(t, s, "owner")
	stranger := createUser(t, s, "stranger")
	q := createQuestion(t, s, "Free will")
	conv, _, err := s.CreateConversation(ctx, owner.ID, q)
	require.NoError(t, err)

	_, _, err = s.CompleteConversation(ctx, conv.ID, stranger.ID)
	assert.True(t, apperr.Is(err, apperr.KindPermissionDenied))

	answered, err := s.HasAnswered(ctx, owner.ID, q.ID)
	require.NoError(t, err)
	assert.False(t, answered)
	stored, _ := s.GetConversation(ctx, conv.ID)
	assert.Equal(t, StatusActive, stored.Status)
}

func TestSecondConversationOnAnsweredQuestionKeepsOneRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "user_1")
	q := createQuestion(t, s, "Free will")

	for i := 0; i < 2; i++ {
		conv, _, err := s.CreateConversation(ctx, u.ID, q)
		require.NoError(t, err)
		_, changed, err := s.CompleteConversation(ctx, conv.ID, u.ID)
		require.NoError(t, err)
		assert.True(t, changed)
	}

	answered, err := s.ListAnsweredQuestions(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, answered, 1)
}

func TestMessageTimestampsAreStrictlyIncreasing(t *testing.T) {
	s := newTestStore(t)
	frozen := time.UnixMilli(1_700_000_000_000)
	s.SetClock(func() time.Time { return frozen })
	ctx := context.Background()
	u := createUser(t, s, "user_1")
	q := createQuestion(t, s, "Free will")
	conv, _, err := s.CreateConversation(ctx, u.ID, q)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AddMessage(ctx, conv.ID, u.ID, RoleUser, "concurrent")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	messages, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 11)
	for i := 1; i < len(messages); i++ {
		assert.Greater(t, messages[i].Timestamp, messages[i-1].Timestamp)
	}

	stored, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 11, stored.MessageCount)
}

func TestListConversationsByUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	clock := time.UnixMilli(1_700_000_000_000)
	s.SetClock(func() time.Time { clock = clock.Add(time.Second); return clock })

	u := createUser(t, s, "user_1")
	other := createUser(t, s, "user_2")
	q1 := createQuestion(t, s, "one")
	q2 := createQuestion(t, s, "two")

	c1, _, err := s.CreateConversation(ctx, u.ID, q1)
	require.NoError(t, err)
	c2, _, err := s.CreateConversation(ctx, u.ID, q2)
	require.NoError(t, err)
	_, _, err = s.CreateConversation(ctx, other.ID, q1)
	require.NoError(t, err)
	_, _, err = s.CompleteConversation(ctx, c1.ID, u.ID)
	require.NoError(t, err)

	all, err := s.ListConversationsByUser(ctx, u.ID, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, c2.ID, all[0].ID)
	assert.Equal(t, "two", all[0].Question.Title)
	assert.Equal(t, c1.ID, all[1].ID)

	completed := StatusCompleted
	done, err := s.ListConversationsByUser(ctx, u.ID, &completed)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, c1.ID, done[0].ID)

	require.NoError(t, s.DeleteQuestion(ctx, q2.ID))
	all, err = s.ListConversationsByUser(ctx, u.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, all[0].Question)
}

func TestThreads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s, "user_1")
	q := createQuestion(t, s, "Free will")
	conv, _, err := s.CreateConversation(ctx, u.ID, q)
	require.NoError(t, err)

	thread, err := s.CreateThread(ctx, conv.ID, u.ID, q.Title)
	require.NoError(t, err)

	got, err := s.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ConversationID)
	assert.Equal(t, "Free will", got.Title)

	missing, err := s.GetThread(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestImportQuestionsFromFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createQuestion(t, s, "Existing")

	seed := `questions:
  - title: Existing
    description: duplicate
  - title: Should voting be mandatory?
    description: Weigh civic duty against individual liberty.
    category: politics
    tags: [democracy, liberty]
    difficulty: intermediate
  - title: Is growth sustainable?
    daily_date: "2026-10-19"
  - title: Bad date
    daily_date: tomorrow
  - description: no title
  - title: Retired
    active: false
`
	path := filepath.Join(t.TempDir(), "questions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o600))

	result, err := s.ImportQuestionsFromFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Imported)
	assert.Len(t, result.Skipped, 3)

	daily, err := s.FindDailyQuestions(ctx, "2026-10-19")
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.Equal(t, "Is growth sustainable?", daily[0].Title)

	active, err := s.ListActiveQuestions(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 3)
}
