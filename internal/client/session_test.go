package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rethoric/rethoric/internal/events"
	"github.com/rethoric/rethoric/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStreamingRestartsOnNewAttempt(t *testing.T) {
	session := NewSession(NewClient("http://unused", ""), zerolog.Nop())
	session.Reconciler().SwitchConversation("c")

	session.apply(&events.Event{Type: events.TypeDelta, ConversationID: "c", Attempt: 1, Delta: "Half a tho"})
	assert.Equal(t, "Half a tho", session.Streaming())

	session.apply(&events.Event{Type: events.TypeDelta, ConversationID: "c", Attempt: 2, Delta: "Clean "})
	session.apply(&events.Event{Type: events.TypeDelta, ConversationID: "c", Attempt: 2, Delta: "reply."})
	assert.Equal(t, "Clean reply.", session.Streaming())

	session.apply(&events.Event{Type: events.TypeMessage, ConversationID: "c", Message: &store.Message{
		ID: "m1", ConversationID: "c", Role: store.RoleAssistant, Content: "Clean reply.", Timestamp: 10,
	}})
	assert.Empty(t, session.Streaming())

	session.apply(&events.Event{Type: events.TypeDelta, ConversationID: "c", Attempt: 1, Delta: "Next"})
	assert.Equal(t, "Next", session.Streaming())
}

func TestSessionSendCommitsWithoutSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started, err := f.client.StartConversation(ctx, f.question.ID)
	require.NoError(t, err)

	session := NewSession(f.client, zerolog.Nop())
	defer session.Close()
	session.Reconciler().SwitchConversation(started.Conversation.ID)

	res, err := session.Send(ctx, "Only if they feel")
	require.NoError(t, err)

	view := session.View()
	require.Len(t, view, 2)
	assert.Equal(t, "Only if they feel", view[0].Content)
	assert.Equal(t, StatusConfirmed, view[0].Status)
	assert.Equal(t, res.Message.ID, view[1].ID)
	assert.Equal(t, "Why do you think so?", view[1].Content)
}

func writeEvent(w http.ResponseWriter, e events.Event) {
	data, _ := json.Marshal(e)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
	w.(http.Flusher).Flush()
}

func TestSessionResubscribesWhenStreamCloses(t *testing.T) {
	reply := &store.Message{ID: "m2", ConversationID: "c", Role: store.RoleAssistant, Content: "Caught up.", Timestamp: 20}

	var connections atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if connections.Add(1) == 1 {
			// First connection ends after a delta, as when the server evicts a
			// subscriber that fell behind.
			writeEvent(w, events.Event{Type: events.TypeDelta, ConversationID: "c", Attempt: 1, Delta: "Caught"})
			return
		}
		writeEvent(w, events.Event{Type: events.TypeMessage, ConversationID: "c", Message: reply})
		<-r.Context().Done()
	}))
	defer srv.Close()

	session := NewSession(NewClient(srv.URL, "token"), zerolog.Nop())
	defer session.Close()
	require.NoError(t, session.Open(context.Background(), "c"))

	require.Eventually(t, func() bool {
		view := session.View()
		return len(view) == 1 && view[0].ID == "m2"
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), connections.Load())
	assert.Empty(t, session.Streaming())
}
