package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rethoric/rethoric/internal/events"
	"github.com/rethoric/rethoric/internal/metrics"
)

const sseHeartbeat = 15 * time.Second

func writeSSE(w http.ResponseWriter, f http.Flusher, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
		return err
	}
	f.Flush()
	return nil
}

// ConversationEventsHandler streams a conversation over Server-Sent Events.
// The current log is replayed as message events before live delivery, so a
// reconnecting client re-syncs from scratch.
func (h *APIHandler) ConversationEventsHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	conversationID := chi.URLParam(r, "conversationID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming unsupported", Code: "internal"})
		return
	}

	// Subscribe before reading the log so nothing committed in between is lost.
	ch, cancel, err := h.Conversations.Subscribe(r.Context(), conversationID, user.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	defer cancel()
	metrics.HubSubscribers.Inc()
	defer metrics.HubSubscribers.Dec()

	detail, err := h.Conversations.ListMessages(r.Context(), conversationID, user.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	replayed := make(map[string]struct{}, len(detail.Messages))
	for i := range detail.Messages {
		msg := detail.Messages[i]
		replayed[msg.ID] = struct{}{}
		if err := writeSSE(w, flusher, events.Event{Type: events.TypeMessage, ConversationID: conversationID, Message: &msg}); err != nil {
			return
		}
	}
	if err := writeSSE(w, flusher, events.Event{Type: events.TypeStatus, ConversationID: conversationID, Status: detail.Conversation.Status}); err != nil {
		return
	}

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case e, ok := <-ch:
			if !ok {
				// Evicted for falling behind; the client reconnects and replays.
				h.logger.Debug().Str("conversation_id", conversationID).Msg("event stream closed by hub")
				return
			}
			if e.Type == events.TypeMessage && e.Message != nil {
				if _, dup := replayed[e.Message.ID]; dup {
					continue
				}
			}
			if err := writeSSE(w, flusher, e); err != nil {
				return
			}
		}
	}
}
