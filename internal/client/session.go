package client

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rethoric/rethoric/internal/core"
	"github.com/rethoric/rethoric/internal/events"
	"github.com/rethoric/rethoric/internal/store"
	"github.com/rs/zerolog"
)

const resubscribeDelay = 500 * time.Millisecond

// Session couples a reconciler with the API client and a live event
// subscription for the open conversation.
type Session struct {
	api    *Client
	rec    *Reconciler
	logger zerolog.Logger

	mu        sync.Mutex
	messages  map[string]store.Message
	streaming strings.Builder
	attempt   int
	status    store.ConversationStatus
	threadID  string
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewSession(api *Client, logger zerolog.Logger) *Session {
	s := &Session{
		api:      api,
		logger:   logger.With().Str("component", "client_session").Logger(),
		messages: map[string]store.Message{},
	}
	s.rec = NewReconciler(s)
	return s
}

func (s *Session) Reconciler() *Reconciler { return s.rec }

// Open switches to conversationID and starts consuming its event stream.
// Any previously open stream is closed first.
func (s *Session) Open(ctx context.Context, conversationID string) error {
	s.stop()
	s.rec.SwitchConversation(conversationID)

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := s.api.Subscribe(streamCtx, conversationID)
	if err != nil {
		cancel()
		return err
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.messages = map[string]store.Message{}
	s.streaming.Reset()
	s.attempt = 0
	s.status = store.StatusActive
	s.threadID = ""
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.consume(streamCtx, conversationID, stream, done)
	return nil
}

// consume applies events until ctx ends. The server closes a stream it
// cannot keep up with; reconnecting replays the log and fills the gap.
func (s *Session) consume(ctx context.Context, conversationID string, stream *EventStream, done chan struct{}) {
	defer close(done)

	for {
		s.drain(ctx, stream)
		if ctx.Err() != nil {
			return
		}

		var err error
		for stream = nil; stream == nil; {
			select {
			case <-ctx.Done():
				return
			case <-time.After(resubscribeDelay):
			}
			stream, err = s.api.Subscribe(ctx, conversationID)
			if err != nil {
				var apiErr *APIError
				if errors.As(err, &apiErr) {
					s.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("event stream rejected")
					return
				}
				s.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("resubscribe failed")
			}
		}
		s.logger.Debug().Str("conversation_id", conversationID).Msg("event stream resubscribed")
	}
}

func (s *Session) drain(ctx context.Context, stream *EventStream) {
	defer stream.Close()
	for {
		e, err := stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.logger.Warn().Err(err).Msg("event stream ended")
			}
			return
		}
		s.apply(e)
	}
}

func (s *Session) apply(e *events.Event) {
	switch e.Type {
	case events.TypeMessage:
		if e.Message != nil {
			s.commit(*e.Message)
		}
	case events.TypeDelta:
		s.mu.Lock()
		if e.Attempt != s.attempt {
			s.attempt = e.Attempt
			s.streaming.Reset()
		}
		s.streaming.WriteString(e.Delta)
		s.mu.Unlock()
	case events.TypeStatus:
		s.mu.Lock()
		s.status = e.Status
		s.mu.Unlock()
	}
}

// commit merges a durable message into the snapshot handed to the
// reconciler. Messages are keyed by id, so the same message arriving from
// both a response and the event stream is applied once.
func (s *Session) commit(msg store.Message) {
	s.mu.Lock()
	s.messages[msg.ID] = msg
	if msg.Role == store.RoleAssistant {
		s.streaming.Reset()
		s.attempt = 0
	}
	snapshot := make([]store.Message, 0, len(s.messages))
	for _, m := range s.messages {
		snapshot = append(snapshot, m)
	}
	s.mu.Unlock()
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].Timestamp < snapshot[j].Timestamp })
	s.rec.ApplyDurable(snapshot)
}

// AddMessage sends through the API and commits the stored message before
// the reconciler drops its pending entry.
func (s *Session) AddMessage(ctx context.Context, conversationID, content string) (*store.Message, error) {
	msg, err := s.api.AddMessage(ctx, conversationID, content)
	if err != nil {
		return nil, err
	}
	if msg != nil && s.rec.ConversationID() == conversationID {
		s.commit(*msg)
	}
	return msg, nil
}

// Send submits content optimistically and then asks the server for the
// mentor's reply. The thread is reused across calls within the session.
func (s *Session) Send(ctx context.Context, content string) (*core.GenerateResult, error) {
	conversationID := s.rec.ConversationID()
	if _, err := s.rec.Submit(ctx, content); err != nil {
		return nil, err
	}

	s.mu.Lock()
	threadID := s.threadID
	s.mu.Unlock()

	res, err := s.api.Reply(ctx, conversationID, threadID, content)
	if err != nil {
		return nil, err
	}
	if s.rec.ConversationID() != conversationID {
		return res, nil
	}
	s.mu.Lock()
	s.threadID = res.ThreadID
	s.mu.Unlock()
	if res.Message != nil {
		s.commit(*res.Message)
	}
	return res, nil
}

func (s *Session) View() []DisplayMessage { return s.rec.View() }

// Streaming returns the partial assistant reply received so far.
func (s *Session) Streaming() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming.String()
}

func (s *Session) Status() store.ConversationStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Close stops the event stream.
func (s *Session) Close() { s.stop() }
