package client

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rethoric/rethoric/internal/store"
)

type DisplayStatus string

const (
	StatusConfirmed DisplayStatus = "confirmed"
	StatusPending   DisplayStatus = "pending"
	StatusError     DisplayStatus = "error"
)

// DisplayMessage is one rendered row: either a durable message or an
// optimistic overlay entry.
type DisplayMessage struct {
	ID        string        `json:"id"`
	Role      store.Role    `json:"role"`
	Content   string        `json:"content"`
	Timestamp int64         `json:"timestamp"`
	Status    DisplayStatus `json:"status"`
	Err       error         `json:"-"`
}

func (m DisplayMessage) Optimistic() bool { return m.Status != StatusConfirmed }

// Sender is the durable write path the reconciler submits to.
type Sender interface {
	AddMessage(ctx context.Context, conversationID, content string) (*store.Message, error)
}

var (
	ErrNoConversation = errors.New("no conversation selected")
	ErrEmptyMessage   = errors.New("message content cannot be empty")
	ErrNotRetryable   = errors.New("no failed message with that id")
)

// Reconciler keeps a per-conversation overlay of outgoing messages on top
// of the durable log delivered by the subscription. Overlay entries are
// removed once their send succeeds and kept, marked as errors, when it
// fails.
type Reconciler struct {
	mu             sync.Mutex
	sender         Sender
	conversationID string
	epoch          uint64
	durable        []store.Message
	overlay        []DisplayMessage
	input          string
	now            func() time.Time
	onChange       func()
}

func NewReconciler(sender Sender) *Reconciler {
	return &Reconciler{sender: sender, now: time.Now}
}

// OnChange registers a callback run after every state change, outside the
// lock.
func (r *Reconciler) OnChange(fn func()) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

func (r *Reconciler) notify() {
	r.mu.Lock()
	fn := r.onChange
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (r *Reconciler) ConversationID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conversationID
}

func (r *Reconciler) SetInput(text string) {
	r.mu.Lock()
	r.input = text
	r.mu.Unlock()
}

func (r *Reconciler) Input() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.input
}

// SwitchConversation discards the overlay and the durable snapshot. Sends
// still in flight for the previous conversation no longer touch the state.
func (r *Reconciler) SwitchConversation(conversationID string) {
	r.mu.Lock()
	r.conversationID = conversationID
	r.epoch++
	r.overlay = nil
	r.durable = nil
	r.mu.Unlock()
	r.notify()
}

// ApplyDurable replaces the durable layer. Messages for other
// conversations are ignored.
func (r *Reconciler) ApplyDurable(messages []store.Message) {
	r.mu.Lock()
	durable := make([]store.Message, 0, len(messages))
	for _, m := range messages {
		if m.ConversationID == r.conversationID {
			durable = append(durable, m)
		}
	}
	sort.SliceStable(durable, func(i, j int) bool { return durable[i].Timestamp < durable[j].Timestamp })
	r.durable = durable
	r.mu.Unlock()
	r.notify()
}

// Submit shows content immediately as a pending entry, clears the input
// and sends it. It returns the entry's temporary id together with the send
// error, if any.
func (r *Reconciler) Submit(ctx context.Context, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyMessage
	}

	r.mu.Lock()
	if r.conversationID == "" {
		r.mu.Unlock()
		return "", ErrNoConversation
	}
	tempID := "tmp_" + uuid.NewString()
	r.overlay = append(r.overlay, DisplayMessage{
		ID:        tempID,
		Role:      store.RoleUser,
		Content:   content,
		Timestamp: r.now().UnixMilli(),
		Status:    StatusPending,
	})
	r.input = ""
	conversationID, epoch := r.conversationID, r.epoch
	r.mu.Unlock()
	r.notify()

	return tempID, r.send(ctx, conversationID, epoch, tempID, content)
}

// Retry resends the exact text of a failed entry.
func (r *Reconciler) Retry(ctx context.Context, tempID string) error {
	r.mu.Lock()
	i := r.indexOf(tempID)
	if i < 0 || r.overlay[i].Status != StatusError {
		r.mu.Unlock()
		return ErrNotRetryable
	}
	r.overlay[i].Status = StatusPending
	r.overlay[i].Err = nil
	content := r.overlay[i].Content
	conversationID, epoch := r.conversationID, r.epoch
	r.mu.Unlock()
	r.notify()

	return r.send(ctx, conversationID, epoch, tempID, content)
}

// Dismiss drops a failed entry and puts its text back into the input.
func (r *Reconciler) Dismiss(tempID string) (string, bool) {
	r.mu.Lock()
	i := r.indexOf(tempID)
	if i < 0 || r.overlay[i].Status != StatusError {
		r.mu.Unlock()
		return "", false
	}
	content := r.overlay[i].Content
	r.overlay = append(r.overlay[:i], r.overlay[i+1:]...)
	r.input = content
	r.mu.Unlock()
	r.notify()
	return content, true
}

func (r *Reconciler) send(ctx context.Context, conversationID string, epoch uint64, tempID, content string) error {
	_, err := r.sender.AddMessage(ctx, conversationID, content)

	r.mu.Lock()
	if r.epoch != epoch {
		r.mu.Unlock()
		return err
	}
	if i := r.indexOf(tempID); i >= 0 {
		if err == nil {
			r.overlay = append(r.overlay[:i], r.overlay[i+1:]...)
		} else {
			r.overlay[i].Status = StatusError
			r.overlay[i].Err = err
		}
	}
	r.mu.Unlock()
	r.notify()
	return err
}

func (r *Reconciler) indexOf(tempID string) int {
	for i, m := range r.overlay {
		if m.ID == tempID {
			return i
		}
	}
	return -1
}

// View returns the merged rendering of durable and overlay messages.
func (r *Reconciler) View() []DisplayMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Merge(r.durable, r.overlay)
}

// Merge concatenates durable and overlay messages and stable-sorts them by
// timestamp, so durable messages come first on equal timestamps and
// re-renders never reorder existing rows.
func Merge(durable []store.Message, overlay []DisplayMessage) []DisplayMessage {
	out := make([]DisplayMessage, 0, len(durable)+len(overlay))
	for _, m := range durable {
		out = append(out, DisplayMessage{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp,
			Status:    StatusConfirmed,
		})
	}
	out = append(out, overlay...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}
