package events

import (
	"testing"

	"github.com/rethoric/rethoric/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesOnlyMatchingConversation(t *testing.T) {
	hub := NewHub(4)
	a, cancelA := hub.Subscribe("conv-a")
	defer cancelA()
	b, cancelB := hub.Subscribe("conv-b")
	defer cancelB()

	hub.Publish(Event{Type: TypeMessage, ConversationID: "conv-a", Message: &store.Message{ID: "m1"}})

	select {
	case e := <-a:
		assert.Equal(t, "m1", e.Message.ID)
	default:
		t.Fatal("expected event on conv-a")
	}
	select {
	case <-b:
		t.Fatal("conv-b must not receive conv-a events")
	default:
	}
}

func TestPublishDropsForFullSubscriber(t *testing.T) {
	hub := NewHub(1)
	dropped := 0
	hub.OnDrop(func(Event) { dropped++ })
	ch, cancel := hub.Subscribe("c")
	defer cancel()

	hub.Publish(Event{Type: TypeDelta, ConversationID: "c", Delta: "one"})
	hub.Publish(Event{Type: TypeDelta, ConversationID: "c", Delta: "two"})

	e := <-ch
	assert.Equal(t, "one", e.Delta)
	assert.Equal(t, 1, dropped)
}

func TestCancelClosesChannelOnce(t *testing.T) {
	hub := NewHub(1)
	ch, cancel := hub.Subscribe("c")
	require.Equal(t, 1, hub.SubscriberCount("c"))

	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, hub.SubscriberCount("c"))
	hub.Publish(Event{Type: TypeStatus, ConversationID: "c", Status: store.StatusCompleted})
}

func TestFullSubscriberIsEvictedOnDurableEvent(t *testing.T) {
	hub := NewHub(2)
	var dropped []Type
	hub.OnDrop(func(e Event) { dropped = append(dropped, e.Type) })
	ch, cancel := hub.Subscribe("c")
	defer cancel()

	hub.Publish(Event{Type: TypeDelta, ConversationID: "c", Delta: "a"})
	hub.Publish(Event{Type: TypeDelta, ConversationID: "c", Delta: "b"})
	hub.Publish(Event{Type: TypeDelta, ConversationID: "c", Delta: "c"})
	require.Equal(t, 1, hub.SubscriberCount("c"), "deltas alone never evict")

	hub.Publish(Event{Type: TypeMessage, ConversationID: "c", Message: &store.Message{ID: "reply"}})
	assert.Equal(t, 0, hub.SubscriberCount("c"))
	assert.Equal(t, []Type{TypeDelta, TypeMessage}, dropped)

	var got []string
	for e := range ch {
		got = append(got, e.Delta)
	}
	assert.Equal(t, []string{"a", "b"}, got, "buffered events drain before the channel reports closed")
}

func TestDurableTypes(t *testing.T) {
	assert.True(t, TypeMessage.Durable())
	assert.True(t, TypeStatus.Durable())
	assert.False(t, TypeDelta.Durable())
}
