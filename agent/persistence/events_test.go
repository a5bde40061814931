package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/nexus/types"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestObservedSessionStore_PublishesMutations(t *testing.T) {
	ctx := context.Background()
	hub := NewEventHub(16, zap.NewNop())
	store := NewObservedSessionStore(NewMemorySessionStore(), hub)

	events, cancel := hub.Subscribe("s1")
	defer cancel()

	require.NoError(t, store.CreateSession(ctx, newTestSession("s1", "u1", time.Now())))
	ev := receive(t, events)
	assert.Equal(t, EventSessionCreated, ev.Type)
	assert.Equal(t, "s1", ev.Session.ID)

	require.NoError(t, store.AppendMessage(ctx, "s1", modelMessage("m1", "hello")))
	ev = receive(t, events)
	assert.Equal(t, EventMessageAppended, ev.Type)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "hello", ev.Message.Content)
	ev = receive(t, events)
	assert.Equal(t, EventSessionUpdated, ev.Type)
	assert.Len(t, ev.Session.Messages, 1)

	_, err := store.PatchSession(ctx, "s1", SessionPatch{IsRunning: Ptr(true)})
	require.NoError(t, err)
	ev = receive(t, events)
	assert.Equal(t, EventSessionUpdated, ev.Type)
	assert.True(t, ev.Session.IsRunning)

	require.NoError(t, store.DeleteSession(ctx, "s1"))
	ev = receive(t, events)
	assert.Equal(t, EventSessionDeleted, ev.Type)
}

func TestObservedSessionStore_SkipPublishesNothing(t *testing.T) {
	ctx := context.Background()
	hub := NewEventHub(16, nil)
	store := NewObservedSessionStore(NewMemorySessionStore(), hub)
	require.NoError(t, store.CreateSession(ctx, newTestSession("s1", "u1", time.Now())))

	events, cancel := hub.Subscribe("s1")
	defer cancel()

	_, err := store.UpdateSession(ctx, "s1", func(*types.Session) error { return ErrSkipUpdate })
	require.NoError(t, err)
	_, err = store.UpdateSession(ctx, "s1", func(*types.Session) error { return assert.AnError })
	require.Error(t, err)

	select {
	case ev := <-events:
		t.Fatalf("unexpected event %s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewEventHub(1, zap.NewNop())
	events, cancel := hub.Subscribe("s1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Publish(Event{Type: EventSessionUpdated, SessionID: "s1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, events, 1)
}

func TestEventHub_CancelIsIdempotent(t *testing.T) {
	hub := NewEventHub(4, nil)
	events, cancel := hub.Subscribe("s1")
	other, cancelOther := hub.Subscribe("s2")
	defer cancelOther()

	assert.Equal(t, 1, hub.SubscriberCount("s1"))
	cancel()
	cancel()
	assert.Equal(t, 0, hub.SubscriberCount("s1"))

	_, ok := <-events
	assert.False(t, ok)

	hub.Publish(Event{Type: EventSessionUpdated, SessionID: "s2"})
	assert.Equal(t, EventSessionUpdated, receive(t, other).Type)
}
