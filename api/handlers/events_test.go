package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/nexus/agent/persistence"
	"github.com/BaSui01/nexus/testutil/fixtures"
	"github.com/BaSui01/nexus/types"
)

// =============================================================================
// 🧪 EventsHandler 测试
// =============================================================================

type countingObserver struct {
	open atomic.Int32
}

func (o *countingObserver) StreamOpened() { o.open.Add(1) }
func (o *countingObserver) StreamClosed() { o.open.Add(-1) }

func dialEvents(t *testing.T, h *apiHarness, sessionID string) (*websocket.Conn, context.Context) {
	t.Helper()
	srv := httptest.NewServer(h.handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/sessions/" + sessionID + "/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn, ctx
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) persistence.Event {
	t.Helper()
	var ev persistence.Event
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	return ev
}

func TestEventsHandler_SnapshotThenUpdates(t *testing.T) {
	h := newAPIHarness(t, nil)
	h.seed(t, fixtures.Session("s1", types.SessionMulti, "agent-1", "agent-2"), 2)

	conn, ctx := dialEvents(t, h, "s1")

	snap := readEvent(t, ctx, conn)
	assert.Equal(t, persistence.EventSnapshot, snap.Type)
	require.NotNil(t, snap.Session)
	assert.Equal(t, "s1", snap.Session.ID)

	require.NoError(t, h.sessions.AppendMessage(context.Background(), "s1",
		types.NewUserMessage("m1", "s1", "first words")))

	ev := readEvent(t, ctx, conn)
	assert.Equal(t, persistence.EventMessageAppended, ev.Type)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "first words", ev.Message.Content)

	ev = readEvent(t, ctx, conn)
	assert.Equal(t, persistence.EventSessionUpdated, ev.Type)
	require.NotNil(t, ev.Session)
	assert.Len(t, ev.Session.Messages, 1)
}

func TestEventsHandler_ClosesOnDelete(t *testing.T) {
	h := newAPIHarness(t, nil)
	h.seed(t, fixtures.Session("s1", types.SessionMulti, "agent-1", "agent-2"), 2)

	conn, ctx := dialEvents(t, h, "s1")
	readEvent(t, ctx, conn)

	require.NoError(t, h.sessions.DeleteSession(context.Background(), "s1"))

	ev := readEvent(t, ctx, conn)
	assert.Equal(t, persistence.EventSessionDeleted, ev.Type)

	var next persistence.Event
	err := wsjson.Read(ctx, conn, &next)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestEventsHandler_UnknownSession(t *testing.T) {
	h := newAPIHarness(t, nil)

	w := h.do(t, http.MethodGet, "/api/v1/sessions/missing/events", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 0, h.hub.SubscriberCount("missing"))
}

func TestEventsHandler_ObserverAndUnsubscribe(t *testing.T) {
	h := newAPIHarness(t, nil)
	h.seed(t, fixtures.Session("s1", types.SessionMulti, "agent-1", "agent-2"), 2)

	observer := &countingObserver{}
	events := NewEventsHandler(h.sessions, h.hub, observer, nil, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/sessions/{id}/events", events.HandleEvents)
	h.mux = mux

	conn, ctx := dialEvents(t, h, "s1")
	readEvent(t, ctx, conn)
	assert.Equal(t, int32(1), observer.open.Load())
	assert.Equal(t, 1, h.hub.SubscriberCount("s1"))

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))

	require.Eventually(t, func() bool {
		return observer.open.Load() == 0 && h.hub.SubscriberCount("s1") == 0
	}, waitTimeout, 5*time.Millisecond)
}
