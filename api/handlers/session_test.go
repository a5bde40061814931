package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/nexus/agent/persistence"
	"github.com/BaSui01/nexus/agent/workshop"
	"github.com/BaSui01/nexus/api"
	"github.com/BaSui01/nexus/testutil/fixtures"
	"github.com/BaSui01/nexus/testutil/mocks"
	"github.com/BaSui01/nexus/types"
)

// =============================================================================
// 🧪 测试装配
// =============================================================================

// apiHarness 用内存存储和 mock provider 装配全部处理器
type apiHarness struct {
	sessions *persistence.ObservedSessionStore
	agents   *persistence.MemoryAgentStore
	hub      *persistence.EventHub
	provider *mocks.MockProvider
	orch     *workshop.Orchestrator
	mux      *http.ServeMux
}

func newAPIHarness(t *testing.T, provider *mocks.MockProvider) *apiHarness {
	t.Helper()
	if provider == nil {
		provider = mocks.NewMockProvider()
	}
	logger := zap.NewNop()
	hub := persistence.NewEventHub(16, logger)
	h := &apiHarness{
		sessions: persistence.NewObservedSessionStore(persistence.NewMemorySessionStore(), hub),
		agents:   persistence.NewMemoryAgentStore(),
		hub:      hub,
		provider: provider,
	}
	h.orch = workshop.NewOrchestrator(h.sessions, h.agents, provider,
		workshop.Config{MemoryWindow: 2}, workshop.WithLogger(logger))
	t.Cleanup(func() { _ = h.orch.Close() })

	sessions := NewSessionHandler(h.sessions, h.agents, h.orch, true, logger)
	agents := NewAgentHandler(h.agents, "gemini-3-flash-preview", true, logger)
	ws := NewWorkshopHandler(h.sessions, h.orch, logger)
	events := NewEventsHandler(h.sessions, hub, nil, nil, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/sessions", sessions.HandleList)
	mux.HandleFunc("POST /api/v1/sessions", sessions.HandleCreate)
	mux.HandleFunc("GET /api/v1/sessions/{id}", sessions.HandleGet)
	mux.HandleFunc("PATCH /api/v1/sessions/{id}", sessions.HandlePatch)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", sessions.HandleDelete)
	mux.HandleFunc("POST /api/v1/sessions/{id}/participants/{agentId}", sessions.HandleToggleParticipant)
	mux.HandleFunc("GET /api/v1/sessions/{id}/messages", sessions.HandleListMessages)
	mux.HandleFunc("POST /api/v1/sessions/{id}/messages", ws.HandleSendMessage)
	mux.HandleFunc("POST /api/v1/sessions/{id}/workshop/start", ws.HandleStart)
	mux.HandleFunc("POST /api/v1/sessions/{id}/workshop/stop", ws.HandleStop)
	mux.HandleFunc("GET /api/v1/sessions/{id}/workshop", ws.HandleStatus)
	mux.HandleFunc("GET /api/v1/sessions/{id}/events", events.HandleEvents)
	mux.HandleFunc("GET /api/v1/agents", agents.HandleList)
	mux.HandleFunc("POST /api/v1/agents", agents.HandleCreate)
	mux.HandleFunc("PUT /api/v1/agents/{id}", agents.HandleUpdate)
	mux.HandleFunc("DELETE /api/v1/agents/{id}", agents.HandleDelete)
	h.mux = mux
	return h
}

// handler 以 fixtures.TestUserID 身份调用路由
func (h *apiHarness) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mux.ServeHTTP(w, r.WithContext(types.WithUserID(r.Context(), fixtures.TestUserID)))
	})
}

func (h *apiHarness) seed(t *testing.T, sess *types.Session, n int) {
	t.Helper()
	fixtures.Seed(t, h.sessions, h.agents, sess, fixtures.Agents(n)...)
}

func (h *apiHarness) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, target, &buf)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.handler().ServeHTTP(w, r)
	return w
}

func (h *apiHarness) session(t *testing.T, id string) *types.Session {
	t.Helper()
	sess, err := h.sessions.GetSession(context.Background(), id)
	require.NoError(t, err)
	return sess
}

// decodeData 解码 Response.Data 到 T
func decodeData[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.True(t, resp.Success, "unexpected failure response")
	var out T
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	return out
}

func decodeErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	return resp.Error.Code
}

func ptr[T any](v T) *T { return &v }

// =============================================================================
// 🧪 SessionHandler 测试
// =============================================================================

func TestSessionHandler_CreateSeedsDefaultAgents(t *testing.T) {
	h := newAPIHarness(t, nil)

	tests := []struct {
		typ          types.SessionType
		participants int
		maxRounds    int
	}{
		{types.SessionSingle, 1, types.DefaultSingleMaxRounds},
		{types.SessionDual, 2, types.DefaultGroupMaxRounds},
		{types.SessionMulti, 2, types.DefaultGroupMaxRounds},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			w := h.do(t, http.MethodPost, "/api/v1/sessions", api.CreateSessionRequest{Type: tt.typ})
			require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

			sess := decodeData[types.Session](t, w)
			assert.NotEmpty(t, sess.ID)
			assert.Equal(t, fixtures.TestUserID, sess.UserID)
			assert.Equal(t, tt.typ, sess.Type)
			assert.Len(t, sess.AgentIDs, tt.participants)
			assert.Equal(t, tt.maxRounds, sess.MaxRounds)
			assert.Equal(t, sess.AgentIDs[0], sess.FirstSpeakerID)
			assert.False(t, sess.IsRunning)
		})
	}

	agents, err := h.agents.ListAgents(context.Background(), fixtures.TestUserID)
	require.NoError(t, err)
	assert.Len(t, agents, 3, "defaults are seeded once")
}

func TestSessionHandler_CreateRejectsUnknownType(t *testing.T) {
	h := newAPIHarness(t, nil)

	w := h.do(t, http.MethodPost, "/api/v1/sessions", map[string]string{"type": "TRIO"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(types.ErrInvalidRequest), decodeErrorCode(t, w))
}

func TestSessionHandler_ListNewestFirst(t *testing.T) {
	h := newAPIHarness(t, nil)
	h.seed(t, nil, 2)

	for i := 0; i < 2; i++ {
		w := h.do(t, http.MethodPost, "/api/v1/sessions", api.CreateSessionRequest{Type: types.SessionMulti})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := h.do(t, http.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeData[[]api.SessionSummary](t, w)
	require.Len(t, list, 2)
	assert.False(t, list[0].CreatedAt.Before(list[1].CreatedAt))
}

func TestSessionHandler_GetHidesOtherCallers(t *testing.T) {
	h := newAPIHarness(t, nil)
	sess := fixtures.Session("s1", types.SessionMulti, "agent-1", "agent-2")
	sess.UserID = "someone-else"
	h.seed(t, sess, 2)

	w := h.do(t, http.MethodGet, "/api/v1/sessions/s1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(t, http.MethodGet, "/api/v1/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionHandler_Patch(t *testing.T) {
	h := newAPIHarness(t, nil)
	sess := fixtures.Session("s1", types.SessionDual, "agent-1", "agent-2")
	sess.CurrentRound = 8
	h.seed(t, sess, 2)

	w := h.do(t, http.MethodPatch, "/api/v1/sessions/s1", api.UpdateSessionRequest{
		Title:                ptr("Ethics of AI"),
		DualMode:             ptr(types.DualRoleplay),
		MaxRounds:            ptr(5),
		BackgroundContext:    ptr("A quiet harbor town."),
		AgentSpecificPrompts: map[string]string{"agent-1": "You are the innkeeper."},
		FirstSpeakerID:       ptr("agent-2"),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got := h.session(t, "s1")
	assert.Equal(t, "Ethics of AI", got.Title)
	assert.Equal(t, types.DualRoleplay, got.DualMode)
	assert.Equal(t, 5, got.MaxRounds)
	assert.Equal(t, 5, got.CurrentRound, "current round is clamped to the new limit")
	assert.Equal(t, "A quiet harbor town.", got.BackgroundContext)
	assert.Equal(t, "You are the innkeeper.", got.AgentSpecificPrompts["agent-1"])
	assert.Equal(t, "agent-2", got.FirstSpeakerID)
}

func TestSessionHandler_PatchValidation(t *testing.T) {
	h := newAPIHarness(t, nil)
	h.seed(t, fixtures.Session("s1", types.SessionDual, "agent-1", "agent-2"), 3)

	tests := []struct {
		name string
		body any
	}{
		{"empty title", api.UpdateSessionRequest{Title: ptr("  ")}},
		{"unknown dual mode", api.UpdateSessionRequest{DualMode: ptr(types.DualMode("DUET"))}},
		{"zero rounds", api.UpdateSessionRequest{MaxRounds: ptr(0)}},
		{"first speaker not a participant", api.UpdateSessionRequest{FirstSpeakerID: ptr("agent-3")}},
		{"unknown field", map[string]any{"is_running": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(t, http.MethodPatch, "/api/v1/sessions/s1", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}

	got := h.session(t, "s1")
	assert.Equal(t, "agent-1", got.FirstSpeakerID)
	assert.Equal(t, types.DualDebate, got.DualMode)
}

func TestSessionHandler_DeleteKeepsLastSession(t *testing.T) {
	h := newAPIHarness(t, nil)
	h.seed(t, fixtures.Session("s1", types.SessionMulti, "agent-1", "agent-2"), 2)
	require.NoError(t, h.sessions.CreateSession(context.Background(),
		fixtures.Session("s2", types.SessionSingle, "agent-1")))

	w := h.do(t, http.MethodDelete, "/api/v1/sessions/s1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	_, err := h.sessions.GetSession(context.Background(), "s1")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	assert.Equal(t, workshop.StateIdle, h.orch.Status("s1").State)

	w = h.do(t, http.MethodDelete, "/api/v1/sessions/s2", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, string(types.ErrPreconditionFailed), decodeErrorCode(t, w))
	h.session(t, "s2")
}

func TestSessionHandler_ToggleParticipant(t *testing.T) {
	h := newAPIHarness(t, nil)
	h.seed(t, fixtures.Session("dual", types.SessionDual, "agent-1", "agent-2"), 3)

	w := h.do(t, http.MethodPost, "/api/v1/sessions/dual/participants/agent-3", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"agent-1", "agent-3"}, h.session(t, "dual").AgentIDs)

	w = h.do(t, http.MethodPost, "/api/v1/sessions/dual/participants/agent-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := h.session(t, "dual")
	assert.Equal(t, []string{"agent-3"}, got.AgentIDs)
	assert.Equal(t, "agent-3", got.FirstSpeakerID, "removed first speaker falls back to the first participant")

	w = h.do(t, http.MethodPost, "/api/v1/sessions/dual/participants/nobody", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionHandler_ToggleParticipantWhileRunning(t *testing.T) {
	h := newAPIHarness(t, nil)
	sess := fixtures.Session("s1", types.SessionMulti, "agent-1", "agent-2")
	sess.IsRunning = true
	sess.RunID = "run-1"
	h.seed(t, sess, 3)

	w := h.do(t, http.MethodPost, "/api/v1/sessions/s1/participants/agent-3", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(types.ErrSessionBusy), decodeErrorCode(t, w))
	assert.Equal(t, []string{"agent-1", "agent-2"}, h.session(t, "s1").AgentIDs)
}

func TestSessionHandler_ListMessages(t *testing.T) {
	h := newAPIHarness(t, nil)
	sess := fixtures.Session("s1", types.SessionMulti, "agent-1", "agent-2")
	h.seed(t, sess, 2)
	require.NoError(t, h.sessions.AppendMessage(context.Background(), "s1", types.NewUserMessage("m1", "s1", "hello")))

	w := h.do(t, http.MethodGet, "/api/v1/sessions/s1/messages", nil)
	require.Equal(t, http.StatusOK, w.Code)
	msgs := decodeData[[]types.Message](t, w)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, types.RoleUser, msgs[0].Role)
}

func TestMapStoreError(t *testing.T) {
	tests := []struct {
		err  error
		code types.ErrorCode
	}{
		{persistence.ErrNotFound, types.ErrNotFound},
		{persistence.ErrAlreadyExists, types.ErrConflict},
		{persistence.ErrConflict, types.ErrSessionBusy},
		{persistence.ErrInvalidInput, types.ErrInvalidRequest},
		{persistence.ErrNotAppendOnly, types.ErrInvalidRequest},
		{persistence.ErrStoreClosed, types.ErrServiceUnavailable},
		{context.DeadlineExceeded, types.ErrInternalError},
		{types.NewBusyError("already typed"), types.ErrSessionBusy},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.code, types.GetErrorCode(mapStoreError(tt.err, "session")))
		})
	}
}
