package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/nexus/agent/persistence"
	"github.com/BaSui01/nexus/api"
	"github.com/BaSui01/nexus/testutil/fixtures"
	"github.com/BaSui01/nexus/types"
)

// =============================================================================
// 🧪 AgentHandler 测试
// =============================================================================

func TestAgentHandler_ListSeedsDefaults(t *testing.T) {
	h := newAPIHarness(t, nil)

	w := h.do(t, http.MethodGet, "/api/v1/agents", nil)
	require.Equal(t, http.StatusOK, w.Code)

	list := decodeData[[]types.Agent](t, w)
	require.Len(t, list, 3)
	assert.Equal(t, "Aristotle", list[0].Name)
	assert.Equal(t, "Cyberpunk V", list[1].Name)
	assert.Equal(t, "Dr. Ella", list[2].Name)

	// 第二次调用不再写入
	w = h.do(t, http.MethodGet, "/api/v1/agents", nil)
	assert.Len(t, decodeData[[]types.Agent](t, w), 3)
}

func TestAgentHandler_Create(t *testing.T) {
	h := newAPIHarness(t, nil)

	w := h.do(t, http.MethodPost, "/api/v1/agents", api.AgentRequest{
		Name:            "Socrates",
		Avatar:          "🦉",
		Persona:         "You only ask questions.",
		Temperature:     0.5,
		MaxOutputTokens: 300,
		Color:           "purple",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	agent := decodeData[types.Agent](t, w)
	assert.NotEmpty(t, agent.ID)
	assert.Equal(t, fixtures.TestUserID, agent.UserID)
	assert.Equal(t, "gemini-3-flash-preview", agent.Model, "empty model falls back to the default")

	stored, err := h.agents.GetAgent(context.Background(), agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "Socrates", stored.Name)
}

func TestAgentHandler_CreateValidation(t *testing.T) {
	h := newAPIHarness(t, nil)

	tests := []struct {
		name string
		body any
	}{
		{"missing name", api.AgentRequest{Persona: "x"}},
		{"temperature out of range", api.AgentRequest{Name: "Hot", Temperature: 9}},
		{"unknown field", map[string]any{"name": "x", "tenant": "y"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(t, http.MethodPost, "/api/v1/agents", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestAgentHandler_UpdateAndDelete(t *testing.T) {
	h := newAPIHarness(t, nil)
	h.seed(t, nil, 1)

	w := h.do(t, http.MethodPut, "/api/v1/agents/agent-1", api.AgentRequest{
		Name:        "Renamed",
		Persona:     "A new voice.",
		Model:       "gemini-3-pro-preview",
		Temperature: 0.2,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	stored, err := h.agents.GetAgent(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", stored.Name)
	assert.Equal(t, "gemini-3-pro-preview", stored.Model)

	w = h.do(t, http.MethodDelete, "/api/v1/agents/agent-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	_, err = h.agents.GetAgent(context.Background(), "agent-1")
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	w = h.do(t, http.MethodDelete, "/api/v1/agents/agent-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAgentHandler_OtherCallersAgentIsHidden(t *testing.T) {
	h := newAPIHarness(t, nil)
	a := fixtures.Agent("foreign", "Stranger")
	a.UserID = "someone-else"
	require.NoError(t, h.agents.CreateAgent(context.Background(), a))

	w := h.do(t, http.MethodPut, "/api/v1/agents/foreign", api.AgentRequest{Name: "Mine now"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	stored, err := h.agents.GetAgent(context.Background(), "foreign")
	require.NoError(t, err)
	assert.Equal(t, "Stranger", stored.Name)
}
