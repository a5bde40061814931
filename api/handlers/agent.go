package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/nexus/agent/persistence"
	"github.com/BaSui01/nexus/api"
	"github.com/BaSui01/nexus/types"
)

// =============================================================================
// 🤖 Agent Handler
// =============================================================================

// AgentHandler 管理调用方的 Agent 人格
type AgentHandler struct {
	agents       persistence.AgentStore
	defaultModel string
	seedDefaults bool
	logger       *zap.Logger
}

// NewAgentHandler 创建 Agent 处理器。defaultModel 用于未指定模型的请求。
func NewAgentHandler(agents persistence.AgentStore, defaultModel string, seedDefaults bool, logger *zap.Logger) *AgentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentHandler{
		agents:       agents,
		defaultModel: defaultModel,
		seedDefaults: seedDefaults,
		logger:       logger.With(zap.String("handler", "agent")),
	}
}

// HandleList 按创建顺序列出 Agent，名册为空时写入默认人格
// @Summary Agent 列表
// @Tags agent
// @Produce json
// @Success 200 {object} Response{data=[]types.Agent}
// @Router /api/v1/agents [get]
func (h *AgentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	var (
		list []*types.Agent
		err  error
	)
	if h.seedDefaults {
		list, err = persistence.SeedDefaultAgents(r.Context(), h.agents, CallerID(r))
	} else {
		list, err = h.agents.ListAgents(r.Context(), CallerID(r))
	}
	if err != nil {
		WriteAppError(w, mapStoreError(err, "agents"), h.logger)
		return
	}
	if list == nil {
		list = []*types.Agent{}
	}
	WriteSuccess(w, list)
}

// HandleCreate 创建 Agent
// @Summary 创建 Agent
// @Tags agent
// @Accept json
// @Produce json
// @Param request body api.AgentRequest true "Agent 设置"
// @Success 201 {object} Response{data=types.Agent}
// @Failure 400 {object} Response
// @Router /api/v1/agents [post]
func (h *AgentHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.AgentRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	now := time.Now()
	agent := &types.Agent{
		ID:        uuid.NewString(),
		UserID:    CallerID(r),
		CreatedAt: now,
		UpdatedAt: now,
	}
	h.apply(agent, req)
	if err := agent.Validate(); err != nil {
		WriteAppError(w, err, h.logger)
		return
	}

	if err := h.agents.CreateAgent(r.Context(), agent); err != nil {
		WriteAppError(w, mapStoreError(err, "agent"), h.logger)
		return
	}
	h.logger.Info("agent created", zap.String("agent_id", agent.ID), zap.String("name", agent.Name))
	WriteStatus(w, http.StatusCreated, agent)
}

// HandleUpdate 整体替换 Agent 设置；已在运行的研讨继续使用启动时的快照
// @Summary 更新 Agent
// @Tags agent
// @Accept json
// @Produce json
// @Param id path string true "Agent ID"
// @Param request body api.AgentRequest true "Agent 设置"
// @Success 200 {object} Response{data=types.Agent}
// @Failure 404 {object} Response
// @Router /api/v1/agents/{id} [put]
func (h *AgentHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.load(w, r)
	if !ok {
		return
	}

	var req api.AgentRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	h.apply(agent, req)
	agent.UpdatedAt = time.Now()
	if err := agent.Validate(); err != nil {
		WriteAppError(w, err, h.logger)
		return
	}

	if err := h.agents.UpdateAgent(r.Context(), agent); err != nil {
		WriteAppError(w, mapStoreError(err, "agent"), h.logger)
		return
	}
	WriteSuccess(w, agent)
}

// HandleDelete 删除 Agent
// @Summary 删除 Agent
// @Tags agent
// @Param id path string true "Agent ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /api/v1/agents/{id} [delete]
func (h *AgentHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.load(w, r)
	if !ok {
		return
	}
	if err := h.agents.DeleteAgent(r.Context(), agent.ID); err != nil {
		WriteAppError(w, mapStoreError(err, "agent"), h.logger)
		return
	}
	h.logger.Info("agent deleted", zap.String("agent_id", agent.ID))
	WriteSuccess(w, map[string]string{"id": agent.ID})
}

func (h *AgentHandler) apply(agent *types.Agent, req api.AgentRequest) {
	req.Apply(agent)
	if agent.Model == "" {
		agent.Model = h.defaultModel
	}
}

func (h *AgentHandler) load(w http.ResponseWriter, r *http.Request) (*types.Agent, bool) {
	agent, err := h.agents.GetAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteAppError(w, mapStoreError(err, "agent"), h.logger)
		return nil, false
	}
	if agent.UserID != CallerID(r) {
		WriteError(w, types.NewNotFoundError("agent not found"), h.logger)
		return nil, false
	}
	return agent, true
}
