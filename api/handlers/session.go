package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/nexus/agent/persistence"
	"github.com/BaSui01/nexus/api"
	"github.com/BaSui01/nexus/types"
)

// =============================================================================
// 🗂️ Session Handler
// =============================================================================

// RunForgetter 删除会话时清理其运行记录，由 workshop.Orchestrator 实现
type RunForgetter interface {
	Forget(sessionID string)
}

// SessionHandler 会话 CRUD 与参与者管理
type SessionHandler struct {
	sessions     persistence.SessionStore
	agents       persistence.AgentStore
	runs         RunForgetter
	seedDefaults bool
	logger       *zap.Logger
}

// NewSessionHandler 创建会话处理器。seedDefaults 为 true 时，
// 调用方没有 Agent 会在创建会话前写入默认人格。
func NewSessionHandler(sessions persistence.SessionStore, agents persistence.AgentStore, runs RunForgetter, seedDefaults bool, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		sessions:     sessions,
		agents:       agents,
		runs:         runs,
		seedDefaults: seedDefaults,
		logger:       logger.With(zap.String("handler", "session")),
	}
}

// HandleList 列出调用方的会话，最新的在前
// @Summary 会话列表
// @Tags session
// @Produce json
// @Success 200 {object} Response{data=[]api.SessionSummary}
// @Router /api/v1/sessions [get]
func (h *SessionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.sessions.ListSessions(r.Context(), CallerID(r))
	if err != nil {
		WriteAppError(w, mapStoreError(err, "sessions"), h.logger)
		return
	}

	out := make([]api.SessionSummary, 0, len(list))
	for _, s := range list {
		out = append(out, api.NewSessionSummary(s))
	}
	WriteSuccess(w, out)
}

// HandleCreate 按模式创建会话并应用默认设置
// @Summary 创建会话
// @Tags session
// @Accept json
// @Produce json
// @Param request body api.CreateSessionRequest true "会话模式"
// @Success 201 {object} Response{data=types.Session}
// @Failure 422 {object} Response "没有可用的 Agent"
// @Router /api/v1/sessions [post]
func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.CreateSessionRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if !req.Type.Valid() {
		WriteError(w, types.NewInvalidRequestError(fmt.Sprintf("unknown session type: %q", req.Type)), h.logger)
		return
	}

	ctx := r.Context()
	userID := CallerID(r)
	roster, err := h.roster(ctx, userID)
	if err != nil {
		WriteAppError(w, err, h.logger)
		return
	}

	sess, err := types.NewSession(uuid.NewString(), userID, req.Type, roster, time.Now())
	if err != nil {
		WriteAppError(w, err, h.logger)
		return
	}
	if err := h.sessions.CreateSession(ctx, sess); err != nil {
		WriteAppError(w, mapStoreError(err, "session"), h.logger)
		return
	}

	h.logger.Info("session created",
		zap.String("session_id", sess.ID),
		zap.String("type", string(sess.Type)),
		zap.String("user_id", userID))
	WriteStatus(w, http.StatusCreated, sess)
}

// roster 返回调用方 Agent ID（创建顺序），必要时先写入默认人格
func (h *SessionHandler) roster(ctx context.Context, userID string) ([]string, error) {
	var (
		list []*types.Agent
		err  error
	)
	if h.seedDefaults {
		list, err = persistence.SeedDefaultAgents(ctx, h.agents, userID)
	} else {
		list, err = h.agents.ListAgents(ctx, userID)
	}
	if err != nil {
		return nil, mapStoreError(err, "agents")
	}

	ids := make([]string, 0, len(list))
	for _, a := range list {
		ids = append(ids, a.ID)
	}
	return ids, nil
}

// HandleGet 返回完整会话（含消息）
// @Summary 会话详情
// @Tags session
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} Response{data=types.Session}
// @Failure 404 {object} Response
// @Router /api/v1/sessions/{id} [get]
func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.load(w, r)
	if !ok {
		return
	}
	WriteSuccess(w, sess)
}

// HandlePatch 更新会话设置。运行中的研讨会在下一轮读到新值。
// @Summary 更新会话设置
// @Tags session
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param request body api.UpdateSessionRequest true "需要修改的字段"
// @Success 200 {object} Response{data=types.Session}
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /api/v1/sessions/{id} [patch]
func (h *SessionHandler) HandlePatch(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.load(w, r); !ok {
		return
	}

	var req api.UpdateSessionRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := validatePatch(req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	updated, err := h.sessions.UpdateSession(r.Context(), r.PathValue("id"), func(s *types.Session) error {
		applyPatch(s, req)
		if s.FirstSpeakerID != "" && !s.HasParticipant(s.FirstSpeakerID) {
			return types.NewInvalidRequestError("first_speaker_id must be a participant")
		}
		s.UpdatedAt = time.Now()
		return s.Validate()
	})
	if err != nil {
		WriteAppError(w, mapStoreError(err, "session"), h.logger)
		return
	}
	WriteSuccess(w, updated)
}

func validatePatch(req api.UpdateSessionRequest) *types.Error {
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		return types.NewInvalidRequestError("title must not be empty")
	}
	if req.DualMode != nil && !req.DualMode.Valid() {
		return types.NewInvalidRequestError(fmt.Sprintf("unknown dual mode: %q", *req.DualMode))
	}
	if req.MaxRounds != nil && *req.MaxRounds < 1 {
		return types.NewInvalidRequestError("max_rounds must be at least 1")
	}
	return nil
}

func applyPatch(s *types.Session, req api.UpdateSessionRequest) {
	persistence.SessionPatch{
		Title:                req.Title,
		DualMode:             req.DualMode,
		MaxRounds:            req.MaxRounds,
		BackgroundContext:    req.BackgroundContext,
		AgentSpecificPrompts: req.AgentSpecificPrompts,
		FirstSpeakerID:       req.FirstSpeakerID,
	}.Apply(s)
}

// HandleDelete 删除会话；调用方的最后一个会话不可删除
// @Summary 删除会话
// @Tags session
// @Param id path string true "Session ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Failure 422 {object} Response "至少保留一个会话"
// @Router /api/v1/sessions/{id} [delete]
func (h *SessionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.load(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	list, err := h.sessions.ListSessions(ctx, sess.UserID)
	if err != nil {
		WriteAppError(w, mapStoreError(err, "sessions"), h.logger)
		return
	}
	if len(list) <= 1 {
		WriteError(w, types.NewPreconditionError("keep at least one session"), h.logger)
		return
	}

	if err := h.sessions.DeleteSession(ctx, sess.ID); err != nil {
		WriteAppError(w, mapStoreError(err, "session"), h.logger)
		return
	}
	if h.runs != nil {
		h.runs.Forget(sess.ID)
	}

	h.logger.Info("session deleted", zap.String("session_id", sess.ID))
	WriteSuccess(w, map[string]string{"id": sess.ID})
}

// HandleToggleParticipant 加入或移出一位参与者
// @Summary 切换参与者
// @Tags session
// @Param id path string true "Session ID"
// @Param agentId path string true "Agent ID"
// @Success 200 {object} Response{data=types.Session}
// @Failure 409 {object} Response "研讨进行中"
// @Router /api/v1/sessions/{id}/participants/{agentId} [post]
func (h *SessionHandler) HandleToggleParticipant(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.load(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	agentID := r.PathValue("agentId")
	agent, err := h.agents.GetAgent(ctx, agentID)
	if err != nil {
		WriteAppError(w, mapStoreError(err, "agent"), h.logger)
		return
	}
	if agent.UserID != sess.UserID {
		WriteError(w, types.NewNotFoundError("agent not found"), h.logger)
		return
	}

	updated, err := h.sessions.UpdateSession(ctx, sess.ID, func(s *types.Session) error {
		// 运行中的顺序在启动时已固定
		if s.IsRunning {
			return types.NewBusyError("stop the workshop before changing participants")
		}
		s.AgentIDs = types.ToggleParticipant(s.Type, s.AgentIDs, agentID)
		if s.FirstSpeakerID != "" && !s.HasParticipant(s.FirstSpeakerID) {
			s.FirstSpeakerID = s.AgentIDs[0]
		}
		s.UpdatedAt = time.Now()
		return s.Validate()
	})
	if err != nil {
		WriteAppError(w, mapStoreError(err, "session"), h.logger)
		return
	}
	WriteSuccess(w, updated)
}

// HandleListMessages 按追加顺序返回消息日志
// @Summary 消息列表
// @Tags session
// @Param id path string true "Session ID"
// @Success 200 {object} Response{data=[]types.Message}
// @Router /api/v1/sessions/{id}/messages [get]
func (h *SessionHandler) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.load(w, r); !ok {
		return
	}
	msgs, err := h.sessions.ListMessages(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteAppError(w, mapStoreError(err, "session"), h.logger)
		return
	}
	WriteSuccess(w, msgs)
}

// load 读取路径中的会话并校验归属；失败时已写出响应
func (h *SessionHandler) load(w http.ResponseWriter, r *http.Request) (*types.Session, bool) {
	return loadSession(w, r, h.sessions, h.logger)
}

func loadSession(w http.ResponseWriter, r *http.Request, store persistence.SessionStore, logger *zap.Logger) (*types.Session, bool) {
	id := r.PathValue("id")
	if id == "" {
		WriteError(w, types.NewInvalidRequestError("session id is required"), logger)
		return nil, false
	}
	sess, err := store.GetSession(r.Context(), id)
	if err != nil {
		WriteAppError(w, mapStoreError(err, "session"), logger)
		return nil, false
	}
	// 其他调用方的会话视为不存在
	if sess.UserID != CallerID(r) {
		WriteError(w, types.NewNotFoundError("session not found"), logger)
		return nil, false
	}
	return sess, true
}

// mapStoreError 把存储层哨兵错误转换为 *types.Error
func mapStoreError(err error, what string) error {
	if _, ok := types.AsError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return types.NewNotFoundError(what + " not found")
	case errors.Is(err, persistence.ErrAlreadyExists):
		return types.NewError(types.ErrConflict, what+" already exists").WithHTTPStatus(http.StatusConflict)
	case errors.Is(err, persistence.ErrConflict):
		return types.NewBusyError(what + " is being modified concurrently").WithCause(err)
	case errors.Is(err, persistence.ErrInvalidInput), errors.Is(err, persistence.ErrNotAppendOnly):
		return types.NewInvalidRequestError(err.Error())
	case errors.Is(err, persistence.ErrStoreClosed):
		return types.NewError(types.ErrServiceUnavailable, "store is closed").
			WithHTTPStatus(http.StatusServiceUnavailable).WithCause(err)
	default:
		return types.NewInternalError(what + " store failure").WithCause(err)
	}
}
