package handlers

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/nexus/agent/persistence"
	"github.com/BaSui01/nexus/agent/workshop"
	"github.com/BaSui01/nexus/api"
	"github.com/BaSui01/nexus/types"
)

// =============================================================================
// 🎙️ Workshop Handler
// =============================================================================

// Workshop 研讨编排操作，由 *workshop.Orchestrator 实现
type Workshop interface {
	StartWorkshop(ctx context.Context, sessionID string) (workshop.RunStatus, error)
	StopGeneration(ctx context.Context, sessionID string) error
	SendUserMessage(ctx context.Context, sessionID, text string) (*types.Message, error)
	Status(sessionID string) workshop.RunStatus
}

// WorkshopHandler 启动、停止研讨以及发送用户消息
type WorkshopHandler struct {
	sessions persistence.SessionStore
	workshop Workshop
	logger   *zap.Logger
}

// NewWorkshopHandler 创建研讨处理器
func NewWorkshopHandler(sessions persistence.SessionStore, ws Workshop, logger *zap.Logger) *WorkshopHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkshopHandler{
		sessions: sessions,
		workshop: ws,
		logger:   logger.With(zap.String("handler", "workshop")),
	}
}

// HandleStart 启动多轮研讨，立即返回。已在运行时返回当前状态。
// @Summary 启动研讨
// @Tags workshop
// @Param id path string true "Session ID"
// @Success 202 {object} Response{data=workshop.RunStatus}
// @Failure 422 {object} Response "参与者不足"
// @Router /api/v1/sessions/{id}/workshop/start [post]
func (h *WorkshopHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	sess, ok := loadSession(w, r, h.sessions, h.logger)
	if !ok {
		return
	}
	status, err := h.workshop.StartWorkshop(r.Context(), sess.ID)
	if err != nil {
		WriteAppError(w, err, h.logger)
		return
	}
	WriteStatus(w, http.StatusAccepted, status)
}

// HandleStop 请求停止；循环在下一轮检查点退出
// @Summary 停止研讨
// @Tags workshop
// @Param id path string true "Session ID"
// @Success 202 {object} Response{data=api.WorkshopStatusResponse}
// @Router /api/v1/sessions/{id}/workshop/stop [post]
func (h *WorkshopHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	sess, ok := loadSession(w, r, h.sessions, h.logger)
	if !ok {
		return
	}
	if err := h.workshop.StopGeneration(r.Context(), sess.ID); err != nil {
		WriteAppError(w, err, h.logger)
		return
	}
	h.writeStatus(w, r, sess.ID, http.StatusAccepted)
}

// HandleStatus 返回会话运行标志与最近一次运行的快照
// @Summary 研讨状态
// @Tags workshop
// @Param id path string true "Session ID"
// @Success 200 {object} Response{data=api.WorkshopStatusResponse}
// @Router /api/v1/sessions/{id}/workshop [get]
func (h *WorkshopHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := loadSession(w, r, h.sessions, h.logger)
	if !ok {
		return
	}
	h.writeStatus(w, r, sess.ID, http.StatusOK)
}

func (h *WorkshopHandler) writeStatus(w http.ResponseWriter, r *http.Request, sessionID string, code int) {
	sess, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		WriteAppError(w, mapStoreError(err, "session"), h.logger)
		return
	}
	WriteStatus(w, code, api.WorkshopStatusResponse{
		SessionID:    sess.ID,
		IsRunning:    sess.IsRunning,
		CurrentRound: sess.CurrentRound,
		MaxRounds:    sess.MaxRounds,
		Run:          h.workshop.Status(sess.ID),
	})
}

// HandleSendMessage 追加用户消息；SINGLE 会话随后异步回复
// @Summary 发送消息
// @Tags workshop
// @Accept json
// @Param id path string true "Session ID"
// @Param request body api.SendMessageRequest true "消息内容"
// @Success 202 {object} Response{data=api.SendMessageResponse}
// @Failure 409 {object} Response "会话正在运行"
// @Failure 422 {object} Response "DUAL 会话或空消息"
// @Router /api/v1/sessions/{id}/messages [post]
func (h *WorkshopHandler) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := loadSession(w, r, h.sessions, h.logger)
	if !ok {
		return
	}

	var req api.SendMessageRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	msg, err := h.workshop.SendUserMessage(r.Context(), sess.ID, strings.TrimSpace(req.Content))
	if err != nil {
		WriteAppError(w, err, h.logger)
		return
	}
	WriteStatus(w, http.StatusAccepted, api.SendMessageResponse{
		Message:  msg,
		Replying: sess.Type == types.SessionSingle,
	})
}

// =============================================================================
// 📚 Model Catalog
// =============================================================================

// ModelHandler 返回可选模型目录
type ModelHandler struct {
	models []api.ModelInfo
}

// NewModelHandler 由配置的模型列表构建目录，defaultModel 标记为默认
func NewModelHandler(models []string, defaultModel string) *ModelHandler {
	out := make([]api.ModelInfo, 0, len(models)+1)
	seen := make(map[string]bool, len(models))
	for _, m := range models {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, api.ModelInfo{ID: m, Default: m == defaultModel})
	}
	if defaultModel != "" && !seen[defaultModel] {
		out = append([]api.ModelInfo{{ID: defaultModel, Default: true}}, out...)
	}
	return &ModelHandler{models: out}
}

// HandleList 返回模型目录
// @Summary 模型目录
// @Tags model
// @Success 200 {object} Response{data=[]api.ModelInfo}
// @Router /api/v1/models [get]
func (h *ModelHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.models)
}
