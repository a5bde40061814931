package api

import (
	"time"

	"github.com/BaSui01/nexus/types"
)

// =============================================================================
// 会话
// =============================================================================

// CreateSessionRequest 创建会话请求。
// @Description 会话按模式生成默认标题、参与者与背景
type CreateSessionRequest struct {
	// 会话模式: SINGLE / DUAL / MULTI
	Type types.SessionType `json:"type" example:"MULTI" binding:"required"`
}

// UpdateSessionRequest 会话设置更新，未提供的字段保持不变。
// @Description 会话设置部分更新
type UpdateSessionRequest struct {
	Title     *string         `json:"title,omitempty" example:"Ethics roundtable"`
	DualMode  *types.DualMode `json:"dual_mode,omitempty" example:"DEBATE"`
	MaxRounds *int            `json:"max_rounds,omitempty" example:"12"`
	// 所有参与者共享的背景
	BackgroundContext *string `json:"background_context,omitempty"`
	// Agent ID → 该 Agent 的专属指令（DUAL 角色扮演使用）
	AgentSpecificPrompts map[string]string `json:"agent_specific_prompts,omitempty"`
	FirstSpeakerID       *string           `json:"first_speaker_id,omitempty"`
}

// SessionSummary 会话列表条目
type SessionSummary struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Type         types.SessionType `json:"type"`
	AgentIDs     []string          `json:"agent_ids"`
	IsRunning    bool              `json:"is_running"`
	CurrentRound int               `json:"current_round"`
	MaxRounds    int               `json:"max_rounds"`
	MessageCount int               `json:"message_count"`
	// 最新一条消息的预览
	LastMessage *types.Message `json:"last_message,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// NewSessionSummary builds a list entry from a stored session.
func NewSessionSummary(s *types.Session) SessionSummary {
	sum := SessionSummary{
		ID:           s.ID,
		Title:        s.Title,
		Type:         s.Type,
		AgentIDs:     s.AgentIDs,
		IsRunning:    s.IsRunning,
		CurrentRound: s.CurrentRound,
		MaxRounds:    s.MaxRounds,
		MessageCount: len(s.Messages),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
	if last, ok := s.LastMessage(); ok {
		sum.LastMessage = &last
	}
	return sum
}

// =============================================================================
// 消息与研讨
// =============================================================================

// SendMessageRequest 用户消息
type SendMessageRequest struct {
	Content string `json:"content" example:"What do you think?" binding:"required"`
}

// SendMessageResponse 用户消息已追加；Replying 表示回复正在异步生成
type SendMessageResponse struct {
	Message  *types.Message `json:"message"`
	Replying bool           `json:"replying"`
}

// WorkshopStatusResponse 研讨运行状态
type WorkshopStatusResponse struct {
	SessionID    string `json:"session_id"`
	IsRunning    bool   `json:"is_running"`
	CurrentRound int    `json:"current_round"`
	MaxRounds    int    `json:"max_rounds"`
	// 最近一次运行的快照
	Run any `json:"run"`
}

// =============================================================================
// Agent 与模型
// =============================================================================

// AgentRequest 创建或更新 Agent
type AgentRequest struct {
	Name            string  `json:"name" example:"Aristotle" binding:"required"`
	Avatar          string  `json:"avatar,omitempty"`
	Persona         string  `json:"persona"`
	Model           string  `json:"model" example:"gemini-3-flash-preview"`
	Temperature     float64 `json:"temperature" example:"0.7"`
	MaxOutputTokens int     `json:"max_output_tokens,omitempty" example:"1000"`
	Color           string  `json:"color,omitempty"`
}

// Apply copies the request fields onto a.
func (r AgentRequest) Apply(a *types.Agent) {
	a.Name = r.Name
	a.Avatar = r.Avatar
	a.Persona = r.Persona
	a.Model = r.Model
	a.Temperature = r.Temperature
	a.MaxOutputTokens = r.MaxOutputTokens
	a.Color = r.Color
}

// ModelInfo 可选模型
type ModelInfo struct {
	ID      string `json:"id" example:"gemini-3-flash-preview"`
	Default bool   `json:"default"`
}

// =============================================================================
// 健康检查
// =============================================================================

// HealthStatus 健康检查结果
type HealthStatus struct {
	Status    string                 `json:"status" example:"healthy"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单项依赖检查结果
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}
