package types

import (
	"slices"
	"time"
)

// SessionType 会话模式
type SessionType string

const (
	SessionSingle SessionType = "SINGLE"
	SessionDual   SessionType = "DUAL"
	SessionMulti  SessionType = "MULTI"
)

// Valid reports whether t is a known mode.
func (t SessionType) Valid() bool {
	switch t {
	case SessionSingle, SessionDual, SessionMulti:
		return true
	}
	return false
}

// DualMode DUAL 会话的子模式
type DualMode string

const (
	DualDebate   DualMode = "DEBATE"
	DualRoleplay DualMode = "ROLEPLAY"
)

// Valid reports whether m is empty or a known sub-mode.
func (m DualMode) Valid() bool {
	switch m {
	case "", DualDebate, DualRoleplay:
		return true
	}
	return false
}

// 会话默认值
const (
	DefaultSingleMaxRounds = 1
	DefaultGroupMaxRounds  = 12

	DefaultMultiBackground = "Exploring the ethical challenges of today's artificial intelligence"
	DefaultDualBackground  = "Can human consciousness be replaced by digital immortality?"
)

// Session 会话聚合。
// IsRunning 是唯一的取消信号，RunID 标识当前持有运行标志的那次运行。
type Session struct {
	ID                   string            `json:"id"`
	UserID               string            `json:"user_id"`
	Title                string            `json:"title"`
	Type                 SessionType       `json:"type"`
	DualMode             DualMode          `json:"dual_mode,omitempty"`
	AgentIDs             []string          `json:"agent_ids"`
	Messages             []Message         `json:"messages"`
	MaxRounds            int               `json:"max_rounds"`
	CurrentRound         int               `json:"current_round"`
	IsRunning            bool              `json:"is_running"`
	RunID                string            `json:"run_id,omitempty"`
	BackgroundContext    string            `json:"background_context"`
	AgentSpecificPrompts map[string]string `json:"agent_specific_prompts,omitempty"`
	FirstSpeakerID       string            `json:"first_speaker_id,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// NewSession builds a session with the defaults applied at topic creation.
// roster is the caller's agent list in display order; it must not be empty.
func NewSession(id, userID string, typ SessionType, roster []string, now time.Time) (*Session, error) {
	if len(roster) == 0 {
		return nil, NewPreconditionError("create at least one agent before starting a topic")
	}
	if !typ.Valid() {
		return nil, NewInvalidRequestError("unknown session type: " + string(typ))
	}

	s := &Session{
		ID:                   id,
		UserID:               userID,
		Title:                "New topic " + now.Format("15:04"),
		Type:                 typ,
		DualMode:             DualDebate,
		Messages:             []Message{},
		AgentSpecificPrompts: map[string]string{},
		FirstSpeakerID:       roster[0],
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	switch typ {
	case SessionSingle:
		s.AgentIDs = []string{roster[0]}
		s.MaxRounds = DefaultSingleMaxRounds
	case SessionDual:
		s.AgentIDs = append([]string(nil), roster[:min(2, len(roster))]...)
		s.MaxRounds = DefaultGroupMaxRounds
		s.BackgroundContext = DefaultDualBackground
	case SessionMulti:
		s.AgentIDs = append([]string(nil), roster[:min(2, len(roster))]...)
		s.MaxRounds = DefaultGroupMaxRounds
		s.BackgroundContext = DefaultMultiBackground
	}
	return s, nil
}

// Clone returns a deep copy so callers can mutate without aliasing store state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.AgentIDs = append([]string(nil), s.AgentIDs...)
	out.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		out.Messages[i] = m.Clone()
	}
	if s.AgentSpecificPrompts != nil {
		out.AgentSpecificPrompts = make(map[string]string, len(s.AgentSpecificPrompts))
		for k, v := range s.AgentSpecificPrompts {
			out.AgentSpecificPrompts[k] = v
		}
	}
	return &out
}

// LastMessage returns the newest message, if any.
func (s *Session) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// HasParticipant reports whether agentID takes part in the session.
func (s *Session) HasParticipant(agentID string) bool {
	return slices.Contains(s.AgentIDs, agentID)
}

// Validate 校验会话不变量
func (s *Session) Validate() error {
	if !s.Type.Valid() {
		return NewInvalidRequestError("unknown session type: " + string(s.Type))
	}
	if !s.DualMode.Valid() {
		return NewInvalidRequestError("unknown dual mode: " + string(s.DualMode))
	}
	if len(s.AgentIDs) == 0 {
		return NewInvalidRequestError("a session needs at least one participant")
	}
	if s.Type == SessionDual && len(s.AgentIDs) > 2 {
		return NewInvalidRequestError("a dual session takes at most two participants")
	}
	seen := make(map[string]struct{}, len(s.AgentIDs))
	for _, id := range s.AgentIDs {
		if _, dup := seen[id]; dup {
			return NewInvalidRequestError("duplicate participant: " + id)
		}
		seen[id] = struct{}{}
	}
	if s.MaxRounds < 0 {
		return NewInvalidRequestError("max_rounds must not be negative")
	}
	if s.CurrentRound < 0 || s.CurrentRound > s.MaxRounds {
		return NewInvalidRequestError("current_round out of range")
	}
	return nil
}

// ToggleParticipant 返回切换 agentID 后的新参与者列表，不修改入参。
//
//   - SINGLE：直接替换为 [agentID]
//   - 已存在：移除，但至少保留一位
//   - DUAL 且已满两位：替换第二位
//   - 其余情况：追加到末尾
func ToggleParticipant(typ SessionType, current []string, agentID string) []string {
	if typ == SessionSingle {
		return []string{agentID}
	}
	if slices.Contains(current, agentID) {
		if len(current) <= 1 {
			return append([]string(nil), current...)
		}
		out := make([]string, 0, len(current)-1)
		for _, id := range current {
			if id != agentID {
				out = append(out, id)
			}
		}
		return out
	}
	if typ == SessionDual && len(current) >= 2 {
		return []string{current[0], agentID}
	}
	out := append([]string(nil), current...)
	return append(out, agentID)
}
