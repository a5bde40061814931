package types

import (
	"encoding/json"
	"time"
)

// Role represents the role of a message participant.
type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleSystem Role = "system"
)

// Message 是会话日志中的一条消息，创建后不可修改。
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	AgentID   string    `json:"agent_id,omitempty"`
	AgentName string    `json:"agent_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// MemoriesUsed 记录生成时引用的历史消息 ID
	MemoriesUsed []string `json:"memories_used,omitempty"`

	// 诊断载荷，按 provider 原样记录
	RawRequest  json.RawMessage `json:"raw_request,omitempty"`
	RawResponse json.RawMessage `json:"raw_response,omitempty"`
}

// NewUserMessage creates a user message stamped with the current time.
func NewUserMessage(id, sessionID, content string) Message {
	return Message{
		ID:        id,
		SessionID: sessionID,
		Role:      RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewModelMessage creates a model message authored by the given agent.
func NewModelMessage(id, sessionID string, agent Agent, content string) Message {
	return Message{
		ID:        id,
		SessionID: sessionID,
		Role:      RoleModel,
		Content:   content,
		AgentID:   agent.ID,
		AgentName: agent.Name,
		CreatedAt: time.Now(),
	}
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	if m.MemoriesUsed != nil {
		out.MemoriesUsed = append([]string(nil), m.MemoriesUsed...)
	}
	if m.RawRequest != nil {
		out.RawRequest = append(json.RawMessage(nil), m.RawRequest...)
	}
	if m.RawResponse != nil {
		out.RawResponse = append(json.RawMessage(nil), m.RawResponse...)
	}
	return out
}

// RecentMessageIDs returns the ids of the last n messages, oldest first.
func RecentMessageIDs(history []Message, n int) []string {
	if n <= 0 || len(history) == 0 {
		return nil
	}
	start := len(history) - n
	if start < 0 {
		start = 0
	}
	ids := make([]string, 0, len(history)-start)
	for _, m := range history[start:] {
		ids = append(ids, m.ID)
	}
	return ids
}
