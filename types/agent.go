package types

import (
	"strings"
	"time"
)

// DefaultMaxOutputTokens 是 Agent 未设置输出上限时 provider 使用的默认值
const DefaultMaxOutputTokens = 1000

// Agent 是一个可配置的 AI 人格。
// 运行期间不可变，只在两次运行之间编辑。
type Agent struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	Name            string    `json:"name"`
	Avatar          string    `json:"avatar"`
	Persona         string    `json:"persona"`
	Model           string    `json:"model"`
	Temperature     float64   `json:"temperature"`
	MaxOutputTokens int       `json:"max_output_tokens,omitempty"`
	Color           string    `json:"color,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// OutputCap returns the effective output-length cap.
func (a Agent) OutputCap() int {
	if a.MaxOutputTokens <= 0 {
		return DefaultMaxOutputTokens
	}
	return a.MaxOutputTokens
}

// Validate checks the fields a provider call depends on.
func (a Agent) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return NewInvalidRequestError("agent name is required")
	}
	if strings.TrimSpace(a.Model) == "" {
		return NewInvalidRequestError("agent model is required")
	}
	if a.Temperature < 0 || a.Temperature > 1 {
		return NewInvalidRequestError("agent temperature must be within [0, 1]")
	}
	if a.MaxOutputTokens < 0 {
		return NewInvalidRequestError("agent max_output_tokens must not be negative")
	}
	return nil
}
