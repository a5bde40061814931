package llm

import (
	"context"
	"encoding/json"

	"github.com/BaSui01/nexus/types"
)

// GenerateRequest 一次补全调用的输入
type GenerateRequest struct {
	// Agent 发言的人格，提供 persona、模型、温度与输出上限
	Agent types.Agent

	// History 会话的完整消息日志（按追加顺序）
	History []types.Message

	// SeedText 名义上的最后一句话
	SeedText string

	// Directive 本轮合成的系统指令，与 persona 一起进入 system instruction
	Directive string
}

// GenerateResult 一次补全调用的输出
type GenerateResult struct {
	Content string `json:"content"`

	// ReferencedIDs 由 Provider 声明引用的历史消息；为空时由调用方决定记忆窗口
	ReferencedIDs []string `json:"referenced_ids,omitempty"`

	RawRequest  json.RawMessage `json:"raw_request,omitempty"`
	RawResponse json.RawMessage `json:"raw_response,omitempty"`

	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
}

// CompletionProvider 生成一条 Agent 回复。
// 调用可能阻塞任意时长，失败时返回 *types.Error。
type CompletionProvider interface {
	Name() string
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)
}

// ProviderFunc 把普通函数适配为 CompletionProvider
type ProviderFunc func(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)

// Name 返回固定名称 "func"
func (f ProviderFunc) Name() string { return "func" }

// Generate 调用 f
func (f ProviderFunc) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	return f(ctx, req)
}

// SystemInstruction joins the agent persona and the round directive.
func SystemInstruction(persona, directive string) string {
	return persona + "\n\n" + directive
}
