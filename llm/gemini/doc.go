// Package gemini 基于 google.golang.org/genai 实现 llm.CompletionProvider。
//
// 会话历史按角色映射为 user/model 轮次，Agent persona 与本轮指令合并为
// system instruction；思考预算取输出上限的固定比例并设绝对上限。
package gemini
