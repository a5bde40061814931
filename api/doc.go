// Package api 定义 Nexus HTTP API 的请求/响应 DTO。
//
// # API Overview
//
// Nexus 提供以下 RESTful 端点（均以 /api/v1 为前缀）：
//   - /sessions：会话 CRUD、参与者切换、消息追加与列表
//   - /sessions/{id}/workshop：多轮研讨的启动、停止与状态
//   - /sessions/{id}/events：WebSocket 会话事件流
//   - /agents：Agent 人格管理
//   - /models：可选模型目录
//
// 另有 /health、/ready、/version 探针，/metrics 由独立端口提供。
//
// # Caller Identity
//
// 调用方身份取自 X-User-ID 请求头，缺省时使用单一默认身份：
//
//	X-User-ID: test-user-123
//
// # Generating Documentation
//
//	swag init -g cmd/nexus/main.go -o api --parseDependency --parseInternal
package api
