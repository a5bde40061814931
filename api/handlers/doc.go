// Copyright (c) Nexus Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 Nexus HTTP API 的请求处理器实现。

# 概述

handlers 包实现会话、Agent、研讨编排与健康检查端点，
以及统一的响应/错误处理。所有 Handler 均遵循标准 net/http 接口，
路由使用 Go 1.22 的方法+路径模式注册，通过 Swagger 注解生成 API 文档。

# 核心类型

  - SessionHandler：会话 CRUD、参与者切换、消息列表
  - AgentHandler：Agent 人格 CRUD，名册为空时写入默认人格
  - WorkshopHandler：启动/停止研讨、发送用户消息、运行状态
  - EventsHandler：WebSocket 会话事件流（快照 + 增量）
  - ModelHandler：可选模型目录
  - HealthHandler：服务健康检查（/health, /ready, /version）
  - Response：统一 JSON 响应结构（success + data + error + timestamp）

# 错误映射

存储层哨兵错误经 mapStoreError 转换为 *types.Error，
再由 WriteAppError 按 ErrorCode 映射为 HTTP 状态码：
参与者不足等前置条件为 422，会话运行中为 409。

# 调用方身份

处理器通过 CallerID 读取中间件写入 context 的用户 ID；
其他调用方的会话与 Agent 一律视为不存在（404）。
*/
package handlers
