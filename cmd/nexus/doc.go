// Copyright (c) Nexus Authors.
// Licensed under the MIT License.

/*
Package main 提供 Nexus 服务端程序入口。

# 概述

cmd/nexus 装配会话存储、研讨编排器与 HTTP/WebSocket 接口，
并提供数据库迁移、健康检查和版本查询等子命令。

# 核心类型

  - Server：初始化存储后端、Gemini provider 与编排器，管理 API 与 Metrics 双端口
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler
  - statusRecorder：捕获状态码与字节数，透传 Flush/Hijack 以支持 WebSocket 升级

# 主要能力

  - 子命令：serve、migrate、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    MetricsMiddleware、OTelTracing、CORS、RateLimiter（基于 IP）、CallerIdentity（X-User-ID）
  - 存储后端：memory、redis、database（postgres / mysql / sqlite）
  - 优雅关闭：信号 → 关闭 HTTP → 停止研讨循环 → 关闭存储 → 刷新遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
