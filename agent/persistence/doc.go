// Copyright (c) Nexus Authors.
// Licensed under the MIT License.

/*
包 persistence 提供会话与智能体人格的持久化存储抽象及多后端实现。

# 概述

会话（Session）是编排引擎唯一的共享状态：消息日志、运行标志、当前轮次都
保存在这里。本包保证针对同一会话的并发写入不会互相覆盖，读操作总是
看到最新的存储值，这是轮询式取消能够成立的前提。

# 核心接口

  - Store: 所有存储的基础接口，提供 Close 和 Ping 健康检查。
  - SessionStore: 会话聚合仓储，支持创建、查询、列表、删除，
    以及基于最新值的原子读-改-写（UpdateSession / PatchSession / AppendMessage）。
  - AgentStore: 智能体人格仓储，按创建顺序列出调用方的 Agent。

# 不变量

  - 消息日志只追加。UpdateFunc 修改或删除已有消息会返回 ErrNotAppendOnly。
  - UpdateFunc 返回 ErrSkipUpdate 时不写入，调用返回当前值。
  - 所有读取返回深拷贝，调用方修改不影响存储。

# 后端实现

  - Memory: 互斥锁保护的内存实现，适合开发与测试。
  - Redis: 会话头部 JSON + 消息 List + 用户 Sorted Set 索引，
    读-改-写使用 WATCH/MULTI 乐观事务，冲突时按 MaxRetries 重试。
  - Database: 基于 GORM，支持 PostgreSQL / MySQL / SQLite，
    读-改-写在事务内以行锁完成，消息按 (session_id, seq) 唯一索引追加。

# 事件

ObservedSessionStore 包装任意 SessionStore，把每次成功的写入发布到
EventHub，供 WebSocket 推送使用。慢订阅者的事件会被丢弃。

# 使用方式

	store, err := persistence.NewSessionStore(cfg, persistence.Backends{
		Redis:  redisClient,
		Pool:   pool,
		Logger: logger,
	})

共享的 Redis 客户端与数据库连接池由调用方创建和关闭，各 Store 的 Close
不会关闭它们。
*/
package persistence
