// Package config 提供 Nexus 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → NEXUS_* 环境变量 的顺序叠加，
// 覆盖服务器、研讨循环、会话存储、Redis、数据库、LLM、日志与遥测。
package config
