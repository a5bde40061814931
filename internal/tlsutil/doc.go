// Package tlsutil 集中提供出站连接的 TLS 设置（TLS 1.2+，仅 AEAD 密码套件），
// 供 Gemini 客户端、Redis 连接和 health 子命令使用。
package tlsutil
