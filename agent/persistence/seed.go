package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/nexus/types"
)

// DefaultAgents 返回新用户的三位默认人格
func DefaultAgents(userID string) []*types.Agent {
	return []*types.Agent{
		{
			UserID:          userID,
			Name:            "Aristotle",
			Avatar:          "🏛️",
			Persona:         "You are Aristotle. You value logic, virtue ethics and empirical observation. Converse with wisdom and structured argument.",
			Model:           "gemini-3-pro-preview",
			Temperature:     0.7,
			MaxOutputTokens: 800,
			Color:           "blue",
		},
		{
			UserID:          userID,
			Name:            "Cyberpunk V",
			Avatar:          "🦾",
			Persona:         "You are V from Night City. You talk in street slang, quick-witted, a little cynical but determined. You care about tech and survival.",
			Model:           "gemini-3-flash-preview",
			Temperature:     0.9,
			MaxOutputTokens: 400,
			Color:           "yellow",
		},
		{
			UserID:          userID,
			Name:            "Dr. Ella",
			Avatar:          "🧬",
			Persona:         "You are a brilliant quantum physicist. You like explaining things through intricate scientific metaphors and you focus on objective truth.",
			Model:           "gemini-3-pro-preview",
			Temperature:     0.4,
			MaxOutputTokens: 1000,
			Color:           "emerald",
		},
	}
}

// SeedDefaultAgents 在调用方没有任何 Agent 时写入默认人格，返回调用方当前的 Agent 列表
func SeedDefaultAgents(ctx context.Context, store AgentStore, userID string) ([]*types.Agent, error) {
	existing, err := store.ListAgents(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	base := time.Now()
	for i, a := range DefaultAgents(userID) {
		a.ID = uuid.NewString()
		// 保证创建顺序稳定
		a.CreatedAt = base.Add(time.Duration(i) * time.Millisecond)
		if err := store.CreateAgent(ctx, a); err != nil {
			return nil, fmt.Errorf("seed agent %q: %w", a.Name, err)
		}
	}
	return store.ListAgents(ctx, userID)
}
