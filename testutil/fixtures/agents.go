// =============================================================================
// 📦 测试数据工厂 - Agent 与会话
// =============================================================================
// 提供预定义的人格与会话，用于编排与 API 测试
// =============================================================================
package fixtures

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BaSui01/nexus/agent/persistence"
	"github.com/BaSui01/nexus/types"
)

// TestUserID 测试使用的调用方身份
const TestUserID = "fixture-user"

// =============================================================================
// 🤖 Agent 工厂
// =============================================================================

// Agent 返回一个可直接写入存储的 Agent
func Agent(id, name string) *types.Agent {
	return &types.Agent{
		ID:              id,
		UserID:          TestUserID,
		Name:            name,
		Avatar:          "🤖",
		Persona:         fmt.Sprintf("You are %s.", name),
		Model:           "gemini-3-flash-preview",
		Temperature:     0.7,
		MaxOutputTokens: 400,
		Color:           "blue",
	}
}

// Agents 返回 n 个编号为 agent-1..agent-n 的 Agent，创建时间递增
func Agents(n int) []*types.Agent {
	base := time.Now().Add(-time.Hour)
	out := make([]*types.Agent, 0, n)
	for i := 1; i <= n; i++ {
		a := Agent(fmt.Sprintf("agent-%d", i), fmt.Sprintf("Agent %d", i))
		a.CreatedAt = base.Add(time.Duration(i) * time.Second)
		out = append(out, a)
	}
	return out
}

// =============================================================================
// 💬 会话工厂
// =============================================================================

// Session 返回指定模式与参与者的会话
func Session(id string, typ types.SessionType, agentIDs ...string) *types.Session {
	s := &types.Session{
		ID:                   id,
		UserID:               TestUserID,
		Title:                "fixture " + id,
		Type:                 typ,
		AgentIDs:             agentIDs,
		Messages:             []types.Message{},
		MaxRounds:            types.DefaultGroupMaxRounds,
		BackgroundContext:    "fixture topic",
		AgentSpecificPrompts: map[string]string{},
		CreatedAt:            time.Now(),
	}
	switch typ {
	case types.SessionSingle:
		s.MaxRounds = types.DefaultSingleMaxRounds
	case types.SessionDual:
		s.DualMode = types.DualDebate
	}
	if len(agentIDs) > 0 {
		s.FirstSpeakerID = agentIDs[0]
	}
	return s
}

// Seed 把 Agent 与会话写入存储
func Seed(t testing.TB, sessions persistence.SessionStore, agents persistence.AgentStore, sess *types.Session, roster ...*types.Agent) {
	t.Helper()
	ctx := context.Background()
	for _, a := range roster {
		require.NoError(t, agents.CreateAgent(ctx, a))
	}
	if sess != nil {
		require.NoError(t, sessions.CreateSession(ctx, sess))
	}
}
