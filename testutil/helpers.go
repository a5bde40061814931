// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 等待异步研讨结束，提取消息作者序列
//
// 使用方法:
//
//	final := testutil.WaitForIdle(t, store, "s1", 2*time.Second)
//	assert.Equal(t, []string{"a", "b"}, testutil.ModelAuthors(final.Messages))
// =============================================================================
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/nexus/agent/persistence"
	"github.com/BaSui01/nexus/types"
)

// =============================================================================
// 💬 会话辅助
// =============================================================================

// WaitForIdle 等待会话的运行标志被清除，返回最终会话
func WaitForIdle(t *testing.T, store persistence.SessionStore, sessionID string, timeout time.Duration) *types.Session {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		sess, err := store.GetSession(context.Background(), sessionID)
		if err != nil {
			t.Fatalf("get session %s: %v", sessionID, err)
		}
		if !sess.IsRunning {
			return sess
		}
		if time.Now().After(deadline) {
			t.Fatalf("session %s still running after %v", sessionID, timeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ModelAuthors 返回模型消息的作者 ID 序列
func ModelAuthors(msgs []types.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == types.RoleModel {
			out = append(out, m.AgentID)
		}
	}
	return out
}

// =============================================================================
// ⏱️ 时间辅助
// =============================================================================

// WaitForChannel 等待通道接收值或超时
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	select {
	case v := <-ch:
		return v, true
	case <-time.After(timeout):
		var zero T
		return zero, false
	}
}
