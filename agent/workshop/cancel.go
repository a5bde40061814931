package workshop

import (
	"context"
	"errors"

	"github.com/BaSui01/nexus/agent/persistence"
)

// CancellationToken 轮询式取消信号，编排循环每轮开始时查询一次
type CancellationToken interface {
	// IsCancelled reports whether the run identified by runID should stop.
	IsCancelled(ctx context.Context, sessionID, runID string) (bool, error)
}

// CancellationFunc adapts a function to CancellationToken.
type CancellationFunc func(ctx context.Context, sessionID, runID string) (bool, error)

// IsCancelled calls f.
func (f CancellationFunc) IsCancelled(ctx context.Context, sessionID, runID string) (bool, error) {
	return f(ctx, sessionID, runID)
}

// StoreCancellationToken 每次都从会话存储读取最新值。
// 会话不存在、运行标志为 false 或运行标志已被其他运行持有，均视为已取消。
type StoreCancellationToken struct {
	store persistence.SessionStore
}

// NewStoreCancellationToken 创建基于会话存储的取消信号
func NewStoreCancellationToken(store persistence.SessionStore) *StoreCancellationToken {
	return &StoreCancellationToken{store: store}
}

// IsCancelled 查询最新会话状态
func (t *StoreCancellationToken) IsCancelled(ctx context.Context, sessionID, runID string) (bool, error) {
	sess, err := t.store.GetSession(ctx, sessionID)
	if errors.Is(err, persistence.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return !sess.IsRunning || (runID != "" && sess.RunID != runID), nil
}
