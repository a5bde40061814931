package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/nexus/agent/persistence"
	"github.com/BaSui01/nexus/types"
)

// HookedSessionStore 包装真实的 SessionStore，用于在调用之间注入并发修改或故障
type HookedSessionStore struct {
	persistence.SessionStore

	mu        sync.Mutex
	gets      int
	updates   int
	beforeGet func(ctx context.Context, id string, n int)
	failOn    map[int]error
}

// NewHookedSessionStore 包装 inner
func NewHookedSessionStore(inner persistence.SessionStore) *HookedSessionStore {
	return &HookedSessionStore{SessionStore: inner, failOn: make(map[int]error)}
}

// BeforeGet 在第 n 次 GetSession 之前调用 fn（n 从 1 开始）
func (s *HookedSessionStore) BeforeGet(fn func(ctx context.Context, id string, n int)) *HookedSessionStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeGet = fn
	return s
}

// FailUpdateOn 让第 n 次 UpdateSession 返回 err（n 从 1 开始）
func (s *HookedSessionStore) FailUpdateOn(n int, err error) *HookedSessionStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn[n] = err
	return s
}

// GetSession 计数并执行钩子
func (s *HookedSessionStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	s.mu.Lock()
	s.gets++
	n, hook := s.gets, s.beforeGet
	s.mu.Unlock()

	if hook != nil {
		hook(ctx, id, n)
	}
	return s.SessionStore.GetSession(ctx, id)
}

// UpdateSession 计数并按配置注入故障
func (s *HookedSessionStore) UpdateSession(ctx context.Context, id string, fn persistence.UpdateFunc) (*types.Session, error) {
	s.mu.Lock()
	s.updates++
	err := s.failOn[s.updates]
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return s.SessionStore.UpdateSession(ctx, id, fn)
}

// PatchSession 走 UpdateSession 以便被计数
func (s *HookedSessionStore) PatchSession(ctx context.Context, id string, patch persistence.SessionPatch) (*types.Session, error) {
	return s.UpdateSession(ctx, id, func(sess *types.Session) error {
		patch.Apply(sess)
		return nil
	})
}

// AppendMessage 走 UpdateSession 以便被计数
func (s *HookedSessionStore) AppendMessage(ctx context.Context, id string, msg types.Message) error {
	_, err := s.UpdateSession(ctx, id, func(sess *types.Session) error {
		sess.Messages = append(sess.Messages, msg)
		return nil
	})
	return err
}

// Gets 返回 GetSession 调用次数
func (s *HookedSessionStore) Gets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}
