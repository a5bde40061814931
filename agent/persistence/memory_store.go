package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/nexus/types"
)

// MemorySessionStore 是 SessionStore 的内存实现。
// 适合开发和测试，数据在重启后丢失。
type MemorySessionStore struct {
	sessions map[string]*types.Session
	mu       sync.RWMutex
	closed   bool
}

// NewMemorySessionStore 创建内存会话存储
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*types.Session),
	}
}

// Close 关闭存储
func (s *MemorySessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping 检查存储是否可用
func (s *MemorySessionStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// CreateSession 保存新会话
func (s *MemorySessionStore) CreateSession(ctx context.Context, sess *types.Session) error {
	if sess == nil || sess.ID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, exists := s.sessions[sess.ID]; exists {
		return ErrAlreadyExists
	}

	stored := sess.Clone()
	if stored.Messages == nil {
		stored.Messages = []types.Message{}
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	stored.UpdatedAt = stored.CreatedAt
	s.sessions[sess.ID] = stored
	return nil
}

// GetSession 读取会话的最新值
func (s *MemorySessionStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

// ListSessions 列出调用方的会话，最新的在前
func (s *MemorySessionStore) ListSessions(ctx context.Context, userID string) ([]*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	result := make([]*types.Session, 0)
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			result = append(result, sess.Clone())
		}
	}
	sortSessionsNewestFirst(result)
	return result, nil
}

// DeleteSession 删除会话
func (s *MemorySessionStore) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

// AppendMessage 追加一条消息
func (s *MemorySessionStore) AppendMessage(ctx context.Context, sessionID string, msg types.Message) error {
	_, err := s.UpdateSession(ctx, sessionID, appendFunc(msg))
	return err
}

// PatchSession 对最新值应用部分更新
func (s *MemorySessionStore) PatchSession(ctx context.Context, id string, patch SessionPatch) (*types.Session, error) {
	return s.UpdateSession(ctx, id, patchFunc(patch))
}

// UpdateSession 在写锁内执行读-改-写
func (s *MemorySessionStore) UpdateSession(ctx context.Context, id string, fn UpdateFunc) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	current, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}

	next, _, err := applyUpdate(current, fn)
	if err != nil {
		if skipped(err) {
			return current.Clone(), nil
		}
		return nil, err
	}
	s.sessions[id] = next
	return next.Clone(), nil
}

// ListMessages 返回会话消息日志
func (s *MemorySessionStore) ListMessages(ctx context.Context, sessionID string) ([]types.Message, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Messages, nil
}

func sortSessionsNewestFirst(list []*types.Session) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}

// =============================================================================
// Agent
// =============================================================================

// MemoryAgentStore 是 AgentStore 的内存实现
type MemoryAgentStore struct {
	agents map[string]*types.Agent
	order  []string
	mu     sync.RWMutex
	closed bool
}

// NewMemoryAgentStore 创建内存 Agent 存储
func NewMemoryAgentStore() *MemoryAgentStore {
	return &MemoryAgentStore{
		agents: make(map[string]*types.Agent),
	}
}

// Close 关闭存储
func (s *MemoryAgentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping 检查存储是否可用
func (s *MemoryAgentStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// CreateAgent 保存新 Agent
func (s *MemoryAgentStore) CreateAgent(ctx context.Context, a *types.Agent) error {
	if a == nil || a.ID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, exists := s.agents[a.ID]; exists {
		return ErrAlreadyExists
	}

	stored := *a
	now := time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.agents[a.ID] = &stored
	s.order = append(s.order, a.ID)
	*a = stored
	return nil
}

// GetAgent 读取 Agent
func (s *MemoryAgentStore) GetAgent(ctx context.Context, id string) (*types.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	a, ok := s.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *a
	return &out, nil
}

// ListAgents 按创建顺序列出调用方的 Agent
func (s *MemoryAgentStore) ListAgents(ctx context.Context, userID string) ([]*types.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	result := make([]*types.Agent, 0)
	for _, id := range s.order {
		if a := s.agents[id]; a.UserID == userID {
			out := *a
			result = append(result, &out)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// UpdateAgent 覆盖已有 Agent
func (s *MemoryAgentStore) UpdateAgent(ctx context.Context, a *types.Agent) error {
	if a == nil || a.ID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	existing, ok := s.agents[a.ID]
	if !ok {
		return ErrNotFound
	}
	stored := *a
	stored.UserID = existing.UserID
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = time.Now()
	s.agents[a.ID] = &stored
	*a = stored
	return nil
}

// DeleteAgent 删除 Agent
func (s *MemoryAgentStore) DeleteAgent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.agents[id]; !ok {
		return ErrNotFound
	}
	delete(s.agents, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}
