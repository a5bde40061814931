package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/nexus/types"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrStoreClosed   = errors.New("store is closed")
	ErrInvalidInput  = errors.New("invalid input")
	// ErrConflict 乐观事务在重试次数内仍未成功提交
	ErrConflict = errors.New("write conflict")
	// ErrNotAppendOnly 更新尝试修改或删除已存在的消息
	ErrNotAppendOnly = errors.New("messages are append-only")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypeRedis    StoreType = "redis"
	StoreTypeDatabase StoreType = "database"
)

// StoreConfig is the base configuration for all store implementations
type StoreConfig struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type"`

	// KeyPrefix is the prefix for all Redis keys
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`

	// MaxRetries bounds optimistic read-modify-write retries (redis)
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:       StoreTypeMemory,
		KeyPrefix:  "nexus:",
		MaxRetries: 16,
	}
}

// Store is the base interface for all persistent stores
type Store interface {
	// Close closes the store and releases resources
	Close() error

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error
}

// =============================================================================
// Session Store
// =============================================================================

// UpdateFunc mutates the freshest stored session in place.
// Returning ErrSkipUpdate leaves the stored value untouched without error.
type UpdateFunc func(s *types.Session) error

// ErrSkipUpdate aborts an UpdateSession call without writing.
var ErrSkipUpdate = errors.New("skip update")

// SessionStore 会话聚合仓储。
//
// 所有读操作返回深拷贝；UpdateSession / PatchSession / AppendMessage 针对
// 最新存储值做原子读-改-写，并发调用不会互相覆盖。
type SessionStore interface {
	Store

	// CreateSession persists a new session. ErrAlreadyExists on id clash.
	CreateSession(ctx context.Context, s *types.Session) error

	// GetSession returns the current stored session or ErrNotFound.
	GetSession(ctx context.Context, id string) (*types.Session, error)

	// ListSessions returns the caller's sessions, newest first.
	ListSessions(ctx context.Context, userID string) ([]*types.Session, error)

	// DeleteSession removes the session and its messages.
	DeleteSession(ctx context.Context, id string) error

	// AppendMessage appends msg to the session log.
	AppendMessage(ctx context.Context, sessionID string, msg types.Message) error

	// PatchSession applies the non-nil fields of patch to the latest value.
	PatchSession(ctx context.Context, id string, patch SessionPatch) (*types.Session, error)

	// UpdateSession runs fn against the latest value and stores the result
	// atomically. Messages may only be appended.
	UpdateSession(ctx context.Context, id string, fn UpdateFunc) (*types.Session, error)

	// ListMessages returns the session log in append order.
	ListMessages(ctx context.Context, sessionID string) ([]types.Message, error)
}

// SessionPatch 部分字段更新，nil 表示不修改
type SessionPatch struct {
	Title                *string
	DualMode             *types.DualMode
	AgentIDs             []string
	MaxRounds            *int
	CurrentRound         *int
	IsRunning            *bool
	RunID                *string
	BackgroundContext    *string
	AgentSpecificPrompts map[string]string
	FirstSpeakerID       *string
}

// Apply writes the set fields onto s.
func (p SessionPatch) Apply(s *types.Session) {
	if p.Title != nil {
		s.Title = *p.Title
	}
	if p.DualMode != nil {
		s.DualMode = *p.DualMode
	}
	if p.AgentIDs != nil {
		s.AgentIDs = append([]string(nil), p.AgentIDs...)
	}
	if p.MaxRounds != nil {
		s.MaxRounds = *p.MaxRounds
	}
	if p.CurrentRound != nil {
		s.CurrentRound = *p.CurrentRound
	}
	if p.IsRunning != nil {
		s.IsRunning = *p.IsRunning
	}
	if p.RunID != nil {
		s.RunID = *p.RunID
	}
	if p.BackgroundContext != nil {
		s.BackgroundContext = *p.BackgroundContext
	}
	if p.AgentSpecificPrompts != nil {
		s.AgentSpecificPrompts = make(map[string]string, len(p.AgentSpecificPrompts))
		for k, v := range p.AgentSpecificPrompts {
			s.AgentSpecificPrompts[k] = v
		}
	}
	if p.FirstSpeakerID != nil {
		s.FirstSpeakerID = *p.FirstSpeakerID
	}
	// 下调轮数上限时保持 CurrentRound <= MaxRounds
	if s.CurrentRound > s.MaxRounds {
		s.CurrentRound = s.MaxRounds
	}
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T {
	return &v
}

// =============================================================================
// Agent Store
// =============================================================================

// AgentStore Agent 仓储
type AgentStore interface {
	Store

	CreateAgent(ctx context.Context, a *types.Agent) error
	GetAgent(ctx context.Context, id string) (*types.Agent, error)
	// ListAgents returns the caller's agents in creation order.
	ListAgents(ctx context.Context, userID string) ([]*types.Agent, error)
	UpdateAgent(ctx context.Context, a *types.Agent) error
	DeleteAgent(ctx context.Context, id string) error
}

// =============================================================================
// 共享辅助
// =============================================================================

// applyUpdate runs fn on a copy of current and checks the append-only rule.
// It returns the updated copy and the messages added by fn.
func applyUpdate(current *types.Session, fn UpdateFunc) (*types.Session, []types.Message, error) {
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, nil, err
	}
	next.ID = current.ID
	next.UserID = current.UserID
	next.CreatedAt = current.CreatedAt

	added, err := appendedMessages(current.Messages, next.Messages)
	if err != nil {
		return nil, nil, err
	}
	for i := range added {
		if added[i].SessionID == "" {
			added[i].SessionID = current.ID
		}
		if added[i].CreatedAt.IsZero() {
			added[i].CreatedAt = time.Now()
		}
		if err := validateNewMessage(added[i]); err != nil {
			return nil, nil, err
		}
		next.Messages[len(current.Messages)+i] = added[i]
	}
	next.UpdatedAt = time.Now()
	return next, added, nil
}

// appendedMessages returns the tail of after beyond before, verifying the
// shared prefix is untouched.
func appendedMessages(before, after []types.Message) ([]types.Message, error) {
	if len(after) < len(before) {
		return nil, ErrNotAppendOnly
	}
	for i := range before {
		if before[i].ID != after[i].ID || before[i].Content != after[i].Content {
			return nil, fmt.Errorf("%w: message %d changed", ErrNotAppendOnly, i)
		}
	}
	tail := after[len(before):]
	if len(tail) == 0 {
		return nil, nil
	}
	out := make([]types.Message, len(tail))
	copy(out, tail)
	return out, nil
}

func skipped(err error) bool {
	return errors.Is(err, ErrSkipUpdate)
}

func validateNewMessage(msg types.Message) error {
	if msg.ID == "" {
		return fmt.Errorf("%w: message id is required", ErrInvalidInput)
	}
	switch msg.Role {
	case types.RoleUser, types.RoleModel, types.RoleSystem:
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, msg.Role)
	}
	return nil
}

func appendFunc(msg types.Message) UpdateFunc {
	return func(s *types.Session) error {
		s.Messages = append(s.Messages, msg)
		return nil
	}
}

func patchFunc(patch SessionPatch) UpdateFunc {
	return func(s *types.Session) error {
		patch.Apply(s)
		return nil
	}
}
