package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/nexus/types"
)

// RedisSessionStore is a Redis-based implementation of SessionStore.
// Suitable for distributed production deployments.
//
// 会话头部存为 JSON 字符串，消息日志存为 List（RPUSH 追加），
// 用户索引存为按创建时间排序的 Sorted Set。
// 读-改-写通过 WATCH/MULTI 乐观事务实现，冲突时有限次重试。
type RedisSessionStore struct {
	client     redis.UniversalClient
	keyPrefix  string
	maxRetries int
	logger     *zap.Logger
}

// redisReader is the read subset shared by clients and transactions.
type redisReader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

// NewRedisSessionStore creates a session store over an existing client.
// The client is owned by the caller; Close does not close it.
func NewRedisSessionStore(client redis.UniversalClient, config StoreConfig, logger *zap.Logger) *RedisSessionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "nexus:"
	}
	maxRetries := config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultStoreConfig().MaxRetries
	}
	return &RedisSessionStore{
		client:     client,
		keyPrefix:  keyPrefix,
		maxRetries: maxRetries,
		logger:     logger.With(zap.String("component", "redis_session_store")),
	}
}

// Close is a no-op; the shared client is closed by its owner.
func (s *RedisSessionStore) Close() error {
	return nil
}

// Ping checks if the store is healthy
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisSessionStore) sessionKey(id string) string {
	return s.keyPrefix + "session:" + id
}

func (s *RedisSessionStore) messagesKey(id string) string {
	return s.keyPrefix + "session:" + id + ":messages"
}

func (s *RedisSessionStore) userIndexKey(userID string) string {
	return s.keyPrefix + "user:" + userID + ":sessions"
}

// CreateSession persists a new session
func (s *RedisSessionStore) CreateSession(ctx context.Context, sess *types.Session) error {
	if sess == nil || sess.ID == "" {
		return ErrInvalidInput
	}

	stored := sess.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	stored.UpdatedAt = stored.CreatedAt

	head, err := encodeSessionHead(stored)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.sessionKey(stored.ID), head, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyExists
	}

	msgs, err := encodeMessages(stored.Messages)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(msgs) > 0 {
			pipe.RPush(ctx, s.messagesKey(stored.ID), msgs...)
		}
		pipe.ZAdd(ctx, s.userIndexKey(stored.UserID), redis.Z{
			Score:  float64(stored.CreatedAt.UnixNano()),
			Member: stored.ID,
		})
		return nil
	})
	return err
}

// GetSession retrieves a session by ID
func (s *RedisSessionStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	return s.load(ctx, s.client, id)
}

func (s *RedisSessionStore) load(ctx context.Context, r redisReader, id string) (*types.Session, error) {
	data, err := r.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var sess types.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	raw, err := r.LRange(ctx, s.messagesKey(id), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	sess.Messages = make([]types.Message, 0, len(raw))
	for _, item := range raw {
		var msg types.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		sess.Messages = append(sess.Messages, msg)
	}
	return &sess, nil
}

// ListSessions lists the caller's sessions, newest first
func (s *RedisSessionStore) ListSessions(ctx context.Context, userID string) ([]*types.Session, error) {
	ids, err := s.client.ZRevRange(ctx, s.userIndexKey(userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	result := make([]*types.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.GetSession(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// 索引残留，跳过
			s.logger.Debug("stale session index entry", zap.String("session_id", id))
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, sess)
	}
	return result, nil
}

// DeleteSession removes the session, its log and its index entry
func (s *RedisSessionStore) DeleteSession(ctx context.Context, id string) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.sessionKey(id), s.messagesKey(id))
		pipe.ZRem(ctx, s.userIndexKey(sess.UserID), id)
		return nil
	})
	return err
}

// AppendMessage appends a message to the session log
func (s *RedisSessionStore) AppendMessage(ctx context.Context, sessionID string, msg types.Message) error {
	_, err := s.UpdateSession(ctx, sessionID, appendFunc(msg))
	return err
}

// PatchSession applies a partial update to the latest value
func (s *RedisSessionStore) PatchSession(ctx context.Context, id string, patch SessionPatch) (*types.Session, error) {
	return s.UpdateSession(ctx, id, patchFunc(patch))
}

// UpdateSession performs an optimistic WATCH/MULTI read-modify-write
func (s *RedisSessionStore) UpdateSession(ctx context.Context, id string, fn UpdateFunc) (*types.Session, error) {
	sk, mk := s.sessionKey(id), s.messagesKey(id)

	var result *types.Session
	txf := func(tx *redis.Tx) error {
		current, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}

		next, added, err := applyUpdate(current, fn)
		if err != nil {
			if skipped(err) {
				result = current
				return nil
			}
			return err
		}

		head, err := encodeSessionHead(next)
		if err != nil {
			return err
		}
		msgs, err := encodeMessages(added)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, sk, head, 0)
			if len(msgs) > 0 {
				pipe.RPush(ctx, mk, msgs...)
			}
			return nil
		})
		if err != nil {
			return err
		}
		result = next
		return nil
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, sk, mk)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("session update conflict, retrying",
				zap.String("session_id", id),
				zap.Int("attempt", attempt+1))
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("%w: session %s", ErrConflict, id)
}

// ListMessages returns the session log in append order
func (s *RedisSessionStore) ListMessages(ctx context.Context, sessionID string) ([]types.Message, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Messages, nil
}

func encodeSessionHead(sess *types.Session) ([]byte, error) {
	head := *sess
	head.Messages = nil
	data, err := json.Marshal(&head)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	return data, nil
}

func encodeMessages(msgs []types.Message) ([]any, error) {
	out := make([]any, 0, len(msgs))
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message: %w", err)
		}
		out = append(out, data)
	}
	return out, nil
}

// =============================================================================
// Agent
// =============================================================================

// RedisAgentStore is a Redis-based implementation of AgentStore.
type RedisAgentStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisAgentStore creates an agent store over an existing client.
func NewRedisAgentStore(client redis.UniversalClient, config StoreConfig) *RedisAgentStore {
	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "nexus:"
	}
	return &RedisAgentStore{client: client, keyPrefix: keyPrefix}
}

// Close is a no-op; the shared client is closed by its owner.
func (s *RedisAgentStore) Close() error {
	return nil
}

// Ping checks if the store is healthy
func (s *RedisAgentStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisAgentStore) agentKey(id string) string {
	return s.keyPrefix + "agent:" + id
}

func (s *RedisAgentStore) userIndexKey(userID string) string {
	return s.keyPrefix + "user:" + userID + ":agents"
}

// CreateAgent persists a new agent
func (s *RedisAgentStore) CreateAgent(ctx context.Context, a *types.Agent) error {
	if a == nil || a.ID == "" {
		return ErrInvalidInput
	}

	stored := *a
	now := time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal agent: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.agentKey(stored.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyExists
	}
	if err := s.client.ZAdd(ctx, s.userIndexKey(stored.UserID), redis.Z{
		Score:  float64(stored.CreatedAt.UnixNano()),
		Member: stored.ID,
	}).Err(); err != nil {
		return err
	}
	*a = stored
	return nil
}

// GetAgent retrieves an agent by ID
func (s *RedisAgentStore) GetAgent(ctx context.Context, id string) (*types.Agent, error) {
	data, err := s.client.Get(ctx, s.agentKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var a types.Agent
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent: %w", err)
	}
	return &a, nil
}

// ListAgents lists the caller's agents in creation order
func (s *RedisAgentStore) ListAgents(ctx context.Context, userID string) ([]*types.Agent, error) {
	ids, err := s.client.ZRange(ctx, s.userIndexKey(userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	result := make([]*types.Agent, 0, len(ids))
	for _, id := range ids {
		a, err := s.GetAgent(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, nil
}

// UpdateAgent overwrites an existing agent
func (s *RedisAgentStore) UpdateAgent(ctx context.Context, a *types.Agent) error {
	if a == nil || a.ID == "" {
		return ErrInvalidInput
	}
	existing, err := s.GetAgent(ctx, a.ID)
	if err != nil {
		return err
	}

	stored := *a
	stored.UserID = existing.UserID
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = time.Now()

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal agent: %w", err)
	}
	ok, err := s.client.SetXX(ctx, s.agentKey(stored.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	*a = stored
	return nil
}

// DeleteAgent removes an agent
func (s *RedisAgentStore) DeleteAgent(ctx context.Context, id string) error {
	a, err := s.GetAgent(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.agentKey(id))
		pipe.ZRem(ctx, s.userIndexKey(a.UserID), id)
		return nil
	})
	return err
}
