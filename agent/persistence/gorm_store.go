package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/nexus/internal/database"
	"github.com/BaSui01/nexus/types"
)

// =============================================================================
// 🗄️ 表模型（与 internal/migration 中的 SQL 保持一致）
// =============================================================================

type sessionRecord struct {
	ID                   string            `gorm:"primaryKey;size:64"`
	UserID               string            `gorm:"size:64;index"`
	Title                string            `gorm:"size:255"`
	Type                 string            `gorm:"size:16"`
	DualMode             string            `gorm:"size:16"`
	AgentIDs             []string          `gorm:"serializer:json;type:text"`
	MaxRounds            int
	CurrentRound         int
	IsRunning            bool
	RunID                string            `gorm:"size:64"`
	BackgroundContext    string            `gorm:"type:text"`
	AgentSpecificPrompts map[string]string `gorm:"serializer:json;type:text"`
	FirstSpeakerID       string            `gorm:"size:64"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (sessionRecord) TableName() string { return "sessions" }

type messageRecord struct {
	ID           string   `gorm:"primaryKey;size:64"`
	SessionID    string   `gorm:"size:64;index:idx_messages_session_seq,unique"`
	Seq          int      `gorm:"index:idx_messages_session_seq,unique"`
	Role         string   `gorm:"size:16"`
	Content      string   `gorm:"type:text"`
	AgentID      string   `gorm:"size:64"`
	AgentName    string   `gorm:"size:255"`
	MemoriesUsed []string `gorm:"serializer:json;type:text"`
	RawRequest   string   `gorm:"type:text"`
	RawResponse  string   `gorm:"type:text"`
	CreatedAt    time.Time
}

func (messageRecord) TableName() string { return "messages" }

type agentRecord struct {
	ID              string `gorm:"primaryKey;size:64"`
	UserID          string `gorm:"size:64;index"`
	Name            string `gorm:"size:255"`
	Avatar          string `gorm:"size:64"`
	Persona         string `gorm:"type:text"`
	Model           string `gorm:"size:128"`
	Temperature     float64
	MaxOutputTokens int
	Color           string `gorm:"size:32"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (agentRecord) TableName() string { return "agents" }

// AutoMigrate creates the store tables through GORM.
// Production deployments run the embedded SQL migrations instead.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&sessionRecord{}, &messageRecord{}, &agentRecord{})
}

// =============================================================================
// Session
// =============================================================================

// GormSessionStore 基于 GORM 的 SessionStore 实现（postgres / mysql / sqlite）。
// 读-改-写在事务内完成，支持行锁的方言会使用 SELECT ... FOR UPDATE。
type GormSessionStore struct {
	pool       *database.PoolManager
	maxRetries int
	logger     *zap.Logger
}

// NewGormSessionStore creates a session store on top of the pool manager.
func NewGormSessionStore(pool *database.PoolManager, config StoreConfig, logger *zap.Logger) *GormSessionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxRetries := config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultStoreConfig().MaxRetries
	}
	return &GormSessionStore{
		pool:       pool,
		maxRetries: maxRetries,
		logger:     logger.With(zap.String("component", "gorm_session_store")),
	}
}

// Close is a no-op; the pool is closed by its owner.
func (s *GormSessionStore) Close() error {
	return nil
}

// Ping checks if the store is healthy
func (s *GormSessionStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateSession persists a new session and its initial messages
func (s *GormSessionStore) CreateSession(ctx context.Context, sess *types.Session) error {
	if sess == nil || sess.ID == "" {
		return ErrInvalidInput
	}
	stored := sess.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	stored.UpdatedAt = stored.CreatedAt

	return s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&sessionRecord{}).Where("id = ?", stored.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrAlreadyExists
		}
		rec := toSessionRecord(stored)
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		return insertMessages(tx, stored.ID, 0, stored.Messages)
	})
}

// GetSession retrieves a session with its full log
func (s *GormSessionStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	return loadSession(s.pool.DB().WithContext(ctx), id, false)
}

func loadSession(db *gorm.DB, id string, lock bool) (*types.Session, error) {
	q := db
	// sqlite 没有行锁，事务本身已串行化写入
	if lock && db.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var rec sessionRecord
	if err := q.Where("id = ?", id).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var msgs []messageRecord
	if err := db.Where("session_id = ?", id).Order("seq ASC").Find(&msgs).Error; err != nil {
		return nil, err
	}
	return fromSessionRecord(rec, msgs), nil
}

// ListSessions lists the caller's sessions, newest first
func (s *GormSessionStore) ListSessions(ctx context.Context, userID string) ([]*types.Session, error) {
	db := s.pool.DB().WithContext(ctx)

	var recs []sessionRecord
	if err := db.Where("user_id = ?", userID).Order("created_at DESC").Order("id DESC").Find(&recs).Error; err != nil {
		return nil, err
	}

	result := make([]*types.Session, 0, len(recs))
	for _, rec := range recs {
		var msgs []messageRecord
		if err := db.Where("session_id = ?", rec.ID).Order("seq ASC").Find(&msgs).Error; err != nil {
			return nil, err
		}
		result = append(result, fromSessionRecord(rec, msgs))
	}
	return result, nil
}

// DeleteSession removes a session and its messages
func (s *GormSessionStore) DeleteSession(ctx context.Context, id string) error {
	return s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&sessionRecord{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("session_id = ?", id).Delete(&messageRecord{}).Error
	})
}

// AppendMessage appends a message to the session log
func (s *GormSessionStore) AppendMessage(ctx context.Context, sessionID string, msg types.Message) error {
	_, err := s.UpdateSession(ctx, sessionID, appendFunc(msg))
	return err
}

// PatchSession applies a partial update to the latest value
func (s *GormSessionStore) PatchSession(ctx context.Context, id string, patch SessionPatch) (*types.Session, error) {
	return s.UpdateSession(ctx, id, patchFunc(patch))
}

// UpdateSession performs the read-modify-write inside one transaction
func (s *GormSessionStore) UpdateSession(ctx context.Context, id string, fn UpdateFunc) (*types.Session, error) {
	var result *types.Session
	err := s.pool.WithTransactionRetry(ctx, s.maxRetries, func(tx *gorm.DB) error {
		current, err := loadSession(tx, id, true)
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

		rec := toSessionRecord(next)
		if err := tx.Model(&sessionRecord{}).Where("id = ?", id).Select("*").Omit("id", "user_id", "created_at").Updates(&rec).Error; err != nil {
			return err
		}
		if err := insertMessages(tx, id, len(current.Messages), added); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListMessages returns the session log in append order
func (s *GormSessionStore) ListMessages(ctx context.Context, sessionID string) ([]types.Message, error) {
	db := s.pool.DB().WithContext(ctx)

	var count int64
	if err := db.Model(&sessionRecord{}).Where("id = ?", sessionID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrNotFound
	}

	var msgs []messageRecord
	if err := db.Where("session_id = ?", sessionID).Order("seq ASC").Find(&msgs).Error; err != nil {
		return nil, err
	}
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, fromMessageRecord(m))
	}
	return out, nil
}

func insertMessages(tx *gorm.DB, sessionID string, startSeq int, msgs []types.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	recs := make([]messageRecord, 0, len(msgs))
	for i, m := range msgs {
		if m.SessionID == "" {
			m.SessionID = sessionID
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now()
		}
		recs = append(recs, toMessageRecord(m, startSeq+i))
	}
	if err := tx.Create(&recs).Error; err != nil {
		return fmt.Errorf("failed to insert messages: %w", err)
	}
	return nil
}

func toSessionRecord(s *types.Session) sessionRecord {
	return sessionRecord{
		ID:                   s.ID,
		UserID:               s.UserID,
		Title:                s.Title,
		Type:                 string(s.Type),
		DualMode:             string(s.DualMode),
		AgentIDs:             nonNilSlice(s.AgentIDs),
		MaxRounds:            s.MaxRounds,
		CurrentRound:         s.CurrentRound,
		IsRunning:            s.IsRunning,
		RunID:                s.RunID,
		BackgroundContext:    s.BackgroundContext,
		AgentSpecificPrompts: nonNilMap(s.AgentSpecificPrompts),
		FirstSpeakerID:       s.FirstSpeakerID,
		CreatedAt:            s.CreatedAt,
		UpdatedAt:            s.UpdatedAt,
	}
}

func fromSessionRecord(rec sessionRecord, msgs []messageRecord) *types.Session {
	s := &types.Session{
		ID:                   rec.ID,
		UserID:               rec.UserID,
		Title:                rec.Title,
		Type:                 types.SessionType(rec.Type),
		DualMode:             types.DualMode(rec.DualMode),
		AgentIDs:             rec.AgentIDs,
		Messages:             make([]types.Message, 0, len(msgs)),
		MaxRounds:            rec.MaxRounds,
		CurrentRound:         rec.CurrentRound,
		IsRunning:            rec.IsRunning,
		RunID:                rec.RunID,
		BackgroundContext:    rec.BackgroundContext,
		AgentSpecificPrompts: rec.AgentSpecificPrompts,
		FirstSpeakerID:       rec.FirstSpeakerID,
		CreatedAt:            rec.CreatedAt,
		UpdatedAt:            rec.UpdatedAt,
	}
	if s.AgentIDs == nil {
		s.AgentIDs = []string{}
	}
	if s.AgentSpecificPrompts == nil {
		s.AgentSpecificPrompts = map[string]string{}
	}
	for _, m := range msgs {
		s.Messages = append(s.Messages, fromMessageRecord(m))
	}
	return s
}

func toMessageRecord(m types.Message, seq int) messageRecord {
	return messageRecord{
		ID:           m.ID,
		SessionID:    m.SessionID,
		Seq:          seq,
		Role:         string(m.Role),
		Content:      m.Content,
		AgentID:      m.AgentID,
		AgentName:    m.AgentName,
		MemoriesUsed: nonNilSlice(m.MemoriesUsed),
		RawRequest:   string(m.RawRequest),
		RawResponse:  string(m.RawResponse),
		CreatedAt:    m.CreatedAt,
	}
}

// nil 会被 json serializer 写成 SQL NULL，而迁移后的列为 NOT NULL
func nonNilSlice(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilMap(v map[string]string) map[string]string {
	if v == nil {
		return map[string]string{}
	}
	return v
}

func fromMessageRecord(r messageRecord) types.Message {
	m := types.Message{
		ID:           r.ID,
		SessionID:    r.SessionID,
		Role:         types.Role(r.Role),
		Content:      r.Content,
		AgentID:      r.AgentID,
		AgentName:    r.AgentName,
		MemoriesUsed: r.MemoriesUsed,
		CreatedAt:    r.CreatedAt,
	}
	if r.RawRequest != "" {
		m.RawRequest = json.RawMessage(r.RawRequest)
	}
	if r.RawResponse != "" {
		m.RawResponse = json.RawMessage(r.RawResponse)
	}
	return m
}

// =============================================================================
// Agent
// =============================================================================

// GormAgentStore 基于 GORM 的 AgentStore 实现
type GormAgentStore struct {
	pool *database.PoolManager
}

// NewGormAgentStore creates an agent store on top of the pool manager.
func NewGormAgentStore(pool *database.PoolManager) *GormAgentStore {
	return &GormAgentStore{pool: pool}
}

// Close is a no-op; the pool is closed by its owner.
func (s *GormAgentStore) Close() error {
	return nil
}

// Ping checks if the store is healthy
func (s *GormAgentStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateAgent persists a new agent
func (s *GormAgentStore) CreateAgent(ctx context.Context, a *types.Agent) error {
	if a == nil || a.ID == "" {
		return ErrInvalidInput
	}
	stored := *a
	now := time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	err := s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&agentRecord{}).Where("id = ?", stored.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrAlreadyExists
		}
		rec := toAgentRecord(stored)
		return tx.Create(&rec).Error
	})
	if err != nil {
		return err
	}
	*a = stored
	return nil
}

// GetAgent retrieves an agent by ID
func (s *GormAgentStore) GetAgent(ctx context.Context, id string) (*types.Agent, error) {
	var rec agentRecord
	if err := s.pool.DB().WithContext(ctx).Where("id = ?", id).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a := fromAgentRecord(rec)
	return &a, nil
}

// ListAgents lists the caller's agents in creation order
func (s *GormAgentStore) ListAgents(ctx context.Context, userID string) ([]*types.Agent, error) {
	var recs []agentRecord
	if err := s.pool.DB().WithContext(ctx).Where("user_id = ?", userID).Order("created_at ASC").Order("id ASC").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*types.Agent, 0, len(recs))
	for _, rec := range recs {
		a := fromAgentRecord(rec)
		out = append(out, &a)
	}
	return out, nil
}

// UpdateAgent overwrites the editable fields of an existing agent
func (s *GormAgentStore) UpdateAgent(ctx context.Context, a *types.Agent) error {
	if a == nil || a.ID == "" {
		return ErrInvalidInput
	}
	var result types.Agent
	err := s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		var existing agentRecord
		if err := tx.Where("id = ?", a.ID).Take(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		stored := *a
		stored.UserID = existing.UserID
		stored.CreatedAt = existing.CreatedAt
		stored.UpdatedAt = time.Now()
		rec := toAgentRecord(stored)
		if err := tx.Model(&agentRecord{}).Where("id = ?", a.ID).Select("*").Omit("id", "user_id", "created_at").Updates(&rec).Error; err != nil {
			return err
		}
		result = stored
		return nil
	})
	if err != nil {
		return err
	}
	*a = result
	return nil
}

// DeleteAgent removes an agent
func (s *GormAgentStore) DeleteAgent(ctx context.Context, id string) error {
	res := s.pool.DB().WithContext(ctx).Where("id = ?", id).Delete(&agentRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func toAgentRecord(a types.Agent) agentRecord {
	return agentRecord{
		ID:              a.ID,
		UserID:          a.UserID,
		Name:            a.Name,
		Avatar:          a.Avatar,
		Persona:         a.Persona,
		Model:           a.Model,
		Temperature:     a.Temperature,
		MaxOutputTokens: a.MaxOutputTokens,
		Color:           a.Color,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func fromAgentRecord(r agentRecord) types.Agent {
	return types.Agent{
		ID:              r.ID,
		UserID:          r.UserID,
		Name:            r.Name,
		Avatar:          r.Avatar,
		Persona:         r.Persona,
		Model:           r.Model,
		Temperature:     r.Temperature,
		MaxOutputTokens: r.MaxOutputTokens,
		Color:           r.Color,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}
