package persistence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/nexus/types"
)

// EventType 会话事件类型
type EventType string

const (
	EventSessionCreated  EventType = "session.created"
	EventSessionUpdated  EventType = "session.updated"
	EventSessionDeleted  EventType = "session.deleted"
	EventMessageAppended EventType = "message.appended"
	// EventSnapshot 订阅建立时推送的完整会话，不由存储发布
	EventSnapshot        EventType = "session.snapshot"
)

// Event 是一次会话变更的通知，UI 订阅后据此重新渲染
type Event struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id"`
	Session   *types.Session `json:"session,omitempty"`
	Message   *types.Message `json:"message,omitempty"`
	At        time.Time      `json:"at"`
}

// EventHub 进程内的会话事件分发器。
// 慢订阅者的事件会被丢弃，不阻塞写入方。
type EventHub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	buffer int
	logger *zap.Logger
}

type subscription struct {
	ch   chan Event
	once sync.Once
}

// NewEventHub 创建事件分发器，buffer 是每个订阅者的通道容量
func NewEventHub(buffer int, logger *zap.Logger) *EventHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &EventHub{
		subs:   make(map[string]map[*subscription]struct{}),
		buffer: buffer,
		logger: logger.With(zap.String("component", "event_hub")),
	}
}

// Subscribe 订阅某个会话的事件，返回的 cancel 必须调用以释放资源
func (h *EventHub) Subscribe(sessionID string) (<-chan Event, func()) {
	sub := &subscription{ch: make(chan Event, h.buffer)}

	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*subscription]struct{})
	}
	h.subs[sessionID][sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[sessionID]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subs, sessionID)
			}
		}
		h.mu.Unlock()
		sub.once.Do(func() { close(sub.ch) })
	}
	return sub.ch, cancel
}

// Publish 非阻塞地把事件投递给所有订阅者
func (h *EventHub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[ev.SessionID] {
		select {
		case sub.ch <- ev:
		default:
			h.logger.Warn("dropping event for slow subscriber",
				zap.String("session_id", ev.SessionID),
				zap.String("type", string(ev.Type)))
		}
	}
}

// SubscriberCount 返回某个会话当前的订阅者数量
func (h *EventHub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

// =============================================================================
// 事件装饰器
// =============================================================================

// ObservedSessionStore wraps a SessionStore and publishes every successful
// mutation to an EventHub.
type ObservedSessionStore struct {
	SessionStore
	hub *EventHub
}

// NewObservedSessionStore 创建发布事件的存储装饰器
func NewObservedSessionStore(inner SessionStore, hub *EventHub) *ObservedSessionStore {
	return &ObservedSessionStore{SessionStore: inner, hub: hub}
}

// Hub 返回事件分发器
func (s *ObservedSessionStore) Hub() *EventHub {
	return s.hub
}

// CreateSession 创建并发布 session.created
func (s *ObservedSessionStore) CreateSession(ctx context.Context, sess *types.Session) error {
	if err := s.SessionStore.CreateSession(ctx, sess); err != nil {
		return err
	}
	s.hub.Publish(Event{Type: EventSessionCreated, SessionID: sess.ID, Session: sess.Clone()})
	return nil
}

// DeleteSession 删除并发布 session.deleted
func (s *ObservedSessionStore) DeleteSession(ctx context.Context, id string) error {
	if err := s.SessionStore.DeleteSession(ctx, id); err != nil {
		return err
	}
	s.hub.Publish(Event{Type: EventSessionDeleted, SessionID: id})
	return nil
}

// AppendMessage 追加并发布 message.appended
func (s *ObservedSessionStore) AppendMessage(ctx context.Context, sessionID string, msg types.Message) error {
	_, err := s.UpdateSession(ctx, sessionID, appendFunc(msg))
	return err
}

// PatchSession 更新并发布事件
func (s *ObservedSessionStore) PatchSession(ctx context.Context, id string, patch SessionPatch) (*types.Session, error) {
	return s.UpdateSession(ctx, id, patchFunc(patch))
}

// UpdateSession 更新并按变更内容发布事件。
// 新消息各自发布 message.appended，随后发布一次 session.updated。
func (s *ObservedSessionStore) UpdateSession(ctx context.Context, id string, fn UpdateFunc) (*types.Session, error) {
	var before int
	changed := false
	guard := func(sess *types.Session) error {
		before = len(sess.Messages)
		err := fn(sess)
		changed = err == nil
		return err
	}

	updated, err := s.SessionStore.UpdateSession(ctx, id, guard)
	if err != nil {
		return nil, err
	}
	if !changed {
		return updated, nil
	}

	for i := before; i < len(updated.Messages); i++ {
		msg := updated.Messages[i].Clone()
		s.hub.Publish(Event{Type: EventMessageAppended, SessionID: id, Message: &msg})
	}
	s.hub.Publish(Event{Type: EventSessionUpdated, SessionID: id, Session: updated.Clone()})
	return updated, nil
}
