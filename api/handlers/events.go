package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/nexus/agent/persistence"
)

// =============================================================================
// 📡 会话事件流（WebSocket）
// =============================================================================

// StreamObserver 记录活跃订阅数，由 internal/metrics.Collector 实现
type StreamObserver interface {
	StreamOpened()
	StreamClosed()
}

// EventsHandler 把 EventHub 中的会话变更推送给 WebSocket 客户端
type EventsHandler struct {
	sessions       persistence.SessionStore
	hub            *persistence.EventHub
	observer       StreamObserver
	originPatterns []string
	pingInterval   time.Duration
	writeTimeout   time.Duration
	logger         *zap.Logger
}

// NewEventsHandler 创建事件流处理器。originPatterns 为空时只接受同源连接。
func NewEventsHandler(sessions persistence.SessionStore, hub *persistence.EventHub, observer StreamObserver, originPatterns []string, logger *zap.Logger) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsHandler{
		sessions:       sessions,
		hub:            hub,
		observer:       observer,
		originPatterns: originPatterns,
		pingInterval:   30 * time.Second,
		writeTimeout:   10 * time.Second,
		logger:         logger.With(zap.String("handler", "events")),
	}
}

// HandleEvents 升级为 WebSocket，先推送会话快照，再推送后续每次变更。
// 会话被删除后以正常关闭码结束连接。
// @Summary 会话事件流
// @Tags session
// @Param id path string true "Session ID"
// @Success 101 "Switching Protocols"
// @Router /api/v1/sessions/{id}/events [get]
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := loadSession(w, r, h.sessions, h.logger); !ok {
		return
	}
	sessionID := r.PathValue("id")

	// 先订阅再取快照，两者之间的变更不会丢失
	events, unsubscribe := h.hub.Subscribe(sessionID)
	defer unsubscribe()

	snapshot, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		WriteAppError(w, mapStoreError(err, "session"), h.logger)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Debug("websocket accept failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	if h.observer != nil {
		h.observer.StreamOpened()
		defer h.observer.StreamClosed()
	}

	// 客户端只读；CloseRead 在对端关闭时取消 ctx
	ctx := conn.CloseRead(r.Context())
	logger := h.logger.With(zap.String("session_id", sessionID))
	logger.Debug("event stream opened")

	if err := h.write(ctx, conn, persistence.Event{
		Type:      persistence.EventSnapshot,
		SessionID: sessionID,
		Session:   snapshot,
		At:        time.Now(),
	}); err != nil {
		logger.Debug("snapshot write failed", zap.Error(err))
		return
	}

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("event stream closed", zap.Error(context.Cause(ctx)))
			return

		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "stream closed")
				return
			}
			if err := h.write(ctx, conn, ev); err != nil {
				if !isClosedErr(err) {
					logger.Warn("event write failed", zap.Error(err))
				}
				return
			}
			if ev.Type == persistence.EventSessionDeleted {
				conn.Close(websocket.StatusNormalClosure, "session deleted")
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (h *EventsHandler) write(ctx context.Context, conn *websocket.Conn, ev persistence.Event) error {
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}

func isClosedErr(err error) bool {
	return errors.Is(err, context.Canceled) || websocket.CloseStatus(err) != -1
}
