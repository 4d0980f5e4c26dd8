package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chargehub/backend/services/charging-service/internal/metrics"
)

// Hub pushes session events to websocket subscribers of that session.
type Hub struct {
	mu           sync.RWMutex
	subscribers  map[int64]map[*subscriber]struct{}
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	pingInterval time.Duration
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// NewHub builds hub.
func NewHub(writeTimeout, pingInterval time.Duration, m *metrics.Metrics, logger *zap.Logger) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Hub{
		subscribers:  make(map[int64]map[*subscriber]struct{}),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		metrics:      m,
		logger:       logger.Named("hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Subscribe upgrades the request and streams events of sessionID until the peer disconnects.
func (h *Hub) Subscribe(w http.ResponseWriter, r *http.Request, sessionID int64) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Int64("session_id", sessionID), zap.Error(err))
		return
	}

	sub := newSubscriber(sessionID, conn, h.writeTimeout, h.logger)
	h.add(sub)
	h.logger.Info("subscriber connected", zap.Int64("session_id", sessionID))

	ctx, cancel := context.WithCancel(context.Background())
	go sub.writePump(ctx, h.pingInterval)
	sub.readPump()
	cancel()
	h.remove(sub)
	h.logger.Info("subscriber disconnected", zap.Int64("session_id", sessionID))
}

// Notify sends e to every subscriber of its session.
func (h *Hub) Notify(_ context.Context, e Event) {
	h.mu.RLock()
	subs := h.subscribers[e.SessionID()]
	if len(subs) == 0 {
		h.mu.RUnlock()
		return
	}
	targets := make([]*subscriber, 0, len(subs))
	for s := range subs {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	msg, err := Encode(e)
	if err != nil {
		h.logger.Error("encode event", zap.Error(err))
		return
	}
	for _, s := range targets {
		if s.enqueue(msg) {
			h.metrics.Notification("ws", "delivered")
		} else {
			h.metrics.Notification("ws", "dropped")
			h.logger.Warn("dropping event, subscriber buffer full", zap.Int64("session_id", e.SessionID()))
		}
	}
}

// Subscribers returns the number of open subscriptions for a session.
func (h *Hub) Subscribers(sessionID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[sessionID])
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, subs := range h.subscribers {
		for s := range subs {
			_ = s.conn.Close()
		}
	}
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.subscribers[s.sessionID]
	if !ok {
		subs = make(map[*subscriber]struct{})
		h.subscribers[s.sessionID] = subs
	}
	subs[s] = struct{}{}
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subscribers[s.sessionID]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.subscribers, s.sessionID)
		}
	}
	s.close()
}
