package notify

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	readLimit = 4096
	pongWait  = 60 * time.Second
)

// subscriber is one websocket peer following a session.
type subscriber struct {
	sessionID    int64
	conn         *websocket.Conn
	send         chan []byte
	writeTimeout time.Duration
	logger       *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func newSubscriber(sessionID int64, conn *websocket.Conn, writeTimeout time.Duration, logger *zap.Logger) *subscriber {
	return &subscriber{
		sessionID:    sessionID,
		conn:         conn,
		send:         make(chan []byte, 16),
		writeTimeout: writeTimeout,
		logger:       logger,
		done:         make(chan struct{}),
	}
}

func (s *subscriber) enqueue(msg []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

// readPump only consumes control frames; clients do not send data.
func (s *subscriber) readPump() {
	s.conn.SetReadLimit(readLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			s.logger.Debug("subscriber read closed", zap.Int64("session_id", s.sessionID), zap.Error(err))
			return
		}
	}
}

func (s *subscriber) writePump(ctx context.Context, pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case msg := <-s.send:
			if err := s.write(websocket.TextMessage, msg); err != nil {
				_ = s.conn.Close()
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				_ = s.conn.Close()
				return
			}
		}
	}
}

func (s *subscriber) write(messageType int, data []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteMessage(messageType, data)
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}
