package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Notifier delivers events best-effort. Implementations never block the caller on delivery
// and never report failures back.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// Nop drops every event.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(context.Context, Event) {}

// Multi fans an event out to several notifiers in order.
type Multi []Notifier

// Notify forwards e to every notifier.
func (m Multi) Notify(ctx context.Context, e Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, e)
		}
	}
}

// Logger writes every event to a zap logger at debug level.
type Logger struct {
	log *zap.Logger
}

// NewLogger returns a logging notifier.
func NewLogger(log *zap.Logger) *Logger {
	return &Logger{log: log.Named("events")}
}

// Notify logs the event.
func (l *Logger) Notify(_ context.Context, e Event) {
	l.log.Debug("session event", zap.String("type", string(e.Type())), zap.Int64("session_id", e.SessionID()), zap.Any("event", e))
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Notify appends e.
func (r *Recorder) Notify(_ context.Context, e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// StatusChanges returns recorded status-change events for a session.
func (r *Recorder) StatusChanges(sessionID int64) []SessionStatusChange {
	var out []SessionStatusChange
	for _, e := range r.Events() {
		if sc, ok := e.(SessionStatusChange); ok && sc.Session == sessionID {
			out = append(out, sc)
		}
	}
	return out
}

// BatteryUpdates returns recorded battery updates for a session.
func (r *Recorder) BatteryUpdates(sessionID int64) []BatteryUpdate {
	var out []BatteryUpdate
	for _, e := range r.Events() {
		if bu, ok := e.(BatteryUpdate); ok && bu.Session == sessionID {
			out = append(out, bu)
		}
	}
	return out
}
