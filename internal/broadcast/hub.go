package broadcast

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/events"
)

const sessionBuffer = 16

// Session is one subscribed client connection. Events arrive on C; a
// session that cannot keep up has events dropped rather than blocking the
// publisher.
type Session struct {
	ID    string
	rooms []string
	C     chan events.Event
}

// Hub fans events out to in-process subscriber sessions, keyed by room.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Session]struct{}
	logger   *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]map[*Session]struct{}),
		logger:   logger,
	}
}

// Subscribe registers a session on the given rooms.
func (h *Hub) Subscribe(sessionID string, rooms ...string) *Session {
	session := &Session{
		ID:    sessionID,
		rooms: rooms,
		C:     make(chan events.Event, sessionBuffer),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range rooms {
		if h.sessions[room] == nil {
			h.sessions[room] = make(map[*Session]struct{})
		}
		h.sessions[room][session] = struct{}{}
	}
	return session
}

// Unsubscribe detaches a session from all its rooms and closes its channel.
func (h *Hub) Unsubscribe(session *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range session.rooms {
		if members, ok := h.sessions[room]; ok {
			delete(members, session)
			if len(members) == 0 {
				delete(h.sessions, room)
			}
		}
	}
	close(session.C)
}

// Publish delivers the event to every session in the room. Full session
// buffers drop the event; clients recover by re-fetching state.
func (h *Hub) Publish(ctx context.Context, room string, event events.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for session := range h.sessions[room] {
		select {
		case session.C <- event:
		default:
			h.logger.Debug("dropping event for slow session",
				zap.String("session_id", session.ID),
				zap.String("room", room),
				zap.String("event_type", string(event.Type)))
		}
	}
	return nil
}
