package relay

import (
	"fmt"
	"sync"

	"github.com/Ihnore-Ihor/PI-CMS/internal/observability"
	"github.com/Ihnore-Ihor/PI-CMS/internal/protocol"
)

// UserRoom is the private per-user broadcast channel; every session of that
// user joins it on authentication.
func UserRoom(externalID string) string {
	return "user:" + externalID
}

// ChatRoom is the broadcast channel for one chat.
func ChatRoom(chatID int) string {
	return fmt.Sprintf("chat:%d", chatID)
}

// Hub maintains the set of live sessions and their room membership.
type Hub struct {
	mu       sync.RWMutex
	sessions map[*Session]struct{}
	rooms    map[string]map[*Session]struct{}
	joined   map[*Session]map[string]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		sessions: make(map[*Session]struct{}),
		rooms:    make(map[string]map[*Session]struct{}),
		joined:   make(map[*Session]map[string]struct{}),
	}
}

// Register adds a session to the hub.
func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s] = struct{}{}
}

// Unregister removes a session and its room membership.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s)
}

func (h *Hub) removeLocked(s *Session) {
	delete(h.sessions, s)
	for room := range h.joined[s] {
		if members, ok := h.rooms[room]; ok {
			delete(members, s)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	delete(h.joined, s)
}

// Join subscribes a session to a room; joining twice is harmless.
func (h *Hub) Join(s *Session, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s]; !ok {
		return
	}
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[*Session]struct{})
	}
	h.rooms[room][s] = struct{}{}
	if _, ok := h.joined[s]; !ok {
		h.joined[s] = make(map[string]struct{})
	}
	h.joined[s][room] = struct{}{}
}

// Broadcast sends an event to every session in a room.
func (h *Hub) Broadcast(room, event string, payload any) {
	h.deliver(h.members(room), nil, event, payload)
}

// BroadcastAllExcept sends an event to every registered session but one;
// used for global presence transitions.
func (h *Hub) BroadcastAllExcept(skip *Session, event string, payload any) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()
	h.deliver(targets, skip, event, payload)
}

func (h *Hub) members(room string) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := make([]*Session, 0, len(h.rooms[room]))
	for s := range h.rooms[room] {
		members = append(members, s)
	}
	return members
}

// deliver serializes the envelope once and writes it to each target; a
// failed write closes and evicts the session.
func (h *Hub) deliver(targets []*Session, skip *Session, event string, payload any) {
	if len(targets) == 0 {
		return
	}
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return
	}
	for _, s := range targets {
		if s == skip {
			continue
		}
		if err := s.writeFrame(frame); err != nil {
			s.closeConn()
			h.Unregister(s)
			continue
		}
		observability.IncRelayEvent(event, "out")
	}
}
