package relay

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Ihnore-Ihor/PI-CMS/internal/auth"
	"github.com/Ihnore-Ihor/PI-CMS/internal/models"
	"github.com/Ihnore-Ihor/PI-CMS/internal/observability"
	"github.com/Ihnore-Ihor/PI-CMS/internal/protocol"
	"github.com/Ihnore-Ihor/PI-CMS/internal/repositories"
	"github.com/Ihnore-Ihor/PI-CMS/internal/telemetry"
)

// State is the session lifecycle: exactly one authentication attempt runs to
// completion before chat operations are accepted.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

// Conn is the minimal connection surface the session writes to. The gorilla
// connection satisfies it; tests substitute a capture.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Deps bundles the collaborators a session mediates between.
type Deps struct {
	Hub      *Hub
	Users    repositories.UserRepository
	Chats    repositories.ChatRepository
	Messages repositories.MessageRepository
	Verifier auth.Verifier
	Audit    *telemetry.AuditEmitter
	Log      zerolog.Logger
}

// Session is the per-connection actor: it authenticates once, tracks joined
// rooms through the hub, and mediates every operation against the stores.
type Session struct {
	id   string
	conn Conn
	deps Deps

	writeMu sync.Mutex

	mu    sync.Mutex
	state State
	user  models.User
}

// NewSession wraps a connection. The caller registers it with the hub.
func NewSession(id string, conn Conn, deps Deps) *Session {
	return &Session{id: id, conn: conn, deps: deps}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// User returns the authenticated identity; zero value before authentication.
func (s *Session) User() models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// authenticatedHandlers is the finite event-to-handler map for the
// Authenticated state; authenticate itself is dispatched separately so the
// Unauthenticated state accepts exactly one event name.
var authenticatedHandlers = map[string]func(*Session, context.Context, json.RawMessage){
	protocol.EventGetAllUserStatuses: (*Session).handleGetAllUserStatuses,
	protocol.EventGetMyChats:         (*Session).handleGetMyChats,
	protocol.EventCreateNewChat:      (*Session).handleCreateNewChat,
	protocol.EventJoinChat:           (*Session).handleJoinChat,
	protocol.EventGetChatMessages:    (*Session).handleGetChatMessages,
	protocol.EventSendMessage:        (*Session).handleSendMessage,
	protocol.EventUpdateChat:         (*Session).handleUpdateChat,
	protocol.EventGetChatDetails:     (*Session).handleGetChatDetails,
}

// HandleEvent runs one inbound operation to completion. Operations issued
// before authentication fail and are not queued.
func (s *Session) HandleEvent(ctx context.Context, env protocol.Envelope) {
	observability.IncRelayEvent(env.Event, "in")

	if env.Event == protocol.EventAuthenticate {
		s.handleAuthenticate(ctx, env.Data)
		return
	}

	if s.State() != StateAuthenticated {
		s.operationError(ctx, "Not authenticated", "not_authenticated")
		return
	}

	handler, ok := authenticatedHandlers[env.Event]
	if !ok {
		s.deps.Log.Warn().Str("session_id", s.id).Str("event", env.Event).Msg("unknown event")
		return
	}
	handler(s, ctx, env.Data)
}

// Disconnect finalizes the session: presence goes offline, the session
// handle is cleared and all rooms are left.
func (s *Session) Disconnect(ctx context.Context) {
	s.mu.Lock()
	wasAuthenticated := s.state == StateAuthenticated
	user := s.user
	s.state = StateClosed
	s.mu.Unlock()

	if wasAuthenticated {
		updated, err := s.deps.Users.SetOffline(ctx, user.ID)
		if err != nil {
			s.deps.Log.Error().Err(err).Str("session_id", s.id).Msg("mark offline on disconnect")
		} else {
			s.deps.Hub.BroadcastAllExcept(s, protocol.EventUserStatusChanged, statusChange(updated))
		}
	}
	s.deps.Hub.Unregister(s)
}

// sendEvent replies on this session only.
func (s *Session) sendEvent(event string, payload any) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		s.deps.Log.Error().Err(err).Str("event", event).Msg("encode event")
		return
	}
	if err := s.writeFrame(frame); err != nil {
		s.deps.Log.Warn().Err(err).Str("session_id", s.id).Msg("websocket write error")
		s.closeConn()
		s.deps.Hub.Unregister(s)
		return
	}
	observability.IncRelayEvent(event, "out")
}

func (s *Session) writeFrame(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *Session) closeConn() {
	_ = s.conn.Close()
}

// operationError surfaces a failure to the originating session only; the
// relay never retries on the client's behalf.
func (s *Session) operationError(ctx context.Context, message, reason string) {
	observability.IncRelayError(reason)
	s.sendEvent(protocol.EventError, protocol.ErrorPayload{Message: message})

	var userID *string
	if u := s.User(); u.ExternalID != "" {
		userID = &u.ExternalID
	}
	s.deps.Audit.Emit(ctx, "WARN", message, s.id, userID)
}

func (s *Session) internalError(ctx context.Context, err error, message string) {
	s.deps.Log.Error().Err(err).Str("session_id", s.id).Msg(message)
	s.operationError(ctx, message, "internal")
}

func statusChange(user models.User) protocol.UserStatusChanged {
	return protocol.UserStatusChanged{
		UserID:   user.ID,
		MysqlID:  user.ExternalID,
		Online:   user.Online,
		LastSeen: user.LastSeen,
	}
}
