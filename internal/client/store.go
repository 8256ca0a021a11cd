// Package client is the relay's client-side engine: a process-local store
// that keeps chats, messages and presence consistent under out-of-order
// pushes and concurrent fetches, plus the transport that feeds it.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ihnore-Ihor/PI-CMS/internal/models"
	"github.com/Ihnore-Ihor/PI-CMS/internal/protocol"
)

// maxNotifications bounds the recent-notifications list; the oldest entry is
// dropped silently beyond it.
const maxNotifications = 10

// ErrPendingChatTimeout reports that the chat list never became ready within
// the deep-link polling window.
var ErrPendingChatTimeout = errors.New("pending chat selection timed out")

// PresenceEntry is the cached presence of one external user.
type PresenceEntry struct {
	Online   bool
	LastSeen time.Time
}

// Store is the client reconciliation engine. All state is rebuilt from
// server pushes; nothing here is durable.
type Store struct {
	log zerolog.Logger

	mu            sync.RWMutex
	self          protocol.Authenticated
	authenticated bool
	chats         map[int]models.ChatView
	order         []int
	activeChatID  int
	views         map[int]*chatView
	presence      map[string]PresenceEntry
	notifications []protocol.Notification
	pendingChatID *int
	lastError     string
}

// NewStore creates an empty engine.
func NewStore(log zerolog.Logger) *Store {
	return &Store{
		log:      log,
		chats:    make(map[int]models.ChatView),
		views:    make(map[int]*chatView),
		presence: make(map[string]PresenceEntry),
	}
}

// Apply routes one server event into the store.
func (s *Store) Apply(env protocol.Envelope) error {
	switch env.Event {
	case protocol.EventAuthenticated:
		var identity protocol.Authenticated
		if err := json.Unmarshal(env.Data, &identity); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		s.mu.Lock()
		s.self = identity
		s.authenticated = true
		s.mu.Unlock()

	case protocol.EventAuthenticationError:
		var message string
		_ = json.Unmarshal(env.Data, &message)
		s.mu.Lock()
		s.authenticated = false
		s.lastError = message
		s.mu.Unlock()

	case protocol.EventAllUserStatuses:
		var statuses []models.UserStatus
		if err := json.Unmarshal(env.Data, &statuses); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		s.mu.Lock()
		s.presence = make(map[string]PresenceEntry, len(statuses))
		for _, st := range statuses {
			s.presence[st.ExternalID] = PresenceEntry{Online: st.Online, LastSeen: st.LastSeen}
		}
		s.mu.Unlock()

	case protocol.EventUserStatusChanged:
		var change protocol.UserStatusChanged
		if err := json.Unmarshal(env.Data, &change); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		s.mu.Lock()
		s.presence[change.MysqlID] = PresenceEntry{Online: change.Online, LastSeen: change.LastSeen}
		s.mu.Unlock()

	case protocol.EventMyChats:
		var chats []models.ChatView
		if err := json.Unmarshal(env.Data, &chats); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		s.replaceChats(chats)

	case protocol.EventChatCreatedSuccessfully,
		protocol.EventChatAlreadyExists,
		protocol.EventNewChatCreated,
		protocol.EventChatUpdated,
		protocol.EventChatDetails:
		var chat models.ChatView
		if err := json.Unmarshal(env.Data, &chat); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		s.upsertChat(chat)

	case protocol.EventChatMessages:
		var page protocol.ChatMessages
		if err := json.Unmarshal(env.Data, &page); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		s.applyHistory(page.ChatID, page.Messages)

	case protocol.EventNewMessage:
		var msg models.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		s.applyNewMessage(msg)

	case protocol.EventNotification:
		var note protocol.Notification
		if err := json.Unmarshal(env.Data, &note); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		s.addNotification(note)

	case protocol.EventError:
		var payload protocol.ErrorPayload
		_ = json.Unmarshal(env.Data, &payload)
		s.mu.Lock()
		s.lastError = payload.Message
		s.mu.Unlock()
		s.log.Warn().Str("message", payload.Message).Msg("relay reported operation failure")

	default:
		s.log.Debug().Str("event", env.Event).Msg("unhandled server event")
	}
	return nil
}

// replaceChats installs the full chat list wholesale and rebuilds the visible
// order by last activity descending. The active chat keeps its identity even
// when its list position changes.
func (s *Store) replaceChats(chats []models.ChatView) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chats = make(map[int]models.ChatView, len(chats))
	s.order = s.order[:0]
	for _, chat := range chats {
		s.chats[chat.ID] = chat
		s.order = append(s.order, chat.ID)
	}
	sort.SliceStable(s.order, func(i, j int) bool {
		return s.chats[s.order[i]].LastActivity().After(s.chats[s.order[j]].LastActivity())
	})
}

// upsertChat merges a single pushed chat and moves it to the top of the list.
func (s *Store) upsertChat(chat models.ChatView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertChatLocked(chat)
}

func (s *Store) upsertChatLocked(chat models.ChatView) {
	if _, known := s.chats[chat.ID]; known {
		for i, id := range s.order {
			if id == chat.ID {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.chats[chat.ID] = chat
	s.order = append([]int{chat.ID}, s.order...)
}

// applyNewMessage routes a live push into the chat's view (queued or shown
// depending on the view state) and refreshes the chat's last-message pointer.
func (s *Store) applyNewMessage(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if view, open := s.views[msg.ChatID]; open {
		view.push(msg)
	}

	chat, known := s.chats[msg.ChatID]
	if !known {
		// The chat projection arrives separately (newChatCreated or a
		// getChatDetails fallback); the message alone cannot build it.
		return
	}
	m := msg
	chat.LastMessage = &m
	chat.UpdatedAt = msg.CreatedAt
	s.upsertChatLocked(chat)
}

func (s *Store) applyHistory(chatID int, history []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	view, open := s.views[chatID]
	if !open {
		view = newChatView(chatID)
		s.views[chatID] = view
	}
	view.applyHistory(history)
}

func (s *Store) addNotification(note protocol.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// The open chat renders its messages directly; only background chats
	// accumulate notifications.
	if note.ChatID != 0 && note.ChatID == s.activeChatID {
		return
	}
	s.notifications = append([]protocol.Notification{note}, s.notifications...)
	if len(s.notifications) > maxNotifications {
		s.notifications = s.notifications[:maxNotifications]
	}
}

// BeginHistoryLoad resets the chat's message view to Loading and marks it
// active; pushes racing the history fetch are queued from this point on.
func (s *Store) BeginHistoryLoad(chatID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views[chatID] = newChatView(chatID)
	s.activeChatID = chatID
}

// CloseChat drops the chat's message cache; reopening starts a fresh fetch.
func (s *Store) CloseChat(chatID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.views, chatID)
	if s.activeChatID == chatID {
		s.activeChatID = 0
	}
}

// Identity returns the authenticated identity, if any.
func (s *Store) Identity() (protocol.Authenticated, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.self, s.authenticated
}

// LastError returns the most recent failure message pushed by the relay.
func (s *Store) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// ActiveChatID returns the currently open chat, zero when none.
func (s *Store) ActiveChatID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeChatID
}

// Chats returns the visible chat list, most recent activity first.
func (s *Store) Chats() []models.ChatView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ChatView, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.chats[id])
	}
	return out
}

// Chat returns one cached chat projection.
func (s *Store) Chat(chatID int) (models.ChatView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[chatID]
	return chat, ok
}

// ViewState reports the message-view state for a chat; ViewLoading for a chat
// that has never been opened.
func (s *Store) ViewState(chatID int) ViewState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if view, ok := s.views[chatID]; ok {
		return view.state
	}
	return ViewLoading
}

// Messages returns the rendered message list for a chat.
func (s *Store) Messages(chatID int) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if view, ok := s.views[chatID]; ok {
		return view.snapshot()
	}
	return nil
}

// Presence returns the cached presence for one external user.
func (s *Store) Presence(externalID string) (PresenceEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.presence[externalID]
	return entry, ok
}

// DirectoryStatuses derives the directory listing from the presence cache.
func (s *Store) DirectoryStatuses() map[string]PresenceEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]PresenceEntry, len(s.presence))
	for id, entry := range s.presence {
		out[id] = entry
	}
	return out
}

// RosterEntry pairs a chat participant with presence re-derived from the
// cache at read time.
type RosterEntry struct {
	User     models.User
	Presence PresenceEntry
}

// ChatRoster derives the open chat's participant roster. Presence always
// comes from the shared cache, never from the stale participant projection.
func (s *Store) ChatRoster(chatID int) []RosterEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return nil
	}
	roster := make([]RosterEntry, 0, len(chat.Participants))
	for _, p := range chat.Participants {
		entry := PresenceEntry{Online: p.Online, LastSeen: p.LastSeen}
		if cached, known := s.presence[p.ExternalID]; known {
			entry = cached
		}
		roster = append(roster, RosterEntry{User: p, Presence: entry})
	}
	return roster
}

// DirectChatOnline derives the status dot for a direct chat's list item: the
// other participant's cached presence.
func (s *Store) DirectChatOnline(chatID int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[chatID]
	if !ok || chat.IsGroup {
		return false
	}
	for _, p := range chat.Participants {
		if p.ExternalID == s.self.MysqlID {
			continue
		}
		if cached, known := s.presence[p.ExternalID]; known {
			return cached.Online
		}
		return p.Online
	}
	return false
}

// Notifications returns the bounded recent-notifications list, newest first.
func (s *Store) Notifications() []protocol.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]protocol.Notification, len(s.notifications))
	copy(out, s.notifications)
	return out
}

// SetPendingChat records a deep-link target to select once the chat list has
// loaded; it survives until consumed.
func (s *Store) SetPendingChat(chatID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := chatID
	s.pendingChatID = &id
}

// ConsumePendingChat waits for the pending deep-link chat to appear in the
// chat cache, polling with a fixed interval for a bounded number of
// attempts. On success the pending marker is cleared exactly once and the
// chat becomes active; otherwise ErrPendingChatTimeout.
func (s *Store) ConsumePendingChat(ctx context.Context, interval time.Duration, attempts int) (int, error) {
	s.mu.RLock()
	pending := s.pendingChatID
	s.mu.RUnlock()
	if pending == nil {
		return 0, nil
	}

	for i := 0; i < attempts; i++ {
		s.mu.Lock()
		if _, ready := s.chats[*pending]; ready {
			chatID := *pending
			s.pendingChatID = nil
			s.activeChatID = chatID
			s.mu.Unlock()
			return chatID, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(interval):
		}
	}

	s.mu.Lock()
	s.pendingChatID = nil
	s.mu.Unlock()
	return 0, ErrPendingChatTimeout
}
