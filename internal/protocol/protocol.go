// Package protocol defines the named-event envelope carried over the
// persistent websocket connection and the payload types for every event the
// relay and its clients exchange.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ihnore-Ihor/PI-CMS/internal/models"
)

// Client -> server events.
const (
	EventAuthenticate       = "authenticate"
	EventGetAllUserStatuses = "getAllUserStatuses"
	EventGetMyChats         = "getMyChats"
	EventCreateNewChat      = "createNewChat"
	EventJoinChat           = "joinChat"
	EventGetChatMessages    = "getChatMessages"
	EventSendMessage        = "sendMessage"
	EventUpdateChat         = "updateChat"
	EventGetChatDetails     = "getChatDetails"
)

// Server -> client events.
const (
	EventAuthenticated           = "authenticated"
	EventAuthenticationError     = "authentication_error"
	EventAllUserStatuses         = "allUserStatuses"
	EventUserStatusChanged       = "userStatusChanged"
	EventMyChats                 = "myChats"
	EventChatCreatedSuccessfully = "chatCreatedSuccessfully"
	EventChatAlreadyExists       = "chatAlreadyExists"
	EventNewChatCreated          = "newChatCreated"
	EventChatUpdated             = "chatUpdated"
	EventChatDetails             = "chatDetails"
	EventChatMessages            = "chatMessages"
	EventNewMessage              = "newMessage"
	EventNotification            = "notification"
	EventError                   = "error"
)

// Envelope frames every event on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals an envelope with the given payload.
func Encode(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		data = raw
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// Decode parses a raw frame into an envelope, rejecting unnamed events.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing event name")
	}
	return env, nil
}

// UserInfo is the display claim a client supplies alongside its credential.
type UserInfo struct {
	ID        json.Number `json:"id"`
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
	Avatar    string      `json:"avatar"`
}

// AuthRequest is the authenticate payload.
type AuthRequest struct {
	Token    string   `json:"token"`
	UserInfo UserInfo `json:"userInfo"`
}

// Authenticated confirms a successful authentication.
type Authenticated struct {
	UserID    int    `json:"userId"`
	MysqlID   string `json:"mysqlId"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Avatar    string `json:"avatar"`
}

// UserStatusChanged announces a presence transition.
type UserStatusChanged struct {
	UserID   int       `json:"userId"`
	MysqlID  string    `json:"mysqlId"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen"`
}

// ParticipantData describes one external-user participant on chat creation:
// the roster identifier plus a display snapshot used when the user has never
// connected to the relay before.
type ParticipantData struct {
	ID        json.Number `json:"id"`
	Username  string      `json:"username"`
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
	Avatar    string      `json:"avatar"`
}

// CreateChatRequest is the createNewChat payload.
type CreateChatRequest struct {
	ParticipantsData []ParticipantData `json:"participantsData"`
	GroupName        string            `json:"groupName,omitempty"`
}

// UpdateChatRequest is the updateChat payload. Participants carries external
// identifiers and fully replaces the membership when non-empty.
type UpdateChatRequest struct {
	ChatID       int      `json:"chatId"`
	Name         string   `json:"name,omitempty"`
	Participants []string `json:"participants,omitempty"`
}

// SendMessageRequest is the sendMessage payload.
type SendMessageRequest struct {
	ChatID  int    `json:"chatId"`
	Content string `json:"content"`
}

// ChatRef addresses a single chat (joinChat, getChatMessages, getChatDetails).
type ChatRef struct {
	ChatID int `json:"chatId"`
}

// ChatMessages is the full-history response for one chat.
type ChatMessages struct {
	ChatID   int              `json:"chatId"`
	Messages []models.Message `json:"messages"`
}

// Notification carries a message that landed in a non-active chat, with a
// rendering-ready chat-name fallback.
type Notification struct {
	Message  models.Message `json:"message"`
	ChatID   int            `json:"chatId"`
	ChatName string         `json:"chatName"`
}

// ErrorPayload is the generic operation-failure signal.
type ErrorPayload struct {
	Message string `json:"message"`
}
