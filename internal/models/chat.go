package models

import "time"

// Chat is the persisted conversation record. Name is optional; direct chats
// derive their display name client-side from the other participant.
type Chat struct {
	ID            int       `db:"id"`
	Name          *string   `db:"name"`
	IsGroup       bool      `db:"is_group"`
	CreatedBy     int       `db:"created_by"`
	LastMessageID *int      `db:"last_message_id"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// DisplayName returns the stored name or empty for unnamed chats.
func (c Chat) DisplayName() string {
	if c.Name != nil {
		return *c.Name
	}
	return ""
}

// ChatView is the populated projection sent over the wire: participants and
// the last message are resolved, mirroring what clients cache.
type ChatView struct {
	ID           int       `json:"id"`
	Name         string    `json:"name,omitempty"`
	IsGroup      bool      `json:"isGroupChat"`
	Participants []User    `json:"participants"`
	CreatedBy    User      `json:"createdBy"`
	LastMessage  *Message  `json:"lastMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// LastActivity orders the chat list: the last message wins, otherwise the
// chat's own update time, otherwise creation time.
func (v ChatView) LastActivity() time.Time {
	if v.LastMessage != nil {
		return v.LastMessage.CreatedAt
	}
	if !v.UpdatedAt.IsZero() {
		return v.UpdatedAt
	}
	return v.CreatedAt
}
