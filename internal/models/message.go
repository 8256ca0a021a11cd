package models

import "time"

// Message is immutable once created. Sender name and avatar are denormalized
// at send time so later profile edits do not rewrite history.
type Message struct {
	ID               int       `db:"id" json:"id"`
	ChatID           int       `db:"chat_id" json:"chatId"`
	SenderID         int       `db:"sender_id" json:"senderId"`
	SenderExternalID string    `db:"sender_external_id" json:"senderMysqlId"`
	SenderName       string    `db:"sender_name" json:"senderName"`
	SenderAvatar     string    `db:"sender_avatar" json:"senderAvatar"`
	Content          string    `db:"content" json:"content"`
	CreatedAt        time.Time `db:"created_at" json:"timestamp"`
}

// Before reports whether m sorts ahead of other: ascending by timestamp with
// the server-assigned id as the deterministic tie-break.
func (m Message) Before(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}
