package models

import "time"

// User is a presence-directory record. Users are keyed by the identifier of
// the external account system (the roster database) and upserted on every
// successful authentication.
type User struct {
	ID         int       `db:"id" json:"userId"`
	ExternalID string    `db:"external_id" json:"mysql_user_id"`
	Username   string    `db:"username" json:"username"`
	FirstName  string    `db:"first_name" json:"first_name"`
	LastName   string    `db:"last_name" json:"last_name"`
	Avatar     string    `db:"avatar" json:"avatar"`
	Online     bool      `db:"online" json:"online"`
	LastSeen   time.Time `db:"last_seen" json:"lastSeen"`
	SessionID  *string   `db:"session_id" json:"-"`
}

// DisplayName renders the user's full name for chat-name fallbacks.
func (u User) DisplayName() string {
	return u.FirstName + " " + u.LastName
}

// UserStatus is the slim presence projection pushed to clients.
type UserStatus struct {
	UserID     int       `db:"id" json:"userId"`
	ExternalID string    `db:"external_id" json:"mysql_user_id"`
	Online     bool      `db:"online" json:"online"`
	LastSeen   time.Time `db:"last_seen" json:"lastSeen"`
}
