package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/Ihnore-Ihor/PI-CMS/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

const messageColumns = `m.id, m.chat_id, m.sender_id, u.external_id AS sender_external_id,
        m.sender_name, m.sender_avatar, m.content, m.created_at`

// NewMessage carries the payload and denormalized sender snapshot persisted
// on send. The snapshot comes from the presence directory at send time, not
// from the original connection payload.
type NewMessage struct {
	ChatID       int
	SenderID     int
	SenderName   string
	SenderAvatar string
	Content      string
}

// MessageRepository is the append-only per-chat message log.
type MessageRepository interface {
	Create(ctx context.Context, msg NewMessage) (models.Message, error)
	ListForChat(ctx context.Context, chatID int) ([]models.Message, error)
	GetByID(ctx context.Context, messageID int) (models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Create appends a message with a server-assigned timestamp.
func (r *MessageRepo) Create(ctx context.Context, msg NewMessage) (models.Message, error) {
	var created models.Message
	err := r.db.GetContext(ctx, &created, `WITH inserted AS (
            INSERT INTO messages (chat_id, sender_id, sender_name, sender_avatar, content)
            VALUES ($1, $2, $3, $4, $5)
            RETURNING id, chat_id, sender_id, sender_name, sender_avatar, content, created_at
        )
        SELECT m.id, m.chat_id, m.sender_id, u.external_id AS sender_external_id,
               m.sender_name, m.sender_avatar, m.content, m.created_at
        FROM inserted m JOIN users u ON u.id = m.sender_id`,
		msg.ChatID, msg.SenderID, msg.SenderName, msg.SenderAvatar, msg.Content)
	return created, err
}

// ListForChat returns the full history ascending by creation time, with the
// id as tie-break for equal timestamps.
func (r *MessageRepo) ListForChat(ctx context.Context, chatID int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+`
        FROM messages m
        JOIN users u ON u.id = m.sender_id
        WHERE m.chat_id = $1
        ORDER BY m.created_at ASC, m.id ASC`, chatID)
	return msgs, err
}

// GetByID retrieves a single message.
func (r *MessageRepo) GetByID(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+`
        FROM messages m
        JOIN users u ON u.id = m.sender_id
        WHERE m.id = $1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}
