package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ayersdecker/gameplan/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository abstracts the per-conversation message collection.
// Messages are append-only except for the one-way read flag.
type MessageRepository interface {
	AppendMessage(ctx context.Context, msg models.Message) (models.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	ListUnreadFromOthers(ctx context.Context, conversationID, userID string) ([]models.Message, error)
	MarkRead(ctx context.Context, messageID string) error
}

// MessageRepo is the sqlx/Postgres implementation.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// AppendMessage inserts a message and returns it with the server-assigned
// timestamp.
func (r *MessageRepo) AppendMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if err := msg.Validate(); err != nil {
		return models.Message{}, fmt.Errorf("append message: %w", err)
	}

	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (id, conversation_id, sender_id, ciphertext)
        VALUES ($1, $2, $3, $4)
        RETURNING id, conversation_id, sender_id, ciphertext, read, created_at`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Ciphertext).
		Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Ciphertext, &msg.Read, &msg.CreatedAt)
	if err != nil {
		return models.Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

// ListMessages returns all messages of a conversation in ascending
// timestamp order.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT id, conversation_id, sender_id, ciphertext, read, created_at
        FROM messages WHERE conversation_id=$1
        ORDER BY created_at ASC, id ASC`, conversationID)
	return msgs, err
}

// ListUnreadFromOthers returns the messages not sent by the user and not
// yet marked read, feeding the read-receipt sweep.
func (r *MessageRepo) ListUnreadFromOthers(ctx context.Context, conversationID, userID string) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT id, conversation_id, sender_id, ciphertext, read, created_at
        FROM messages WHERE conversation_id=$1 AND sender_id<>$2 AND read = FALSE
        ORDER BY created_at ASC, id ASC`, conversationID, userID)
	return msgs, err
}

// MarkRead flips the one-way read flag on a message.
func (r *MessageRepo) MarkRead(ctx context.Context, messageID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET read = TRUE WHERE id=$1`, messageID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}
