package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ayersdecker/gameplan/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository abstracts the shared conversation records: the
// conversation documents themselves plus the per-user unread counters.
type ConversationRepository interface {
	CreateConversation(ctx context.Context, conv models.Conversation) error
	GetConversation(ctx context.Context, conversationID string) (models.Conversation, error)
	ListConversationsFor(ctx context.Context, userID string) ([]models.Conversation, error)
	ListSummariesFor(ctx context.Context, userID string) ([]models.ConversationSummary, error)
	TouchLastMessage(ctx context.Context, conversationID string) error
	IncrementUnread(ctx context.Context, conversationID, userID string) error
	ResetUnread(ctx context.Context, conversationID, userID string) error
}

// ConversationRepo is the sqlx/Postgres implementation.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// CreateConversation inserts the conversation record and zeroed unread
// counters for both participants.
func (r *ConversationRepo) CreateConversation(ctx context.Context, conv models.Conversation) error {
	if err := conv.Validate(); err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}

	_, err := r.db.ExecContext(ctx, `INSERT INTO conversations (id, user1_id, user2_id, user1_name, user2_name)
        VALUES ($1, $2, $3, $4, $5)`,
		conv.ID, conv.User1ID, conv.User2ID, conv.User1Name, conv.User2Name)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}

	for _, userID := range conv.Participants() {
		if _, err := r.db.ExecContext(ctx, `INSERT INTO conversation_unread (conversation_id, user_id, unread)
            VALUES ($1, $2, 0) ON CONFLICT (conversation_id, user_id) DO NOTHING`, conv.ID, userID); err != nil {
			return fmt.Errorf("init unread counter: %w", err)
		}
	}
	return nil
}

// GetConversation fetches a conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT id, user1_id, user2_id, user1_name, user2_name, created_at, last_message_at
        FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// ListConversationsFor returns the conversations containing the user,
// most recently active first.
func (r *ConversationRepo) ListConversationsFor(ctx context.Context, userID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := r.db.SelectContext(ctx, &convs, `SELECT id, user1_id, user2_id, user1_name, user2_name, created_at, last_message_at
        FROM conversations WHERE user1_id=$1 OR user2_id=$1
        ORDER BY last_message_at DESC`, userID)
	return convs, err
}

// ListSummariesFor returns the per-user conversation summaries, joining
// in the caller's unread counter.
func (r *ConversationRepo) ListSummariesFor(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	query := `SELECT c.id, c.user1_id, c.user2_id, c.user1_name, c.user2_name, c.created_at, c.last_message_at,
            COALESCE(u.unread, 0) AS unread
        FROM conversations c
        LEFT JOIN conversation_unread u ON u.conversation_id = c.id AND u.user_id = $1
        WHERE c.user1_id=$1 OR c.user2_id=$1
        ORDER BY c.last_message_at DESC`
	rows, err := r.db.QueryxContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.ConversationSummary
	for rows.Next() {
		var row struct {
			models.Conversation
			Unread int `db:"unread"`
		}
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		peerID, peerName := row.PeerOf(userID)
		result = append(result, models.ConversationSummary{
			ConversationID: row.ID,
			PeerID:         peerID,
			PeerName:       peerName,
			Unread:         row.Unread,
			LastMessageAt:  row.LastMessageAt,
		})
	}
	return result, rows.Err()
}

// TouchLastMessage bumps the conversation's last-activity timestamp to
// the server clock.
func (r *ConversationRepo) TouchLastMessage(ctx context.Context, conversationID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE conversations SET last_message_at = NOW() WHERE id=$1`, conversationID)
	return err
}

// IncrementUnread atomically adds one to the user's unread counter.
func (r *ConversationRepo) IncrementUnread(ctx context.Context, conversationID, userID string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO conversation_unread (conversation_id, user_id, unread)
        VALUES ($1, $2, 1)
        ON CONFLICT (conversation_id, user_id) DO UPDATE SET unread = conversation_unread.unread + 1`,
		conversationID, userID)
	return err
}

// ResetUnread zeroes the user's unread counter.
func (r *ConversationRepo) ResetUnread(ctx context.Context, conversationID, userID string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO conversation_unread (conversation_id, user_id, unread)
        VALUES ($1, $2, 0)
        ON CONFLICT (conversation_id, user_id) DO UPDATE SET unread = 0`,
		conversationID, userID)
	return err
}
