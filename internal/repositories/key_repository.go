package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

var ErrKeyNotFound = errors.New("conversation key not found")

// KeyRepository abstracts the per-user key copies replicated to the
// shared conversation record. Writes are merge-only: saving a key for one
// user never touches another user's row.
type KeyRepository interface {
	SaveUserKey(ctx context.Context, conversationID, userID, encodedKey string) error
	GetUserKey(ctx context.Context, conversationID, userID string) (string, error)
	CountKeys(ctx context.Context, conversationID string) (int, error)
}

// KeyRepo is the sqlx/Postgres implementation.
type KeyRepo struct {
	db *sqlx.DB
}

// NewKeyRepo constructs a KeyRepo.
func NewKeyRepo(db *sqlx.DB) *KeyRepo {
	return &KeyRepo{db: db}
}

// SaveUserKey upserts one user's key copy. Plain last-write-wins merge;
// concurrent legacy-key migrations by both participants can still race,
// which is accepted, documented behavior.
func (r *KeyRepo) SaveUserKey(ctx context.Context, conversationID, userID, encodedKey string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO conversation_keys (conversation_id, user_id, key)
        VALUES ($1, $2, $3)
        ON CONFLICT (conversation_id, user_id) DO UPDATE SET key = EXCLUDED.key`,
		conversationID, userID, encodedKey)
	return err
}

// GetUserKey fetches one user's key copy.
func (r *KeyRepo) GetUserKey(ctx context.Context, conversationID, userID string) (string, error) {
	var encodedKey string
	err := r.db.GetContext(ctx, &encodedKey, `SELECT key FROM conversation_keys
        WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrKeyNotFound
	}
	return encodedKey, err
}

// CountKeys reports how many users hold a key copy for the conversation.
// Zero means a legacy record that predates per-user key storage.
func (r *KeyRepo) CountKeys(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM conversation_keys WHERE conversation_id=$1`, conversationID)
	return count, err
}
