// Package keystore resolves the symmetric key for a conversation through
// a layered lookup: the device-local secure store first, then the per-user
// key copies on the shared conversation record, then a one-time migration
// for legacy conversations that predate per-user key storage.
//
// The shared record is authoritative; the local store is a cache-aside
// optimization and is only ever populated from the shared record (or at
// key creation time), never the reverse.
package keystore

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ayersdecker/gameplan/internal/crypto"
	"github.com/ayersdecker/gameplan/internal/observability"
	"github.com/ayersdecker/gameplan/internal/repositories"
	"github.com/ayersdecker/gameplan/internal/securestore"
)

// ErrKeyNotFound is returned when no key is resolvable for a
// user/conversation pair through cache, shared record, or migration.
var ErrKeyNotFound = repositories.ErrKeyNotFound

const cacheKeyPrefix = "conversation_key_"

// Service implements the layered key lookup.
type Service struct {
	local         securestore.Store
	keys          repositories.KeyRepository
	conversations repositories.ConversationRepository
	logger        zerolog.Logger
}

// NewService constructs a Service.
func NewService(local securestore.Store, keys repositories.KeyRepository, conversations repositories.ConversationRepository, logger zerolog.Logger) *Service {
	return &Service{
		local:         local,
		keys:          keys,
		conversations: conversations,
		logger:        logger,
	}
}

// Provision generates the single key a conversation will use for its
// entire lifetime, writes it to the shared record for every participant
// at once, and caches it locally for the creator. Used on the
// conversation-creation path, where no migration branch is needed.
func (s *Service) Provision(ctx context.Context, conversationID string, participants []string) ([]byte, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}

	encoded := crypto.EncodeKey(key)
	for _, userID := range participants {
		if err := s.keys.SaveUserKey(ctx, conversationID, userID, encoded); err != nil {
			return nil, fmt.Errorf("provision key for %s: %w", userID, err)
		}
	}
	s.cache(ctx, conversationID, encoded)
	return key, nil
}

// SaveKey writes a key to the local cache and, when userID is non-empty,
// merges it into the user's copy on the shared record. Merge semantics
// only: other users' copies are never touched.
func (s *Service) SaveKey(ctx context.Context, conversationID string, key []byte, userID string) error {
	if len(key) != crypto.KeyBytes {
		return crypto.ErrInvalidKey
	}

	encoded := crypto.EncodeKey(key)
	s.cache(ctx, conversationID, encoded)
	if userID == "" {
		return nil
	}
	if err := s.keys.SaveUserKey(ctx, conversationID, userID, encoded); err != nil {
		return fmt.Errorf("save key for %s: %w", userID, err)
	}
	return nil
}

// LoadKey resolves the conversation key for a user.
//
// Lookup order: local cache hit returns immediately; otherwise the user's
// copy on the shared record is fetched and written back to the cache. A
// conversation whose shared record holds keys for other users but not
// this one is an error state surfaced as ErrKeyNotFound. A conversation
// with no key copies at all is a legacy record and triggers migration.
func (s *Service) LoadKey(ctx context.Context, conversationID, userID string) ([]byte, error) {
	cacheKey := cacheKeyPrefix + conversationID
	if encoded, ok, err := s.local.Get(ctx, cacheKey); err != nil {
		s.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("local key cache read failed")
	} else if ok {
		key, err := crypto.DecodeKey(encoded)
		if err == nil {
			return key, nil
		}
		s.logger.Warn().Str("conversation_id", conversationID).Msg("discarding undecodable local key cache entry")
	}

	encoded, err := s.keys.GetUserKey(ctx, conversationID, userID)
	if err == nil {
		key, decodeErr := crypto.DecodeKey(encoded)
		if decodeErr != nil {
			return nil, fmt.Errorf("shared key for conversation %s: %w", conversationID, decodeErr)
		}
		s.cache(ctx, conversationID, encoded)
		return key, nil
	}
	if !errors.Is(err, repositories.ErrKeyNotFound) {
		return nil, fmt.Errorf("load shared key: %w", err)
	}

	count, err := s.keys.CountKeys(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("count shared keys: %w", err)
	}
	if count > 0 {
		// Other participants hold keys but this user does not: the
		// conversation was initialized without them.
		return nil, fmt.Errorf("user %s has no key for conversation %s: %w", userID, conversationID, ErrKeyNotFound)
	}

	return s.migrateLegacy(ctx, conversationID)
}

// migrateLegacy lazily upgrades a conversation created before per-user
// key storage: one fresh key is generated and written for every
// participant. Two participants migrating concurrently can each persist a
// different key; the last write wins and messages sealed under the loser
// become unreadable. Known, accepted race.
func (s *Service) migrateLegacy(ctx context.Context, conversationID string) ([]byte, error) {
	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("migrate legacy key: %w", err)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	encoded := crypto.EncodeKey(key)
	for _, userID := range conv.Participants() {
		if err := s.keys.SaveUserKey(ctx, conversationID, userID, encoded); err != nil {
			return nil, fmt.Errorf("migrate legacy key for %s: %w", userID, err)
		}
	}
	s.cache(ctx, conversationID, encoded)

	observability.IncKeyMigration()
	s.logger.Info().Str("conversation_id", conversationID).Msg("migrated legacy conversation to per-user key storage")
	return key, nil
}

// cache writes through to the local store. Cache failures cost a future
// lookup, never correctness, so they are logged and swallowed.
func (s *Service) cache(ctx context.Context, conversationID, encoded string) {
	if err := s.local.Set(ctx, cacheKeyPrefix+conversationID, encoded); err != nil {
		s.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("local key cache write failed")
	}
}
