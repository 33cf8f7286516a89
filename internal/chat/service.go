// Package chat orchestrates the conversation lifecycle: find-or-create,
// encrypt-on-send, decrypt-on-read, unread bookkeeping, read receipts,
// and the live subscriptions that drive the UI.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ayersdecker/gameplan/internal/crypto"
	"github.com/ayersdecker/gameplan/internal/models"
	"github.com/ayersdecker/gameplan/internal/observability"
	"github.com/ayersdecker/gameplan/internal/repositories"
)

var (
	ErrConversationNotFound = repositories.ErrConversationNotFound
	// ErrNotParticipant is returned when a user operates on a
	// conversation they do not belong to.
	ErrNotParticipant = errors.New("user is not a conversation participant")
)

// KeyStore is the key-resolution surface the service depends on.
type KeyStore interface {
	Provision(ctx context.Context, conversationID string, participants []string) ([]byte, error)
	LoadKey(ctx context.Context, conversationID, userID string) ([]byte, error)
}

// Service implements the conversation/message store.
type Service struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	keys          KeyStore
	hub           *Hub
	logger        zerolog.Logger
}

// NewService constructs a Service.
func NewService(conversations repositories.ConversationRepository, messages repositories.MessageRepository, keys KeyStore, hub *Hub, logger zerolog.Logger) *Service {
	return &Service{
		conversations: conversations,
		messages:      messages,
		keys:          keys,
		hub:           hub,
		logger:        logger,
	}
}

// CreateConversation creates a conversation between two users with the
// single key it will use for its entire lifetime pre-populated for both
// participants. Returns the new conversation id.
func (s *Service) CreateConversation(ctx context.Context, userA, userB, nameA, nameB string) (string, error) {
	conv := models.Conversation{
		ID:        uuid.NewString(),
		User1ID:   userA,
		User2ID:   userB,
		User1Name: nameA,
		User2Name: nameB,
	}
	if err := s.conversations.CreateConversation(ctx, conv); err != nil {
		return "", err
	}

	if _, err := s.keys.Provision(ctx, conv.ID, conv.Participants()); err != nil {
		// The record exists but holds no keys; a later LoadKey treats it
		// as a legacy conversation and migrates. Surface the failure.
		return "", fmt.Errorf("provision conversation key: %w", err)
	}

	s.hub.NotifyUsers(userA, userB)
	return conv.ID, nil
}

// FindConversation returns the id of the existing conversation between
// the two users, or ErrConversationNotFound. Linear scan over userA's
// conversations; acceptable at 1:1-chat scale.
func (s *Service) FindConversation(ctx context.Context, userA, userB string) (string, error) {
	convs, err := s.conversations.ListConversationsFor(ctx, userA)
	if err != nil {
		return "", err
	}
	for _, conv := range convs {
		if conv.HasParticipant(userB) {
			return conv.ID, nil
		}
	}
	return "", ErrConversationNotFound
}

// GetConversation fetches a conversation and verifies the caller is a
// participant.
func (s *Service) GetConversation(ctx context.Context, conversationID, userID string) (models.Conversation, error) {
	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, err
	}
	if !conv.HasParticipant(userID) {
		return models.Conversation{}, ErrNotParticipant
	}
	return conv, nil
}

// Summaries lists the user's conversations with peer names and unread
// counts, most recently active first.
func (s *Service) Summaries(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	return s.conversations.ListSummariesFor(ctx, userID)
}

// SendMessage encrypts plaintext under the conversation key resolved for
// userID and appends it. The conversation's last-activity timestamp is
// bumped and the other participant's unread counter incremented. If no
// key can be resolved the send fails; plaintext is never persisted as a
// fallback.
func (s *Service) SendMessage(ctx context.Context, conversationID, senderID, plaintext, userID string) error {
	conv, err := s.GetConversation(ctx, conversationID, senderID)
	if err != nil {
		return err
	}

	key, err := s.keys.LoadKey(ctx, conversationID, userID)
	if err != nil {
		return fmt.Errorf("resolve conversation key: %w", err)
	}

	ciphertext, err := crypto.Encrypt(plaintext, key)
	if err != nil {
		return fmt.Errorf("encrypt message: %w", err)
	}

	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Ciphertext:     ciphertext,
	}
	if _, err := s.messages.AppendMessage(ctx, msg); err != nil {
		return err
	}

	if err := s.conversations.TouchLastMessage(ctx, conversationID); err != nil {
		return err
	}
	peerID, _ := conv.PeerOf(senderID)
	if err := s.conversations.IncrementUnread(ctx, conversationID, peerID); err != nil {
		return err
	}

	observability.IncMessageSent()
	s.hub.NotifyConversation(conversationID)
	s.hub.NotifyUsers(conv.User1ID, conv.User2ID)
	return nil
}

// Messages returns the conversation's messages decrypted for userID, in
// ascending timestamp order. Messages that fail authentication are
// dropped from the result and logged; one bad message never blocks the
// rest of the conversation.
func (s *Service) Messages(ctx context.Context, conversationID, userID string) ([]models.DecryptedMessage, error) {
	if _, err := s.GetConversation(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	key, err := s.keys.LoadKey(ctx, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve conversation key: %w", err)
	}

	msgs, err := s.messages.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	decrypted := make([]models.DecryptedMessage, 0, len(msgs))
	for _, msg := range msgs {
		text, err := crypto.Decrypt(msg.Ciphertext, key)
		if err != nil {
			observability.IncDecryptFailure()
			s.logger.Warn().
				Str("conversation_id", conversationID).
				Str("message_id", msg.ID).
				Err(err).
				Msg("dropping undecryptable message")
			continue
		}
		decrypted = append(decrypted, models.DecryptedMessage{
			ID:             msg.ID,
			ConversationID: msg.ConversationID,
			SenderID:       msg.SenderID,
			Text:           text,
			Read:           msg.Read,
			CreatedAt:      msg.CreatedAt,
		})
	}
	return decrypted, nil
}

// MarkMessagesAsRead flips read=true on every message not sent by the
// user and resets the user's unread counter. A batch of independent
// writes, not a transaction: a failure mid-sweep leaves some messages
// flipped and the counter untouched.
func (s *Service) MarkMessagesAsRead(ctx context.Context, conversationID, userID string) error {
	conv, err := s.GetConversation(ctx, conversationID, userID)
	if err != nil {
		return err
	}

	unread, err := s.messages.ListUnreadFromOthers(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	for _, msg := range unread {
		if err := s.messages.MarkRead(ctx, msg.ID); err != nil {
			return fmt.Errorf("mark message %s read: %w", msg.ID, err)
		}
	}
	if err := s.conversations.ResetUnread(ctx, conversationID, userID); err != nil {
		return err
	}

	s.hub.NotifyConversation(conversationID)
	s.hub.NotifyUsers(conv.User1ID, conv.User2ID)
	return nil
}

// SubscribeToMessages delivers the full ordered decrypted message list to
// fn immediately and again after every conversation change. A tick whose
// key resolution fails delivers nothing and is logged. The returned
// handle releases the subscription; callers must invoke it when done.
func (s *Service) SubscribeToMessages(ctx context.Context, conversationID, userID string, fn func([]models.DecryptedMessage)) (func(), error) {
	if _, err := s.GetConversation(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	deliver := func() {
		msgs, err := s.Messages(ctx, conversationID, userID)
		if err != nil {
			s.logger.Warn().
				Str("conversation_id", conversationID).
				Str("user_id", userID).
				Err(err).
				Msg("message subscription tick failed")
			return
		}
		fn(msgs)
	}

	unsubscribe := s.hub.SubscribeConversation(conversationID, deliver)
	observability.IncSubscriptions("messages")
	deliver()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			observability.DecSubscriptions("messages")
		})
	}, nil
}

// SubscribeToConversations delivers the user's conversation summaries
// immediately and again whenever any of their conversations changes.
func (s *Service) SubscribeToConversations(ctx context.Context, userID string, fn func([]models.ConversationSummary)) func() {
	deliver := func() {
		summaries, err := s.conversations.ListSummariesFor(ctx, userID)
		if err != nil {
			s.logger.Warn().Str("user_id", userID).Err(err).Msg("conversation subscription tick failed")
			return
		}
		fn(summaries)
	}

	unsubscribe := s.hub.SubscribeUser(userID, deliver)
	observability.IncSubscriptions("conversations")
	deliver()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			observability.DecSubscriptions("conversations")
		})
	}
}
