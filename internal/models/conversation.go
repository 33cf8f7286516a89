package models

import (
	"errors"
	"time"
)

// Conversation is a private conversation between exactly two users. The
// per-user key copies and unread counters live in sibling tables keyed by
// (conversation_id, user_id); see the repositories package.
type Conversation struct {
	ID            string    `db:"id" json:"id"`
	User1ID       string    `db:"user1_id" json:"user1_id"`
	User2ID       string    `db:"user2_id" json:"user2_id"`
	User1Name     string    `db:"user1_name" json:"user1_name"`
	User2Name     string    `db:"user2_name" json:"user2_name"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	LastMessageAt time.Time `db:"last_message_at" json:"last_message_at"`
}

// ConversationSummary is the API-friendly view of a conversation for one
// participant.
type ConversationSummary struct {
	ConversationID string    `json:"conversation_id"`
	PeerID         string    `json:"peer_id"`
	PeerName       string    `json:"peer_name"`
	Unread         int       `json:"unread"`
	LastMessageAt  time.Time `json:"last_message_at"`
}

// Validate checks the invariants enforced at the store boundary.
func (c Conversation) Validate() error {
	if c.ID == "" {
		return errors.New("conversation id is required")
	}
	if c.User1ID == "" || c.User2ID == "" {
		return errors.New("conversation requires two participants")
	}
	if c.User1ID == c.User2ID {
		return errors.New("conversation participants must differ")
	}
	return nil
}

// HasParticipant reports whether userID is one of the two participants.
func (c Conversation) HasParticipant(userID string) bool {
	return c.User1ID == userID || c.User2ID == userID
}

// Participants returns both participant ids.
func (c Conversation) Participants() []string {
	return []string{c.User1ID, c.User2ID}
}

// PeerOf returns the other participant's id and display name.
func (c Conversation) PeerOf(userID string) (string, string) {
	if c.User1ID == userID {
		return c.User2ID, c.User2Name
	}
	return c.User1ID, c.User1Name
}
