package models

import (
	"errors"
	"time"
)

// Message is a stored chat message. Ciphertext is the base64
// nonce||ciphertext||tag payload produced by the cipher wrapper; plaintext
// never reaches the store.
type Message struct {
	ID             string    `db:"id" json:"id"`
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	SenderID       string    `db:"sender_id" json:"sender_id"`
	Ciphertext     string    `db:"ciphertext" json:"ciphertext"`
	Read           bool      `db:"read" json:"read"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// DecryptedMessage is a message after the read path has opened its
// payload. It only ever exists in memory on its way to a subscriber.
type DecryptedMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Text           string    `json:"text"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}

// Validate checks the invariants enforced at the store boundary.
func (m Message) Validate() error {
	if m.ID == "" {
		return errors.New("message id is required")
	}
	if m.ConversationID == "" {
		return errors.New("message conversation id is required")
	}
	if m.SenderID == "" {
		return errors.New("message sender id is required")
	}
	if m.Ciphertext == "" {
		return errors.New("message ciphertext is required")
	}
	return nil
}
