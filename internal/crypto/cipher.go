package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeyBytes is the symmetric key size for XChaCha20-Poly1305.
	KeyBytes = chacha20poly1305.KeySize
	// NonceBytes is the extended 24-byte nonce size.
	NonceBytes = chacha20poly1305.NonceSizeX
)

var (
	// ErrInvalidKey indicates the supplied key is not a valid 256-bit key.
	ErrInvalidKey = errors.New("invalid key: must be 32 bytes")
	// ErrAuthentication indicates the ciphertext failed AEAD verification
	// (wrong key, or the stored data was corrupted or tampered with).
	ErrAuthentication = errors.New("ciphertext authentication failed")
	// ErrMalformedCiphertext indicates the encoded payload could not be
	// decoded or is too short to contain a nonce and tag.
	ErrMalformedCiphertext = errors.New("malformed ciphertext")
)

// GenerateKey returns a fresh 256-bit key from a cryptographically secure
// random source.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeyBytes)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext with XChaCha20-Poly1305 under a fresh random
// nonce and returns base64(nonce || ciphertext || tag). A new nonce is
// drawn on every call; nonces are never reused under the same key.
func Encrypt(plaintext string, key []byte) (string, error) {
	if len(key) != KeyBytes {
		return "", ErrInvalidKey
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	nonce := make([]byte, NonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt splits the nonce off a base64 payload produced by Encrypt and
// opens it. A failed authentication tag means the data was tampered with
// or sealed under a different key; callers must treat the message as
// unreadable rather than fall back to partial plaintext.
func Decrypt(encoded string, key []byte) (string, error) {
	if len(key) != KeyBytes {
		return "", ErrInvalidKey
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrMalformedCiphertext
	}
	if len(sealed) < NonceBytes+chacha20poly1305.Overhead {
		return "", ErrMalformedCiphertext
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	nonce, ciphertext := sealed[:NonceBytes], sealed[NonceBytes:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrAuthentication
	}
	return string(plaintext), nil
}

// EncodeKey renders a key in the base64 form stored in the shared
// conversation record and the local secure store.
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// DecodeKey parses a stored base64 key and validates its length.
func DecodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidKey
	}
	if len(key) != KeyBytes {
		return nil, ErrInvalidKey
	}
	return key, nil
}
