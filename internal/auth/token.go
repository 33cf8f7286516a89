// Package auth verifies bearer tokens for the messaging API. The
// in-repo implementation is an HMAC-signed session token so the service
// runs standalone; deployments fronted by a real identity provider swap
// in their own Verifier.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Verifier resolves a bearer token to a user id.
type Verifier interface {
	Verify(token string) (string, error)
}

// HMACVerifier verifies tokens of the form userID.expiryUnix.signature,
// where signature = hex(HMAC-SHA256(secret, userID.expiryUnix)).
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier constructs a verifier from a shared secret.
func NewHMACVerifier(secret string) (*HMACVerifier, error) {
	if secret == "" {
		return nil, errors.New("auth secret is empty")
	}
	return &HMACVerifier{secret: []byte(secret)}, nil
}

// Mint issues a token for userID valid for ttl. Used by tests and local
// tooling; production tokens come from the identity provider.
func (v *HMACVerifier) Mint(userID string, ttl time.Duration) string {
	expiry := strconv.FormatInt(time.Now().Add(ttl).Unix(), 10)
	payload := userID + "." + expiry
	return payload + "." + v.sign(payload)
}

// Verify implements Verifier.
func (v *HMACVerifier) Verify(token string) (string, error) {
	i := strings.LastIndex(token, ".")
	if i < 0 {
		return "", ErrInvalidToken
	}
	payload, signature := token[:i], token[i+1:]
	if !hmac.Equal([]byte(v.sign(payload)), []byte(signature)) {
		return "", ErrInvalidToken
	}

	j := strings.LastIndex(payload, ".")
	if j < 0 {
		return "", ErrInvalidToken
	}
	userID, expiryStr := payload[:j], payload[j+1:]
	if userID == "" {
		return "", ErrInvalidToken
	}
	expiry, err := strconv.ParseInt(expiryStr, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: bad expiry", ErrInvalidToken)
	}
	if time.Now().Unix() > expiry {
		return "", ErrTokenExpired
	}
	return userID, nil
}

func (v *HMACVerifier) sign(payload string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

var _ Verifier = (*HMACVerifier)(nil)
