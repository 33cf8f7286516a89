package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintVerifyRoundTrip(t *testing.T) {
	verifier, err := NewHMACVerifier("test-secret")
	require.NoError(t, err)

	token := verifier.Mint("user-123", time.Hour)

	userID, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", userID)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	verifier, err := NewHMACVerifier("test-secret")
	require.NoError(t, err)

	token := verifier.Mint("user-123", -time.Minute)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	verifier, err := NewHMACVerifier("test-secret")
	require.NoError(t, err)

	token := verifier.Mint("user-123", time.Hour)
	tampered := strings.Replace(token, "user-123", "user-666", 1)

	_, err = verifier.Verify(tampered)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	minter, err := NewHMACVerifier("secret-a")
	require.NoError(t, err)
	verifier, err := NewHMACVerifier("secret-b")
	require.NoError(t, err)

	_, err = verifier.Verify(minter.Mint("user-123", time.Hour))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	verifier, err := NewHMACVerifier("test-secret")
	require.NoError(t, err)

	for _, token := range []string{"", "no-dots", "a.b", "user..sig"} {
		_, err := verifier.Verify(token)
		assert.Error(t, err, "token %q", token)
	}
}

func TestEmptySecretRejected(t *testing.T) {
	_, err := NewHMACVerifier("")
	assert.Error(t, err)
}
