package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	m, err := NewManager("test-secret", time.Hour)
	require.NoError(t, err)

	token, err := m.Issue("tg-1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	userID, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "tg-1", userID)
}

func TestEmptySecretRejected(t *testing.T) {
	_, err := NewManager("", time.Hour)
	require.Error(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	m, err := NewManager("test-secret", -time.Minute)
	require.NoError(t, err)
	// Negative ttl falls back to the default, so force expiry directly.
	m.ttl = -time.Minute

	token, err := m.Issue("tg-1")
	require.NoError(t, err)

	_, err = m.Verify(token)
	require.Error(t, err)
}

func TestWrongSecretRejected(t *testing.T) {
	issuer, err := NewManager("secret-a", time.Hour)
	require.NoError(t, err)
	verifier, err := NewManager("secret-b", time.Hour)
	require.NoError(t, err)

	token, err := issuer.Issue("tg-1")
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	require.Error(t, err)
}

func TestTamperedTokenRejected(t *testing.T) {
	m, err := NewManager("test-secret", time.Hour)
	require.NoError(t, err)

	token, err := m.Issue("tg-1")
	require.NoError(t, err)

	tampered := token[:len(token)-2] + "xx"
	_, err = m.Verify(tampered)
	require.Error(t, err)
}

func TestTokensAreUnique(t *testing.T) {
	m, err := NewManager("test-secret", time.Hour)
	require.NoError(t, err)

	a, err := m.Issue("tg-1")
	require.NoError(t, err)
	b, err := m.Issue("tg-1")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
