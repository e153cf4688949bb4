package messaging

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalTokenSenderPrintsTokenAndQR(t *testing.T) {
	var buf bytes.Buffer
	sender := NewTerminalTokenSender(&buf)

	err := sender.SendResetToken(context.Background(), "tg-1", "deadbeefcafebabe")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "tg-1")
	assert.Contains(t, out, "deadbeefcafebabe")
	// The QR rendering follows the plain text line.
	assert.Greater(t, len(out), len("Password reset token for user tg-1: deadbeefcafebabe\n"))
}

func TestChainTokenSenderFallsBack(t *testing.T) {
	failing := newFakeTokenSender()
	failing.err = assert.AnError
	working := newFakeTokenSender()

	chain := NewChainTokenSender(failing, working)
	err := chain.SendResetToken(context.Background(), "tg-1", "token-123")
	require.NoError(t, err)
	assert.Equal(t, "token-123", working.tokenFor("tg-1"))
}

func TestChainTokenSenderAllFail(t *testing.T) {
	a := newFakeTokenSender()
	a.err = assert.AnError
	b := newFakeTokenSender()
	b.err = assert.AnError

	chain := NewChainTokenSender(a, b)
	err := chain.SendResetToken(context.Background(), "tg-1", "token-123")
	require.Error(t, err)
}

func TestChainTokenSenderEmpty(t *testing.T) {
	chain := NewChainTokenSender()
	err := chain.SendResetToken(context.Background(), "tg-1", "token-123")
	require.Error(t, err)
}
