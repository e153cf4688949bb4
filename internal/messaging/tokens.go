package messaging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/mdp/qrterminal/v3"
)

// TerminalTokenSender prints reset tokens to the operator terminal, both as
// text and as a QR code for easy transfer to a phone. This is the delivery
// channel for local and single-operator deployments without Twilio.
type TerminalTokenSender struct {
	mu  sync.Mutex
	out io.Writer
}

// NewTerminalTokenSender creates a terminal sender. A nil writer defaults
// to stdout.
func NewTerminalTokenSender(out io.Writer) *TerminalTokenSender {
	if out == nil {
		out = os.Stdout
	}
	return &TerminalTokenSender{out: out}
}

func (s *TerminalTokenSender) SendResetToken(ctx context.Context, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.out, "Password reset token for user %s: %s\n", userID, token); err != nil {
		return err
	}
	qrterminal.GenerateHalfBlock(token, qrterminal.L, s.out)
	slog.Info("Reset token printed to terminal", "userID", userID)
	return nil
}

// ChainTokenSender tries each sender in order until one succeeds. It lets a
// deployment prefer SMS and fall back to the terminal when a user has no
// phone number on file.
type ChainTokenSender struct {
	senders []TokenSender
}

func NewChainTokenSender(senders ...TokenSender) *ChainTokenSender {
	return &ChainTokenSender{senders: senders}
}

func (c *ChainTokenSender) SendResetToken(ctx context.Context, userID, token string) error {
	var lastErr error
	for _, s := range c.senders {
		err := s.SendResetToken(ctx, userID, token)
		if err == nil {
			return nil
		}
		slog.Warn("Token sender failed, trying next", "error", err, "userID", userID)
		lastErr = err
	}
	if lastErr == nil {
		return fmt.Errorf("no token senders configured")
	}
	return lastErr
}
