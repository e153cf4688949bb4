// Package messaging provides chat transports and the dispatcher that routes
// inbound messages to the auth service.
package messaging

import (
	"context"

	"github.com/gramgate/gramgate/internal/models"
)

// Service is a chat transport. Implementations deliver outbound text to a
// user and surface inbound messages on the Responses channel.
type Service interface {
	// Start begins receiving messages. It returns once receiving is up;
	// delivery happens on background goroutines until Stop.
	Start(ctx context.Context) error
	// Stop shuts the transport down and closes the Responses channel.
	Stop(ctx context.Context) error
	// SendMessage delivers text to the given user id.
	SendMessage(ctx context.Context, to, body string) error
	// Responses returns the channel of inbound messages.
	Responses() <-chan models.Response
}

// TokenSender delivers a password reset token to a user outside the chat
// channel, so the token never appears in the conversation transcript.
type TokenSender interface {
	SendResetToken(ctx context.Context, userID, token string) error
}
