package messaging

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/gramgate/gramgate/internal/attempt"
	"github.com/gramgate/gramgate/internal/authflow"
	"github.com/gramgate/gramgate/internal/models"
)

const (
	helpText = `GramGate commands:
/register - link your Instagram account
/login - log in to your linked account
/logout - log out
/reset - reset your stored password
/delete - delete your account and stored credentials
/help - show this help`

	msgRateLimited         = "You're sending messages too quickly. Please wait a moment."
	msgTokenDeliveryFailed = "The reset token could not be delivered. Please try /reset again later."
	msgUnknownCommand      = "Unknown command. Send /help to see what I can do."
)

// Dispatcher reads inbound messages from a transport, rate limits them,
// routes commands and free text to the auth service, and sends replies
// back. Reset tokens are handed to the token sender, never to the chat.
type Dispatcher struct {
	transport Service
	auth      *authflow.Service
	limiter   attempt.RateLimiter
	sender    TokenSender
	wg        sync.WaitGroup
}

// NewDispatcher wires a dispatcher. The limiter and sender may be nil; a
// nil sender drops reset tokens, so only set it nil in tests.
func NewDispatcher(transport Service, auth *authflow.Service, limiter attempt.RateLimiter, sender TokenSender) *Dispatcher {
	return &Dispatcher{transport: transport, auth: auth, limiter: limiter, sender: sender}
}

// Run consumes inbound messages until the context is cancelled or the
// transport closes its channel. Each message is handled on its own
// goroutine; per-user ordering is enforced downstream by the auth engine.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("Dispatcher running")
	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return ctx.Err()
		case resp, ok := <-d.transport.Responses():
			if !ok {
				d.wg.Wait()
				slog.Info("Transport closed, dispatcher exiting")
				return nil
			}
			d.wg.Add(1)
			go func(resp models.Response) {
				defer d.wg.Done()
				d.handle(ctx, resp)
			}(resp)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, resp models.Response) {
	userID := resp.From
	slog.Debug("Inbound message", "userID", userID, "length", len(resp.Body))

	if d.limiter != nil {
		allowed, err := d.limiter.Allow(ctx, userID)
		if err != nil {
			slog.Error("Rate limiter check failed", "error", err, "userID", userID)
		} else if !allowed {
			d.send(ctx, userID, msgRateLimited)
			return
		}
	}

	body := strings.TrimSpace(resp.Body)
	var reply models.Reply
	if strings.HasPrefix(body, "/") {
		reply = d.handleCommand(ctx, userID, body)
	} else {
		reply = d.auth.HandleReply(ctx, userID, resp.Body)
	}
	if reply.Text != "" {
		d.send(ctx, userID, reply.Text)
	}
}

func (d *Dispatcher) handleCommand(ctx context.Context, userID, body string) models.Reply {
	// Telegram group syntax appends the bot name: /register@SomeBot.
	cmd := strings.ToLower(strings.Fields(body)[0])
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}

	switch cmd {
	case "/start", "/help":
		return models.Reply{Text: helpText}
	case "/register":
		return d.auth.BeginRegistration(ctx, userID)
	case "/login":
		return d.auth.BeginLogin(ctx, userID)
	case "/logout":
		return d.auth.Logout(ctx, userID)
	case "/reset":
		return d.deliverResetToken(ctx, userID, d.auth.BeginReset(ctx, userID))
	case "/delete":
		return d.auth.DeleteAccount(ctx, userID)
	default:
		return models.Reply{Text: msgUnknownCommand}
	}
}

// deliverResetToken hands a freshly issued token to the out-of-band sender
// and strips it from the chat reply.
func (d *Dispatcher) deliverResetToken(ctx context.Context, userID string, reply models.Reply) models.Reply {
	if reply.ResetToken == "" {
		return reply
	}
	token := reply.ResetToken
	reply.ResetToken = ""
	if d.sender == nil {
		slog.Error("No token sender configured, dropping reset token", "userID", userID)
		return models.Reply{Text: msgTokenDeliveryFailed, Terminal: true}
	}
	if err := d.sender.SendResetToken(ctx, userID, token); err != nil {
		slog.Error("Reset token delivery failed", "error", err, "userID", userID)
		return models.Reply{Text: msgTokenDeliveryFailed, Terminal: true}
	}
	return reply
}

func (d *Dispatcher) send(ctx context.Context, userID, text string) {
	if err := d.transport.SendMessage(ctx, userID, text); err != nil {
		slog.Error("Failed to send reply", "error", err, "userID", userID)
	}
}
