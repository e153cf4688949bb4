package authflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gramgate/gramgate/internal/models"
	"github.com/gramgate/gramgate/internal/session"
)

// Service-level user-facing text for conditions the engine reports as errors.
const (
	msgAlreadyRegistered = "You are already registered. Use /login to log in."
	msgNotRegistered     = "You are not registered yet. Use /register to get started."
	msgNotAuthenticated  = "Please log in first with /login."
	msgBlockedFmt        = "Too many failed attempts. Try again in %d minutes."
	msgTransient         = "Instagram is not reachable right now. Please try again in a moment."
	msgIntegrity         = "Your stored credentials could not be read. Use /reset to set a new password."
	msgInternal          = "Something went wrong. Please try again."
)

// Service is the façade the transport layer talks to. It delegates dialog
// logic to the engine, converts every error into user-safe reply text, and
// issues a signed session token when a dialog completes a login.
type Service struct {
	engine *Engine
	tokens *session.Manager
	now    func() time.Time
}

// NewService wraps an engine. The token manager may be nil, in which case
// no session tokens are issued.
func NewService(engine *Engine, tokens *session.Manager) *Service {
	return &Service{engine: engine, tokens: tokens, now: time.Now}
}

func (s *Service) BeginRegistration(ctx context.Context, userID string) models.Reply {
	r, err := s.engine.BeginRegistration(ctx, userID)
	return s.finish(userID, r, err)
}

func (s *Service) BeginLogin(ctx context.Context, userID string) models.Reply {
	r, err := s.engine.BeginLogin(ctx, userID)
	return s.finish(userID, r, err)
}

func (s *Service) BeginReset(ctx context.Context, userID string) models.Reply {
	r, err := s.engine.BeginReset(ctx, userID)
	return s.finish(userID, r, err)
}

func (s *Service) HandleReply(ctx context.Context, userID, text string) models.Reply {
	r, err := s.engine.HandleMessage(ctx, userID, text)
	return s.finish(userID, r, err)
}

func (s *Service) Logout(ctx context.Context, userID string) models.Reply {
	r, err := s.engine.Logout(ctx, userID)
	return s.finish(userID, r, err)
}

func (s *Service) DeleteAccount(ctx context.Context, userID string) models.Reply {
	r, err := s.engine.DeleteAccount(ctx, userID)
	return s.finish(userID, r, err)
}

// Credentials returns the decrypted Instagram credentials for an
// authenticated user. Unlike the dialog methods it surfaces errors, since
// callers are programmatic rather than chat users.
func (s *Service) Credentials(ctx context.Context, userID string) (username, password string, err error) {
	return s.engine.Credentials(ctx, userID)
}

// finish converts engine errors into reply text and attaches a session
// token to successful logins.
func (s *Service) finish(userID string, r models.Reply, err error) models.Reply {
	if err == nil {
		if r.Authenticated && s.tokens != nil {
			token, terr := s.tokens.Issue(userID)
			if terr != nil {
				slog.Error("Failed to issue session token", "error", terr, "userID", userID)
			} else {
				r.SessionToken = token
			}
		}
		return r
	}

	var blocked *models.BlockedError
	switch {
	case errors.As(err, &blocked):
		minutes := int(blocked.Remaining(s.now()).Minutes()) + 1
		return models.Reply{Text: fmt.Sprintf(msgBlockedFmt, minutes), Terminal: true}
	case errors.Is(err, models.ErrAlreadyRegistered):
		return models.Reply{Text: msgAlreadyRegistered, Terminal: true}
	case errors.Is(err, models.ErrNotRegistered):
		return models.Reply{Text: msgNotRegistered, Terminal: true}
	case errors.Is(err, models.ErrNotAuthenticated):
		return models.Reply{Text: msgNotAuthenticated, Terminal: true}
	case errors.Is(err, models.ErrTransient):
		slog.Warn("Transient failure in auth flow", "error", err, "userID", userID)
		return models.Reply{Text: msgTransient}
	case errors.Is(err, models.ErrIntegrity):
		slog.Error("Credential integrity failure", "error", err, "userID", userID)
		return models.Reply{Text: msgIntegrity, Terminal: true}
	default:
		slog.Error("Auth flow failed", "error", err, "userID", userID)
		return models.Reply{Text: msgInternal, Terminal: true}
	}
}
