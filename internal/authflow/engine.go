package authflow

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gramgate/gramgate/internal/attempt"
	"github.com/gramgate/gramgate/internal/instagram"
	"github.com/gramgate/gramgate/internal/models"
	"github.com/gramgate/gramgate/internal/store"
	"github.com/gramgate/gramgate/internal/util"
	"github.com/gramgate/gramgate/internal/vault"
)

const (
	// MinPasswordLength is the minimum accepted password length.
	MinPasswordLength = 8

	// ResetTokenBytes is the entropy of a reset token; it renders as twice
	// as many hex characters.
	ResetTokenBytes = 16

	// DefaultResetTokenTTL bounds how long an issued reset token stays valid.
	DefaultResetTokenTTL = 15 * time.Minute

	// DefaultProviderTimeout bounds each Instagram call made mid-dialog.
	DefaultProviderTimeout = 20 * time.Second
)

// User-facing dialog text.
const (
	promptUsername    = "Please enter your Instagram username:"
	promptConfirmFmt  = "Confirm Instagram username: %s? (Yes/No)"
	promptPassword    = "Please enter your Instagram password:"
	promptToken       = "A password reset token has been sent to you. Please enter the token:"
	promptNewPassword = "Please enter your new Instagram password:"

	msgInvalidUsername    = "That doesn't look like a valid Instagram username. Use 3-30 letters, numbers, dots or underscores."
	msgProfileNotFound    = "No Instagram profile found with that username."
	msgLoginFailedFmt     = "Login failed. Attempt %d/%d. Please try again:"
	msgRegistered         = "Registration complete. Use /login to log in."
	msgRegistrationAbort  = "Registration cancelled."
	msgLoggedIn           = "Login successful. Welcome back!"
	msgResetDone          = "Password reset complete."
	msgTokenMismatch      = "That token is not correct. Please enter the token:"
	msgTokenExpired       = "The reset token has expired. Use /reset to request a new one."
	msgPasswordTooShort   = "Password must be at least 8 characters."
	msgNoActiveFlow       = "Nothing in progress. Use /register, /login or /reset to get started."
	msgSessionExpired     = "The conversation timed out. Please start again."
	msgLoggedOut          = "You have been logged out."
	msgNotLoggedIn        = "You are not logged in."
	msgAccountDeleted     = "Your account and stored credentials have been deleted."
)

// Engine drives the multi-step authentication dialogs. One inbound message
// advances at most one stage; invalid input re-prompts without advancing.
type Engine struct {
	store       store.Store
	vault       *vault.Vault
	provider    instagram.Client
	policy      attempt.Policy
	sessions    *SessionStore
	maxAttempts int

	resetTTL        time.Duration
	providerTimeout time.Duration
	now             func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithIdleTimeout sets how long a dialog may sit idle before it is dropped.
func WithIdleTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.sessions = NewSessionStore(d) }
}

// WithMaxAttempts sets the per-dialog failure ceiling.
func WithMaxAttempts(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithResetTokenTTL sets the reset token lifetime.
func WithResetTokenTTL(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.resetTTL = d
		}
	}
}

// WithProviderTimeout bounds each call to the Instagram client.
func WithProviderTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.providerTimeout = d
		}
	}
}

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine wires the engine to its collaborators.
func NewEngine(s store.Store, v *vault.Vault, provider instagram.Client, policy attempt.Policy, opts ...EngineOption) *Engine {
	e := &Engine{
		store:           s,
		vault:           v,
		provider:        provider,
		policy:          policy,
		sessions:        NewSessionStore(DefaultIdleTimeout),
		maxAttempts:     attempt.DefaultThreshold,
		resetTTL:        DefaultResetTokenTTL,
		providerTimeout: DefaultProviderTimeout,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BeginRegistration starts the registration dialog. The user record is
// created on first contact.
func (e *Engine) BeginRegistration(ctx context.Context, userID string) (models.Reply, error) {
	release := e.sessions.Acquire(userID)
	defer release()

	u, err := e.store.CreateUser(userID)
	if err != nil {
		return models.Reply{}, fmt.Errorf("begin registration: %w", err)
	}
	if u.IsRegistered {
		return models.Reply{}, models.ErrAlreadyRegistered
	}

	e.sessions.Start(userID, models.FlowRegistration, models.StageAwaitingUsername, e.now())
	slog.Info("Registration flow started", "userID", userID)
	return models.Reply{Text: promptUsername}, nil
}

// BeginLogin starts the login dialog. Calling it again discards any
// half-finished dialog and prompts afresh.
func (e *Engine) BeginLogin(ctx context.Context, userID string) (models.Reply, error) {
	release := e.sessions.Acquire(userID)
	defer release()

	u, err := e.store.GetUser(userID)
	if err != nil {
		return models.Reply{}, fmt.Errorf("begin login: %w", err)
	}
	if u == nil || !u.IsRegistered {
		return models.Reply{}, models.ErrNotRegistered
	}

	e.sessions.Start(userID, models.FlowLogin, models.StageAwaitingUsername, e.now())
	slog.Info("Login flow started", "userID", userID)
	return models.Reply{Text: promptUsername}, nil
}

// BeginReset starts the password reset dialog. A fresh single-use token is
// generated and persisted; the caller is responsible for delivering
// Reply.ResetToken to the user out of band.
func (e *Engine) BeginReset(ctx context.Context, userID string) (models.Reply, error) {
	release := e.sessions.Acquire(userID)
	defer release()

	u, err := e.store.GetUser(userID)
	if err != nil {
		return models.Reply{}, fmt.Errorf("begin reset: %w", err)
	}
	if u == nil || !u.IsRegistered {
		return models.Reply{}, models.ErrNotRegistered
	}

	token, err := util.GenerateSecureToken(ResetTokenBytes)
	if err != nil {
		return models.Reply{}, fmt.Errorf("begin reset: %w", err)
	}
	now := e.now()
	if err := e.store.SaveResetToken(models.ResetToken{
		UserID:    userID,
		Token:     token,
		ExpiresAt: now.Add(e.resetTTL),
		CreatedAt: now,
	}); err != nil {
		return models.Reply{}, fmt.Errorf("begin reset: %w", err)
	}

	e.sessions.Start(userID, models.FlowReset, models.StageAwaitingToken, now)
	slog.Info("Password reset flow started", "userID", userID, "token_ttl", e.resetTTL)
	return models.Reply{Text: promptToken, ResetToken: token}, nil
}

// HandleMessage advances the user's active dialog with one inbound message.
func (e *Engine) HandleMessage(ctx context.Context, userID, text string) (models.Reply, error) {
	release := e.sessions.Acquire(userID)
	defer release()

	st := e.sessions.Get(userID)
	if st == nil {
		return models.Reply{Text: msgNoActiveFlow}, nil
	}
	now := e.now()
	if st.Expired(now, e.sessions.IdleTimeout()) {
		e.sessions.Delete(userID)
		slog.Info("Conversation expired", "userID", userID, "flow", st.Flow)
		return models.Reply{Text: msgSessionExpired, Terminal: true}, nil
	}
	st.Touch(now)

	slog.Debug("Handling dialog message", "userID", userID, "flow", st.Flow, "stage", st.Stage)
	switch st.Flow {
	case models.FlowRegistration:
		return e.handleRegistration(ctx, st, text)
	case models.FlowLogin:
		return e.handleLogin(ctx, st, text)
	case models.FlowReset:
		return e.handleReset(ctx, st, text)
	default:
		e.sessions.Delete(userID)
		return models.Reply{}, fmt.Errorf("unknown flow %q for user %s", st.Flow, userID)
	}
}

func (e *Engine) handleRegistration(ctx context.Context, st *models.ConversationState, text string) (models.Reply, error) {
	switch st.Stage {
	case models.StageAwaitingUsername:
		username, err := instagram.ValidateUsername(text)
		if err != nil {
			return models.Reply{Text: msgInvalidUsername + "\n" + promptUsername}, nil
		}
		exists, err := e.callProfileExists(ctx, username)
		if err != nil {
			return models.Reply{}, err
		}
		if !exists {
			return models.Reply{Text: msgProfileNotFound + "\n" + promptUsername}, nil
		}
		st.Collected[models.DataKeyInstagramUsername] = username
		st.Stage = models.StageAwaitingConfirmation
		return models.Reply{Text: fmt.Sprintf(promptConfirmFmt, username)}, nil

	case models.StageAwaitingConfirmation:
		userID := st.UserID
		if !strings.EqualFold(strings.TrimSpace(text), "yes") {
			e.sessions.Delete(userID)
			slog.Info("Registration cancelled", "userID", userID)
			return models.Reply{Text: msgRegistrationAbort, Terminal: true}, nil
		}
		username := st.Collected[models.DataKeyInstagramUsername]
		if err := e.store.SetInstagramIdentity(userID, username); err != nil {
			return models.Reply{}, fmt.Errorf("linking identity for %s: %w", userID, err)
		}
		e.sessions.Delete(userID)
		slog.Info("Registration completed", "userID", userID, "instagramUsername", username)
		return models.Reply{Text: msgRegistered, Terminal: true}, nil

	default:
		return models.Reply{}, fmt.Errorf("unexpected registration stage %q for user %s", st.Stage, st.UserID)
	}
}

func (e *Engine) handleLogin(ctx context.Context, st *models.ConversationState, text string) (models.Reply, error) {
	switch st.Stage {
	case models.StageAwaitingUsername:
		username, err := instagram.ValidateUsername(text)
		if err != nil {
			return models.Reply{Text: msgInvalidUsername + "\n" + promptUsername}, nil
		}
		st.Collected[models.DataKeyInstagramUsername] = username
		st.Stage = models.StageAwaitingPassword
		return models.Reply{Text: promptPassword}, nil

	case models.StageAwaitingPassword:
		username := st.Collected[models.DataKeyInstagramUsername]
		return e.completeLogin(ctx, st, username, text)

	default:
		return models.Reply{}, fmt.Errorf("unexpected login stage %q for user %s", st.Stage, st.UserID)
	}
}

// completeLogin verifies a password against the provider and, on success,
// seals and persists the credential and records the authenticated username.
func (e *Engine) completeLogin(ctx context.Context, st *models.ConversationState, username, password string) (models.Reply, error) {
	userID := st.UserID
	if blockedErr := e.checkBlocked(ctx, userID); blockedErr != nil {
		e.sessions.Delete(userID)
		return models.Reply{}, blockedErr
	}

	ok, err := e.callLogin(ctx, username, password)
	if err != nil {
		return models.Reply{}, err
	}
	if !ok {
		return e.recordFailure(ctx, st)
	}

	ciphertext, salt, iterations, err := e.vault.Seal([]byte(password))
	if err != nil {
		return models.Reply{}, fmt.Errorf("sealing credential for %s: %w", userID, err)
	}
	if err := e.store.SetInstagramIdentity(userID, username); err != nil {
		return models.Reply{}, fmt.Errorf("linking identity for %s: %w", userID, err)
	}
	if err := e.store.SaveCredential(models.CredentialRecord{
		UserID:          userID,
		EncryptedSecret: ciphertext,
		KeySalt:         salt,
		KDFIterations:   iterations,
	}); err != nil {
		return models.Reply{}, fmt.Errorf("saving credential for %s: %w", userID, err)
	}
	if err := e.store.MarkAuthenticated(userID, e.now()); err != nil {
		return models.Reply{}, fmt.Errorf("marking %s authenticated: %w", userID, err)
	}
	if err := e.policy.RecordSuccess(ctx, userID); err != nil {
		slog.Error("Failed to clear attempt counter", "error", err, "userID", userID)
	}

	e.sessions.Delete(userID)
	slog.Info("Login succeeded", "userID", userID, "instagramUsername", username)
	return models.Reply{Text: msgLoggedIn, Terminal: true, Authenticated: true}, nil
}

func (e *Engine) handleReset(ctx context.Context, st *models.ConversationState, text string) (models.Reply, error) {
	userID := st.UserID
	switch st.Stage {
	case models.StageAwaitingToken:
		tok, err := e.store.GetResetToken(userID)
		if err != nil {
			return models.Reply{}, fmt.Errorf("loading reset token for %s: %w", userID, err)
		}
		if tok == nil || !tok.Valid(e.now()) {
			e.sessions.Delete(userID)
			slog.Info("Reset token no longer valid", "userID", userID)
			return models.Reply{Text: msgTokenExpired, Terminal: true}, nil
		}
		given := strings.TrimSpace(text)
		if subtle.ConstantTimeCompare([]byte(tok.Token), []byte(given)) != 1 {
			return models.Reply{Text: msgTokenMismatch}, nil
		}
		// The token is single-use. Burn it the moment it matches so a
		// second dialog can never redeem it, even if this one stalls.
		if err := e.store.ConsumeResetToken(userID); err != nil {
			return models.Reply{}, fmt.Errorf("consuming reset token for %s: %w", userID, err)
		}
		st.Stage = models.StageAwaitingNewPassword
		return models.Reply{Text: promptNewPassword}, nil

	case models.StageAwaitingNewPassword:
		if len(text) < MinPasswordLength {
			return models.Reply{Text: msgPasswordTooShort + "\n" + promptNewPassword}, nil
		}

		ciphertext, salt, iterations, err := e.vault.Seal([]byte(text))
		if err != nil {
			return models.Reply{}, fmt.Errorf("sealing credential for %s: %w", userID, err)
		}
		if err := e.store.SaveCredential(models.CredentialRecord{
			UserID:          userID,
			EncryptedSecret: ciphertext,
			KeySalt:         salt,
			KDFIterations:   iterations,
		}); err != nil {
			return models.Reply{}, fmt.Errorf("saving credential for %s: %w", userID, err)
		}
		if err := e.policy.RecordSuccess(ctx, userID); err != nil {
			slog.Error("Failed to clear attempt counter", "error", err, "userID", userID)
		}

		e.sessions.Delete(userID)
		slog.Info("Password reset completed", "userID", userID)
		return models.Reply{Text: msgResetDone, Terminal: true}, nil

	default:
		return models.Reply{}, fmt.Errorf("unexpected reset stage %q for user %s", st.Stage, userID)
	}
}

// Logout discards any active dialog and drops the authenticated flag.
func (e *Engine) Logout(ctx context.Context, userID string) (models.Reply, error) {
	release := e.sessions.Acquire(userID)
	defer release()
	e.sessions.Delete(userID)

	u, err := e.store.GetUser(userID)
	if err != nil {
		return models.Reply{}, fmt.Errorf("logout: %w", err)
	}
	if u == nil || !u.IsRegistered {
		return models.Reply{}, models.ErrNotRegistered
	}
	if !u.IsAuthenticated {
		return models.Reply{Text: msgNotLoggedIn, Terminal: true}, nil
	}
	if err := e.store.ClearAuthenticated(userID); err != nil {
		return models.Reply{}, fmt.Errorf("logout: %w", err)
	}
	slog.Info("User logged out", "userID", userID)
	return models.Reply{Text: msgLoggedOut, Terminal: true}, nil
}

// Credentials decrypts and returns the stored Instagram credentials. Only
// authenticated users may read them back.
func (e *Engine) Credentials(ctx context.Context, userID string) (username, password string, err error) {
	u, err := e.store.GetUser(userID)
	if err != nil {
		return "", "", fmt.Errorf("credentials: %w", err)
	}
	if u == nil || !u.IsRegistered {
		return "", "", models.ErrNotRegistered
	}
	if !u.IsAuthenticated {
		return "", "", models.ErrNotAuthenticated
	}
	rec, err := e.store.GetCredential(userID)
	if err != nil {
		return "", "", fmt.Errorf("credentials: %w", err)
	}
	if rec == nil {
		return "", "", fmt.Errorf("no credential stored for user %s", userID)
	}
	plaintext, err := e.vault.Open(rec.EncryptedSecret, rec.KeySalt, rec.KDFIterations)
	if err != nil {
		return "", "", err
	}
	return u.InstagramUsername, string(plaintext), nil
}

// DeleteAccount removes the user and everything stored about them.
func (e *Engine) DeleteAccount(ctx context.Context, userID string) (models.Reply, error) {
	release := e.sessions.Acquire(userID)
	defer release()
	e.sessions.Delete(userID)

	if err := e.store.DeleteUser(userID); err != nil {
		return models.Reply{}, fmt.Errorf("delete account: %w", err)
	}
	if err := e.policy.RecordSuccess(ctx, userID); err != nil {
		slog.Error("Failed to clear attempt counter", "error", err, "userID", userID)
	}
	slog.Info("Account deleted", "userID", userID)
	return models.Reply{Text: msgAccountDeleted, Terminal: true}, nil
}

// checkBlocked returns a BlockedError if the user is under a cool-down.
// A policy backend outage is logged and treated as not blocked.
func (e *Engine) checkBlocked(ctx context.Context, userID string) error {
	blocked, until, err := e.policy.IsBlocked(ctx, userID)
	if err != nil {
		slog.Error("Attempt policy check failed", "error", err, "userID", userID)
		return nil
	}
	if blocked {
		return &models.BlockedError{UserID: userID, Until: until}
	}
	return nil
}

func (e *Engine) recordFailure(ctx context.Context, st *models.ConversationState) (models.Reply, error) {
	userID := st.UserID
	st.Attempts++
	nowBlocked, err := e.policy.RecordFailure(ctx, userID)
	if err != nil {
		slog.Error("Failed to record login failure", "error", err, "userID", userID)
	}
	slog.Info("Login attempt failed", "userID", userID, "attempt", st.Attempts, "blocked", nowBlocked)
	if nowBlocked {
		e.sessions.Delete(userID)
		_, until, berr := e.policy.IsBlocked(ctx, userID)
		if berr != nil {
			slog.Error("Attempt policy check failed", "error", berr, "userID", userID)
		}
		return models.Reply{}, &models.BlockedError{UserID: userID, Until: until}
	}
	return models.Reply{Text: fmt.Sprintf(msgLoginFailedFmt, st.Attempts, e.maxAttempts)}, nil
}

func (e *Engine) callProfileExists(ctx context.Context, username string) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, e.providerTimeout)
	defer cancel()
	return e.provider.ProfileExists(cctx, username)
}

func (e *Engine) callLogin(ctx context.Context, username, password string) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, e.providerTimeout)
	defer cancel()
	return e.provider.Login(cctx, username, password)
}
