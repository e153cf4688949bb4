// Package models defines the core data structures for GramGate.
//
// It includes user accounts, encrypted credential records, reset tokens,
// and the message types exchanged with the chat transport.
package models

import "time"

// User represents a chat user known to the bot, keyed by the stable
// identifier the transport assigns (Telegram chat id, console user, ...).
type User struct {
	ID                string     `json:"id"`
	InstagramUsername string     `json:"instagram_username,omitempty"`
	IsRegistered      bool       `json:"is_registered"`
	IsAuthenticated   bool       `json:"is_authenticated"`
	LastLogin         *time.Time `json:"last_login,omitempty"`
	DownloadCount     int        `json:"download_count"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// CredentialRecord is the durable, encrypted representation of a user's
// Instagram account secret. The secret is never stored in decrypted form;
// the decryption key is derivable only from the process master secret plus
// KeySalt, which is persisted alongside the ciphertext so decryption stays
// reproducible.
type CredentialRecord struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	EncryptedSecret []byte    `json:"-"`
	KeySalt         []byte    `json:"-"`
	KDFIterations   int       `json:"kdf_iterations"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ResetToken is a short-lived, single-use code authorizing a password
// change. Once consumed or expired it is rejected.
type ResetToken struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Consumed  bool      `json:"consumed"`
	CreatedAt time.Time `json:"created_at"`
}

// Valid reports whether the token can still be consumed at the given time.
func (t *ResetToken) Valid(now time.Time) bool {
	return !t.Consumed && now.Before(t.ExpiresAt)
}

// Response represents an incoming message from a chat user.
type Response struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// Reply is what the auth service hands back to the transport layer for one
// inbound message: the user-visible text plus side-channel values the
// dispatcher acts on.
type Reply struct {
	// Text is the user-visible prompt or result message.
	Text string `json:"text"`

	// Terminal is true when the flow reached a terminal state and the
	// conversation state has been discarded.
	Terminal bool `json:"terminal,omitempty"`

	// Authenticated is true when this reply completed a successful login.
	Authenticated bool `json:"authenticated,omitempty"`

	// SessionToken carries the signed session token issued on login.
	SessionToken string `json:"session_token,omitempty"`

	// ResetToken carries a freshly issued password-reset token that the
	// dispatcher should deliver to the user (out-of-band when configured).
	ResetToken string `json:"reset_token,omitempty"`
}
