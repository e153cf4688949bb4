// Package store provides storage backends for GramGate.
//
// It includes an in-memory store for tests and single-shot runs, plus
// SQLite and PostgreSQL backed stores for durable deployments. All backends
// persist user records, encrypted credential records, and reset tokens.
package store

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gramgate/gramgate/internal/models"
)

// Store is the durable user store consumed by the auth service. Credential
// secrets arrive already encrypted; the store never sees plaintext.
type Store interface {
	// GetUser returns the user record, or nil if the user is unknown.
	GetUser(id string) (*models.User, error)
	// CreateUser creates the user if absent and returns the record either way.
	CreateUser(id string) (*models.User, error)
	// SetInstagramIdentity records the linked Instagram username and marks
	// the registration complete.
	SetInstagramIdentity(id, username string) error
	// ClearInstagramIdentity removes the linked Instagram username and
	// clears the authenticated flag.
	ClearInstagramIdentity(id string) error
	// MarkAuthenticated sets the authenticated flag and the login timestamp.
	MarkAuthenticated(id string, at time.Time) error
	// ClearAuthenticated drops the authenticated flag, keeping the
	// registration intact.
	ClearAuthenticated(id string) error
	// DeleteUser permanently removes the user and all associated records.
	DeleteUser(id string) error

	// SaveCredential inserts or replaces the credential record for its user.
	SaveCredential(rec models.CredentialRecord) error
	// GetCredential returns the user's credential record, or nil if none.
	GetCredential(userID string) (*models.CredentialRecord, error)
	// DeleteCredential removes the user's credential record.
	DeleteCredential(userID string) error

	// SaveResetToken inserts or replaces the user's reset token.
	SaveResetToken(token models.ResetToken) error
	// GetResetToken returns the user's reset token, or nil if none.
	GetResetToken(userID string) (*models.ResetToken, error)
	// ConsumeResetToken marks the user's reset token as consumed.
	ConsumeResetToken(userID string) error

	// Close releases backend resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN configures a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN configures a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL-looking DSNs and "sqlite"
// otherwise (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStore is a Store kept entirely in process memory. Used in tests
// and when no database DSN is configured.
type InMemoryStore struct {
	mu          sync.RWMutex
	users       map[string]*models.User
	credentials map[string]*models.CredentialRecord
	resetTokens map[string]*models.ResetToken
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:       make(map[string]*models.User),
		credentials: make(map[string]*models.CredentialRecord),
		resetTokens: make(map[string]*models.ResetToken),
	}
}

func (s *InMemoryStore) GetUser(id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *InMemoryStore) CreateUser(id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	now := time.Now()
	u := &models.User{ID: id, CreatedAt: now, UpdatedAt: now}
	s.users[id] = u
	cp := *u
	return &cp, nil
}

func (s *InMemoryStore) SetInstagramIdentity(id, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.InstagramUsername = username
	u.IsRegistered = true
	u.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) ClearInstagramIdentity(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.InstagramUsername = ""
	u.IsAuthenticated = false
	u.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) MarkAuthenticated(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.IsAuthenticated = true
	u.LastLogin = &at
	u.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) ClearAuthenticated(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.IsAuthenticated = false
	u.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) DeleteUser(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
	delete(s.credentials, id)
	delete(s.resetTokens, id)
	return nil
}

func (s *InMemoryStore) SaveCredential(rec models.CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if existing, ok := s.credentials[rec.UserID]; ok {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
	} else {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	cp := rec
	s.credentials[rec.UserID] = &cp
	return nil
}

func (s *InMemoryStore) GetCredential(userID string) (*models.CredentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.credentials[userID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *InMemoryStore) DeleteCredential(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.credentials, userID)
	return nil
}

func (s *InMemoryStore) SaveResetToken(token models.ResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}
	cp := token
	s.resetTokens[token.UserID] = &cp
	return nil
}

func (s *InMemoryStore) GetResetToken(userID string) (*models.ResetToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.resetTokens[userID]
	if !ok {
		return nil, nil
	}
	cp := *token
	return &cp, nil
}

func (s *InMemoryStore) ConsumeResetToken(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.resetTokens[userID]
	if !ok {
		return ErrResetTokenNotFound
	}
	token.Consumed = true
	return nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
