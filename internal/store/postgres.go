// Package store provides storage backends for GramGate.
//
// This file implements a PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/gramgate/gramgate/internal/models"
)

// Connection pool defaults for PostgreSQL.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open PostgreSQL connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("PostgreSQL ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running PostgreSQL migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetUser(id string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT id, instagram_username, is_registered, is_authenticated, last_login, download_count, created_at, updated_at
		FROM users WHERE id = $1`, id)
	return scanUserRow(row, id)
}

func (s *PostgresStore) CreateUser(id string) (*models.User, error) {
	now := time.Now().UTC()
	_, err := s.db.Exec(`INSERT INTO users (id, created_at, updated_at) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`, id, now, now)
	if err != nil {
		slog.Error("PostgresStore CreateUser failed", "error", err, "userID", id)
		return nil, fmt.Errorf("failed to create user %s: %w", id, err)
	}
	slog.Debug("PostgresStore CreateUser succeeded", "userID", id)
	return s.GetUser(id)
}

func (s *PostgresStore) SetInstagramIdentity(id, username string) error {
	res, err := s.db.Exec(`UPDATE users SET instagram_username = $1, is_registered = TRUE, updated_at = $2 WHERE id = $3`,
		username, time.Now().UTC(), id)
	if err != nil {
		slog.Error("PostgresStore SetInstagramIdentity failed", "error", err, "userID", id)
		return fmt.Errorf("failed to set instagram identity for %s: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *PostgresStore) ClearInstagramIdentity(id string) error {
	res, err := s.db.Exec(`UPDATE users SET instagram_username = NULL, is_authenticated = FALSE, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id)
	if err != nil {
		slog.Error("PostgresStore ClearInstagramIdentity failed", "error", err, "userID", id)
		return fmt.Errorf("failed to clear instagram identity for %s: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *PostgresStore) MarkAuthenticated(id string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE users SET is_authenticated = TRUE, last_login = $1, updated_at = $2 WHERE id = $3`,
		at.UTC(), time.Now().UTC(), id)
	if err != nil {
		slog.Error("PostgresStore MarkAuthenticated failed", "error", err, "userID", id)
		return fmt.Errorf("failed to mark user %s authenticated: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *PostgresStore) ClearAuthenticated(id string) error {
	res, err := s.db.Exec(`UPDATE users SET is_authenticated = FALSE, updated_at = $1 WHERE id = $2`, time.Now().UTC(), id)
	if err != nil {
		slog.Error("PostgresStore ClearAuthenticated failed", "error", err, "userID", id)
		return fmt.Errorf("failed to clear authenticated flag for %s: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *PostgresStore) DeleteUser(id string) error {
	_, err := s.db.Exec(`DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteUser failed", "error", err, "userID", id)
		return fmt.Errorf("failed to delete user %s: %w", id, err)
	}
	slog.Info("PostgresStore DeleteUser succeeded", "userID", id)
	return nil
}

func (s *PostgresStore) SaveCredential(rec models.CredentialRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	query := `
		INSERT INTO credentials (id, user_id, encrypted_secret, key_salt, kdf_iterations, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			encrypted_secret = EXCLUDED.encrypted_secret,
			key_salt = EXCLUDED.key_salt,
			kdf_iterations = EXCLUDED.kdf_iterations,
			updated_at = EXCLUDED.updated_at`

	_, err := s.db.Exec(query, rec.ID, rec.UserID, rec.EncryptedSecret, rec.KeySalt, rec.KDFIterations, now, now)
	if err != nil {
		slog.Error("PostgresStore SaveCredential failed", "error", err, "userID", rec.UserID)
		return fmt.Errorf("failed to save credential for %s: %w", rec.UserID, err)
	}
	slog.Debug("PostgresStore SaveCredential succeeded", "userID", rec.UserID, "ciphertext_bytes", len(rec.EncryptedSecret))
	return nil
}

func (s *PostgresStore) GetCredential(userID string) (*models.CredentialRecord, error) {
	row := s.db.QueryRow(`SELECT id, user_id, encrypted_secret, key_salt, kdf_iterations, created_at, updated_at
		FROM credentials WHERE user_id = $1`, userID)

	var rec models.CredentialRecord
	err := row.Scan(&rec.ID, &rec.UserID, &rec.EncryptedSecret, &rec.KeySalt, &rec.KDFIterations, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetCredential not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetCredential failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get credential for %s: %w", userID, err)
	}
	return &rec, nil
}

func (s *PostgresStore) DeleteCredential(userID string) error {
	_, err := s.db.Exec(`DELETE FROM credentials WHERE user_id = $1`, userID)
	if err != nil {
		slog.Error("PostgresStore DeleteCredential failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete credential for %s: %w", userID, err)
	}
	slog.Debug("PostgresStore DeleteCredential succeeded", "userID", userID)
	return nil
}

func (s *PostgresStore) SaveResetToken(token models.ResetToken) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO reset_tokens (user_id, token, expires_at, consumed, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			token = EXCLUDED.token,
			expires_at = EXCLUDED.expires_at,
			consumed = EXCLUDED.consumed,
			created_at = EXCLUDED.created_at`

	_, err := s.db.Exec(query, token.UserID, token.Token, token.ExpiresAt.UTC(), token.Consumed, token.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveResetToken failed", "error", err, "userID", token.UserID)
		return fmt.Errorf("failed to save reset token for %s: %w", token.UserID, err)
	}
	slog.Debug("PostgresStore SaveResetToken succeeded", "userID", token.UserID, "expires_at", token.ExpiresAt)
	return nil
}

func (s *PostgresStore) GetResetToken(userID string) (*models.ResetToken, error) {
	row := s.db.QueryRow(`SELECT user_id, token, expires_at, consumed, created_at FROM reset_tokens WHERE user_id = $1`, userID)

	var token models.ResetToken
	err := row.Scan(&token.UserID, &token.Token, &token.ExpiresAt, &token.Consumed, &token.CreatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetResetToken not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetResetToken failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get reset token for %s: %w", userID, err)
	}
	return &token, nil
}

func (s *PostgresStore) ConsumeResetToken(userID string) error {
	res, err := s.db.Exec(`UPDATE reset_tokens SET consumed = TRUE WHERE user_id = $1`, userID)
	if err != nil {
		slog.Error("PostgresStore ConsumeResetToken failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to consume reset token for %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrResetTokenNotFound
	}
	slog.Debug("PostgresStore ConsumeResetToken succeeded", "userID", userID)
	return nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	}
	return err
}
