// Package store provides storage backends for GramGate.
//
// This file implements a SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/gramgate/gramgate/internal/models"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetUser(id string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT id, instagram_username, is_registered, is_authenticated, last_login, download_count, created_at, updated_at
		FROM users WHERE id = ?`, id)
	return scanUserRow(row, id)
}

func (s *SQLiteStore) CreateUser(id string) (*models.User, error) {
	now := time.Now().UTC()
	_, err := s.db.Exec(`INSERT OR IGNORE INTO users (id, created_at, updated_at) VALUES (?, ?, ?)`, id, now, now)
	if err != nil {
		slog.Error("SQLiteStore CreateUser failed", "error", err, "userID", id)
		return nil, fmt.Errorf("failed to create user %s: %w", id, err)
	}
	slog.Debug("SQLiteStore CreateUser succeeded", "userID", id)
	return s.GetUser(id)
}

func (s *SQLiteStore) SetInstagramIdentity(id, username string) error {
	res, err := s.db.Exec(`UPDATE users SET instagram_username = ?, is_registered = 1, updated_at = ? WHERE id = ?`,
		username, time.Now().UTC(), id)
	if err != nil {
		slog.Error("SQLiteStore SetInstagramIdentity failed", "error", err, "userID", id)
		return fmt.Errorf("failed to set instagram identity for %s: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *SQLiteStore) ClearInstagramIdentity(id string) error {
	res, err := s.db.Exec(`UPDATE users SET instagram_username = NULL, is_authenticated = 0, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		slog.Error("SQLiteStore ClearInstagramIdentity failed", "error", err, "userID", id)
		return fmt.Errorf("failed to clear instagram identity for %s: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *SQLiteStore) MarkAuthenticated(id string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE users SET is_authenticated = 1, last_login = ?, updated_at = ? WHERE id = ?`,
		at.UTC(), time.Now().UTC(), id)
	if err != nil {
		slog.Error("SQLiteStore MarkAuthenticated failed", "error", err, "userID", id)
		return fmt.Errorf("failed to mark user %s authenticated: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *SQLiteStore) ClearAuthenticated(id string) error {
	res, err := s.db.Exec(`UPDATE users SET is_authenticated = 0, updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		slog.Error("SQLiteStore ClearAuthenticated failed", "error", err, "userID", id)
		return fmt.Errorf("failed to clear authenticated flag for %s: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *SQLiteStore) DeleteUser(id string) error {
	// Credential and reset token rows cascade with the user row.
	_, err := s.db.Exec(`DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteUser failed", "error", err, "userID", id)
		return fmt.Errorf("failed to delete user %s: %w", id, err)
	}
	slog.Info("SQLiteStore DeleteUser succeeded", "userID", id)
	return nil
}

func (s *SQLiteStore) SaveCredential(rec models.CredentialRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	query := `
		INSERT INTO credentials (id, user_id, encrypted_secret, key_salt, kdf_iterations, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			encrypted_secret = excluded.encrypted_secret,
			key_salt = excluded.key_salt,
			kdf_iterations = excluded.kdf_iterations,
			updated_at = excluded.updated_at`

	_, err := s.db.Exec(query, rec.ID, rec.UserID, rec.EncryptedSecret, rec.KeySalt, rec.KDFIterations, now, now)
	if err != nil {
		slog.Error("SQLiteStore SaveCredential failed", "error", err, "userID", rec.UserID)
		return fmt.Errorf("failed to save credential for %s: %w", rec.UserID, err)
	}
	slog.Debug("SQLiteStore SaveCredential succeeded", "userID", rec.UserID, "ciphertext_bytes", len(rec.EncryptedSecret))
	return nil
}

func (s *SQLiteStore) GetCredential(userID string) (*models.CredentialRecord, error) {
	row := s.db.QueryRow(`SELECT id, user_id, encrypted_secret, key_salt, kdf_iterations, created_at, updated_at
		FROM credentials WHERE user_id = ?`, userID)

	var rec models.CredentialRecord
	err := row.Scan(&rec.ID, &rec.UserID, &rec.EncryptedSecret, &rec.KeySalt, &rec.KDFIterations, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetCredential not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetCredential failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get credential for %s: %w", userID, err)
	}
	return &rec, nil
}

func (s *SQLiteStore) DeleteCredential(userID string) error {
	_, err := s.db.Exec(`DELETE FROM credentials WHERE user_id = ?`, userID)
	if err != nil {
		slog.Error("SQLiteStore DeleteCredential failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete credential for %s: %w", userID, err)
	}
	slog.Debug("SQLiteStore DeleteCredential succeeded", "userID", userID)
	return nil
}

func (s *SQLiteStore) SaveResetToken(token models.ResetToken) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT OR REPLACE INTO reset_tokens (user_id, token, expires_at, consumed, created_at)
		VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query, token.UserID, token.Token, token.ExpiresAt.UTC(), token.Consumed, token.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveResetToken failed", "error", err, "userID", token.UserID)
		return fmt.Errorf("failed to save reset token for %s: %w", token.UserID, err)
	}
	slog.Debug("SQLiteStore SaveResetToken succeeded", "userID", token.UserID, "expires_at", token.ExpiresAt)
	return nil
}

func (s *SQLiteStore) GetResetToken(userID string) (*models.ResetToken, error) {
	row := s.db.QueryRow(`SELECT user_id, token, expires_at, consumed, created_at FROM reset_tokens WHERE user_id = ?`, userID)

	var token models.ResetToken
	err := row.Scan(&token.UserID, &token.Token, &token.ExpiresAt, &token.Consumed, &token.CreatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetResetToken not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetResetToken failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get reset token for %s: %w", userID, err)
	}
	return &token, nil
}

func (s *SQLiteStore) ConsumeResetToken(userID string) error {
	res, err := s.db.Exec(`UPDATE reset_tokens SET consumed = 1 WHERE user_id = ?`, userID)
	if err != nil {
		slog.Error("SQLiteStore ConsumeResetToken failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to consume reset token for %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrResetTokenNotFound
	}
	slog.Debug("SQLiteStore ConsumeResetToken succeeded", "userID", userID)
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
