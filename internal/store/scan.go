package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/gramgate/gramgate/internal/models"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUserRow(row rowScanner, id string) (*models.User, error) {
	var (
		u         models.User
		igName    sql.NullString
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &igName, &u.IsRegistered, &u.IsAuthenticated, &lastLogin, &u.DownloadCount, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("User not found", "userID", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("Failed to scan user row", "error", err, "userID", id)
		return nil, fmt.Errorf("failed to get user %s: %w", id, err)
	}
	if igName.Valid {
		u.InstagramUsername = igName.String
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLogin = &t
	}
	return &u, nil
}

// requireRow converts a zero-row UPDATE into ErrUserNotFound.
func requireRow(res sql.Result, userID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		slog.Debug("Update matched no user", "userID", userID)
		return ErrUserNotFound
	}
	return nil
}
