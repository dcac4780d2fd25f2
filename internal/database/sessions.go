package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/KyleGowen/excelsior-sub010/internal/logger"
	"github.com/KyleGowen/excelsior-sub010/internal/models"
)

var ErrSessionExpired = errors.New("session not found or expired")

func CreateSession(db *DB, userID string, sessionDuration time.Duration) (*models.Session, error) {
	sessionID, err := generateSecureToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now().UTC()
	session := &models.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(sessionDuration),
		CreatedAt: now,
	}

	query := `
		INSERT INTO sessions (id, user_id, expires_at, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err = db.Exec(db.Rebind(query), session.ID, session.UserID, session.ExpiresAt, session.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// ValidateSession resolves a session to its user and slides the expiry
// forward on every successful use.
func ValidateSession(db *DB, sessionID string, sessionDuration time.Duration) (*models.User, error) {
	query := `
		SELECT u.id, u.username, u.password_hash, u.role, u.created_at, u.updated_at
		FROM users u
		INNER JOIN sessions s ON u.id = s.user_id
		WHERE s.id = ? AND s.expires_at > ?
	`

	user, err := scanUser(db.QueryRow(db.Rebind(query), sessionID, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("failed to validate session: %w", err)
	}

	if err := RenewSession(db, sessionID, sessionDuration); err != nil {
		logger.Warn("Failed to renew session",
			"session_id", sessionID,
			"error", err)
	}

	return user, nil
}

func RenewSession(db *DB, sessionID string, sessionDuration time.Duration) error {
	newExpiresAt := time.Now().UTC().Add(sessionDuration)

	_, err := db.Exec(db.Rebind(`UPDATE sessions SET expires_at = ? WHERE id = ?`), newExpiresAt, sessionID)
	if err != nil {
		return fmt.Errorf("failed to renew session: %w", err)
	}
	return nil
}

func DeleteSession(db *DB, sessionID string) error {
	_, err := db.Exec(db.Rebind(`DELETE FROM sessions WHERE id = ?`), sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func CleanupExpiredSessions(db *DB) (int64, error) {
	result, err := db.Exec(db.Rebind(`DELETE FROM sessions WHERE expires_at < ?`), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired sessions: %w", err)
	}
	removed, _ := result.RowsAffected()
	return removed, nil
}
