package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/examrunner/internal/model"
)

const defaultAuthSessionTTL = 24 * time.Hour

// SetAuthSessionTTL changes the lifetime of login sessions. Non-positive values
// restore the default.
func (s *Store) SetAuthSessionTTL(d time.Duration) {
	s.sessionTTL = d
}

func (s *Store) authTTL() time.Duration {
	if s.sessionTTL > 0 {
		return s.sessionTTL
	}
	return defaultAuthSessionTTL
}

// CreateAuthSession starts a login session for a user and returns its cookie token.
func (s *Store) CreateAuthSession(userID int64) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(b)
	now := time.Now().UTC()
	_, err := s.db.Exec(s.rebind(
		`INSERT INTO auth_sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`),
		token, userID, now, now.Add(s.authTTL()),
	)
	if err != nil {
		return "", fmt.Errorf("insert auth session: %w", err)
	}
	return token, nil
}

// GetAuthSession returns the live session for token, or nil. A session past
// half its lifetime is renewed so a student is not logged out mid-exam.
func (s *Store) GetAuthSession(token string) (*model.AuthSession, error) {
	now := time.Now().UTC()
	var sess model.AuthSession
	err := s.db.QueryRow(s.rebind(
		`SELECT id, user_id, created_at, expires_at FROM auth_sessions WHERE id = ? AND expires_at > ?`),
		token, now,
	).Scan(&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ttl := s.authTTL()
	if sess.ExpiresAt.Sub(now) < ttl/2 {
		renewed := now.Add(ttl)
		if _, err := s.db.Exec(s.rebind(`UPDATE auth_sessions SET expires_at = ? WHERE id = ?`), renewed, token); err != nil {
			return nil, fmt.Errorf("renew auth session: %w", err)
		}
		sess.ExpiresAt = renewed
	}
	return &sess, nil
}

// DeleteAuthSession ends one login session.
func (s *Store) DeleteAuthSession(token string) error {
	_, err := s.db.Exec(s.rebind(`DELETE FROM auth_sessions WHERE id = ?`), token)
	return err
}

// DeleteUserAuthSessions ends every login session of a user.
func (s *Store) DeleteUserAuthSessions(userID int64) error {
	_, err := s.db.Exec(s.rebind(`DELETE FROM auth_sessions WHERE user_id = ?`), userID)
	return err
}

// CleanupExpiredSessions removes expired login sessions and reports how many.
func (s *Store) CleanupExpiredSessions() (int64, error) {
	res, err := s.db.Exec(s.rebind(`DELETE FROM auth_sessions WHERE expires_at <= ?`), time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
