package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/examrunner/internal/model"
)

const userColumns = `id, username, display_name, password_hash, role, active, created_at`

func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Role, &u.Active, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new user and returns its ID. A taken username yields
// model.ErrUsernameTaken.
func (s *Store) CreateUser(u model.User) (int64, error) {
	existing, err := s.GetUserByUsername(u.Username)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return 0, fmt.Errorf("user %q: %w", u.Username, model.ErrUsernameTaken)
	}

	var id int64
	err = s.db.QueryRow(s.rebind(
		`INSERT INTO users (username, display_name, password_hash, role, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		u.Username, u.DisplayName, u.PasswordHash, u.Role, u.Active, time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		slog.Error("failed to create user", "username", u.Username, "error", err)
		return 0, err
	}
	slog.Info("created user", "id", id, "username", u.Username, "role", u.Role)
	return id, nil
}

func (s *Store) getUser(where string, arg any) (*model.User, error) {
	u, err := scanUser(s.db.QueryRow(s.rebind(`SELECT `+userColumns+` FROM users WHERE `+where), arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// GetUserByUsername returns a user by username, or nil if there is none.
func (s *Store) GetUserByUsername(username string) (*model.User, error) {
	return s.getUser(`username = ?`, username)
}

// GetUserByID returns a user by ID, or nil if there is none.
func (s *Store) GetUserByID(id int64) (*model.User, error) {
	return s.getUser(`id = ?`, id)
}

// ListUsers returns users in creation order. An empty role lists everyone.
func (s *Store) ListUsers(role model.UserRole) ([]model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var args []any
	if role != "" {
		query += ` WHERE role = ?`
		args = append(args, role)
	}
	rows, err := s.db.Query(s.rebind(query+` ORDER BY id`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// ToggleUserActive flips a user's active flag and returns the new value.
// Deactivating a user also ends their login sessions.
func (s *Store) ToggleUserActive(id int64) (bool, error) {
	var active bool
	err := s.db.QueryRow(s.rebind(`UPDATE users SET active = NOT active WHERE id = ? RETURNING active`), id).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("user %d: %w", id, model.ErrUserNotFound)
	}
	if err != nil {
		return false, err
	}
	if !active {
		if err := s.DeleteUserAuthSessions(id); err != nil {
			return false, fmt.Errorf("end sessions of user %d: %w", id, err)
		}
	}
	slog.Info("toggled user", "id", id, "active", active)
	return active, nil
}

// UserCount returns the total number of users.
func (s *Store) UserCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}
