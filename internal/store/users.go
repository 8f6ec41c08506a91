package store

import (
	"context"
	"fmt"
	"strings"

	"storefront/internal/models"
)

const userColumns = `id, email, password_hash, name, role, profile_image_url, created_at, updated_at`

// CreateUser inserts a user. A taken email yields ErrDuplicate.
func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	query := `
		INSERT INTO users (email, password_hash, name, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	err := s.db.GetContext(ctx, u, query, strings.ToLower(u.Email), u.PasswordHash, u.Name, u.Role)
	if isUniqueViolation(err) {
		return fmt.Errorf("email %s: %w", u.Email, ErrDuplicate)
	}
	return err
}

// GetUserByID retrieves a user by ID
func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, "SELECT "+userColumns+" FROM users WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "user %d", id)
	}
	return &u, nil
}

// GetUserByEmail retrieves a user by email, case-insensitively
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, "SELECT "+userColumns+" FROM users WHERE email = $1", strings.ToLower(email))
	if err != nil {
		return nil, notFound(err, "user %s", email)
	}
	return &u, nil
}

// UpdateUserName changes the display name
func (s *Store) UpdateUserName(ctx context.Context, id int64, name string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET name = $1, updated_at = NOW() WHERE id = $2", name, id)
	if err != nil {
		return err
	}
	return requireRow(res, "user %d", id)
}

// UpdateUserAvatar stores a new profile image URL
func (s *Store) UpdateUserAvatar(ctx context.Context, id int64, url string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET profile_image_url = $1, updated_at = NOW() WHERE id = $2", url, id)
	if err != nil {
		return err
	}
	return requireRow(res, "user %d", id)
}

// UpdateUserPassword replaces the password hash
func (s *Store) UpdateUserPassword(ctx context.Context, id int64, hash string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2", hash, id)
	if err != nil {
		return err
	}
	return requireRow(res, "user %d", id)
}
