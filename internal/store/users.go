package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rethoric/rethoric/internal/apperr"
)

const userColumns = "id, external_id, email, name, role, created_at"

func scanUser(row rowScanner) (*User, error) {
	var user User
	var name sql.NullString
	if err := row.Scan(&user.ID, &user.ExternalID, &user.Email, &name, &user.Role, &user.CreatedAt); err != nil {
		return nil, err
	}
	user.Name = stringPtr(name)
	return &user, nil
}

// GetUserByExternalID returns nil, nil when no user has the given subject id.
func (s *SQLiteStore) GetUserByExternalID(ctx context.Context, externalID string) (*User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE external_id = ?", externalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("user %s not found", id)
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return user, nil
}

// CreateUserIfNotExists looks the subject up before inserting, so repeated
// webhook deliveries for the same subject return the existing record.
func (s *SQLiteStore) CreateUserIfNotExists(ctx context.Context, externalID, email string, name *string, role UserRole) (*User, bool, error) {
	var user *User
	created := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanUser(tx.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE external_id = ?", externalID))
		if err == nil {
			user = existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to query user: %w", err)
		}

		user = &User{
			ID:         uuid.NewString(),
			ExternalID: externalID,
			Email:      email,
			Name:       name,
			Role:       role,
			CreatedAt:  s.nowMillis(),
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO users ("+userColumns+") VALUES (?, ?, ?, ?, ?, ?)",
			user.ID, user.ExternalID, user.Email, nullString(user.Name), user.Role, user.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return user, created, nil
}

func (s *SQLiteStore) UpdateUserName(ctx context.Context, id string, name *string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET name = ? WHERE id = ?", nullString(name), id)
	if err != nil {
		return fmt.Errorf("failed to update user name: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return apperr.NotFound("user %s not found", id)
	}
	return nil
}

func (s *SQLiteStore) SetUserRole(ctx context.Context, id string, role UserRole) error {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET role = ? WHERE id = ?", role, id)
	if err != nil {
		return fmt.Errorf("failed to update user role: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return apperr.NotFound("user %s not found", id)
	}
	return nil
}
