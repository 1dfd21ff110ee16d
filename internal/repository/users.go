// Package repository provides the sqlx data access layer over the
// relational store. Every repository is an interface with a single
// postgres implementation; callers depend on the interface so tests
// can substitute sqlmock-backed or hand-rolled fakes.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/S-Corkum/recall/internal/database"
	"github.com/S-Corkum/recall/pkg/models"
)

// UserRepository manages user accounts. Accounts are soft-deactivated,
// never deleted, so foreign keys from memories and conversations stay
// valid.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, userID string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	ListActive(ctx context.Context) ([]*models.User, error)
	Update(ctx context.Context, user *models.User) error
	Deactivate(ctx context.Context, userID string) error
}

type userRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a postgres-backed UserRepository.
func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	query := `
		INSERT INTO users (
			user_id, username, email, role, password_hash, is_active, created_at, updated_at
		) VALUES (
			:user_id, :username, :email, :role, :password_hash, :is_active, :created_at, :updated_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		if database.IsUniqueViolation(err, "") {
			return fmt.Errorf("username or email already taken: %w", database.ErrDuplicateKey)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, userID string) (*models.User, error) {
	query := `
		SELECT user_id, username, email, role, password_hash, is_active, created_at, updated_at
		FROM users WHERE user_id = $1`

	var user models.User
	err := r.db.GetContext(ctx, &user, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `
		SELECT user_id, username, email, role, password_hash, is_active, created_at, updated_at
		FROM users WHERE username = $1`

	var user models.User
	err := r.db.GetContext(ctx, &user, query, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}
	return &user, nil
}

func (r *userRepository) ListActive(ctx context.Context) ([]*models.User, error) {
	query := `
		SELECT user_id, username, email, role, password_hash, is_active, created_at, updated_at
		FROM users WHERE is_active = true ORDER BY username`

	var users []*models.User
	if err := r.db.SelectContext(ctx, &users, query); err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}
	return users, nil
}

func (r *userRepository) Update(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE users
		SET email = :email, role = :role, password_hash = :password_hash,
		    is_active = :is_active, updated_at = :updated_at
		WHERE user_id = :user_id`

	result, err := r.db.NamedExecContext(ctx, query, user)
	if err != nil {
		if database.IsUniqueViolation(err, "") {
			return fmt.Errorf("email already taken: %w", database.ErrDuplicateKey)
		}
		return fmt.Errorf("failed to update user: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if rows == 0 {
		return database.ErrNotFound
	}
	return nil
}

func (r *userRepository) Deactivate(ctx context.Context, userID string) error {
	query := `UPDATE users SET is_active = false, updated_at = $2 WHERE user_id = $1`

	result, err := r.db.ExecContext(ctx, query, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to deactivate user: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read deactivate result: %w", err)
	}
	if rows == 0 {
		return database.ErrNotFound
	}
	return nil
}
