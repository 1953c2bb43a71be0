package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caseproof/evidence-backend/internal/domain/user"
)

// userRepository implements UserRepository using PostgreSQL
type userRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *pgxpool.Pool) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, u *user.User) error {
	query := `
		INSERT INTO users (id, email, password_verifier, tier, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(ctx, query,
		u.ID, u.Email, u.PasswordVerifier, u.Tier.String(), u.Active, u.CreatedAt)
	if err != nil {
		if IsDuplicateKeyViolation(err) {
			return fmt.Errorf("email already registered: %w", ErrDuplicateKey)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	return r.getOne(ctx, `WHERE id = $1`, id)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	return r.getOne(ctx, `WHERE lower(email) = lower($1)`, email)
}

func (r *userRepository) getOne(ctx context.Context, where string, arg interface{}) (*user.User, error) {
	query := `
		SELECT id, email, password_verifier, tier, active, created_at, last_login_at
		FROM users ` + where

	var u user.User
	var tierStr string
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.PasswordVerifier, &tierStr, &u.Active, &u.CreatedAt, &u.LastLoginAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	u.Tier = user.ParseTier(tierStr)
	return &u, nil
}

func (r *userRepository) Update(ctx context.Context, u *user.User) error {
	query := `
		UPDATE users
		SET email = $2, password_verifier = $3, tier = $4, active = $5, last_login_at = $6
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query,
		u.ID, u.Email, u.PasswordVerifier, u.Tier.String(), u.Active, u.LastLoginAt)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
