package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caseproof/evidence-backend/internal/domain/apikey"
)

// apiKeyRepository implements APIKeyRepository using PostgreSQL
type apiKeyRepository struct {
	db *pgxpool.Pool
}

// NewAPIKeyRepository creates a new API key repository
func NewAPIKeyRepository(db *pgxpool.Pool) APIKeyRepository {
	return &apiKeyRepository{db: db}
}

const apiKeyColumns = `id, user_id, digest, name, active, created_at, expires_at, last_used_at, request_count`

func (r *apiKeyRepository) Create(ctx context.Context, k *apikey.Key) error {
	query := `
		INSERT INTO api_keys (` + apiKeyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Exec(ctx, query,
		k.ID, k.UserID, k.Digest, k.Name, k.Active, k.CreatedAt, k.ExpiresAt, k.LastUsedAt, k.RequestCount)
	if err != nil {
		if IsDuplicateKeyViolation(err) {
			return ErrDuplicateKey
		}
		if IsForeignKeyViolation(err) {
			return fmt.Errorf("owner does not exist: %w", ErrForeignKey)
		}
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

func (r *apiKeyRepository) GetByID(ctx context.Context, id uuid.UUID) (*apikey.Key, error) {
	return r.getOne(ctx, `WHERE id = $1`, id)
}

func (r *apiKeyRepository) GetByDigest(ctx context.Context, digest string) (*apikey.Key, error) {
	return r.getOne(ctx, `WHERE digest = $1`, digest)
}

func (r *apiKeyRepository) getOne(ctx context.Context, where string, arg interface{}) (*apikey.Key, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys ` + where

	var k apikey.Key
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&k.ID, &k.UserID, &k.Digest, &k.Name, &k.Active,
		&k.CreatedAt, &k.ExpiresAt, &k.LastUsedAt, &k.RequestCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return &k, nil
}

func (r *apiKeyRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*apikey.Key, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*apikey.Key
	for rows.Next() {
		var k apikey.Key
		if err := rows.Scan(
			&k.ID, &k.UserID, &k.Digest, &k.Name, &k.Active,
			&k.CreatedAt, &k.ExpiresAt, &k.LastUsedAt, &k.RequestCount); err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (r *apiKeyRepository) Update(ctx context.Context, k *apikey.Key) error {
	query := `
		UPDATE api_keys
		SET name = $2, active = $3, expires_at = $4, last_used_at = $5, request_count = $6
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query,
		k.ID, k.Name, k.Active, k.ExpiresAt, k.LastUsedAt, k.RequestCount)
	if err != nil {
		return fmt.Errorf("failed to update api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
