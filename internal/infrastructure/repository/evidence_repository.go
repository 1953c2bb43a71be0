package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caseproof/evidence-backend/internal/domain/evidence"
)

// evidenceRepository implements EvidenceRepository using PostgreSQL
type evidenceRepository struct {
	db *pgxpool.Pool
}

// NewEvidenceRepository creates a new evidence repository
func NewEvidenceRepository(db *pgxpool.Pool) EvidenceRepository {
	return &evidenceRepository{db: db}
}

const evidenceColumns = `id, user_id, declared_type, content_digest, size_bytes,
	original_filename, storage_path, status, case_number, created_at, completed_at`

func (r *evidenceRepository) Create(ctx context.Context, e *evidence.Evidence) error {
	query := `
		INSERT INTO evidence (` + evidenceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.Exec(ctx, query,
		e.ID, e.UserID, string(e.DeclaredType), e.ContentDigest, e.SizeBytes,
		e.OriginalFilename, e.StoragePath, string(e.Status), e.CaseNumber, e.CreatedAt, e.CompletedAt)
	if err != nil {
		if IsDuplicateKeyViolation(err) {
			return ErrDuplicateKey
		}
		if IsForeignKeyViolation(err) {
			return fmt.Errorf("owner does not exist: %w", ErrForeignKey)
		}
		return fmt.Errorf("failed to create evidence: %w", err)
	}
	return nil
}

func (r *evidenceRepository) GetByID(ctx context.Context, id uuid.UUID) (*evidence.Evidence, error) {
	return r.getOne(ctx, `WHERE id = $1`, id)
}

// GetByDigest finds a user's existing record for a content digest, used for
// ingest deduplication.
func (r *evidenceRepository) GetByDigest(ctx context.Context, userID uuid.UUID, digest string) (*evidence.Evidence, error) {
	query := `SELECT ` + evidenceColumns + ` FROM evidence
		WHERE user_id = $1 AND content_digest = $2
		ORDER BY created_at DESC LIMIT 1`

	row := r.db.QueryRow(ctx, query, userID, digest)
	return scanEvidence(row)
}

func (r *evidenceRepository) getOne(ctx context.Context, where string, arg interface{}) (*evidence.Evidence, error) {
	query := `SELECT ` + evidenceColumns + ` FROM evidence ` + where
	row := r.db.QueryRow(ctx, query, arg)
	return scanEvidence(row)
}

func scanEvidence(row pgx.Row) (*evidence.Evidence, error) {
	var e evidence.Evidence
	var typeStr, statusStr string
	err := row.Scan(
		&e.ID, &e.UserID, &typeStr, &e.ContentDigest, &e.SizeBytes,
		&e.OriginalFilename, &e.StoragePath, &statusStr, &e.CaseNumber, &e.CreatedAt, &e.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get evidence: %w", err)
	}
	e.DeclaredType = evidence.Type(typeStr)
	e.Status = evidence.Status(statusStr)
	return &e, nil
}

func (r *evidenceRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*evidence.Evidence, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT ` + evidenceColumns + ` FROM evidence
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}
	defer rows.Close()

	var out []*evidence.Evidence
	for rows.Next() {
		e, err := scanEvidence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *evidenceRepository) Update(ctx context.Context, e *evidence.Evidence) error {
	query := `
		UPDATE evidence
		SET status = $2, case_number = $3, completed_at = $4
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, e.ID, string(e.Status), e.CaseNumber, e.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update evidence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
