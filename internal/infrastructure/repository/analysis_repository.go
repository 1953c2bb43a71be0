package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caseproof/evidence-backend/internal/domain/analysis"
)

// analysisRepository implements AnalysisRepository using PostgreSQL. The
// result body is stored as a JSONB document; the fingerprint carries a
// unique index so one fingerprint has at most one completed result.
type analysisRepository struct {
	db *pgxpool.Pool
}

// NewAnalysisRepository creates a new analysis repository
func NewAnalysisRepository(db *pgxpool.Pool) AnalysisRepository {
	return &analysisRepository{db: db}
}

func (r *analysisRepository) Save(ctx context.Context, result *analysis.Result) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis result: %w", err)
	}

	query := `
		INSERT INTO analysis_results (id, evidence_id, fingerprint, profile_version, state, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET state = EXCLUDED.state, body = EXCLUDED.body
	`
	_, err = r.db.Exec(ctx, query,
		result.ID, result.EvidenceID, result.Fingerprint, result.ProfileVersion,
		string(result.State), body, result.CreatedAt.Time)
	if err != nil {
		if IsDuplicateKeyViolation(err) {
			return fmt.Errorf("fingerprint already has a result: %w", ErrDuplicateKey)
		}
		return fmt.Errorf("failed to save analysis result: %w", err)
	}
	return nil
}

func (r *analysisRepository) GetByID(ctx context.Context, id uuid.UUID) (*analysis.Result, error) {
	return r.getOne(ctx, `WHERE id = $1`, id)
}

func (r *analysisRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*analysis.Result, error) {
	return r.getOne(ctx, `WHERE fingerprint = $1 ORDER BY created_at DESC LIMIT 1`, fingerprint)
}

func (r *analysisRepository) GetLatestForEvidence(ctx context.Context, evidenceID uuid.UUID) (*analysis.Result, error) {
	return r.getOne(ctx, `WHERE evidence_id = $1 ORDER BY created_at DESC LIMIT 1`, evidenceID)
}

func (r *analysisRepository) getOne(ctx context.Context, where string, arg interface{}) (*analysis.Result, error) {
	query := `SELECT body FROM analysis_results ` + where

	var body []byte
	err := r.db.QueryRow(ctx, query, arg).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get analysis result: %w", err)
	}

	var result analysis.Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal analysis result: %w", err)
	}
	return &result, nil
}
