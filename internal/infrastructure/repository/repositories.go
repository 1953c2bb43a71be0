package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repositories bundles all repository implementations
type Repositories struct {
	User     UserRepository
	APIKey   APIKeyRepository
	Evidence EvidenceRepository
	Analysis AnalysisRepository
	Usage    UsageRepository
	Audit    AuditRepository

	pool *pgxpool.Pool
}

// NewRepositories creates all PostgreSQL-backed repositories sharing one pool
func NewRepositories(db *pgxpool.Pool) *Repositories {
	return &Repositories{
		User:     NewUserRepository(db),
		APIKey:   NewAPIKeyRepository(db),
		Evidence: NewEvidenceRepository(db),
		Analysis: NewAnalysisRepository(db),
		Usage:    NewUsageRepository(db),
		Audit:    NewAuditRepository(db),
		pool:     db,
	}
}

// Ping probes the metadata store. In-memory mode has no pool and always
// reports healthy.
func (r *Repositories) Ping(ctx context.Context) error {
	if r.pool == nil {
		return nil
	}
	return r.pool.Ping(ctx)
}

// NewMemoryRepositories creates in-memory repositories for development mode
// and tests, when no metadata store is configured.
func NewMemoryRepositories() *Repositories {
	return &Repositories{
		User:     NewMemoryUserRepository(),
		APIKey:   NewMemoryAPIKeyRepository(),
		Evidence: NewMemoryEvidenceRepository(),
		Analysis: NewMemoryAnalysisRepository(),
		Usage:    NewMemoryUsageRepository(),
		Audit:    NewMemoryAuditRepository(),
	}
}
