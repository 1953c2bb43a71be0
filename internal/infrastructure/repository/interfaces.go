package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/caseproof/evidence-backend/internal/domain/analysis"
	"github.com/caseproof/evidence-backend/internal/domain/apikey"
	"github.com/caseproof/evidence-backend/internal/domain/audit"
	"github.com/caseproof/evidence-backend/internal/domain/evidence"
	"github.com/caseproof/evidence-backend/internal/domain/user"
)

// UserRepository persists identity principals.
type UserRepository interface {
	Create(ctx context.Context, u *user.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	Update(ctx context.Context, u *user.User) error
}

// APIKeyRepository persists API keys; only digests, never plaintext.
type APIKeyRepository interface {
	Create(ctx context.Context, k *apikey.Key) error
	GetByID(ctx context.Context, id uuid.UUID) (*apikey.Key, error)
	GetByDigest(ctx context.Context, digest string) (*apikey.Key, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*apikey.Key, error)
	Update(ctx context.Context, k *apikey.Key) error
}

// EvidenceRepository persists ingested artifact metadata.
type EvidenceRepository interface {
	Create(ctx context.Context, e *evidence.Evidence) error
	GetByID(ctx context.Context, id uuid.UUID) (*evidence.Evidence, error)
	GetByDigest(ctx context.Context, userID uuid.UUID, digest string) (*evidence.Evidence, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*evidence.Evidence, error)
	Update(ctx context.Context, e *evidence.Evidence) error
}

// AnalysisRepository persists analysis results keyed by fingerprint.
type AnalysisRepository interface {
	Save(ctx context.Context, r *analysis.Result) error
	GetByID(ctx context.Context, id uuid.UUID) (*analysis.Result, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (*analysis.Result, error)
	GetLatestForEvidence(ctx context.Context, evidenceID uuid.UUID) (*analysis.Result, error)
}

// ChargeOutcome reports the result of a usage charge.
type ChargeOutcome struct {
	Applied  bool  // false when the charge token was already spent
	NewTotal int64 // counter value after this call
}

// UsageRepository maintains monthly usage counters. Charges are atomic and
// idempotent per charge token: replaying a token never double-counts.
type UsageRepository interface {
	Charge(ctx context.Context, userID uuid.UUID, period, counter string, amount int64, chargeToken uuid.UUID) (ChargeOutcome, error)
	Total(ctx context.Context, userID uuid.UUID, period, counter string) (int64, error)
	PeriodTotals(ctx context.Context, userID uuid.UUID, period string) (map[string]int64, error)
}

// AuditRepository is the append-only chain-of-custody store. Append seals
// each event into the partition day's hash chain under a row lock.
type AuditRepository interface {
	Append(ctx context.Context, ev *audit.Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*audit.Event, error)
	ListByPartitionDay(ctx context.Context, day string) ([]*audit.Event, error)
	ListBySubject(ctx context.Context, subjectType, subjectID string, limit int) ([]*audit.Event, error)
	ListRange(ctx context.Context, from, to time.Time) ([]*audit.Event, error)
}
