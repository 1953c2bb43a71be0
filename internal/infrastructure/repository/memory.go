package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caseproof/evidence-backend/internal/domain/analysis"
	"github.com/caseproof/evidence-backend/internal/domain/apikey"
	"github.com/caseproof/evidence-backend/internal/domain/audit"
	"github.com/caseproof/evidence-backend/internal/domain/evidence"
	"github.com/caseproof/evidence-backend/internal/domain/user"
)

// In-memory repository implementations. They back development mode (no
// metadata store configured) and service tests. Semantics match the
// PostgreSQL implementations: idempotent charges, sealed append-only audit
// chains, copy-on-read.

type memoryUserRepository struct {
	mu    sync.RWMutex
	users map[uuid.UUID]user.User
}

// NewMemoryUserRepository creates an in-memory user repository
func NewMemoryUserRepository() UserRepository {
	return &memoryUserRepository{users: make(map[uuid.UUID]user.User)}
}

func (r *memoryUserRepository) Create(_ context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return fmt.Errorf("email already registered: %w", ErrDuplicateKey)
		}
	}
	r.users[u.ID] = *u
	return nil
}

func (r *memoryUserRepository) GetByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (r *memoryUserRepository) GetByEmail(_ context.Context, email string) (*user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			out := u
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memoryUserRepository) Update(_ context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.ID]; !ok {
		return ErrNotFound
	}
	r.users[u.ID] = *u
	return nil
}

type memoryAPIKeyRepository struct {
	mu   sync.RWMutex
	keys map[uuid.UUID]apikey.Key
}

// NewMemoryAPIKeyRepository creates an in-memory API key repository
func NewMemoryAPIKeyRepository() APIKeyRepository {
	return &memoryAPIKeyRepository{keys: make(map[uuid.UUID]apikey.Key)}
}

func (r *memoryAPIKeyRepository) Create(_ context.Context, k *apikey.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.keys {
		if existing.Digest == k.Digest {
			return ErrDuplicateKey
		}
	}
	r.keys[k.ID] = *k
	return nil
}

func (r *memoryAPIKeyRepository) GetByID(_ context.Context, id uuid.UUID) (*apikey.Key, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.keys[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &k, nil
}

func (r *memoryAPIKeyRepository) GetByDigest(_ context.Context, digest string) (*apikey.Key, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, k := range r.keys {
		if k.Digest == digest {
			out := k
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memoryAPIKeyRepository) ListByUser(_ context.Context, userID uuid.UUID) ([]*apikey.Key, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*apikey.Key
	for _, k := range r.keys {
		if k.UserID == userID {
			copied := k
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryAPIKeyRepository) Update(_ context.Context, k *apikey.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[k.ID]; !ok {
		return ErrNotFound
	}
	r.keys[k.ID] = *k
	return nil
}

type memoryEvidenceRepository struct {
	mu      sync.RWMutex
	records map[uuid.UUID]evidence.Evidence
}

// NewMemoryEvidenceRepository creates an in-memory evidence repository
func NewMemoryEvidenceRepository() EvidenceRepository {
	return &memoryEvidenceRepository{records: make(map[uuid.UUID]evidence.Evidence)}
}

func (r *memoryEvidenceRepository) Create(_ context.Context, e *evidence.Evidence) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[e.ID] = *e
	return nil
}

func (r *memoryEvidenceRepository) GetByID(_ context.Context, id uuid.UUID) (*evidence.Evidence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (r *memoryEvidenceRepository) GetByDigest(_ context.Context, userID uuid.UUID, digest string) (*evidence.Evidence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var newest *evidence.Evidence
	for _, e := range r.records {
		if e.UserID == userID && e.ContentDigest == digest {
			copied := e
			if newest == nil || copied.CreatedAt.After(newest.CreatedAt) {
				newest = &copied
			}
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	return newest, nil
}

func (r *memoryEvidenceRepository) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]*evidence.Evidence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var all []*evidence.Evidence
	for _, e := range r.records {
		if e.UserID == userID {
			copied := e
			all = append(all, &copied)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (r *memoryEvidenceRepository) Update(_ context.Context, e *evidence.Evidence) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[e.ID]; !ok {
		return ErrNotFound
	}
	r.records[e.ID] = *e
	return nil
}

type memoryAnalysisRepository struct {
	mu      sync.RWMutex
	results map[uuid.UUID]*analysis.Result
}

// NewMemoryAnalysisRepository creates an in-memory analysis repository
func NewMemoryAnalysisRepository() AnalysisRepository {
	return &memoryAnalysisRepository{results: make(map[uuid.UUID]*analysis.Result)}
}

func (r *memoryAnalysisRepository) Save(_ context.Context, result *analysis.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *result
	r.results[result.ID] = &copied
	return nil
}

func (r *memoryAnalysisRepository) GetByID(_ context.Context, id uuid.UUID) (*analysis.Result, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result, ok := r.results[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *result
	return &copied, nil
}

func (r *memoryAnalysisRepository) GetByFingerprint(_ context.Context, fingerprint string) (*analysis.Result, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var newest *analysis.Result
	for _, result := range r.results {
		if result.Fingerprint == fingerprint {
			if newest == nil || result.CreatedAt.After(newest.CreatedAt.Time) {
				newest = result
			}
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	copied := *newest
	return &copied, nil
}

func (r *memoryAnalysisRepository) GetLatestForEvidence(_ context.Context, evidenceID uuid.UUID) (*analysis.Result, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var newest *analysis.Result
	for _, result := range r.results {
		if result.EvidenceID == evidenceID {
			if newest == nil || result.CreatedAt.After(newest.CreatedAt.Time) {
				newest = result
			}
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	copied := *newest
	return &copied, nil
}

type memoryUsageRepository struct {
	mu       sync.Mutex
	counters map[string]int64
	tokens   map[uuid.UUID]struct{}
}

// NewMemoryUsageRepository creates an in-memory usage repository
func NewMemoryUsageRepository() UsageRepository {
	return &memoryUsageRepository{
		counters: make(map[string]int64),
		tokens:   make(map[uuid.UUID]struct{}),
	}
}

func usageKey(userID uuid.UUID, period, counter string) string {
	return userID.String() + "|" + period + "|" + counter
}

func (r *memoryUsageRepository) Charge(_ context.Context, userID uuid.UUID, period, counter string, amount int64, chargeToken uuid.UUID) (ChargeOutcome, error) {
	if !periodPattern.MatchString(period) {
		return ChargeOutcome{}, fmt.Errorf("period must be YYYY-MM: %w", ErrInvalidInput)
	}
	if amount < 0 {
		return ChargeOutcome{}, fmt.Errorf("charge amount must be non-negative: %w", ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := usageKey(userID, period, counter)
	if _, spent := r.tokens[chargeToken]; spent {
		return ChargeOutcome{Applied: false, NewTotal: r.counters[key]}, nil
	}
	r.tokens[chargeToken] = struct{}{}
	r.counters[key] += amount
	return ChargeOutcome{Applied: true, NewTotal: r.counters[key]}, nil
}

func (r *memoryUsageRepository) Total(_ context.Context, userID uuid.UUID, period, counter string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[usageKey(userID, period, counter)], nil
}

func (r *memoryUsageRepository) PeriodTotals(_ context.Context, userID uuid.UUID, period string) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefix := userID.String() + "|" + period + "|"
	totals := make(map[string]int64)
	for key, total := range r.counters {
		if strings.HasPrefix(key, prefix) {
			totals[strings.TrimPrefix(key, prefix)] = total
		}
	}
	return totals, nil
}

type memoryAuditRepository struct {
	mu     sync.RWMutex
	events []*audit.Event
	byID   map[uuid.UUID]*audit.Event
	// chain head per partition day
	lastSeq  map[string]int64
	lastHash map[string]string
}

// NewMemoryAuditRepository creates an in-memory audit repository
func NewMemoryAuditRepository() AuditRepository {
	return &memoryAuditRepository{
		byID:     make(map[uuid.UUID]*audit.Event),
		lastSeq:  make(map[string]int64),
		lastHash: make(map[string]string),
	}
}

func (r *memoryAuditRepository) Append(_ context.Context, ev *audit.Event) error {
	if ev.Sealed() {
		return fmt.Errorf("event already sealed: %w", ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.lastHash[ev.PartitionDay]
	if !ok {
		prev = audit.GenesisHash
	}
	if err := ev.Seal(r.lastSeq[ev.PartitionDay]+1, prev); err != nil {
		return err
	}

	copied := *ev
	r.events = append(r.events, &copied)
	r.byID[ev.ID] = &copied
	r.lastSeq[ev.PartitionDay] = ev.SequenceNum
	r.lastHash[ev.PartitionDay] = ev.EventHash
	return nil
}

func (r *memoryAuditRepository) GetByID(_ context.Context, id uuid.UUID) (*audit.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ev, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *ev
	return &copied, nil
}

func (r *memoryAuditRepository) ListByPartitionDay(_ context.Context, day string) ([]*audit.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*audit.Event
	for _, ev := range r.events {
		if ev.PartitionDay == day {
			copied := *ev
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNum < out[j].SequenceNum })
	return out, nil
}

func (r *memoryAuditRepository) ListBySubject(_ context.Context, subjectType, subjectID string, limit int) ([]*audit.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	var out []*audit.Event
	for _, ev := range r.events {
		if ev.SubjectType == subjectType && ev.SubjectID == subjectID {
			copied := *ev
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryAuditRepository) ListRange(_ context.Context, from, to time.Time) ([]*audit.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*audit.Event
	for _, ev := range r.events {
		if !ev.Timestamp.Before(from) && ev.Timestamp.Before(to) {
			copied := *ev
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PartitionDay != out[j].PartitionDay {
			return out[i].PartitionDay < out[j].PartitionDay
		}
		return out[i].SequenceNum < out[j].SequenceNum
	})
	return out, nil
}
