package gate

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/caseproof/evidence-backend/internal/domain/audit"
	"github.com/caseproof/evidence-backend/internal/domain/errors"
	"github.com/caseproof/evidence-backend/internal/domain/user"
	"github.com/caseproof/evidence-backend/internal/infrastructure/config"
	"github.com/caseproof/evidence-backend/internal/infrastructure/repository"
	"github.com/caseproof/evidence-backend/internal/metrics"
)

// Grant is a successful gate decision. The charge token MUST be redeemed
// via Charge after the operation succeeds, or discarded on failure.
type Grant struct {
	ChargeToken uuid.UUID
	Operation   Operation
	Principal   user.Principal

	// Rate bucket snapshot for X-RateLimit response headers.
	RateLimit     int
	RateRemaining int
}

type pendingCharge struct {
	userID   uuid.UUID
	counter  string
	period   string
	issuedAt time.Time
}

type bucketKey struct {
	principal uuid.UUID
	class     string
}

// Gate enforces tier floors, feature flags, rate buckets, and monthly
// quotas in short-circuit order. Rate buckets live in memory on a
// monotonic clock; counters live in the metadata store.
type Gate struct {
	usage     repository.UsageRepository
	auditRepo repository.AuditRepository
	tiers     map[string]config.TierLimits
	logger    *zap.Logger
	registry  *metrics.Registry
	window    *metrics.WindowCollector

	mu      sync.Mutex
	buckets map[bucketKey]*rate.Limiter
	pending map[uuid.UUID]*pendingCharge

	now func() time.Time
}

// pendingTTL bounds how long an unredeemed charge token stays resolvable.
const pendingTTL = time.Hour

// New creates a gate.
func New(
	usage repository.UsageRepository,
	auditRepo repository.AuditRepository,
	tiers map[string]config.TierLimits,
	registry *metrics.Registry,
	window *metrics.WindowCollector,
	logger *zap.Logger,
) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tiers == nil {
		tiers = config.DefaultTierLimits()
	}
	return &Gate{
		usage:     usage,
		auditRepo: auditRepo,
		tiers:     tiers,
		logger:    logger,
		registry:  registry,
		window:    window,
		buckets:   make(map[bucketKey]*rate.Limiter),
		pending:   make(map[uuid.UUID]*pendingCharge),
		now:       time.Now,
	}
}

// Check runs the decision ladder and returns a grant or the first denial.
// Order: identity, tier floor, feature flag, rate bucket, monthly counter.
// A denial at step N never consumes resources at step N+1.
func (g *Gate) Check(ctx context.Context, principal user.Principal, op Operation) (*Grant, error) {
	started := g.now()
	defer func() {
		if g.window != nil {
			g.window.Observe("gate.decision.ms", float64(g.now().Sub(started).Milliseconds()))
		}
	}()

	// 1. Identity
	if principal.UserID == uuid.Nil {
		return nil, g.deny(ctx, principal, op, errors.NewUnauthenticatedError("no principal"))
	}
	if !principal.Active {
		return nil, g.deny(ctx, principal, op, errors.NewAccountDisabledError())
	}

	limits, ok := g.tiers[principal.Tier.String()]
	if !ok {
		limits = g.tiers[user.TierFree.String()]
	}

	// 2. Tier floor
	if !principal.Tier.Satisfies(op.TierFloor) {
		return nil, g.deny(ctx, principal, op, errors.NewInsufficientTierError(op.TierFloor.String()))
	}

	// 3. Feature flag
	if op.Feature != "" && !principal.IsAdmin && !HasFeature(limits, op.Feature) {
		return nil, g.deny(ctx, principal, op, errors.NewFeatureNotAvailableError(op.Feature))
	}

	// 4. Rate bucket
	bucket := g.bucketFor(principal.UserID, op.Class, limits)
	if !bucket.Allow() {
		retryAfter := retryAfterSeconds(limits.RefillPerSecond)
		return nil, g.deny(ctx, principal, op, errors.NewRateLimitedError(retryAfter))
	}

	// 5. Monthly counter
	period := g.period()
	if op.Counter != "" {
		if limit := MonthlyLimitFor(limits, op.Counter); limit != config.Unlimited {
			total, err := g.usage.Total(ctx, principal.UserID, period, op.Counter)
			if err != nil {
				return nil, errors.Wrap(err, "reading usage counter")
			}
			if total >= int64(limit) {
				return nil, g.deny(ctx, principal, op,
					errors.NewQuotaExceededError(op.Counter, g.periodResetAt().Format(time.RFC3339)))
			}
		}
	}

	grant := &Grant{
		ChargeToken:   uuid.New(),
		Operation:     op,
		Principal:     principal,
		RateLimit:     limits.RateCapacity,
		RateRemaining: int(math.Floor(bucket.Tokens())),
	}
	g.mu.Lock()
	g.prunePendingLocked()
	g.pending[grant.ChargeToken] = &pendingCharge{
		userID:   principal.UserID,
		counter:  op.Counter,
		period:   period,
		issuedAt: g.now(),
	}
	g.mu.Unlock()

	return grant, nil
}

// Charge redeems a grant's token, incrementing the monthly counter once no
// matter how many times the token is presented.
func (g *Gate) Charge(ctx context.Context, token uuid.UUID, amount int64) error {
	g.mu.Lock()
	pc, ok := g.pending[token]
	g.mu.Unlock()
	if !ok {
		return errors.NewNotFoundError("charge token")
	}
	if pc.counter == "" {
		return nil
	}

	outcome, err := g.usage.Charge(ctx, pc.userID, pc.period, pc.counter, amount, token)
	if err != nil {
		return errors.Wrap(err, "charging usage counter")
	}
	if outcome.Applied {
		if g.registry != nil {
			g.registry.QuotaChargeCounter.Add(ctx, 1)
		}
	}
	return nil
}

// Discard drops an unredeemed token after a failed operation.
func (g *Gate) Discard(token uuid.UUID) {
	g.mu.Lock()
	delete(g.pending, token)
	g.mu.Unlock()
}

// Status reports the caller's remaining rate tokens per class and current
// monthly counters.
type Status struct {
	Tier            string             `json:"tier"`
	Period          string             `json:"period"`
	PeriodResetAt   time.Time          `json:"period_reset_at"`
	RemainingTokens map[string]float64 `json:"remaining_tokens"`
	MonthlyCounters map[string]int64   `json:"monthly_counters"`
}

// Status answers the rate-limit status endpoint for a principal.
func (g *Gate) Status(ctx context.Context, principal user.Principal) (*Status, error) {
	limits, ok := g.tiers[principal.Tier.String()]
	if !ok {
		limits = g.tiers[user.TierFree.String()]
	}

	remaining := make(map[string]float64)
	g.mu.Lock()
	for key, limiter := range g.buckets {
		if key.principal == principal.UserID {
			remaining[key.class] = math.Floor(limiter.Tokens())
		}
	}
	g.mu.Unlock()
	// Classes the principal has not touched yet report full capacity.
	for _, class := range []string{"ingest", "process", "api"} {
		if _, seen := remaining[class]; !seen {
			remaining[class] = float64(limits.RateCapacity)
		}
	}

	counters, err := g.usage.PeriodTotals(ctx, principal.UserID, g.period())
	if err != nil {
		return nil, errors.Wrap(err, "reading usage counters")
	}

	return &Status{
		Tier:            principal.Tier.String(),
		Period:          g.period(),
		PeriodResetAt:   g.periodResetAt(),
		RemainingTokens: remaining,
		MonthlyCounters: counters,
	}, nil
}

func (g *Gate) bucketFor(principalID uuid.UUID, class string, limits config.TierLimits) *rate.Limiter {
	key := bucketKey{principal: principalID, class: class}
	g.mu.Lock()
	defer g.mu.Unlock()

	limiter, ok := g.buckets[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(limits.RefillPerSecond), limits.RateCapacity)
		g.buckets[key] = limiter
	}
	return limiter
}

func (g *Gate) deny(ctx context.Context, principal user.Principal, op Operation, denial *errors.AppError) error {
	subject := "anonymous"
	actor := audit.ActorSystem
	if principal.UserID != uuid.Nil {
		subject = principal.UserID.String()
		actor = subject
	}

	ev, err := audit.NewEvent(actor, "user", subject, audit.ActionGateDenied, "denied")
	if err == nil {
		ev.Detail = string(denial.Kind) + ":" + op.Name
		if appendErr := g.auditRepo.Append(ctx, ev); appendErr != nil {
			g.logger.Error("failed to audit gate denial", zap.Error(appendErr))
		}
	}

	if g.registry != nil {
		g.registry.RecordGateDenial(ctx, string(denial.Kind))
	}
	g.logger.Info("gate denied",
		zap.String("operation", op.Name),
		zap.String("kind", string(denial.Kind)),
		zap.String("user_id", subject))
	return denial
}

func (g *Gate) period() string {
	return g.now().UTC().Format("2006-01")
}

// periodResetAt is the first instant of the next month.
func (g *Gate) periodResetAt() time.Time {
	now := g.now().UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

func (g *Gate) prunePendingLocked() {
	cutoff := g.now().Add(-pendingTTL)
	for token, pc := range g.pending {
		if pc.issuedAt.Before(cutoff) {
			delete(g.pending, token)
		}
	}
}

// retryAfterSeconds is ceil(1/refill), the wait for one token to appear.
func retryAfterSeconds(refillPerSecond float64) int {
	if refillPerSecond <= 0 {
		return 1
	}
	return int(math.Ceil(1.0 / refillPerSecond))
}
