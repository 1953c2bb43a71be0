package repository

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var periodPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

// usageRepository implements UsageRepository using PostgreSQL. Counters are
// one row per (user, period, counter); the increment is a single UPSERT so
// concurrent charges serialize on the row without read-modify-write races.
type usageRepository struct {
	db *pgxpool.Pool
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *pgxpool.Pool) UsageRepository {
	return &usageRepository{db: db}
}

// Charge spends a charge token and increments the counter in one
// transaction. A token that was already spent leaves the counter untouched
// and reports the current total, so gate retries never double-bill.
func (r *usageRepository) Charge(ctx context.Context, userID uuid.UUID, period, counter string, amount int64, chargeToken uuid.UUID) (ChargeOutcome, error) {
	if !periodPattern.MatchString(period) {
		return ChargeOutcome{}, fmt.Errorf("period must be YYYY-MM: %w", ErrInvalidInput)
	}
	if amount < 0 {
		return ChargeOutcome{}, fmt.Errorf("charge amount must be non-negative: %w", ErrInvalidInput)
	}

	var outcome ChargeOutcome
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO usage_charges (token, user_id, period, counter, amount)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (token) DO NOTHING
		`, chargeToken, userID, period, counter, amount)
		if err != nil {
			return fmt.Errorf("failed to record charge token: %w", err)
		}

		if tag.RowsAffected() == 0 {
			// Token already spent; report the standing total.
			outcome.Applied = false
			return tx.QueryRow(ctx, `
				SELECT COALESCE((SELECT total FROM usage_counters
					WHERE user_id = $1 AND period = $2 AND counter = $3), 0)
			`, userID, period, counter).Scan(&outcome.NewTotal)
		}

		outcome.Applied = true
		return tx.QueryRow(ctx, `
			INSERT INTO usage_counters (user_id, period, counter, total)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, period, counter)
			DO UPDATE SET total = usage_counters.total + EXCLUDED.total
			RETURNING total
		`, userID, period, counter, amount).Scan(&outcome.NewTotal)
	})
	if err != nil {
		return ChargeOutcome{}, err
	}
	return outcome, nil
}

func (r *usageRepository) Total(ctx context.Context, userID uuid.UUID, period, counter string) (int64, error) {
	var total int64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE((SELECT total FROM usage_counters
			WHERE user_id = $1 AND period = $2 AND counter = $3), 0)
	`, userID, period, counter).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to read usage counter: %w", err)
	}
	return total, nil
}

func (r *usageRepository) PeriodTotals(ctx context.Context, userID uuid.UUID, period string) (map[string]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT counter, total FROM usage_counters
		WHERE user_id = $1 AND period = $2
	`, userID, period)
	if err != nil {
		return nil, fmt.Errorf("failed to read usage counters: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int64)
	for rows.Next() {
		var counter string
		var total int64
		if err := rows.Scan(&counter, &total); err != nil {
			return nil, fmt.Errorf("failed to scan usage counter: %w", err)
		}
		totals[counter] = total
	}
	return totals, rows.Err()
}
