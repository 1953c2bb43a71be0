package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caseproof/evidence-backend/internal/domain/audit"
)

// auditRepository implements AuditRepository using PostgreSQL. Rows are
// append-only; a database trigger rejects UPDATE and DELETE on the table.
type auditRepository struct {
	db *pgxpool.Pool
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *pgxpool.Pool) AuditRepository {
	return &auditRepository{db: db}
}

const auditColumns = `id, partition_day, sequence_num, timestamp, actor_id,
	subject_type, subject_id, action, outcome, content_digest, fingerprint,
	correlation_id, detail, ref_event_id, previous_hash, event_hash`

// Append seals the event into the partition day's chain and inserts it.
// Concurrent appenders serialize on a per-day advisory lock held for the
// transaction, so the sequence stays gapless even when the day has no
// rows yet for a head read to lock.
func (r *auditRepository) Append(ctx context.Context, ev *audit.Event) error {
	if ev.Sealed() {
		return fmt.Errorf("event already sealed: %w", ErrInvalidInput)
	}

	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ev.PartitionDay); err != nil {
			return fmt.Errorf("failed to lock audit chain: %w", err)
		}

		var lastSeq int64
		lastHash := audit.GenesisHash
		err := tx.QueryRow(ctx, `
			SELECT sequence_num, event_hash FROM audit_events
			WHERE partition_day = $1
			ORDER BY sequence_num DESC
			LIMIT 1
		`, ev.PartitionDay).Scan(&lastSeq, &lastHash)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to read chain head: %w", err)
		}

		if err := ev.Seal(lastSeq+1, lastHash); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO audit_events (`+auditColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		`,
			ev.ID, ev.PartitionDay, ev.SequenceNum, ev.Timestamp, ev.ActorID,
			ev.SubjectType, ev.SubjectID, ev.Action, ev.Outcome, ev.ContentDigest, ev.Fingerprint,
			ev.CorrelationID, ev.Detail, ev.RefEventID, ev.PreviousHash, ev.EventHash)
		if err != nil {
			return fmt.Errorf("failed to append audit event: %w", err)
		}
		return nil
	})
}

func (r *auditRepository) GetByID(ctx context.Context, id uuid.UUID) (*audit.Event, error) {
	row := r.db.QueryRow(ctx, `SELECT `+auditColumns+` FROM audit_events WHERE id = $1`, id)
	ev, err := scanAuditEvent(row)
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (r *auditRepository) ListByPartitionDay(ctx context.Context, day string) ([]*audit.Event, error) {
	return r.list(ctx, `WHERE partition_day = $1 ORDER BY sequence_num ASC`, day)
}

func (r *auditRepository) ListBySubject(ctx context.Context, subjectType, subjectID string, limit int) ([]*audit.Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	return r.list(ctx, `
		WHERE subject_type = $1 AND subject_id = $2
		ORDER BY timestamp DESC LIMIT $3`, subjectType, subjectID, limit)
}

func (r *auditRepository) ListRange(ctx context.Context, from, to time.Time) ([]*audit.Event, error) {
	return r.list(ctx, `
		WHERE timestamp >= $1 AND timestamp < $2
		ORDER BY partition_day ASC, sequence_num ASC`, from.UTC(), to.UTC())
}

func (r *auditRepository) list(ctx context.Context, where string, args ...interface{}) ([]*audit.Event, error) {
	rows, err := r.db.Query(ctx, `SELECT `+auditColumns+` FROM audit_events `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var events []*audit.Event
	for rows.Next() {
		ev, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func scanAuditEvent(row pgx.Row) (*audit.Event, error) {
	var ev audit.Event
	err := row.Scan(
		&ev.ID, &ev.PartitionDay, &ev.SequenceNum, &ev.Timestamp, &ev.ActorID,
		&ev.SubjectType, &ev.SubjectID, &ev.Action, &ev.Outcome, &ev.ContentDigest, &ev.Fingerprint,
		&ev.CorrelationID, &ev.Detail, &ev.RefEventID, &ev.PreviousHash, &ev.EventHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan audit event: %w", err)
	}
	return &ev, nil
}
