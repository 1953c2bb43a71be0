package custody

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caseproof/evidence-backend/internal/domain/audit"
	"github.com/caseproof/evidence-backend/internal/domain/errors"
	"github.com/caseproof/evidence-backend/internal/infrastructure/repository"
)

// Service exposes the chain-of-custody ledger: recording, corrections,
// subject chains, and cryptographic verification over day ranges.
type Service struct {
	repo   repository.AuditRepository
	logger *zap.Logger
}

// New creates the custody service.
func New(repo repository.AuditRepository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, logger: logger}
}

// Record appends one event to the ledger.
func (s *Service) Record(ctx context.Context, ev *audit.Event) error {
	return s.repo.Append(ctx, ev)
}

// Correct appends a correction event referencing an earlier one. The
// original row is never modified.
func (s *Service) Correct(ctx context.Context, actorID string, originalID string, detail string) (*audit.Event, error) {
	id, err := parseEventID(originalID)
	if err != nil {
		return nil, err
	}
	original, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, errors.NewNotFoundError("audit event")
		}
		return nil, errors.Wrap(err, "loading original event")
	}

	correction, err := audit.Correction(actorID, original, detail)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Append(ctx, correction); err != nil {
		return nil, errors.Wrap(err, "appending correction")
	}
	return correction, nil
}

// Chain returns the subject's custody events in chronological order along
// with a per-event integrity report.
func (s *Service) Chain(ctx context.Context, subjectType, subjectID string, limit int) ([]*audit.Event, audit.VerifyReport, error) {
	events, err := s.repo.ListBySubject(ctx, subjectType, subjectID, limit)
	if err != nil {
		return nil, audit.VerifyReport{}, errors.Wrap(err, "loading custody chain")
	}

	// Repository order is newest first.
	ordered := make([]*audit.Event, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		ordered = append(ordered, events[i])
	}
	return ordered, audit.VerifyEvents(ordered), nil
}

// DayReport is the verification outcome for one partition day.
type DayReport struct {
	Day    string             `json:"day"`
	Report audit.VerifyReport `json:"report"`
}

// RangeReport aggregates per-day verification over a time range.
type RangeReport struct {
	Valid       bool        `json:"valid"`
	EventsTotal int         `json:"events_total"`
	Days        []DayReport `json:"days"`
}

// VerifyDay verifies one partition day's full hash chain.
func (s *Service) VerifyDay(ctx context.Context, day string) (audit.VerifyReport, error) {
	events, err := s.repo.ListByPartitionDay(ctx, day)
	if err != nil {
		return audit.VerifyReport{}, errors.Wrap(err, "loading partition day")
	}
	return audit.VerifyChain(events), nil
}

// VerifyRange verifies every partition day touched by [from, to). Days are
// always verified whole: a range that clips a day still checks that day's
// complete chain, otherwise linkage back to genesis cannot be confirmed.
func (s *Service) VerifyRange(ctx context.Context, from, to time.Time) (RangeReport, error) {
	if !to.After(from) {
		return RangeReport{}, errors.NewMalformedRequestError("range end must be after range start")
	}

	inRange, err := s.repo.ListRange(ctx, from, to)
	if err != nil {
		return RangeReport{}, errors.Wrap(err, "loading range")
	}

	days := make([]string, 0)
	seen := make(map[string]bool)
	for _, ev := range inRange {
		if !seen[ev.PartitionDay] {
			seen[ev.PartitionDay] = true
			days = append(days, ev.PartitionDay)
		}
	}

	report := RangeReport{Valid: true}
	for _, day := range days {
		dayReport, err := s.VerifyDay(ctx, day)
		if err != nil {
			return RangeReport{}, err
		}
		report.Days = append(report.Days, DayReport{Day: day, Report: dayReport})
		report.EventsTotal += dayReport.EventsChecked
		if !dayReport.Valid {
			report.Valid = false
			s.logger.Warn("custody chain verification failed",
				zap.String("day", day),
				zap.Int64("broken_at", dayReport.BrokenAt),
				zap.String("reason", dayReport.Reason))
		}
	}
	return report, nil
}

func parseEventID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, errors.NewMalformedRequestError("event id must be a uuid")
	}
	return id, nil
}
