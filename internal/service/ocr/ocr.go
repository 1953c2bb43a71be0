package ocr

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/caseproof/evidence-backend/internal/domain/analysis"
	"github.com/caseproof/evidence-backend/internal/domain/errors"
	"github.com/caseproof/evidence-backend/internal/domain/evidence"
)

// Request describes one OCR job.
type Request struct {
	EvidenceID    string
	ContentDigest string
	BlobPath      string
	DeclaredType  evidence.Type
	SizeBytes     int64
}

// Provider extracts page text from a visual artifact. Implementations must
// be deterministic for the same content digest.
type Provider interface {
	Name() string
	Recognize(ctx context.Context, req Request) ([]analysis.OCRPage, error)
}

// Service runs OCR behind a circuit breaker and validates the page
// contract: strictly increasing 1-based page numbers, a single page for
// images.
type Service struct {
	provider Provider
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.Logger
}

// New creates the OCR service.
func New(provider Provider, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ocr-provider",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Service{provider: provider, breaker: breaker, logger: logger}
}

// Recognize extracts page text. The input blob is never modified.
func (s *Service) Recognize(ctx context.Context, req Request) ([]analysis.OCRPage, error) {
	if !req.DeclaredType.IsVisual() {
		return nil, errors.NewMalformedRequestError("ocr accepts only document and image artifacts")
	}
	if s.provider == nil {
		return nil, errors.NewDependencyUnavailableError("ocr provider")
	}

	started := time.Now()
	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.provider.Recognize(ctx, req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, errors.NewDependencyUnavailableError("ocr provider").WithCause(err)
		}
		if ctx.Err() != nil {
			return nil, errors.NewDeadlineExceededError("ocr").WithCause(ctx.Err())
		}
		return nil, errors.Wrap(err, "recognizing")
	}

	pages := result.([]analysis.OCRPage)
	if err := validatePages(req.DeclaredType, pages); err != nil {
		return nil, err
	}

	s.logger.Info("ocr completed",
		zap.String("evidence_id", req.EvidenceID),
		zap.String("provider", s.provider.Name()),
		zap.Int("pages", len(pages)),
		zap.Duration("took", time.Since(started)))
	return pages, nil
}

func validatePages(declaredType evidence.Type, pages []analysis.OCRPage) error {
	if len(pages) == 0 {
		return errors.NewIntegrityError("ocr produced no pages")
	}
	if declaredType == evidence.TypeImage && len(pages) != 1 {
		return errors.NewIntegrityError("image ocr must produce exactly one page")
	}
	for i, p := range pages {
		if p.PageNumber != i+1 {
			return errors.NewIntegrityError("ocr page numbers must be strictly increasing from 1").
				WithDetail("index", i).
				WithDetail("page_number", p.PageNumber)
		}
	}
	return nil
}
