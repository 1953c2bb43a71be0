package transcription

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/caseproof/evidence-backend/internal/domain/analysis"
	"github.com/caseproof/evidence-backend/internal/domain/errors"
	"github.com/caseproof/evidence-backend/internal/domain/evidence"
	"github.com/caseproof/evidence-backend/internal/infrastructure/events"
)

// Request describes one transcription job.
type Request struct {
	EvidenceID    string
	ContentDigest string
	BlobPath      string
	DeclaredType  evidence.Type
	SizeBytes     int64
}

// Provider produces a transcript for a media artifact. Implementations
// must be deterministic for the same content digest so fingerprint-keyed
// caching stays sound.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, req Request) (*analysis.Transcript, error)
}

// Service runs transcription with a wall-clock limit, progress events, and
// a circuit breaker around the provider.
type Service struct {
	provider Provider
	breaker  *gobreaker.CircuitBreaker
	bus      *events.Bus
	limit    time.Duration
	logger   *zap.Logger
}

// progressInterval is the maximum silence between progress events.
const progressInterval = 10 * time.Second

// New creates the transcription service. A zero limit applies the default
// 30 minutes.
func New(provider Provider, bus *events.Bus, limit time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit <= 0 {
		limit = 30 * time.Minute
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "transcription-provider",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Service{
		provider: provider,
		breaker:  breaker,
		bus:      bus,
		limit:    limit,
		logger:   logger,
	}
}

// Transcribe produces the transcript for a media artifact. The input blob
// is never modified. Exceeding the wall-clock limit returns
// DeadlineExceeded; an open breaker returns a retryable
// DependencyUnavailable.
func (s *Service) Transcribe(ctx context.Context, req Request) (*analysis.Transcript, error) {
	if !req.DeclaredType.IsMedia() {
		return nil, errors.NewMalformedRequestError("transcription accepts only audio and video artifacts")
	}
	if s.provider == nil {
		return nil, errors.NewDependencyUnavailableError("transcription provider")
	}

	ctx, cancel := context.WithTimeout(ctx, s.limit)
	defer cancel()

	stopProgress := s.emitProgress(ctx, req)
	defer stopProgress()

	started := time.Now()
	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.provider.Transcribe(ctx, req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, errors.NewDependencyUnavailableError("transcription provider").WithCause(err)
		}
		if ctx.Err() != nil {
			return nil, errors.NewDeadlineExceededError("transcription").WithCause(ctx.Err())
		}
		return nil, errors.Wrap(err, "transcribing")
	}

	transcript := result.(*analysis.Transcript)
	s.logger.Info("transcription completed",
		zap.String("evidence_id", req.EvidenceID),
		zap.String("provider", s.provider.Name()),
		zap.String("language", transcript.Language),
		zap.Duration("took", time.Since(started)))
	return transcript, nil
}

// emitProgress publishes a progress heartbeat at least every 10 seconds
// until the returned stop function runs.
func (s *Service) emitProgress(ctx context.Context, req Request) func() {
	if s.bus == nil {
		return func() {}
	}

	done := make(chan struct{})
	started := time.Now()

	s.publishProgress(req, 0)
	go func() {
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.publishProgress(req, time.Since(started))
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

func (s *Service) publishProgress(req Request, elapsed time.Duration) {
	s.bus.Publish(events.NewEvent("stage.transcription.progress", map[string]interface{}{
		"evidence_id":     req.EvidenceID,
		"elapsed_seconds": int64(elapsed.Seconds()),
	}))
}
