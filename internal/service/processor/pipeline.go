package processor

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/caseproof/evidence-backend/internal/domain/analysis"
	"github.com/caseproof/evidence-backend/internal/domain/audit"
	"github.com/caseproof/evidence-backend/internal/domain/errors"
	"github.com/caseproof/evidence-backend/internal/domain/evidence"
	"github.com/caseproof/evidence-backend/internal/infrastructure/cache"
	"github.com/caseproof/evidence-backend/internal/infrastructure/events"
	"github.com/caseproof/evidence-backend/internal/service/analyzer"
	"github.com/caseproof/evidence-backend/internal/service/ocr"
	"github.com/caseproof/evidence-backend/internal/service/report"
	"github.com/caseproof/evidence-backend/internal/service/transcription"
)

// Stage names recorded in timings, audit details, and metrics.
const (
	StageTranscription = "transcription"
	StageOCR           = "ocr"
	StageScanner       = "violation_scanner"
	StageCompliance    = "compliance_checker"
	StageMotions       = "motion_recommender"
	StageSynthesis     = "report_synthesizer"
)

// maxStageAttempts bounds retries of an ordinary retryable stage failure.
const maxStageAttempts = 3

// dependencyRetryWindow is how long a stage keeps retrying a missing
// external dependency before the failure degrades to fatal.
const dependencyRetryWindow = 5 * time.Minute

// runPipeline executes the full analysis for one fingerprint. It runs under
// the loader's single-flight lease: concurrent requests for the same
// fingerprint wait on this computation instead of starting their own. The
// returned string is the JSON-encoded result the loader caches.
func (s *Service) runPipeline(ctx context.Context, ev *evidence.Evidence, fp string, pctx ProcessContext) (string, error) {
	// A completed result may have aged out of the cache while remaining
	// persisted. Completed is terminal per fingerprint, so re-serve it.
	prior, priorErr := s.repos.Analysis.GetByFingerprint(ctx, fp)
	if priorErr == nil && prior.State == analysis.StateCompleted {
		raw, merr := json.Marshal(prior)
		if merr != nil {
			return "", errors.NewInternalError("encoding analysis result").WithCause(merr)
		}
		s.audit(ctx, ev.UserID.String(), ev, audit.ActionProcessedCached, "success", fp)
		return string(raw), nil
	}

	started := time.Now()
	s.publish(events.TopicProcessingStarted, map[string]interface{}{
		"evidence_id": ev.ID.String(),
		"fingerprint": fp,
	})

	if err := ev.SetStatus(evidence.StatusProcessing); err != nil {
		return "", err
	}
	if err := s.repos.Evidence.Update(ctx, ev); err != nil {
		return "", errors.Wrap(err, "updating evidence status")
	}

	// Re-verify the stored blob against its digest before any stage reads
	// it. A mismatch means silent corruption and is never retried.
	if _, err := s.store.OpenVerified(ev.ContentDigest); err != nil {
		s.audit(ctx, audit.ActorSystem, ev, audit.ActionIntegrityMismatch, "failure", fp)
		s.failEvidence(ctx, ev)
		s.publish(events.TopicProcessingFailed, map[string]interface{}{
			"evidence_id": ev.ID.String(),
			"fingerprint": fp,
			"reason":      "content digest mismatch",
		})
		return "", err
	}

	// Adopt the pending row an asynchronous caller created, so the id it
	// is polling moves through the state machine.
	result := analysis.NewResult(ev.ID, fp, pctx.ProfileVersion)
	if priorErr == nil && prior.EvidenceID == ev.ID && prior.State == analysis.StatePending {
		result = prior
	}
	if err := result.SetState(analysis.StateRunning); err != nil {
		return "", err
	}
	if err := s.repos.Analysis.Save(ctx, result); err != nil {
		return "", errors.Wrap(err, "persisting running analysis")
	}

	if err := s.runStages(ctx, ev, fp, pctx, result); err != nil {
		result.FailedStage = failedStageOf(err)
		if serr := result.SetState(analysis.StateFailed); serr == nil {
			if perr := s.repos.Analysis.Save(ctx, result); perr != nil {
				s.logger.Error("failed to persist failed analysis", zap.Error(perr))
			}
		}
		s.failEvidence(ctx, ev)
		s.audit(ctx, audit.ActorSystem, ev, audit.ActionProcessingFailed, "failure", fp)
		s.publish(events.TopicProcessingFailed, map[string]interface{}{
			"evidence_id": ev.ID.String(),
			"fingerprint": fp,
			"stage":       result.FailedStage,
		})
		if s.registry != nil {
			s.registry.PipelineDuration.Record(ctx, float64(time.Since(started).Milliseconds()))
		}
		return "", err
	}

	if err := result.SetState(analysis.StateCompleted); err != nil {
		return "", err
	}
	if err := s.repos.Analysis.Save(ctx, result); err != nil {
		return "", errors.Wrap(err, "persisting analysis result")
	}
	if err := ev.SetStatus(evidence.StatusCompleted); err == nil {
		if uerr := s.repos.Evidence.Update(ctx, ev); uerr != nil {
			s.logger.Error("failed to update evidence status", zap.Error(uerr))
		}
	}

	s.audit(ctx, ev.UserID.String(), ev, audit.ActionProcessed, "success", fp)
	s.publish(events.TopicProcessingDone, map[string]interface{}{
		"evidence_id": ev.ID.String(),
		"analysis_id": result.ID.String(),
		"fingerprint": fp,
	})
	if s.registry != nil {
		s.registry.PipelineDuration.Record(ctx, float64(time.Since(started).Milliseconds()))
	}
	if s.window != nil {
		s.window.Observe("pipeline.ms", float64(time.Since(started).Milliseconds()))
	}
	s.logger.Info("analysis completed",
		zap.String("evidence_id", ev.ID.String()),
		zap.String("analysis_id", result.ID.String()),
		zap.String("fingerprint", fp),
		zap.Int("violations", len(result.Violations)))

	raw, err := json.Marshal(result)
	if err != nil {
		return "", errors.NewInternalError("encoding analysis result").WithCause(err)
	}
	return string(raw), nil
}

// runStages executes each applicable stage in order, recording timings on
// the result. Stage outputs cached from earlier runs are reused without
// re-executing the provider.
func (s *Service) runStages(ctx context.Context, ev *evidence.Evidence, fp string, pctx ProcessContext, result *analysis.Result) error {
	if ev.DeclaredType.IsMedia() {
		if err := s.transcriptionStage(ctx, ev, fp, result); err != nil {
			return err
		}
	}
	if ev.DeclaredType.IsVisual() {
		if err := s.ocrStage(ctx, ev, fp, result); err != nil {
			return err
		}
	}

	corpus := result.Corpus(pctx.ContextText)
	actx := analyzer.Context{
		CaseNumber:      pctx.CaseNumber,
		ArrestDate:      pctx.ArrestDate,
		InvolvedParties: pctx.InvolvedParties,
	}

	if err := s.pureStage(ctx, StageScanner, result, func() error {
		violations, err := analyzer.ScanViolations(corpus, actx, pctx.ProfileVersion)
		if err != nil {
			return stageErr(StageScanner, err)
		}
		result.Violations = violations
		return nil
	}); err != nil {
		return err
	}

	if err := s.pureStage(ctx, StageCompliance, result, func() error {
		custody, err := s.repos.Audit.ListBySubject(ctx, "evidence", ev.ID.String(), 1000)
		if err != nil {
			return stageErr(StageCompliance, errors.Wrap(err, "loading custody chain"))
		}
		issues, status := analyzer.CheckCompliance(analyzer.Attributes{
			Type:          ev.DeclaredType,
			IsOriginal:    pctx.IsOriginal,
			Authenticated: pctx.Authenticated,
			CustodyLength: len(custody),
		}, result.Violations)
		result.Compliance = issues
		result.ComplianceStatus = status
		return nil
	}); err != nil {
		return err
	}

	if err := s.pureStage(ctx, StageMotions, result, func() error {
		motions, err := analyzer.RecommendMotions(result.Violations, pctx.ProfileVersion)
		if err != nil {
			return stageErr(StageMotions, err)
		}
		result.Motions = motions
		return nil
	}); err != nil {
		return err
	}

	return s.pureStage(ctx, StageSynthesis, result, func() error {
		result.Citations = analyzer.CollectCitations(result.Violations)
		result.ExecutiveSummary = report.Summarize(result.Violations, result.ComplianceStatus, result.Motions)
		return nil
	})
}

func (s *Service) transcriptionStage(ctx context.Context, ev *evidence.Evidence, fp string, result *analysis.Result) error {
	stageStart := time.Now()
	attempts := 0

	raw, hit, err := s.loader.GetOrCompute(ctx, cache.TranscriptPrefix+fp, s.cfg.TranscriptTTL(),
		func(ctx context.Context) (string, error) {
			var transcript *analysis.Transcript
			err := s.withRetry(ctx, StageTranscription, &attempts, func(ctx context.Context) error {
				var terr error
				transcript, terr = s.transcriber.Transcribe(ctx, transcription.Request{
					EvidenceID:    ev.ID.String(),
					ContentDigest: ev.ContentDigest,
					BlobPath:      ev.StoragePath,
					DeclaredType:  ev.DeclaredType,
					SizeBytes:     ev.SizeBytes,
				})
				return terr
			})
			if err != nil {
				return "", err
			}
			encoded, merr := json.Marshal(transcript)
			if merr != nil {
				return "", errors.NewInternalError("encoding transcript").WithCause(merr)
			}
			return string(encoded), nil
		})
	if err != nil {
		return stageErr(StageTranscription, err)
	}

	var transcript analysis.Transcript
	if err := json.Unmarshal([]byte(raw), &transcript); err != nil {
		return stageErr(StageTranscription, errors.NewInternalError("decoding cached transcript").WithCause(err))
	}
	result.Transcript = &transcript
	s.recordStage(ctx, result, StageTranscription, stageStart, attempts, hit)
	return nil
}

func (s *Service) ocrStage(ctx context.Context, ev *evidence.Evidence, fp string, result *analysis.Result) error {
	stageStart := time.Now()
	attempts := 0

	raw, hit, err := s.loader.GetOrCompute(ctx, cache.OCRPrefix+fp, s.cfg.OCRTTL(),
		func(ctx context.Context) (string, error) {
			var pages []analysis.OCRPage
			err := s.withRetry(ctx, StageOCR, &attempts, func(ctx context.Context) error {
				var oerr error
				pages, oerr = s.ocr.Recognize(ctx, ocr.Request{
					EvidenceID:    ev.ID.String(),
					ContentDigest: ev.ContentDigest,
					BlobPath:      ev.StoragePath,
					DeclaredType:  ev.DeclaredType,
					SizeBytes:     ev.SizeBytes,
				})
				return oerr
			})
			if err != nil {
				return "", err
			}
			encoded, merr := json.Marshal(pages)
			if merr != nil {
				return "", errors.NewInternalError("encoding ocr pages").WithCause(merr)
			}
			return string(encoded), nil
		})
	if err != nil {
		return stageErr(StageOCR, err)
	}

	var pages []analysis.OCRPage
	if err := json.Unmarshal([]byte(raw), &pages); err != nil {
		return stageErr(StageOCR, errors.NewInternalError("decoding cached ocr pages").WithCause(err))
	}
	result.OCRPages = pages
	s.recordStage(ctx, result, StageOCR, stageStart, attempts, hit)
	return nil
}

// pureStage runs a deterministic in-process stage. No retries: any failure
// here is a programming or data error, not a transient one.
func (s *Service) pureStage(ctx context.Context, name string, result *analysis.Result, fn func() error) error {
	stageStart := time.Now()
	if err := fn(); err != nil {
		if s.registry != nil {
			s.registry.RecordStage(ctx, name, float64(time.Since(stageStart).Milliseconds()), false)
		}
		return err
	}
	s.recordStage(ctx, result, name, stageStart, 1, false)
	return nil
}

// withRetry runs a stage call with exponential backoff. Ordinary retryable
// failures get up to maxStageAttempts tries; an unavailable dependency is
// retried until the elapsed window runs out, then surfaces as fatal.
// Anything non-retryable fails immediately.
func (s *Service) withRetry(ctx context.Context, stage string, attempts *int, fn func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retryBase
	policy.Multiplier = 2
	policy.RandomizationFactor = 0.25
	// Bounds the dependency-unavailable class; ordinary retryables hit
	// the attempt cap long before this elapses.
	policy.MaxElapsedTime = s.dependencyWindow

	return backoff.Retry(func() error {
		*attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !errors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		if errors.KindOf(err) != errors.KindDependencyUnavailable && *attempts >= maxStageAttempts {
			return backoff.Permanent(err)
		}
		if s.registry != nil {
			s.registry.StageRetryCounter.Add(ctx, 1)
		}
		s.logger.Warn("stage failed, retrying",
			zap.String("stage", stage),
			zap.Int("attempt", *attempts),
			zap.Error(err))
		return err
	}, backoff.WithContext(policy, ctx))
}

func (s *Service) recordStage(ctx context.Context, result *analysis.Result, name string, start time.Time, attempts int, fromCache bool) {
	duration := time.Since(start)
	if fromCache {
		attempts = 0
	}
	result.RecordTiming(analysis.StageTiming{
		Stage:      name,
		StartedAt:  analysis.Timestamp{Time: start.UTC()},
		DurationMS: duration.Milliseconds(),
		Attempts:   attempts,
		FromCache:  fromCache,
	})
	if s.registry != nil {
		s.registry.RecordStage(ctx, name, float64(duration.Milliseconds()), true)
	}
	if s.window != nil {
		s.window.Observe("stage."+name+".ms", float64(duration.Milliseconds()))
	}
	s.publish(events.TopicStageCompleted, map[string]interface{}{
		"stage":      name,
		"from_cache": fromCache,
		"attempts":   attempts,
	})
}

func (s *Service) failEvidence(ctx context.Context, ev *evidence.Evidence) {
	if err := ev.SetStatus(evidence.StatusFailed); err != nil {
		return
	}
	if err := s.repos.Evidence.Update(ctx, ev); err != nil {
		s.logger.Error("failed to update evidence status", zap.Error(err))
	}
}

// stageErr tags an error with the stage that produced it so the failure
// report names it.
func stageErr(stage string, err error) error {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr.WithDetail("stage", stage)
	}
	return errors.NewInternalError("stage failed").WithDetail("stage", stage).WithCause(err)
}

func failedStageOf(err error) string {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		if stage, ok := appErr.Details["stage"].(string); ok {
			return stage
		}
	}
	return ""
}
