package processor

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caseproof/evidence-backend/internal/domain/analysis"
	"github.com/caseproof/evidence-backend/internal/domain/audit"
	"github.com/caseproof/evidence-backend/internal/domain/errors"
	"github.com/caseproof/evidence-backend/internal/domain/evidence"
	"github.com/caseproof/evidence-backend/internal/infrastructure/cache"
	"github.com/caseproof/evidence-backend/internal/infrastructure/config"
	"github.com/caseproof/evidence-backend/internal/infrastructure/contentstore"
	"github.com/caseproof/evidence-backend/internal/infrastructure/events"
	"github.com/caseproof/evidence-backend/internal/infrastructure/repository"
	"github.com/caseproof/evidence-backend/internal/metrics"
	"github.com/caseproof/evidence-backend/internal/service/analyzer"
	"github.com/caseproof/evidence-backend/internal/service/ocr"
	"github.com/caseproof/evidence-backend/internal/service/report"
	"github.com/caseproof/evidence-backend/internal/service/transcription"
)

// Service is the evidence processor: ingestion into the content store,
// fingerprint-keyed analysis with single-flight and per-stage caching, and
// deterministic report rendering.
type Service struct {
	repos       *repository.Repositories
	store       *contentstore.Store
	loader      *cache.Loader
	transcriber *transcription.Service
	ocr         *ocr.Service
	bus         *events.Bus
	registry    *metrics.Registry
	window      *metrics.WindowCollector
	cfg         *config.Config
	logger      *zap.Logger

	retryBase        time.Duration // first retry backoff interval
	dependencyWindow time.Duration // elapsed budget for an unavailable dependency
}

// New creates the processor service.
func New(
	repos *repository.Repositories,
	store *contentstore.Store,
	loader *cache.Loader,
	transcriber *transcription.Service,
	ocrSvc *ocr.Service,
	bus *events.Bus,
	registry *metrics.Registry,
	window *metrics.WindowCollector,
	cfg *config.Config,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repos:            repos,
		store:            store,
		loader:           loader,
		transcriber:      transcriber,
		ocr:              ocrSvc,
		bus:              bus,
		registry:         registry,
		window:           window,
		cfg:              cfg,
		logger:           logger,
		retryBase:        time.Second,
		dependencyWindow: dependencyRetryWindow,
	}
}

// IngestRequest carries upload metadata alongside the byte stream.
type IngestRequest struct {
	UserID       uuid.UUID
	DeclaredType evidence.Type
	Filename     string
	CaseNumber   string
	Description  string // free-text note, recorded on the custody event
	MaxBytes     int64  // 0 means the configured default
}

// mimeWhitelist maps declared types to accepted detected MIME prefixes.
var mimeWhitelist = map[evidence.Type][]string{
	evidence.TypeVideo:    {"video/"},
	evidence.TypeAudio:    {"audio/", "video/"}, // containers often detect as video
	evidence.TypeImage:    {"image/"},
	evidence.TypeDocument: {"application/pdf", "text/", "application/msword", "application/vnd.openxmlformats-officedocument"},
	evidence.TypeOther:    {"text/", "application/octet-stream", "application/zip", "application/pdf"},
}

func mimeAllowed(declared evidence.Type, detected string) bool {
	for _, prefix := range mimeWhitelist[declared] {
		if len(detected) >= len(prefix) && detected[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// Ingest streams an upload into the content store, hashing incrementally.
// Duplicate content is deduplicated by digest; the evidence row is always
// written. Oversized uploads fail with TooLarge, disallowed content with
// UnsupportedType, truncated streams with IntegrityError.
func (s *Service) Ingest(ctx context.Context, body io.Reader, req IngestRequest) (*evidence.Evidence, error) {
	maxBytes := req.MaxBytes
	if maxBytes <= 0 {
		maxBytes = s.cfg.ContentStore.MaxUploadBytes
	}

	// Sniff the head for the MIME check before anything hits the store.
	head := make([]byte, 3072)
	n, err := io.ReadFull(body, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, errors.NewIntegrityError("upload stream aborted").WithCause(err)
	}
	head = head[:n]
	if n == 0 {
		return nil, errors.NewMalformedRequestError("upload is empty")
	}

	detected := mimetype.Detect(head).String()
	if !mimeAllowed(req.DeclaredType, detected) {
		return nil, errors.NewUnsupportedTypeError(detected)
	}

	writer, err := s.store.NewWriter()
	if err != nil {
		return nil, errors.Wrap(err, "opening content store writer")
	}

	if _, err := writer.Write(head); err != nil {
		writer.Abort()
		return nil, errors.Wrap(err, "writing upload")
	}
	copied, err := io.Copy(writer, io.LimitReader(body, maxBytes-int64(n)+1))
	if err != nil {
		writer.Abort()
		return nil, errors.NewIntegrityError("upload stream aborted").WithCause(err)
	}
	if int64(n)+copied > maxBytes {
		writer.Abort()
		return nil, errors.NewTooLargeError(maxBytes)
	}

	deduped := false
	digest, path, err := writer.Commit(contentstore.BlobMeta{
		OriginalFilename: req.Filename,
		DeclaredType:     string(req.DeclaredType),
		Size:             writer.Size(),
		IngestedAt:       time.Now().UTC(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "committing upload")
	}
	if existing, lookupErr := s.repos.Evidence.GetByDigest(ctx, req.UserID, digest); lookupErr == nil && existing != nil {
		deduped = true
	}

	ev, err := evidence.New(req.UserID, req.DeclaredType, digest, int64(n)+copied, req.Filename, path, req.CaseNumber)
	if err != nil {
		return nil, err
	}
	if err := s.repos.Evidence.Create(ctx, ev); err != nil {
		return nil, errors.Wrap(err, "persisting evidence")
	}

	s.publish(events.TopicEvidenceIngested, map[string]interface{}{
		"evidence_id": ev.ID.String(),
		"digest":      digest,
		"size_bytes":  ev.SizeBytes,
	})
	s.auditDetail(ctx, req.UserID.String(), ev, audit.ActionIngested, "success", "", req.Description)

	if s.registry != nil {
		s.registry.IngestCounter.Add(ctx, 1)
		s.registry.IngestBytes.Add(ctx, ev.SizeBytes)
		if deduped {
			s.registry.DedupCounter.Add(ctx, 1)
		}
	}
	s.logger.Info("evidence ingested",
		zap.String("evidence_id", ev.ID.String()),
		zap.String("digest", digest),
		zap.Int64("size_bytes", ev.SizeBytes),
		zap.Bool("deduped", deduped))
	return ev, nil
}

// ProcessContext is the caller-supplied analysis context. Only CaseNumber
// and ProfileVersion participate in the fingerprint.
type ProcessContext struct {
	CaseNumber      string
	ArrestDate      string
	InvolvedParties []string
	ContextText     string
	ProfileVersion  string

	// Compliance inputs.
	IsOriginal    bool
	Authenticated bool
}

// resolve loads the evidence, normalizes the processing context (profile
// default, case number fallback), and computes the fingerprint.
func (s *Service) resolve(ctx context.Context, evidenceID uuid.UUID, pctx ProcessContext) (*evidence.Evidence, string, ProcessContext, error) {
	ev, err := s.repos.Evidence.GetByID(ctx, evidenceID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, "", pctx, errors.NewNotFoundError("evidence")
		}
		return nil, "", pctx, errors.Wrap(err, "loading evidence")
	}

	profile := pctx.ProfileVersion
	if profile == "" {
		profile = analyzer.DefaultProfile
	}
	if !analyzer.KnownProfile(profile) {
		return nil, "", pctx, errors.NewMalformedRequestError("unknown analyzer profile version").
			WithDetail("version", profile)
	}
	pctx.ProfileVersion = profile
	if pctx.CaseNumber == "" {
		pctx.CaseNumber = ev.CaseNumber
	}

	fp := evidence.Fingerprint(ev.ContentDigest, ev.DeclaredType, pctx.CaseNumber, profile)
	return ev, fp, pctx, nil
}

// Begin prepares an asynchronous run. It returns the prior result when one
// exists for the fingerprint (completed results are served as-is; pending
// and running rows mean a pipeline is already underway), or a freshly
// persisted pending result whose id the caller polls while the pipeline
// runs. The bool reports whether the result is already completed.
func (s *Service) Begin(ctx context.Context, evidenceID uuid.UUID, pctx ProcessContext) (*analysis.Result, bool, error) {
	_, fp, norm, err := s.resolve(ctx, evidenceID, pctx)
	if err != nil {
		return nil, false, err
	}

	// Reuse only rows keyed to this evidence. A shared fingerprint across
	// evidence rows still collapses into one computation downstream; here
	// the caller needs an id it owns to poll.
	if prior, perr := s.repos.Analysis.GetByFingerprint(ctx, fp); perr == nil && prior.EvidenceID == evidenceID {
		switch prior.State {
		case analysis.StateCompleted:
			return prior, true, nil
		case analysis.StatePending, analysis.StateRunning:
			return prior, false, nil
		}
	}

	result := analysis.NewResult(evidenceID, fp, norm.ProfileVersion)
	if err := s.repos.Analysis.Save(ctx, result); err != nil {
		return nil, false, errors.Wrap(err, "persisting pending analysis")
	}
	return result, false, nil
}

// Process runs (or retrieves) the full analysis for an evidence artifact.
// Identical (content, type, case number, profile) requests share one
// computation and one cached result.
func (s *Service) Process(ctx context.Context, evidenceID uuid.UUID, pctx ProcessContext) (*analysis.Result, error) {
	ev, fp, norm, err := s.resolve(ctx, evidenceID, pctx)
	if err != nil {
		return nil, err
	}
	pctx = norm
	started := time.Now()

	key := cache.FullResultPrefix + fp
	raw, hit, err := s.loader.GetOrCompute(ctx, key, s.cfg.ResultTTL(),
		func(ctx context.Context) (string, error) {
			return s.runPipeline(ctx, ev, fp, pctx)
		})
	if err != nil {
		if ctx.Err() != nil {
			// Release the single-flight lease so the next caller
			// starts a fresh computation.
			s.loader.Forget(key)
			return nil, errors.NewDeadlineExceededError("evidence processing").WithCause(err)
		}
		return nil, err
	}

	var result analysis.Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, errors.NewInternalError("decoding analysis result").WithCause(err)
	}

	if s.registry != nil {
		s.registry.RecordCacheLookup(ctx, hit, "full")
	}
	if hit {
		s.audit(ctx, ev.UserID.String(), ev, audit.ActionProcessedCached, "success", fp)
		s.logger.Info("analysis served from cache",
			zap.String("evidence_id", ev.ID.String()),
			zap.String("fingerprint", fp))
	}
	if s.window != nil {
		s.window.Observe("process.total.ms", float64(time.Since(started).Milliseconds()))
	}
	return &result, nil
}

// Report renders a persisted analysis in the requested format.
func (s *Service) Report(ctx context.Context, analysisID uuid.UUID, format report.Format) ([]byte, error) {
	result, err := s.repos.Analysis.GetByID(ctx, analysisID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, errors.NewNotFoundError("analysis")
		}
		return nil, errors.Wrap(err, "loading analysis")
	}
	if result.State != analysis.StateCompleted {
		return nil, errors.NewConflictError("analysis is not completed").
			WithDetail("state", string(result.State))
	}
	return report.Render(result, format)
}

// Export assembles the audit export bundle for a completed analysis.
func (s *Service) Export(ctx context.Context, analysisID uuid.UUID) ([]byte, error) {
	result, err := s.repos.Analysis.GetByID(ctx, analysisID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, errors.NewNotFoundError("analysis")
		}
		return nil, errors.Wrap(err, "loading analysis")
	}
	if result.State != analysis.StateCompleted {
		return nil, errors.NewConflictError("analysis is not completed").
			WithDetail("state", string(result.State))
	}
	ev, err := s.repos.Evidence.GetByID(ctx, result.EvidenceID)
	if err != nil {
		return nil, errors.Wrap(err, "loading evidence")
	}

	blob, err := s.store.Open(ev.ContentDigest)
	if err != nil {
		return nil, err
	}
	defer blob.Close()

	chain, err := s.repos.Audit.ListBySubject(ctx, "evidence", ev.ID.String(), 1000)
	if err != nil {
		return nil, errors.Wrap(err, "loading custody chain")
	}
	// ListBySubject is newest-first; the bundle wants chain order.
	ordered := make([]*audit.Event, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		ordered = append(ordered, chain[i])
	}

	bundle, err := report.ExportBundle(result, ev, blob, ordered)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, ev.UserID.String(), ev, audit.ActionExported, "success", result.Fingerprint)
	return bundle, nil
}

func (s *Service) publish(topic string, payload map[string]interface{}) {
	if s.bus != nil {
		s.bus.Publish(events.NewEvent(topic, payload))
	}
}

func (s *Service) audit(ctx context.Context, actorID string, ev *evidence.Evidence, action, outcome, fingerprint string) {
	s.auditDetail(ctx, actorID, ev, action, outcome, fingerprint, "")
}

func (s *Service) auditDetail(ctx context.Context, actorID string, ev *evidence.Evidence, action, outcome, fingerprint, detail string) {
	event, err := audit.NewEvent(actorID, "evidence", ev.ID.String(), action, outcome)
	if err != nil {
		return
	}
	event.ContentDigest = ev.ContentDigest
	event.Fingerprint = fingerprint
	event.CorrelationID = correlationFrom(ctx)
	event.Detail = detail
	if err := s.repos.Audit.Append(ctx, event); err != nil {
		s.logger.Error("failed to append audit event",
			zap.String("action", action), zap.Error(err))
	}
}

type correlationKey struct{}

// WithCorrelation attaches a request correlation id for audit records.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func correlationFrom(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}
