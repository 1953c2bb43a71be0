package rest

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caseproof/evidence-backend/internal/domain/errors"
	"github.com/caseproof/evidence-backend/internal/domain/evidence"
	"github.com/caseproof/evidence-backend/internal/infrastructure/repository"
	"github.com/caseproof/evidence-backend/internal/service/gate"
	"github.com/caseproof/evidence-backend/internal/service/processor"
)

type uploadResponse struct {
	EvidenceID    uuid.UUID `json:"evidence_id"`
	ContentDigest string    `json:"content_digest"`
	Bytes         int64     `json:"bytes"`
}

// handleUpload ingests a multipart upload. The gate grants first; the
// monthly counter is charged only after the ingest succeeds.
func (h *Handlers) handleUpload(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	grant, err := h.gate.Check(r.Context(), principal, gate.OpUpload)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	setRateHeaders(w, grant)

	maxBytes := h.cfg.ContentStore.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.gate.Discard(grant.ChargeToken)
		writeError(w, h.logger, errors.NewMalformedRequestError("upload must be multipart form data").WithCause(err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.gate.Discard(grant.ChargeToken)
		writeError(w, h.logger, errors.NewMalformedRequestError("file field is required").WithCause(err))
		return
	}
	defer file.Close()

	ev, err := h.processor.Ingest(r.Context(), file, processor.IngestRequest{
		UserID:       principal.UserID,
		DeclaredType: evidence.Type(r.FormValue("declared_type")),
		Filename:     header.Filename,
		CaseNumber:   r.FormValue("case_number"),
		Description:  r.FormValue("description"),
		MaxBytes:     maxBytes,
	})
	if err != nil {
		h.gate.Discard(grant.ChargeToken)
		writeError(w, h.logger, err)
		return
	}

	if err := h.gate.Charge(r.Context(), grant.ChargeToken, 1); err != nil {
		h.logger.Error("failed to charge upload", zap.Error(err))
	}
	writeJSON(w, http.StatusCreated, uploadResponse{
		EvidenceID:    ev.ID,
		ContentDigest: ev.ContentDigest,
		Bytes:         ev.SizeBytes,
	})
}

func (h *Handlers) handleListEvidence(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	items, err := h.repos.Evidence.ListByUser(r.Context(), principal.UserID, limit, offset)
	if err != nil {
		writeError(w, h.logger, errors.Wrap(err, "listing evidence"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"evidence": items,
		"limit":    limit,
		"offset":   offset,
	})
}

func (h *Handlers) handleGetEvidence(w http.ResponseWriter, r *http.Request) {
	ev, err := h.ownedEvidence(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

type processRequest struct {
	ProfileVersion  string   `json:"analyzer_profile_version,omitempty" validate:"omitempty,max=10"`
	CaseNumber      string   `json:"case_number,omitempty" validate:"omitempty,max=100"`
	ArrestDate      string   `json:"arrest_date,omitempty" validate:"omitempty,max=30"`
	InvolvedParties []string `json:"involved_parties,omitempty" validate:"omitempty,max=50"`
	ContextText     string   `json:"context,omitempty" validate:"omitempty,max=100000"`
	IsOriginal      bool     `json:"is_original"`
	Authenticated   bool     `json:"authenticated"`
}

// handleProcess starts (or retrieves) an analysis. Cached completed results
// return 200 immediately without a charge. Everything else runs through the
// bounded task queue and answers 202 with the id to poll; a full queue
// surfaces as a retryable 503.
func (h *Handlers) handleProcess(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	ev, err := h.ownedEvidence(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req processRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}

	op := gate.OpProcessDocument
	if ev.DeclaredType.IsMedia() {
		op = gate.OpProcessVideo
	}
	grant, err := h.gate.Check(r.Context(), principal, op)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	setRateHeaders(w, grant)

	pctx := processor.ProcessContext{
		CaseNumber:      req.CaseNumber,
		ArrestDate:      req.ArrestDate,
		InvolvedParties: req.InvolvedParties,
		ContextText:     req.ContextText,
		ProfileVersion:  req.ProfileVersion,
		IsOriginal:      req.IsOriginal,
		Authenticated:   req.Authenticated,
	}

	result, done, err := h.processor.Begin(r.Context(), ev.ID, pctx)
	if err != nil {
		h.gate.Discard(grant.ChargeToken)
		writeError(w, h.logger, err)
		return
	}
	if done {
		// Re-serving a completed result consumes no quota.
		h.gate.Discard(grant.ChargeToken)
		writeJSON(w, http.StatusOK, result)
		return
	}

	// The worker outlives this request, so the task context derives from
	// the background context, keeping only the correlation id.
	taskCtx := processor.WithCorrelation(context.Background(), requestIDFrom(r.Context()))
	token := grant.ChargeToken
	pollID := result.ID
	if _, err := h.queue.Submit(taskCtx, func(ctx context.Context) (interface{}, error) {
		res, perr := h.processor.Process(ctx, ev.ID, pctx)
		if perr != nil {
			h.gate.Discard(token)
			return nil, perr
		}
		if res.ID != pollID {
			// The computation was shared with another evidence row.
			// Re-key a copy onto the id this caller is polling.
			mirror := *res
			mirror.ID = pollID
			mirror.EvidenceID = ev.ID
			if serr := h.repos.Analysis.Save(ctx, &mirror); serr != nil {
				h.logger.Error("failed to mirror shared analysis", zap.Error(serr))
			}
		}
		if cerr := h.gate.Charge(ctx, token, 1); cerr != nil {
			h.logger.Error("failed to charge processing", zap.Error(cerr))
		}
		return res, nil
	}); err != nil {
		h.gate.Discard(grant.ChargeToken)
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"analysis_id": result.ID,
		"state":       result.State,
		"status_url":  "/api/analysis/" + result.ID.String(),
	})
}

func (h *Handlers) handleCustody(w http.ResponseWriter, r *http.Request) {
	ev, err := h.ownedEvidence(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	chain, report, err := h.custody.Chain(r.Context(), "evidence", ev.ID.String(), queryInt(r, "limit", 200))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": chain,
		"report": report,
	})
}

// ownedEvidence loads the path's evidence and enforces ownership. Foreign
// resources read as not found rather than forbidden.
func (h *Handlers) ownedEvidence(r *http.Request) (*evidence.Evidence, error) {
	principal := principalFrom(r.Context())

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return nil, errors.NewMalformedRequestError("evidence id must be a uuid")
	}

	ev, err := h.repos.Evidence.GetByID(r.Context(), id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, errors.NewNotFoundError("evidence")
		}
		return nil, errors.Wrap(err, "loading evidence")
	}
	if ev.UserID != principal.UserID && !principal.IsAdmin {
		return nil, errors.NewNotFoundError("evidence")
	}
	return ev, nil
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
