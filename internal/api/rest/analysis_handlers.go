package rest

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caseproof/evidence-backend/internal/domain/analysis"
	"github.com/caseproof/evidence-backend/internal/domain/errors"
	"github.com/caseproof/evidence-backend/internal/infrastructure/repository"
	"github.com/caseproof/evidence-backend/internal/service/gate"
	"github.com/caseproof/evidence-backend/internal/service/report"
)

// handleGetAnalysis is the polling endpoint: in-flight analyses answer 202,
// terminal ones (completed or failed) answer 200 with the full result.
func (h *Handlers) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	result, err := h.ownedAnalysis(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	status := http.StatusOK
	if result.State == analysis.StatePending || result.State == analysis.StateRunning {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

var reportContentTypes = map[report.Format]string{
	report.FormatCanonicalJSON: "application/json",
	report.FormatMarkdown:      "text/markdown; charset=utf-8",
	report.FormatHTML:          "text/html; charset=utf-8",
	report.FormatPDF:           "application/pdf",
}

func (h *Handlers) handleReport(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	result, err := h.ownedAnalysis(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	formatParam := r.URL.Query().Get("format")
	if formatParam == "" {
		formatParam = string(report.FormatCanonicalJSON)
	}
	format, err := report.ParseFormat(formatParam)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	grant, err := h.gate.Check(r.Context(), principal, gate.OpReport)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	setRateHeaders(w, grant)

	rendered, err := h.processor.Report(r.Context(), result.ID, format)
	if err != nil {
		h.gate.Discard(grant.ChargeToken)
		writeError(w, h.logger, err)
		return
	}
	if err := h.gate.Charge(r.Context(), grant.ChargeToken, 1); err != nil {
		h.logger.Error("failed to charge report render", zap.Error(err))
	}

	w.Header().Set("Content-Type", reportContentTypes[format])
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rendered)
}

func (h *Handlers) handleExport(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	result, err := h.ownedAnalysis(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	grant, err := h.gate.Check(r.Context(), principal, gate.OpExport)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	setRateHeaders(w, grant)

	bundle, err := h.processor.Export(r.Context(), result.ID)
	if err != nil {
		h.gate.Discard(grant.ChargeToken)
		writeError(w, h.logger, err)
		return
	}
	if err := h.gate.Charge(r.Context(), grant.ChargeToken, 1); err != nil {
		h.logger.Error("failed to charge export", zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="evidence-export-`+result.ID.String()+`.zip"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(bundle)
}

// ownedAnalysis loads the path's analysis and enforces ownership through
// its evidence row.
func (h *Handlers) ownedAnalysis(r *http.Request) (*analysis.Result, error) {
	principal := principalFrom(r.Context())

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return nil, errors.NewMalformedRequestError("analysis id must be a uuid")
	}

	result, err := h.repos.Analysis.GetByID(r.Context(), id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, errors.NewNotFoundError("analysis")
		}
		return nil, errors.Wrap(err, "loading analysis")
	}

	ev, err := h.repos.Evidence.GetByID(r.Context(), result.EvidenceID)
	if err != nil {
		return nil, errors.Wrap(err, "loading evidence for analysis")
	}
	if ev.UserID != principal.UserID && !principal.IsAdmin {
		return nil, errors.NewNotFoundError("analysis")
	}
	return result, nil
}
