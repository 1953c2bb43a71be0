package rest

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/caseproof/evidence-backend/internal/domain/errors"
)

type componentHealth struct {
	Status string `json:"status"` // healthy, degraded, unhealthy
	Error  string `json:"error,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentHealth `json:"components"`
}

// handleHealth probes each infrastructure component. The content store is
// load-bearing: its failure makes the whole service unhealthy, everything
// else only degrades it.
func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy", Components: map[string]componentHealth{}}

	if err := h.store.Healthy(); err != nil {
		resp.Components["content_store"] = componentHealth{Status: "unhealthy", Error: err.Error()}
		resp.Status = "unhealthy"
	} else {
		resp.Components["content_store"] = componentHealth{Status: "healthy"}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.repos.Ping(ctx); err != nil {
		resp.Components["metadata"] = componentHealth{Status: "unhealthy", Error: err.Error()}
		resp.Status = "unhealthy"
	} else {
		resp.Components["metadata"] = componentHealth{Status: "healthy"}
	}

	if err := h.cache.Set(ctx, "health:probe", "ok", time.Minute); err != nil {
		resp.Components["cache"] = componentHealth{Status: "degraded", Error: err.Error()}
		if resp.Status == "healthy" {
			resp.Status = "degraded"
		}
	} else {
		resp.Components["cache"] = componentHealth{Status: "healthy"}
	}

	if h.services != nil {
		if h.services.AllReady() {
			resp.Components["services"] = componentHealth{Status: "healthy"}
		} else {
			resp.Components["services"] = componentHealth{Status: "degraded", Error: "not all services ready"}
			if resp.Status == "healthy" {
				resp.Status = "degraded"
			}
		}
	}

	status := http.StatusOK
	if resp.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// handleStats exposes the sliding-window latency statistics.
func (h *Handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	if h.window == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, h.window.Snapshot())
}

// handleAuditVerify verifies the custody ledger over [from, to). Bounds
// default to the last 24 hours.
func (h *Handlers) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	from := now.Add(-24 * time.Hour)
	to := now.Add(time.Second)

	var err error
	if raw := r.URL.Query().Get("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			writeError(w, h.logger, errors.NewMalformedRequestError("from must be RFC 3339"))
			return
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			writeError(w, h.logger, errors.NewMalformedRequestError("to must be RFC 3339"))
			return
		}
	}

	report, err := h.custody.VerifyRange(r.Context(), from, to)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type correctionRequest struct {
	EventID string `json:"event_id" validate:"required,uuid"`
	Detail  string `json:"detail" validate:"required,max=1000"`
}

func (h *Handlers) handleAuditCorrection(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	var req correctionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	correction, err := h.custody.Correct(r.Context(), principal.UserID.String(), req.EventID, req.Detail)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.logger.Info("audit correction recorded",
		zap.String("original", req.EventID),
		zap.String("correction", correction.ID.String()))
	writeJSON(w, http.StatusCreated, correction)
}
