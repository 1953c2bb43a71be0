package rest

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/caseproof/evidence-backend/internal/domain/errors"
	"github.com/caseproof/evidence-backend/internal/service/gate"
)

var validate = validator.New()

// errorBody is the wire shape of every non-2xx response.
type errorBody struct {
	Error         string                 `json:"error"`
	Message       string                 `json:"message"`
	Details       map[string]interface{} `json:"details,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError maps an error to its taxonomy status and JSON body. Internal
// errors never leak their message to the client.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := errors.StatusCode(err)
	kind := errors.KindOf(err)

	body := errorBody{
		Error:         string(kind),
		CorrelationID: errors.CorrelationID(err),
	}

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) && kind != errors.KindInternal {
		body.Message = appErr.Message
		body.Details = appErr.Details
	} else {
		body.Message = "internal error"
		if logger != nil {
			logger.Error("request failed", zap.Error(err),
				zap.String("correlation_id", body.CorrelationID))
		}
	}

	if kind == errors.KindRateLimited {
		if retry, ok := body.Details["retry_after_seconds"].(int); ok {
			w.Header().Set("Retry-After", strconv.Itoa(retry))
		}
	}
	writeJSON(w, status, body)
}

// setRateHeaders reflects the grant's rate bucket snapshot onto the
// response. Every gated route carries these headers.
func setRateHeaders(w http.ResponseWriter, grant *gate.Grant) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(grant.RateLimit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(grant.RateRemaining))
}

// decodeJSON parses and validates a request body.
func decodeJSON(r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return errors.NewMalformedRequestError("invalid request body").WithCause(err)
	}
	if err := validate.Struct(dest); err != nil {
		return errors.NewMalformedRequestError("request failed validation").WithCause(err)
	}
	return nil
}
