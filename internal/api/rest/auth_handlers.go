package rest

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caseproof/evidence-backend/internal/domain/apikey"
	"github.com/caseproof/evidence-backend/internal/domain/audit"
	"github.com/caseproof/evidence-backend/internal/domain/errors"
	"github.com/caseproof/evidence-backend/internal/domain/user"
	"github.com/caseproof/evidence-backend/internal/infrastructure/repository"
	"github.com/caseproof/evidence-backend/internal/service/gate"
)

type signupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

func (h *Handlers) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	u, err := user.NewUser(req.Email, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.repos.User.Create(r.Context(), u); err != nil {
		if repository.IsDuplicateKeyViolation(err) {
			writeError(w, h.logger, errors.NewAlreadyExistsError("account"))
			return
		}
		writeError(w, h.logger, errors.Wrap(err, "creating user"))
		return
	}

	h.logger.Info("user signed up", zap.String("user_id", u.ID.String()))
	writeJSON(w, http.StatusCreated, u)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// sessionCookie carries the session token for browser clients. API
// clients use the Authorization header or an API key instead.
const sessionCookie = "evx_session"

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	Tier      string    `json:"tier"`
}

func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	principal, session, err := h.auth.Authenticate(r.Context(), gate.Credentials{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		UserID:    principal.UserID,
		Email:     principal.Email,
		Tier:      principal.Tier.String(),
	})
}

// handleLogout clears the session cookie. Session tokens are stateless,
// so there is nothing to revoke server-side; logout always succeeds.
func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

type createKeyRequest struct {
	Name      string     `json:"name" validate:"required,max=100"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type createKeyResponse struct {
	Key       *apikey.Key `json:"key"`
	Plaintext string      `json:"plaintext"`
}

func (h *Handlers) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	var req createKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	key, plaintext, err := apikey.Generate(principal.UserID, req.Name, req.ExpiresAt)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.repos.APIKey.Create(r.Context(), key); err != nil {
		writeError(w, h.logger, errors.Wrap(err, "persisting api key"))
		return
	}
	h.auditKey(r, principal, key.ID, audit.ActionKeyIssued)

	// The plaintext appears in this response and nowhere else, ever.
	writeJSON(w, http.StatusCreated, createKeyResponse{Key: key, Plaintext: plaintext})
}

func (h *Handlers) handleListKeys(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	keys, err := h.repos.APIKey.ListByUser(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, h.logger, errors.Wrap(err, "listing api keys"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"keys": keys})
}

func (h *Handlers) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, errors.NewMalformedRequestError("key id must be a uuid"))
		return
	}

	key, err := h.repos.APIKey.GetByID(r.Context(), id)
	if err != nil {
		if repository.IsNotFound(err) {
			writeError(w, h.logger, errors.NewNotFoundError("api key"))
			return
		}
		writeError(w, h.logger, errors.Wrap(err, "loading api key"))
		return
	}
	if key.UserID != principal.UserID && !principal.IsAdmin {
		// Resource existence is not disclosed across accounts.
		writeError(w, h.logger, errors.NewNotFoundError("api key"))
		return
	}

	key.Active = false
	if err := h.repos.APIKey.Update(r.Context(), key); err != nil {
		writeError(w, h.logger, errors.Wrap(err, "revoking api key"))
		return
	}
	h.auditKey(r, principal, key.ID, audit.ActionKeyRevoked)

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.gate.Status(r.Context(), principalFrom(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handlers) auditKey(r *http.Request, principal user.Principal, keyID uuid.UUID, action string) {
	ev, err := audit.NewEvent(principal.UserID.String(), "api_key", keyID.String(), action, "success")
	if err != nil {
		return
	}
	ev.CorrelationID = requestIDFrom(r.Context())
	if err := h.repos.Audit.Append(r.Context(), ev); err != nil {
		h.logger.Error("failed to audit api key change", zap.Error(err))
	}
}
