package rest

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caseproof/evidence-backend/internal/domain/errors"
	"github.com/caseproof/evidence-backend/internal/domain/user"
	"github.com/caseproof/evidence-backend/internal/service/gate"
	"github.com/caseproof/evidence-backend/internal/service/processor"
)

type contextKey string

const (
	principalKey contextKey = "principal"
	requestIDKey contextKey = "request_id"
)

const requestIDHeader = "X-Request-ID"

// withRequestID assigns or propagates a correlation id for the request and
// echoes it on the response.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		ctx := context.WithValue(r.Context(), requestIDKey, id)
		ctx = processor.WithCorrelation(ctx, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// statusRecorder captures the response status for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withLogging writes one structured access log line per request.
func withLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(started)),
				zap.String("request_id", requestIDFrom(r.Context())))
		})
	}
}

// withRecovery turns handler panics into 500s instead of dropped
// connections.
func withRecovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("handler panicked",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path))
					writeError(w, logger, errors.NewInternalError("internal error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// authenticated resolves the caller's principal from an API key header, a
// bearer session token, or the session cookie, in that order, and rejects
// the request when none verifies.
func (h *Handlers) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := h.principalFrom(r)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		ctx := context.WithValue(r.Context(), principalKey, principal)
		next(w, r.WithContext(ctx))
	}
}

// adminOnly wraps authenticated with an admin tier requirement.
func (h *Handlers) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return h.authenticated(func(w http.ResponseWriter, r *http.Request) {
		if !principalFrom(r.Context()).IsAdmin {
			writeError(w, h.logger, errors.NewInsufficientTierError(user.TierAdmin.String()))
			return
		}
		next(w, r)
	})
}

func (h *Handlers) principalFrom(r *http.Request) (user.Principal, error) {
	if key := r.Header.Get("X-API-Key"); key != "" {
		principal, _, err := h.auth.Authenticate(r.Context(), gate.Credentials{APIKey: key})
		return principal, err
	}
	if header := r.Header.Get("Authorization"); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return user.Principal{}, errors.NewUnauthenticatedError("authorization header must be a bearer token")
		}
		return h.auth.ValidateSession(r.Context(), token)
	}
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return h.auth.ValidateSession(r.Context(), c.Value)
	}
	return user.Principal{}, errors.NewUnauthenticatedError("credentials required")
}

func principalFrom(ctx context.Context) user.Principal {
	if p, ok := ctx.Value(principalKey).(user.Principal); ok {
		return p
	}
	return user.Principal{}
}
