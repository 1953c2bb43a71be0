package gate

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caseproof/evidence-backend/internal/domain/apikey"
	"github.com/caseproof/evidence-backend/internal/domain/audit"
	"github.com/caseproof/evidence-backend/internal/domain/errors"
	"github.com/caseproof/evidence-backend/internal/domain/user"
	"github.com/caseproof/evidence-backend/internal/infrastructure/repository"
)

// Credentials carries one of the two accepted credential forms.
type Credentials struct {
	Email    string
	Password string
	APIKey   string
}

// Session is the opaque handle returned on successful authentication.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Authenticator verifies credentials and issues JWT session handles.
type Authenticator struct {
	users     repository.UserRepository
	keys      repository.APIKeyRepository
	auditRepo repository.AuditRepository
	secret    []byte
	expiry    time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewAuthenticator creates an authenticator.
func NewAuthenticator(
	users repository.UserRepository,
	keys repository.APIKeyRepository,
	auditRepo repository.AuditRepository,
	jwtSecret string,
	tokenExpiry time.Duration,
	logger *zap.Logger,
) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tokenExpiry <= 0 {
		tokenExpiry = 24 * time.Hour
	}
	return &Authenticator{
		users:     users,
		keys:      keys,
		auditRepo: auditRepo,
		secret:    []byte(jwtSecret),
		expiry:    tokenExpiry,
		logger:    logger,
		now:       time.Now,
	}
}

// Authenticate verifies credentials and returns the principal with a
// session handle. Failures never disclose which part of the credential was
// wrong; the audit trail carries a low-cardinality reason instead.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) (user.Principal, *Session, error) {
	if creds.APIKey != "" {
		return a.authenticateKey(ctx, creds.APIKey)
	}
	return a.authenticatePassword(ctx, creds.Email, creds.Password)
}

func (a *Authenticator) authenticatePassword(ctx context.Context, email, password string) (user.Principal, *Session, error) {
	if email == "" || password == "" {
		return user.Principal{}, nil, errors.NewUnauthenticatedError("credentials are required")
	}

	u, err := a.users.GetByEmail(ctx, email)
	if err != nil {
		if repository.IsNotFound(err) {
			a.auditFailure(ctx, email, "unknown_email")
			return user.Principal{}, nil, errors.NewInvalidCredentialsError()
		}
		return user.Principal{}, nil, errors.Wrap(err, "looking up user")
	}

	if !u.CheckPassword(password) {
		a.auditFailure(ctx, u.ID.String(), "bad_password")
		return user.Principal{}, nil, errors.NewInvalidCredentialsError()
	}
	if !u.Active {
		a.auditFailure(ctx, u.ID.String(), "account_disabled")
		return user.Principal{}, nil, errors.NewAccountDisabledError()
	}

	u.RecordLogin(a.now())
	if err := a.users.Update(ctx, u); err != nil {
		a.logger.Warn("failed to record login", zap.Error(err))
	}

	principal := user.PrincipalOf(u)
	session, err := a.issueSession(principal)
	if err != nil {
		return user.Principal{}, nil, err
	}

	a.auditSuccess(ctx, u.ID.String(), "password")
	return principal, session, nil
}

func (a *Authenticator) authenticateKey(ctx context.Context, plaintext string) (user.Principal, *Session, error) {
	key, err := a.keys.GetByDigest(ctx, apikey.DigestOf(plaintext))
	if err != nil {
		if repository.IsNotFound(err) {
			a.auditFailure(ctx, "unknown", "unknown_api_key")
			return user.Principal{}, nil, errors.NewInvalidCredentialsError()
		}
		return user.Principal{}, nil, errors.Wrap(err, "looking up api key")
	}
	if !key.Matches(plaintext) || !key.Usable(a.now()) {
		a.auditFailure(ctx, key.UserID.String(), "unusable_api_key")
		return user.Principal{}, nil, errors.NewInvalidCredentialsError()
	}

	u, err := a.users.GetByID(ctx, key.UserID)
	if err != nil {
		if repository.IsNotFound(err) {
			a.auditFailure(ctx, key.UserID.String(), "orphaned_api_key")
			return user.Principal{}, nil, errors.NewInvalidCredentialsError()
		}
		return user.Principal{}, nil, errors.Wrap(err, "looking up key owner")
	}
	if !u.Active {
		a.auditFailure(ctx, u.ID.String(), "account_disabled")
		return user.Principal{}, nil, errors.NewAccountDisabledError()
	}

	key.RecordUse(a.now())
	if err := a.keys.Update(ctx, key); err != nil {
		a.logger.Warn("failed to record api key use", zap.Error(err))
	}

	principal := user.PrincipalOf(u)
	principal.ViaAPIKey = true
	principal.APIKeyID = key.ID

	a.auditSuccess(ctx, u.ID.String(), "api_key")
	return principal, nil, nil
}

type sessionClaims struct {
	Tier string `json:"tier"`
	jwt.RegisteredClaims
}

func (a *Authenticator) issueSession(p user.Principal) (*Session, error) {
	expiresAt := a.now().Add(a.expiry)
	claims := sessionClaims{
		Tier: p.Tier.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID.String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(a.now()),
			ID:        uuid.NewString(),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return nil, errors.NewInternalError("signing session token").WithCause(err)
	}
	return &Session{Token: token, ExpiresAt: expiresAt}, nil
}

// ValidateSession parses a session token and re-reads the principal so
// tier changes and deactivation take effect before the token expires.
func (a *Authenticator) ValidateSession(ctx context.Context, token string) (user.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return user.Principal{}, errors.NewUnauthenticatedError("session token is required")
	}

	var claims sessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.NewUnauthenticatedError("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return user.Principal{}, errors.NewUnauthenticatedError("invalid or expired session")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return user.Principal{}, errors.NewUnauthenticatedError("invalid session subject")
	}

	u, err := a.users.GetByID(ctx, userID)
	if err != nil {
		return user.Principal{}, errors.NewUnauthenticatedError("session principal no longer exists")
	}
	if !u.Active {
		return user.Principal{}, errors.NewAccountDisabledError()
	}
	return user.PrincipalOf(u), nil
}

func (a *Authenticator) auditSuccess(ctx context.Context, subjectID, method string) {
	ev, err := audit.NewEvent(subjectID, "user", subjectID, audit.ActionAuthSuccess, "success")
	if err != nil {
		return
	}
	ev.Detail = method
	if err := a.auditRepo.Append(ctx, ev); err != nil {
		a.logger.Error("failed to audit auth success", zap.Error(err))
	}
}

func (a *Authenticator) auditFailure(ctx context.Context, subjectID, reason string) {
	ev, err := audit.NewEvent(audit.ActorSystem, "user", subjectID, audit.ActionAuthFailure, "failure")
	if err != nil {
		return
	}
	ev.Detail = reason
	if err := a.auditRepo.Append(ctx, ev); err != nil {
		a.logger.Error("failed to audit auth failure", zap.Error(err))
	}
}
