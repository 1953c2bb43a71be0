package user

import (
	"net/mail"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/caseproof/evidence-backend/internal/domain/errors"
)

// User is the identity principal. The password verifier is an irreversible
// bcrypt hash; the plaintext is never stored.
type User struct {
	ID               uuid.UUID  `json:"id"`
	Email            string     `json:"email"`
	PasswordVerifier string     `json:"-"`
	Tier             Tier       `json:"tier"`
	Active           bool       `json:"active"`
	CreatedAt        time.Time  `json:"created_at"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
}

// NewUser creates a user on signup. Tier starts at free; only a billing
// callback or an admin mutates it afterwards.
func NewUser(email, password string) (*User, error) {
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, errors.NewMalformedRequestError("invalid email address").WithCause(err)
	}
	if len(password) < 8 {
		return nil, errors.NewMalformedRequestError("password must be at least 8 characters")
	}

	verifier, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.NewInternalError("hashing password").WithCause(err)
	}

	return &User{
		ID:               uuid.New(),
		Email:            email,
		PasswordVerifier: string(verifier),
		Tier:             TierFree,
		Active:           true,
		CreatedAt:        time.Now().UTC(),
	}, nil
}

// CheckPassword compares a candidate password against the stored verifier.
// bcrypt's comparison is constant time over the derived key.
func (u *User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordVerifier), []byte(password)) == nil
}

// RecordLogin stamps a successful authentication.
func (u *User) RecordLogin(at time.Time) {
	t := at.UTC()
	u.LastLoginAt = &t
}

// Principal is the authenticated actor derived from a user, possibly
// acting via an API key.
type Principal struct {
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	Tier      Tier      `json:"tier"`
	IsAdmin   bool      `json:"is_admin"`
	Active    bool      `json:"active"`
	ViaAPIKey bool      `json:"via_api_key"`
	APIKeyID  uuid.UUID `json:"api_key_id,omitempty"`
}

// PrincipalOf derives the principal for a user.
func PrincipalOf(u *User) Principal {
	return Principal{
		UserID:  u.ID,
		Email:   u.Email,
		Tier:    u.Tier,
		IsAdmin: u.Tier.IsAdmin(),
		Active:  u.Active,
	}
}
