package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/caseproof/evidence-backend/internal/domain/errors"
)

// Key is a long-lived bearer token. Only the SHA-256 digest of the
// presented key is persisted; the plaintext is shown once at creation.
type Key struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	Digest       string     `json:"-"`
	Name         string     `json:"name"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	RequestCount int64      `json:"request_count"`
}

const plaintextPrefix = "evk_"

// Generate mints a new key for a user. The returned plaintext is the only
// copy that will ever exist.
func Generate(userID uuid.UUID, name string, expiresAt *time.Time) (*Key, string, error) {
	if name == "" {
		return nil, "", errors.NewMalformedRequestError("api key name is required")
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", errors.NewInternalError("generating api key").WithCause(err)
	}
	plaintext := plaintextPrefix + hex.EncodeToString(raw)

	key := &Key{
		ID:        uuid.New(),
		UserID:    userID,
		Digest:    DigestOf(plaintext),
		Name:      name,
		Active:    true,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
	return key, plaintext, nil
}

// DigestOf returns the hex SHA-256 of a presented key.
func DigestOf(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// Matches compares a presented key against the stored digest in constant
// time.
func (k *Key) Matches(plaintext string) bool {
	presented := DigestOf(plaintext)
	return subtle.ConstantTimeCompare([]byte(presented), []byte(k.Digest)) == 1
}

// Usable reports whether the key may authenticate at the given instant.
func (k *Key) Usable(now time.Time) bool {
	if !k.Active {
		return false
	}
	if k.ExpiresAt != nil && now.After(*k.ExpiresAt) {
		return false
	}
	return true
}

// RecordUse stamps a successful authentication via this key.
func (k *Key) RecordUse(at time.Time) {
	t := at.UTC()
	k.LastUsedAt = &t
	k.RequestCount++
}
