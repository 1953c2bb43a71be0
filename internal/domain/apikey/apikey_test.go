package apikey

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	userID := uuid.New()
	key, plaintext, err := Generate(userID, "ci pipeline", nil)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(plaintext, "evk_"))
	assert.Equal(t, userID, key.UserID)
	assert.True(t, key.Active)

	// The plaintext never appears in the stored record.
	assert.NotContains(t, key.Digest, plaintext)
	assert.Equal(t, DigestOf(plaintext), key.Digest)
}

func TestGenerateRequiresName(t *testing.T) {
	_, _, err := Generate(uuid.New(), "", nil)
	assert.Error(t, err)
}

func TestMatches(t *testing.T) {
	key, plaintext, err := Generate(uuid.New(), "ci", nil)
	require.NoError(t, err)

	assert.True(t, key.Matches(plaintext))
	assert.False(t, key.Matches(plaintext+"x"))
	assert.False(t, key.Matches("evk_0000"))
}

func TestUsable(t *testing.T) {
	now := time.Now()

	t.Run("active without expiry", func(t *testing.T) {
		key, _, _ := Generate(uuid.New(), "ci", nil)
		assert.True(t, key.Usable(now))
	})

	t.Run("deactivated", func(t *testing.T) {
		key, _, _ := Generate(uuid.New(), "ci", nil)
		key.Active = false
		assert.False(t, key.Usable(now))
	})

	t.Run("expired", func(t *testing.T) {
		past := now.Add(-time.Hour)
		key, _, _ := Generate(uuid.New(), "ci", &past)
		assert.False(t, key.Usable(now))
	})
}

func TestRecordUse(t *testing.T) {
	key, _, _ := Generate(uuid.New(), "ci", nil)
	at := time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC)

	key.RecordUse(at)
	key.RecordUse(at.Add(time.Minute))

	assert.Equal(t, int64(2), key.RequestCount)
	require.NotNil(t, key.LastUsedAt)
	assert.Equal(t, at.Add(time.Minute), *key.LastUsedAt)
}
