package user

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUser(t *testing.T) {
	u, err := NewUser("counsel@example.com", "corr3ct-horse")
	require.NoError(t, err)

	assert.Equal(t, TierFree, u.Tier)
	assert.True(t, u.Active)
	assert.NotEqual(t, "corr3ct-horse", u.PasswordVerifier)
	assert.True(t, u.CheckPassword("corr3ct-horse"))
	assert.False(t, u.CheckPassword("wrong"))
}

func TestNewUserValidation(t *testing.T) {
	_, err := NewUser("not-an-email", "longenough")
	assert.Error(t, err)

	_, err = NewUser("counsel@example.com", "short")
	assert.Error(t, err)
}

func TestTierOrdering(t *testing.T) {
	assert.True(t, TierProfessional.Satisfies(TierStarter))
	assert.True(t, TierProfessional.Satisfies(TierProfessional))
	assert.False(t, TierFree.Satisfies(TierProfessional))
	assert.False(t, TierEnterprise.Satisfies(TierAdmin))

	// Admin satisfies any floor.
	for _, floor := range []Tier{TierFree, TierStarter, TierProfessional, TierPremium, TierEnterprise, TierAdmin} {
		assert.True(t, TierAdmin.Satisfies(floor), "admin vs %s", floor)
	}
}

func TestParseTierRoundTrip(t *testing.T) {
	for _, tier := range []Tier{TierFree, TierStarter, TierProfessional, TierPremium, TierEnterprise, TierAdmin} {
		assert.Equal(t, tier, ParseTier(tier.String()))
	}
	assert.Equal(t, TierFree, ParseTier("mystery"))
}

func TestRecordLogin(t *testing.T) {
	u, err := NewUser("counsel@example.com", "corr3ct-horse")
	require.NoError(t, err)

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	u.RecordLogin(now)
	require.NotNil(t, u.LastLoginAt)
	assert.Equal(t, now, *u.LastLoginAt)
}

func TestPrincipalOf(t *testing.T) {
	u, err := NewUser("counsel@example.com", "corr3ct-horse")
	require.NoError(t, err)
	u.Tier = TierAdmin

	p := PrincipalOf(u)
	assert.Equal(t, u.ID, p.UserID)
	assert.True(t, p.IsAdmin)
	assert.True(t, p.Active)
	assert.False(t, p.ViaAPIKey)
}
