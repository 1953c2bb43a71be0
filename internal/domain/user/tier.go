package user

// Tier is the subscription level selecting quotas, rate capacities, and
// feature flags.
type Tier int

const (
	TierFree Tier = iota
	TierStarter
	TierProfessional
	TierPremium
	TierEnterprise
	TierAdmin
)

func (t Tier) String() string {
	switch t {
	case TierFree:
		return "free"
	case TierStarter:
		return "starter"
	case TierProfessional:
		return "professional"
	case TierPremium:
		return "premium"
	case TierEnterprise:
		return "enterprise"
	case TierAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ParseTier maps a stored tier name to its Tier. Unknown names map to free.
func ParseTier(s string) Tier {
	switch s {
	case "starter":
		return TierStarter
	case "professional":
		return TierProfessional
	case "premium":
		return TierPremium
	case "enterprise":
		return TierEnterprise
	case "admin":
		return TierAdmin
	default:
		return TierFree
	}
}

// Satisfies reports whether the tier meets a required floor. Admin
// satisfies any floor.
func (t Tier) Satisfies(floor Tier) bool {
	if t == TierAdmin {
		return true
	}
	return t >= floor
}

// IsAdmin reports whether the tier is the administrative tier.
func (t Tier) IsAdmin() bool {
	return t == TierAdmin
}
