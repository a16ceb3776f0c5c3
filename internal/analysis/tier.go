package analysis

// Tier buckets an entity score for display.
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// ScoreTier returns the display tier for score.
func ScoreTier(score float64) Tier {
	switch {
	case score < 0.4:
		return TierLow
	case score < 0.5:
		return TierMedium
	default:
		return TierHigh
	}
}

// Color returns the hex colour used to render the tier.
func (t Tier) Color() string {
	switch t {
	case TierLow:
		return "#ef4444"
	case TierMedium:
		return "#f59e0b"
	default:
		return "#10b981"
	}
}
