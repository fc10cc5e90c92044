package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// RiskTier is an ordered severity band derived from churn probability.
// Low < Medium < High < Critical.
type RiskTier int

const (
	TierLow RiskTier = iota
	TierMedium
	TierHigh
	TierCritical
)

// AllTiers returns the four tiers in ascending order.
func AllTiers() []RiskTier {
	return []RiskTier{TierLow, TierMedium, TierHigh, TierCritical}
}

func (t RiskTier) String() string {
	switch t {
	case TierLow:
		return "Low"
	case TierMedium:
		return "Medium"
	case TierHigh:
		return "High"
	case TierCritical:
		return "Critical"
	default:
		return fmt.Sprintf("RiskTier(%d)", int(t))
	}
}

// ParseTier converts a tier name back to its RiskTier.
func ParseTier(s string) (RiskTier, error) {
	switch s {
	case "Low":
		return TierLow, nil
	case "Medium":
		return TierMedium, nil
	case "High":
		return TierHigh, nil
	case "Critical":
		return TierCritical, nil
	default:
		return TierLow, fmt.Errorf("unknown risk tier %q", s)
	}
}

// MarshalJSON renders tiers by name so no engine-internal ordinal leaks
// across the output boundary.
func (t RiskTier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *RiskTier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	tier, err := ParseTier(s)
	if err != nil {
		return err
	}
	*t = tier
	return nil
}

// RiskFactor is one triggered catalogue rule. Rank is the rule's position in
// the catalogue among the factors that fired, so the list order is stable
// across runs.
type RiskFactor struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Rank   int     `json:"rank"`
}

// ScoredCustomer is the engine-owned result of one scoring pass for one
// customer. It is built fresh each pass and never mutated afterward.
type ScoredCustomer struct {
	Customer    CustomerRecord `json:"customer"`
	Probability float64        `json:"churnProbability"`
	Tier        RiskTier       `json:"riskTier"`
	Factors     []RiskFactor   `json:"riskFactors"`
	RunID       string         `json:"runId,omitempty"`
	ScoredAt    time.Time      `json:"scoredAt"`
}

// TierBand is one lower-inclusive probability bound. A valid band set has
// exactly one band per tier, in ascending tier order, starting at 0 and
// strictly increasing within [0,1), so the four tiers partition [0,1].
type TierBand struct {
	Tier  RiskTier `json:"tier"`
	Lower float64  `json:"lower"`
}

// DefaultTierBands returns the fixed production thresholds.
func DefaultTierBands() []TierBand {
	return []TierBand{
		{Tier: TierLow, Lower: 0.0},
		{Tier: TierMedium, Lower: 0.30},
		{Tier: TierHigh, Lower: 0.50},
		{Tier: TierCritical, Lower: 0.70},
	}
}
