// Package classifier maps churn probabilities to risk tiers.
package classifier

import (
	"fmt"
	"math"

	"github.com/opensource-telco/kestrel/internal/domain"
)

// Classifier assigns a RiskTier to a churn probability using fixed,
// lower-inclusive bounds. It holds no cross-call state; Classify is a pure
// function of its input and the validated band set.
type Classifier struct {
	bands []domain.TierBand // ascending by tier, validated
}

// New creates a classifier from a band set. The bands must have exactly one
// entry per tier, in ascending tier order, with lower bounds starting at 0
// and strictly increasing within [0,1), so the tiers partition [0,1] with no
// gaps or overlaps. A violation is a ConfigurationError: the engine must not
// score anything with broken thresholds.
func New(bands []domain.TierBand) (*Classifier, error) {
	tiers := domain.AllTiers()
	if len(bands) != len(tiers) {
		return nil, fmt.Errorf("%w: expected %d tier bands, got %d", domain.ErrConfiguration, len(tiers), len(bands))
	}
	for i, band := range bands {
		if band.Tier != tiers[i] {
			return nil, fmt.Errorf("%w: band %d must be tier %s, got %s", domain.ErrConfiguration, i, tiers[i], band.Tier)
		}
		if band.Lower < 0 || band.Lower >= 1 || math.IsNaN(band.Lower) {
			return nil, fmt.Errorf("%w: %s lower bound %v outside [0,1)", domain.ErrConfiguration, band.Tier, band.Lower)
		}
		if i == 0 {
			if band.Lower != 0 {
				return nil, fmt.Errorf("%w: %s lower bound must be 0, got %v", domain.ErrConfiguration, band.Tier, band.Lower)
			}
			continue
		}
		if band.Lower <= bands[i-1].Lower {
			return nil, fmt.Errorf("%w: %s lower bound %v does not exceed %s bound %v",
				domain.ErrConfiguration, band.Tier, band.Lower, bands[i-1].Tier, bands[i-1].Lower)
		}
	}

	c := &Classifier{bands: make([]domain.TierBand, len(bands))}
	copy(c.bands, bands)
	return c, nil
}

// Default returns a classifier with the fixed production thresholds
// (0.30 / 0.50 / 0.70).
func Default() *Classifier {
	c, err := New(domain.DefaultTierBands())
	if err != nil {
		// DefaultTierBands always validates
		panic(err)
	}
	return c
}

// Classify returns the tier implied by the probability. Boundary values map
// to the higher tier. Values outside [0,1] are a caller error.
func (c *Classifier) Classify(p float64) (domain.RiskTier, error) {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return domain.TierLow, fmt.Errorf("%w: %v", domain.ErrInvalidProbability, p)
	}
	for i := len(c.bands) - 1; i >= 0; i-- {
		if p >= c.bands[i].Lower {
			return c.bands[i].Tier, nil
		}
	}
	// Unreachable: the first band's lower bound is 0
	return domain.TierLow, nil
}

// Bands returns a copy of the active band set.
func (c *Classifier) Bands() []domain.TierBand {
	out := make([]domain.TierBand, len(c.bands))
	copy(out, c.bands)
	return out
}
