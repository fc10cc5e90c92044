package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Grouping dimension names used in AggregateReport rollups.
const (
	DimState         = "state"
	DimAgeBand       = "ageBand"
	DimGender        = "gender"
	DimMaritalStatus = "maritalStatus"
	DimContract      = "contract"
	DimTenureBand    = "tenureBand"
	DimPaymentMethod = "paymentMethod"
)

// TierCount is one slice of the tier histogram. All four tiers are always
// present in a report, zero or not, so tier-distribution displays never miss
// a slice.
type TierCount struct {
	Tier  RiskTier `json:"tier"`
	Count int      `json:"count"`
}

// GroupCount is one categorical group inside a dimension rollup. Groups with
// zero members are omitted.
type GroupCount struct {
	Key     string          `json:"key"`
	Count   int             `json:"count"`
	Revenue decimal.Decimal `json:"totalRevenue"`
}

// DimensionRollup is the grouped breakdown for one dimension, groups sorted
// by key for stable output.
type DimensionRollup struct {
	Dimension string       `json:"dimension"`
	Groups    []GroupCount `json:"groups"`
}

// FactorCount counts how many customers triggered a catalogue factor,
// ordered by count descending then name ascending.
type FactorCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// PriorityCustomer is one row of the top-N prioritized list, in the flat
// tabular shape the reporting layer renders directly.
type PriorityCustomer struct {
	CustomerID    string          `json:"customerId"`
	MonthlyCharge decimal.Decimal `json:"monthlyCharge"`
	TotalRevenue  decimal.Decimal `json:"totalRevenue"`
	TotalRefunds  decimal.Decimal `json:"totalRefunds"`
	Referrals     int             `json:"numberOfReferrals"`
	TenureMonths  int             `json:"tenureMonths"`
	Probability   float64         `json:"churnProbability"`
	Tier          RiskTier        `json:"riskTier"`
	Factors       string          `json:"riskFactors"` // comma-joined for flat formats
}

// AggregateReport is the engine-owned rollup over one full set of
// ScoredCustomer records. It is rebuilt from scratch every pass; it carries
// no state from prior runs.
type AggregateReport struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId"`
	RunID       string    `json:"runId"`
	GeneratedAt time.Time `json:"generatedAt"`

	TotalCustomers  int     `json:"totalCustomers"`
	MeanProbability float64 `json:"meanChurnProbability"`

	// Histogram over the four tiers, ascending, always length 4
	TierCounts []TierCount `json:"tierCounts"`

	// Revenue exposure summed over Critical and High customers only
	RevenueAtRisk        decimal.Decimal `json:"revenueAtRisk"`
	MonthlyRevenueAtRisk decimal.Decimal `json:"monthlyRevenueAtRisk"`

	Dimensions []DimensionRollup `json:"dimensions"`
	TopFactors []FactorCount     `json:"topFactors"`

	// Prioritized list, probability descending, ties by customer ID ascending
	TopCustomers []PriorityCustomer `json:"topCustomers"`

	// Digest of the scored set this report was built from; memoization key
	InputDigest string `json:"inputDigest"`
}

// Rejection records one customer excluded from a scoring pass.
type Rejection struct {
	CustomerID string `json:"customerId"`
	Reason     string `json:"reason"`
	Detail     string `json:"detail,omitempty"`
}

// Rejection reason codes.
const (
	RejectInvalidProbability = "INVALID_PROBABILITY"
	RejectMissingField       = "MISSING_FIELD"
	RejectMissingProbability = "MISSING_PROBABILITY"
)

// ScoreRun summarizes one scoring pass: what came in, what scored, what was
// rejected and why. The reporting layer renders partial results from it when
// some records were rejected.
type ScoreRun struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	Received int `json:"received"`
	Scored   int `json:"scored"`
	Rejected int `json:"rejected"`

	Rejections []Rejection `json:"rejections,omitempty"`

	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	DurationMs  int64     `json:"durationMs"`

	EngineVersion string `json:"engineVersion"`
}
