package domain

import (
	"context"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Customer record operations
	SaveCustomers(ctx context.Context, tenantID string, records []*CustomerRecord) error
	GetCustomer(ctx context.Context, tenantID string, customerID string) (*CustomerRecord, error)

	// Factor rule catalogue operations
	SaveFactorRule(ctx context.Context, tenantID string, rule *FactorRule) error
	GetFactorRule(ctx context.Context, tenantID string, ruleID string) (*FactorRule, error)
	ListFactorRules(ctx context.Context, tenantID string) ([]*FactorRule, error)

	// Tier band configuration
	SaveTierBands(ctx context.Context, tenantID string, bands []TierBand) error
	GetTierBands(ctx context.Context, tenantID string) ([]TierBand, error)

	// Scoring pass results
	SaveRun(ctx context.Context, tenantID string, run *ScoreRun) error
	GetRun(ctx context.Context, tenantID string, runID string) (*ScoreRun, error)
	SaveScoredCustomers(ctx context.Context, tenantID string, scored []ScoredCustomer) error
	ListScoredCustomers(ctx context.Context, tenantID string, runID string, limit int) ([]ScoredCustomer, error)

	// Aggregate reports
	SaveReport(ctx context.Context, tenantID string, report *AggregateReport) error
	GetReport(ctx context.Context, tenantID string, runID string) (*AggregateReport, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}
