package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
//
// Aggregate reports are memoized here keyed by the scored set's input
// digest: an explicit, addressable cache rather than implicit shared state.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetReport retrieves a memoized aggregate report by input digest.
	GetReport(ctx context.Context, tenantID string, digest string) (*AggregateReport, error)

	// SetReport memoizes an aggregate report under its input digest.
	SetReport(ctx context.Context, tenantID string, digest string, report *AggregateReport, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}
