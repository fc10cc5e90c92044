// Package worker provides async batch processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-telco/kestrel/internal/aggregate"
	"github.com/opensource-telco/kestrel/internal/domain"
	"github.com/opensource-telco/kestrel/internal/scoring"
)

// Worker scores ingested batches asynchronously from the EventBus.
type Worker struct {
	bus      domain.EventBus
	repo     domain.Repository
	cache    domain.Cache
	pipeline *scoring.Pipeline
	cfg      domain.ScoringConfig

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache, pipeline *scoring.Pipeline, cfg domain.ScoringConfig) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		repo:     repo,
		cache:    cache,
		pipeline: pipeline,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing batches for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicBatchIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts a worker for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicBatchIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.processBatch(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicBatchIngested,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processBatch(ctx, msg.TenantID, msg)
}

// criticalAlert is the payload published on the critical alert topic.
type criticalAlert struct {
	RunID         string `json:"runId"`
	CriticalCount int    `json:"criticalCount"`
	RevenueAtRisk string `json:"revenueAtRisk"`
}

// processBatch scores an ingested batch, builds its aggregate report and
// publishes run completion events.
func (w *Worker) processBatch(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var batch scoring.Batch
	if err := json.Unmarshal(msg.Payload, &batch); err != nil {
		slog.Error("failed to parse batch message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use batch tenant if provided
	if batch.TenantID != "" {
		tenantID = batch.TenantID
	} else {
		batch.TenantID = tenantID
	}
	if batch.RunID == "" {
		batch.RunID = msg.ID
	}

	slog.Debug("processing batch",
		"run_id", batch.RunID,
		"tenant_id", tenantID,
		"records", len(batch.Records),
	)

	result, err := w.pipeline.Score(ctx, &batch)
	if err != nil {
		slog.Error("batch scoring failed",
			"run_id", batch.RunID,
			"error", err,
		)
		return err
	}

	if w.repo != nil {
		if err := w.repo.SaveCustomers(ctx, tenantID, batch.Records); err != nil {
			slog.Error("failed to save customers", "run_id", batch.RunID, "error", err)
		}
		if err := w.repo.SaveScoredCustomers(ctx, tenantID, result.Scored); err != nil {
			slog.Error("failed to save scored customers", "run_id", batch.RunID, "error", err)
		}
		if err := w.repo.SaveRun(ctx, tenantID, result.Run); err != nil {
			slog.Error("failed to save run", "run_id", batch.RunID, "error", err)
		}
	}

	// Memoized aggregation keyed by the scored-set digest
	digest := aggregate.Digest(result.Scored)
	var report *domain.AggregateReport
	if w.cache != nil {
		if hit, err := w.cache.GetReport(ctx, tenantID, digest); err == nil && hit != nil {
			report = hit
			report.RunID = batch.RunID
		}
	}
	if report == nil {
		agg := aggregate.New(w.cfg)
		report = agg.Build(tenantID, batch.RunID, result.Scored)
		if w.cache != nil {
			_ = w.cache.SetReport(ctx, tenantID, digest, report, w.cfg.ReportTTL)
		}
	}
	if w.repo != nil {
		if err := w.repo.SaveReport(ctx, tenantID, report); err != nil {
			slog.Error("failed to save report", "run_id", batch.RunID, "error", err)
		}
	}

	// Publish run completion
	runPayload, _ := json.Marshal(result.Run)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicRunCompleted, runPayload); err != nil {
		slog.Error("failed to publish run completed",
			"run_id", batch.RunID,
			"error", err,
		)
	}

	// Alert when the batch contains critical-tier customers
	criticalCount := 0
	for _, tc := range report.TierCounts {
		if tc.Tier == domain.TierCritical {
			criticalCount = tc.Count
		}
	}
	if criticalCount > 0 {
		alertPayload, _ := json.Marshal(criticalAlert{
			RunID:         batch.RunID,
			CriticalCount: criticalCount,
			RevenueAtRisk: report.RevenueAtRisk.String(),
		})
		if err := w.bus.Publish(ctx, tenantID, domain.TopicCriticalAlert, alertPayload); err != nil {
			slog.Error("failed to publish critical alert",
				"run_id", batch.RunID,
				"error", err,
			)
		}
	}

	slog.Info("batch processed",
		"run_id", batch.RunID,
		"tenant_id", tenantID,
		"scored", result.Run.Scored,
		"rejected", result.Run.Rejected,
		"critical", criticalCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
