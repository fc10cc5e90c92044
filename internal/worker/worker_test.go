package worker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-telco/kestrel/internal/bus"
	"github.com/opensource-telco/kestrel/internal/cache"
	"github.com/opensource-telco/kestrel/internal/classifier"
	"github.com/opensource-telco/kestrel/internal/domain"
	"github.com/opensource-telco/kestrel/internal/factors"
	"github.com/opensource-telco/kestrel/internal/scoring"
)

func testPipeline(t *testing.T) *scoring.Pipeline {
	t.Helper()

	engine, err := factors.NewEngine()
	if err != nil {
		t.Fatalf("failed to create attribution engine: %v", err)
	}
	if err := engine.LoadRules(factors.DefaultCatalogue()); err != nil {
		t.Fatalf("failed to load catalogue: %v", err)
	}

	return scoring.New(classifier.Default(), engine, 4)
}

func testRecord(id string) *domain.CustomerRecord {
	return &domain.CustomerRecord{
		ID:            id,
		TenureMonths:  3,
		Contract:      domain.ContractMonthToMonth,
		MonthlyCharge: decimal.RequireFromString("80.00"),
		TotalRevenue:  decimal.RequireFromString("240.00"),
		TotalRefunds:  decimal.Zero,
		PaymentMethod: domain.PaymentCreditCard,
		Services:      2,
		Age:           42,
		Gender:        domain.GenderMale,
		State:         "Ohio",
	}
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	pipeline := testPipeline(t)
	scoringCfg := domain.DefaultConfig().Scoring
	lru := cache.NewLRUCache(100)

	t.Run("StartAndStop", func(t *testing.T) {
		worker := NewWorker(eventBus, nil, lru, pipeline, scoringCfg)

		cfg := Config{
			TenantIDs: []string{"tenant-001"},
		}

		err := worker.Start(cfg)
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := worker.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}

		err = worker.Stop()
		if err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = worker.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessBatch", func(t *testing.T) {
		w := NewWorker(eventBus, nil, lru, pipeline, scoringCfg)

		cfg := Config{
			TenantIDs: []string{"tenant-test"},
		}
		w.Start(cfg)
		defer w.Stop()

		// Track run completion
		var runReceived atomic.Bool
		var runPayload []byte

		eventBus.Subscribe(context.Background(), "tenant-test", domain.TopicRunCompleted, func(ctx context.Context, msg *domain.Message) error {
			runPayload = msg.Payload
			runReceived.Store(true)
			return nil
		})

		// Allow subscriptions to be active
		time.Sleep(50 * time.Millisecond)

		batch := scoring.Batch{
			TenantID: "tenant-test",
			RunID:    "run-worker-001",
			Records:  []*domain.CustomerRecord{testRecord("CUST-W1"), testRecord("CUST-W2")},
			Probabilities: map[string]float64{
				"CUST-W1": 0.40,
				"CUST-W2": 0.10,
			},
		}

		payload, _ := json.Marshal(&batch)
		err := eventBus.Publish(context.Background(), "tenant-test", domain.TopicBatchIngested, payload)
		if err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		// Wait for processing
		time.Sleep(100 * time.Millisecond)

		if !runReceived.Load() {
			t.Fatal("expected run completion to be published")
		}

		var run domain.ScoreRun
		if err := json.Unmarshal(runPayload, &run); err != nil {
			t.Fatalf("failed to parse run: %v", err)
		}

		if run.ID != "run-worker-001" {
			t.Errorf("expected run ID 'run-worker-001', got '%s'", run.ID)
		}
		if run.Scored != 2 || run.Rejected != 0 {
			t.Errorf("expected 2 scored / 0 rejected, got %d / %d", run.Scored, run.Rejected)
		}
	})

	t.Run("CriticalAlertPublished", func(t *testing.T) {
		w := NewWorker(eventBus, nil, lru, pipeline, scoringCfg)

		cfg := Config{
			TenantIDs: []string{"tenant-alert"},
		}
		w.Start(cfg)
		defer w.Stop()

		var alertReceived atomic.Bool
		var alertPayload []byte

		eventBus.Subscribe(context.Background(), "tenant-alert", domain.TopicCriticalAlert, func(ctx context.Context, msg *domain.Message) error {
			alertPayload = msg.Payload
			alertReceived.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		// 0.90 lands in the Critical tier and must trigger an alert
		batch := scoring.Batch{
			TenantID:      "tenant-alert",
			RunID:         "run-alert-001",
			Records:       []*domain.CustomerRecord{testRecord("CUST-CRIT")},
			Probabilities: map[string]float64{"CUST-CRIT": 0.90},
		}

		payload, _ := json.Marshal(&batch)
		eventBus.Publish(context.Background(), "tenant-alert", domain.TopicBatchIngested, payload)

		time.Sleep(100 * time.Millisecond)

		if !alertReceived.Load() {
			t.Fatal("expected critical alert to be published")
		}

		var alert criticalAlert
		if err := json.Unmarshal(alertPayload, &alert); err != nil {
			t.Fatalf("failed to parse alert: %v", err)
		}
		if alert.CriticalCount != 1 {
			t.Errorf("expected 1 critical customer, got %d", alert.CriticalCount)
		}
		if alert.RevenueAtRisk != "240" {
			t.Errorf("expected revenue at risk 240, got %s", alert.RevenueAtRisk)
		}
	})

	t.Run("NoAlertBelowCritical", func(t *testing.T) {
		w := NewWorker(eventBus, nil, lru, pipeline, scoringCfg)

		cfg := Config{
			TenantIDs: []string{"tenant-calm"},
		}
		w.Start(cfg)
		defer w.Stop()

		var alertReceived atomic.Bool
		eventBus.Subscribe(context.Background(), "tenant-calm", domain.TopicCriticalAlert, func(ctx context.Context, msg *domain.Message) error {
			alertReceived.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		batch := scoring.Batch{
			TenantID:      "tenant-calm",
			RunID:         "run-calm-001",
			Records:       []*domain.CustomerRecord{testRecord("CUST-LOW")},
			Probabilities: map[string]float64{"CUST-LOW": 0.10},
		}

		payload, _ := json.Marshal(&batch)
		eventBus.Publish(context.Background(), "tenant-calm", domain.TopicBatchIngested, payload)

		time.Sleep(100 * time.Millisecond)

		if alertReceived.Load() {
			t.Error("did not expect a critical alert for a low-risk batch")
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		w := NewWorker(eventBus, nil, lru, pipeline, scoringCfg)

		cfg := Config{
			TenantIDs: []string{"tenant-a", "tenant-b"},
		}
		w.Start(cfg)
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions for 2 tenants, got %d", stats.SubscriptionCount)
		}
	})
}
