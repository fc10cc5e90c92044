package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-telco/kestrel/internal/aggregate"
	"github.com/opensource-telco/kestrel/internal/classifier"
	"github.com/opensource-telco/kestrel/internal/domain"
	"github.com/opensource-telco/kestrel/internal/factors"
	"github.com/opensource-telco/kestrel/internal/repository"
	"github.com/opensource-telco/kestrel/internal/scoring"
)

// GlobalTenantID is used for catalogue rules and tier bands that apply to
// all tenants.
const GlobalTenantID = "*"

// Handler holds dependencies for API handlers.
type Handler struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	attributor *factors.Engine
	scoringCfg domain.ScoringConfig
	version    string

	// classifier is swapped atomically on PUT /tiers
	mu  sync.RWMutex
	cls *classifier.Classifier
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, attributor *factors.Engine, cls *classifier.Classifier, scoringCfg domain.ScoringConfig, version string) *Handler {
	return &Handler{
		repo:       repo,
		cache:      cache,
		bus:        bus,
		attributor: attributor,
		scoringCfg: scoringCfg,
		version:    version,
		cls:        cls,
	}
}

func (h *Handler) classifier() *classifier.Classifier {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cls
}

// ScoreCustomer is one inbound customer row. The churn probability may be
// supplied inline or through the batch-level probabilities map.
type ScoreCustomer struct {
	domain.CustomerRecord
	Probability *float64 `json:"churnProbability,omitempty"`
}

// ScoreRequest is the request body for POST /score.
type ScoreRequest struct {
	Customers     []ScoreCustomer    `json:"customers"`
	Probabilities map[string]float64 `json:"probabilities,omitempty"`
}

// ScoreResponse is the response for POST /score.
type ScoreResponse struct {
	RunID    string                  `json:"runId"`
	Received int                     `json:"received"`
	Scored   int                     `json:"scored"`
	Rejected int                     `json:"rejected"`
	Report   *domain.AggregateReport `json:"report,omitempty"`
	Run      *domain.ScoreRun        `json:"run,omitempty"`
	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
		Cached  bool   `json:"reportCached"`
	} `json:"metadata"`
}

// criticalAlertEvent is the payload published on kestrel.alert.critical.
type criticalAlertEvent struct {
	RunID         string `json:"runId"`
	CriticalCount int    `json:"criticalCount"`
	RevenueAtRisk string `json:"revenueAtRisk"`
}

// Score handles POST /score requests. With ?async=true the batch is handed
// to the worker over the event bus and a 202 is returned immediately.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	runID := uuid.New().String()
	batch := h.buildBatch(tenantID, runID, &req)

	// Async mode: publish the batch for the worker and return immediately
	if isTruthy(r.URL.Query().Get("async")) {
		if h.bus == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "event bus not available",
			})
			return
		}
		payload, err := json.Marshal(batch)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to encode batch",
			})
			return
		}
		if err := h.bus.Publish(ctx, tenantID, domain.TopicBatchIngested, payload); err != nil {
			slog.Error("failed to publish batch", "run_id", runID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to enqueue batch",
			})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"runId":  runID,
			"status": "queued",
		})
		return
	}

	pipeline := scoring.New(h.classifier(), h.attributor, h.scoringCfg.MaxWorkers)

	result, err := pipeline.Score(ctx, batch)
	if err != nil {
		slog.Error("scoring pass failed", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "scoring failed",
		})
		return
	}

	// Persist inputs and outcomes. Persistence failures are logged, not
	// surfaced; the scoring result is still valid.
	if h.repo != nil {
		if err := h.repo.SaveCustomers(ctx, tenantID, batch.Records); err != nil {
			slog.Error("failed to save customers", "run_id", runID, "error", err)
		}
		if err := h.repo.SaveScoredCustomers(ctx, tenantID, result.Scored); err != nil {
			slog.Error("failed to save scored customers", "run_id", runID, "error", err)
		}
		if err := h.repo.SaveRun(ctx, tenantID, result.Run); err != nil {
			slog.Error("failed to save run", "run_id", runID, "error", err)
		}
	}

	// Memoized aggregation: an identical scored set yields the cached report
	digest := aggregate.Digest(result.Scored)
	var report *domain.AggregateReport
	cached := false
	if h.cache != nil {
		if hit, err := h.cache.GetReport(ctx, tenantID, digest); err == nil && hit != nil {
			report = hit
			report.RunID = runID
			cached = true
		}
	}
	if report == nil {
		agg := aggregate.New(h.scoringCfg)
		report = agg.Build(tenantID, runID, result.Scored)
		if h.cache != nil {
			_ = h.cache.SetReport(ctx, tenantID, digest, report, h.scoringCfg.ReportTTL)
		}
	}
	if h.repo != nil {
		if err := h.repo.SaveReport(ctx, tenantID, report); err != nil {
			slog.Error("failed to save report", "run_id", runID, "error", err)
		}
	}

	h.publishRunEvents(ctx, tenantID, result.Run, report)

	resp := ScoreResponse{
		RunID:    runID,
		Received: result.Run.Received,
		Scored:   result.Run.Scored,
		Rejected: result.Run.Rejected,
		Report:   report,
		Run:      result.Run,
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version
	resp.Metadata.Cached = cached

	writeJSON(w, http.StatusOK, resp)
}

// buildBatch joins inline probabilities with the batch-level map. Inline
// values win on conflict.
func (h *Handler) buildBatch(tenantID, runID string, req *ScoreRequest) *scoring.Batch {
	records := make([]*domain.CustomerRecord, 0, len(req.Customers))
	probabilities := make(map[string]float64, len(req.Customers))
	for id, p := range req.Probabilities {
		probabilities[id] = p
	}
	for i := range req.Customers {
		c := &req.Customers[i]
		rec := c.CustomerRecord
		records = append(records, &rec)
		if c.Probability != nil {
			probabilities[rec.ID] = *c.Probability
		}
	}
	return &scoring.Batch{
		TenantID:      tenantID,
		RunID:         runID,
		Records:       records,
		Probabilities: probabilities,
	}
}

// publishRunEvents emits run.completed and, when the batch contains
// critical-tier customers, alert.critical.
func (h *Handler) publishRunEvents(ctx context.Context, tenantID string, run *domain.ScoreRun, report *domain.AggregateReport) {
	if h.bus == nil {
		return
	}

	if payload, err := json.Marshal(run); err == nil {
		if err := h.bus.Publish(ctx, tenantID, domain.TopicRunCompleted, payload); err != nil {
			slog.Error("failed to publish run completed", "run_id", run.ID, "error", err)
		}
	}

	criticalCount := 0
	for _, tc := range report.TierCounts {
		if tc.Tier == domain.TierCritical {
			criticalCount = tc.Count
		}
	}
	if criticalCount > 0 {
		alert := criticalAlertEvent{
			RunID:         run.ID,
			CriticalCount: criticalCount,
			RevenueAtRisk: report.RevenueAtRisk.String(),
		}
		if payload, err := json.Marshal(alert); err == nil {
			if err := h.bus.Publish(ctx, tenantID, domain.TopicCriticalAlert, payload); err != nil {
				slog.Error("failed to publish critical alert", "run_id", run.ID, "error", err)
			}
		}
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetRun retrieves a scoring pass summary by ID.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	runID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	run, err := h.repo.GetRun(ctx, tenantID, runID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get run", "id", runID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "run not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// GetReport retrieves a run's aggregate report.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	runID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	report, err := h.repo.GetReport(ctx, tenantID, runID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get report", "run_id", runID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "report not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// ListRunCustomers retrieves a run's scored customers, highest probability
// first.
func (h *Handler) ListRunCustomers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	runID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	limit := parseLimit(r, 100)
	scored, err := h.repo.ListScoredCustomers(ctx, tenantID, runID, limit)
	if err != nil {
		slog.Error("failed to list scored customers", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list scored customers",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runId":     runID,
		"customers": scored,
		"count":     len(scored),
	})
}

// ExportRun returns a run's scored customers as flat priority rows suitable
// for spreadsheet export.
func (h *Handler) ExportRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	runID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	limit := parseLimit(r, 100)
	scored, err := h.repo.ListScoredCustomers(ctx, tenantID, runID, limit)
	if err != nil {
		slog.Error("failed to export run", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to export run",
		})
		return
	}

	rows := make([]domain.PriorityCustomer, 0, len(scored))
	for i := range scored {
		rows = append(rows, aggregate.FlattenCustomer(&scored[i]))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runId": runID,
		"rows":  rows,
		"count": len(rows),
	})
}

// ListFactors returns all catalogue rules loaded in the attribution engine.
// Rules are loaded from the database at startup and can be reloaded via
// POST /factors/reload.
func (h *Handler) ListFactors(w http.ResponseWriter, r *http.Request) {
	loaded := h.attributor.LoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"factors": loaded,
		"count":   len(loaded),
		"source":  "database",
	})
}

// GetFactor retrieves a catalogue rule by ID from the loaded engine rules.
func (h *Handler) GetFactor(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	for _, rule := range h.attributor.LoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "factor rule not found",
	})
}

// CreateFactorRequest is the request body for creating a catalogue rule.
type CreateFactorRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Expression  string  `json:"expression"`
	Weight      float64 `json:"weight"`
	Order       int     `json:"order"`
	Enabled     bool    `json:"enabled"`
}

// CreateFactor creates a new catalogue rule and saves it to the database.
// Rules are saved globally (tenant_id = "*") so they apply to all tenants.
// After saving, call POST /factors/reload to hot-reload into the engine.
func (h *Handler) CreateFactor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateFactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}
	if req.Weight < 0 || req.Weight > 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "weight must be between 0 and 1",
		})
		return
	}

	rule := &domain.FactorRule{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Weight:      req.Weight,
		Order:       req.Order,
		Enabled:     req.Enabled,
	}

	// Validate the CEL predicate before anything is persisted
	if err := h.attributor.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveFactorRule(ctx, GlobalTenantID, rule); err != nil {
			slog.Error("failed to save factor rule", "id", rule.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save factor rule",
			})
			return
		}
	}

	slog.Info("factor rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"factor":  rule,
		"message": "Factor rule created. Call POST /factors/reload to apply changes.",
	})
}

// ReloadFactors reloads all catalogue rules from the database into the
// attribution engine. This enables hot-reloading without server restart.
func (h *Handler) ReloadFactors(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbRules, err := h.repo.ListFactorRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list factor rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load factor rules from database",
		})
		return
	}

	if err := h.attributor.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload factor rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload factor rules: " + err.Error(),
		})
		return
	}

	slog.Info("factor rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "factor rules reloaded successfully",
		"count":   len(dbRules),
	})
}

// GetTiers returns the active tier band set.
func (h *Handler) GetTiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bands": h.classifier().Bands(),
	})
}

// UpdateTiers replaces the tier band set. The new bands are validated
// before the active classifier is swapped; an invalid set changes nothing.
func (h *Handler) UpdateTiers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Bands []domain.TierBand `json:"bands"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	cls, err := classifier.New(req.Bands)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid tier bands: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveTierBands(ctx, GlobalTenantID, req.Bands); err != nil {
			slog.Error("failed to save tier bands", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save tier bands",
			})
			return
		}
	}

	h.mu.Lock()
	h.cls = cls
	h.mu.Unlock()

	slog.Info("tier bands updated", "count", len(req.Bands))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bands":   cls.Bands(),
		"message": "tier bands updated",
	})
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}

func isTruthy(v string) bool {
	return v == "1" || v == "true" || v == "yes"
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
