package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/opensource-telco/kestrel/internal/bus"
	"github.com/opensource-telco/kestrel/internal/cache"
	"github.com/opensource-telco/kestrel/internal/classifier"
	"github.com/opensource-telco/kestrel/internal/domain"
	"github.com/opensource-telco/kestrel/internal/factors"
	"github.com/opensource-telco/kestrel/internal/repository"
)

// createTestServer wires a full server against a temp SQLite database.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	attributor, err := factors.NewEngine()
	if err != nil {
		t.Fatalf("failed to create attribution engine: %v", err)
	}
	if err := attributor.LoadRules(factors.DefaultCatalogue()); err != nil {
		t.Fatalf("failed to load catalogue: %v", err)
	}

	lru := cache.NewLRUCache(100)
	channelBus := bus.NewChannelBus(100)
	t.Cleanup(func() { channelBus.Close() })

	scoringCfg := domain.DefaultConfig().Scoring

	return NewServer(cfg, repo, lru, channelBus, attributor, classifier.Default(), scoringCfg, "test-v1")
}

func testCustomer(id string, prob float64) ScoreCustomer {
	return ScoreCustomer{
		CustomerRecord: domain.CustomerRecord{
			ID:            id,
			TenureMonths:  3,
			Contract:      domain.ContractMonthToMonth,
			MonthlyCharge: decimal.RequireFromString("80.00"),
			TotalRevenue:  decimal.RequireFromString("240.00"),
			TotalRefunds:  decimal.Zero,
			PaymentMethod: domain.PaymentCreditCard,
			Referrals:     0,
			Services:      2,
			Age:           42,
			Gender:        domain.GenderMale,
			State:         "Ohio",
		},
		Probability: &prob,
	}
}

func postScore(t *testing.T, server *Server, req ScoreRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBuffer(body))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", "tenant-001")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, httpReq)
	return rr
}

func TestScoreEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("SuccessfulScoring", func(t *testing.T) {
		rr := postScore(t, server, ScoreRequest{
			Customers: []ScoreCustomer{
				testCustomer("CUST-001", 0.85),
				testCustomer("CUST-002", 0.20),
			},
		})

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp ScoreResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.RunID == "" {
			t.Error("expected runId in response")
		}
		if resp.Scored != 2 || resp.Rejected != 0 {
			t.Errorf("expected 2 scored / 0 rejected, got %d / %d", resp.Scored, resp.Rejected)
		}
		if resp.Report == nil {
			t.Fatal("expected aggregate report in response")
		}
		if resp.Report.TotalCustomers != 2 {
			t.Errorf("expected 2 customers in report, got %d", resp.Report.TotalCustomers)
		}
		if len(resp.Report.TierCounts) != 4 {
			t.Errorf("expected 4 tier counts, got %d", len(resp.Report.TierCounts))
		}
		// 0.85 is Critical, so that customer's revenue is at risk
		if !resp.Report.RevenueAtRisk.Equal(decimal.RequireFromString("240.00")) {
			t.Errorf("expected revenue at risk 240.00, got %s", resp.Report.RevenueAtRisk)
		}
		if resp.Metadata.Version != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp.Metadata.Version)
		}
		if resp.Metadata.TraceID == "" {
			t.Error("expected traceId in metadata")
		}
	})

	t.Run("InvalidProbabilityRejected", func(t *testing.T) {
		rr := postScore(t, server, ScoreRequest{
			Customers: []ScoreCustomer{
				testCustomer("CUST-BAD", 1.3),
				testCustomer("CUST-OK", 0.40),
			},
		})

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp ScoreResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp.Scored != 1 || resp.Rejected != 1 {
			t.Errorf("expected 1 scored / 1 rejected, got %d / %d", resp.Scored, resp.Rejected)
		}
		if len(resp.Run.Rejections) != 1 {
			t.Fatalf("expected 1 rejection, got %d", len(resp.Run.Rejections))
		}
		if resp.Run.Rejections[0].Reason != domain.RejectInvalidProbability {
			t.Errorf("expected reason %s, got %s", domain.RejectInvalidProbability, resp.Run.Rejections[0].Reason)
		}
	})

	t.Run("ProbabilitiesMap", func(t *testing.T) {
		c := testCustomer("CUST-MAP", 0)
		c.Probability = nil

		rr := postScore(t, server, ScoreRequest{
			Customers:     []ScoreCustomer{c},
			Probabilities: map[string]float64{"CUST-MAP": 0.55},
		})

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp ScoreResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp.Scored != 1 {
			t.Errorf("expected 1 scored, got %d", resp.Scored)
		}
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		rr := postScore(t, server, ScoreRequest{})

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp ScoreResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp.Report == nil {
			t.Fatal("expected zero report for empty batch")
		}
		if resp.Report.TotalCustomers != 0 {
			t.Errorf("expected 0 customers, got %d", resp.Report.TotalCustomers)
		}
		if len(resp.Report.TierCounts) != 4 {
			t.Errorf("expected all 4 tiers in zero report, got %d", len(resp.Report.TierCounts))
		}
	})

	t.Run("AsyncAccepted", func(t *testing.T) {
		body, _ := json.Marshal(ScoreRequest{
			Customers: []ScoreCustomer{testCustomer("CUST-ASYNC", 0.5)},
		})
		req := httptest.NewRequest(http.MethodPost, "/score?async=true", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusAccepted {
			t.Errorf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("MissingTenantID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBufferString("{}"))
		req.Header.Set("Content-Type", "application/json")
		// No X-Tenant-ID header

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBufferString("not-json"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr := postScore(t, server, ScoreRequest{})

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestRunRetrieval(t *testing.T) {
	server := createTestServer(t)

	// Score a batch first
	rr := postScore(t, server, ScoreRequest{
		Customers: []ScoreCustomer{
			testCustomer("CUST-A", 0.90),
			testCustomer("CUST-B", 0.10),
		},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("scoring failed: %d %s", rr.Code, rr.Body.String())
	}

	var scoreResp ScoreResponse
	json.Unmarshal(rr.Body.Bytes(), &scoreResp)
	runID := scoreResp.RunID

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")
		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)
		return rec
	}

	t.Run("GetRun", func(t *testing.T) {
		rec := get("/runs/" + runID)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var run domain.ScoreRun
		json.Unmarshal(rec.Body.Bytes(), &run)
		if run.Scored != 2 {
			t.Errorf("expected 2 scored, got %d", run.Scored)
		}
		if run.EngineVersion == "" {
			t.Error("expected engine version on run")
		}
	})

	t.Run("GetReport", func(t *testing.T) {
		rec := get("/runs/" + runID + "/report")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var report domain.AggregateReport
		json.Unmarshal(rec.Body.Bytes(), &report)
		if report.TotalCustomers != 2 {
			t.Errorf("expected 2 customers, got %d", report.TotalCustomers)
		}
	})

	t.Run("ListCustomers", func(t *testing.T) {
		rec := get("/runs/" + runID + "/customers")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var resp struct {
			Customers []domain.ScoredCustomer `json:"customers"`
		}
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if len(resp.Customers) != 2 {
			t.Fatalf("expected 2 customers, got %d", len(resp.Customers))
		}
		// Highest probability first
		if resp.Customers[0].Customer.ID != "CUST-A" {
			t.Errorf("expected CUST-A first, got %s", resp.Customers[0].Customer.ID)
		}
	})

	t.Run("Export", func(t *testing.T) {
		rec := get("/runs/" + runID + "/export?limit=1")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var resp struct {
			Rows []domain.PriorityCustomer `json:"rows"`
		}
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if len(resp.Rows) != 1 {
			t.Fatalf("expected 1 row with limit=1, got %d", len(resp.Rows))
		}
		if resp.Rows[0].CustomerID != "CUST-A" {
			t.Errorf("expected CUST-A exported, got %s", resp.Rows[0].CustomerID)
		}
	})

	t.Run("RunNotFound", func(t *testing.T) {
		rec := get("/runs/nonexistent")
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/runs/"+runID, nil)
		req.Header.Set("X-Tenant-ID", "tenant-other")
		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404 for other tenant, got %d", rec.Code)
		}
	})
}

func TestFactorEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("ListFactors", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/factors", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Factors []domain.FactorRule `json:"factors"`
			Count   int                 `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != len(factors.DefaultCatalogue()) {
			t.Errorf("expected %d catalogue rules, got %d", len(factors.DefaultCatalogue()), resp.Count)
		}
	})

	t.Run("GetFactor", func(t *testing.T) {
		catalogue := factors.DefaultCatalogue()
		req := httptest.NewRequest(http.MethodGet, "/factors/"+catalogue[0].ID, nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("CreateFactor", func(t *testing.T) {
		body, _ := json.Marshal(CreateFactorRequest{
			ID:         "factor-senior",
			Name:       "senior-customer",
			Expression: "age > 60",
			Weight:     0.2,
			Order:      90,
			Enabled:    true,
		})
		req := httptest.NewRequest(http.MethodPost, "/factors", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusCreated {
			t.Errorf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("CreateFactorInvalidExpression", func(t *testing.T) {
		body, _ := json.Marshal(CreateFactorRequest{
			ID:         "factor-bad",
			Name:       "broken",
			Expression: "tenure <<>> 6",
			Weight:     0.5,
			Enabled:    true,
		})
		req := httptest.NewRequest(http.MethodPost, "/factors", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for invalid expression, got %d", rr.Code)
		}
	})

	t.Run("CreateFactorNonBoolExpression", func(t *testing.T) {
		body, _ := json.Marshal(CreateFactorRequest{
			ID:         "factor-nonbool",
			Name:       "nonbool",
			Expression: "monthly_charge * 2.0",
			Weight:     0.5,
			Enabled:    true,
		})
		req := httptest.NewRequest(http.MethodPost, "/factors", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for non-boolean expression, got %d", rr.Code)
		}
	})

	t.Run("ReloadFactors", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/factors/reload", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})
}

func TestTierEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("GetTiers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/tiers", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Bands []domain.TierBand `json:"bands"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if len(resp.Bands) != 4 {
			t.Fatalf("expected 4 bands, got %d", len(resp.Bands))
		}
		if resp.Bands[3].Lower != 0.70 {
			t.Errorf("expected Critical lower 0.70, got %v", resp.Bands[3].Lower)
		}
	})

	t.Run("UpdateTiers", func(t *testing.T) {
		body, _ := json.Marshal(map[string]interface{}{
			"bands": []domain.TierBand{
				{Tier: domain.TierLow, Lower: 0.0},
				{Tier: domain.TierMedium, Lower: 0.25},
				{Tier: domain.TierHigh, Lower: 0.55},
				{Tier: domain.TierCritical, Lower: 0.80},
			},
		})
		req := httptest.NewRequest(http.MethodPut, "/tiers", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		// Subsequent scoring uses the new bands: 0.60 is now High, not Critical
		scoreRR := postScore(t, server, ScoreRequest{
			Customers: []ScoreCustomer{testCustomer("CUST-REBAND", 0.60)},
		})
		var resp ScoreResponse
		json.Unmarshal(scoreRR.Body.Bytes(), &resp)
		for _, tc := range resp.Report.TierCounts {
			if tc.Tier == domain.TierHigh && tc.Count != 1 {
				t.Errorf("expected 0.60 to land in High after reband, counts: %+v", resp.Report.TierCounts)
			}
		}
	})

	t.Run("UpdateTiersInvalid", func(t *testing.T) {
		// Non-increasing bounds must be refused
		body, _ := json.Marshal(map[string]interface{}{
			"bands": []domain.TierBand{
				{Tier: domain.TierLow, Lower: 0.0},
				{Tier: domain.TierMedium, Lower: 0.50},
				{Tier: domain.TierHigh, Lower: 0.40},
				{Tier: domain.TierCritical, Lower: 0.70},
			},
		})
		req := httptest.NewRequest(http.MethodPut, "/tiers", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for invalid bands, got %d", rr.Code)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TenantMiddlewareExtractsID", func(t *testing.T) {
		var capturedTenantID string

		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedTenantID = GetTenantID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Tenant-ID", "my-tenant-123")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedTenantID != "my-tenant-123" {
			t.Errorf("expected tenant ID 'my-tenant-123', got '%s'", capturedTenantID)
		}
	})

	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("CORSPreflightMatchesAPISurface", func(t *testing.T) {
		handler := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("preflight should not reach the handler")
		}))

		req := httptest.NewRequest(http.MethodOptions, "/score", nil)
		req.Header.Set("Origin", "https://dashboard.example.com")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", rr.Code)
		}
		if got := rr.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, PUT, OPTIONS" {
			t.Errorf("allow-methods = %q, want the served verbs only", got)
		}
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://dashboard.example.com" {
			t.Errorf("allow-origin = %q, want the request origin", got)
		}
	})

	t.Run("ResponseWriterCountsBytes", func(t *testing.T) {
		rr := httptest.NewRecorder()
		rw := &responseWriter{ResponseWriter: rr, statusCode: http.StatusOK}

		rw.WriteHeader(http.StatusCreated)
		if _, err := rw.Write([]byte(`{"ok":true}`)); err != nil {
			t.Fatalf("write: %v", err)
		}

		if rw.statusCode != http.StatusCreated {
			t.Errorf("statusCode = %d, want 201", rw.statusCode)
		}
		if rw.bytes != len(`{"ok":true}`) {
			t.Errorf("bytes = %d, want %d", rw.bytes, len(`{"ok":true}`))
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
