// Kestrel - Churn risk scoring that deploys in 60 seconds.
// Copyright (c) 2025 opensource.telco
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-telco/kestrel/internal/api"
	"github.com/opensource-telco/kestrel/internal/bus"
	"github.com/opensource-telco/kestrel/internal/cache"
	"github.com/opensource-telco/kestrel/internal/classifier"
	"github.com/opensource-telco/kestrel/internal/domain"
	"github.com/opensource-telco/kestrel/internal/factors"
	"github.com/opensource-telco/kestrel/internal/repository"
	"github.com/opensource-telco/kestrel/internal/scoring"
	"github.com/opensource-telco/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Classifier from stored bands; a broken band set is fatal
	// before anything is scored.
	cls, err := loadClassifier(ctx, repo)
	if err != nil {
		slog.Error("failed to initialize classifier", "error", err)
		os.Exit(1)
	}
	slog.Info("classifier initialized", "bands", len(cls.Bands()))

	// Initialize Attribution Engine
	attributor, err := factors.NewEngine()
	if err != nil {
		slog.Error("failed to initialize attribution engine", "error", err)
		os.Exit(1)
	}
	if err := loadCatalogueFromDatabase(ctx, repo, attributor); err != nil {
		slog.Error("failed to load factor catalogue", "error", err)
		os.Exit(1)
	}
	slog.Info("attribution engine initialized", "rules_count", attributor.RulesCount())

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		pipeline := scoring.New(cls, attributor, cfg.Scoring.MaxWorkers)
		asyncWorker = worker.NewWorker(busImpl, repo, cacheImpl, pipeline, cfg.Scoring)

		tenantIDs := []string{}
		if envTenants := os.Getenv("KESTREL_TENANTS"); envTenants != "" {
			tenantIDs = strings.Split(envTenants, ",")
		}

		workerCfg := worker.Config{
			TenantIDs: tenantIDs,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, attributor, cls, cfg.Scoring, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// GlobalTenantID is used for catalogue rules and bands shared by all tenants.
const GlobalTenantID = "*"

// loadClassifier builds the classifier from the stored tier band set,
// falling back to the production defaults when none is configured. An
// invalid stored set is a configuration error and aborts startup.
func loadClassifier(ctx context.Context, repo domain.Repository) (*classifier.Classifier, error) {
	bands, err := repo.GetTierBands(ctx, GlobalTenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			slog.Info("no tier bands in database, using defaults")
			return classifier.New(domain.DefaultTierBands())
		}
		return nil, err
	}

	slog.Info("loading tier bands from database", "count", len(bands))
	return classifier.New(bands)
}

// loadCatalogueFromDatabase loads factor rules into the attribution engine.
// An empty database is seeded with the default catalogue.
func loadCatalogueFromDatabase(ctx context.Context, repo domain.Repository, engine *factors.Engine) error {
	dbRules, err := repo.ListFactorRules(ctx, GlobalTenantID)
	if err != nil {
		return err
	}

	if len(dbRules) > 0 {
		slog.Info("loading factor catalogue from database", "count", len(dbRules))
		return engine.LoadRules(dbRules)
	}

	slog.Info("no factor rules in database, seeding default catalogue")
	catalogue := factors.DefaultCatalogue()
	for _, rule := range catalogue {
		if err := repo.SaveFactorRule(ctx, GlobalTenantID, rule); err != nil {
			slog.Warn("failed to seed factor rule", "id", rule.ID, "error", err)
		}
	}
	return engine.LoadRules(catalogue)
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🪶 KESTREL                  ║")
	fmt.Println("  ║      Churn Risk Scoring Engine            ║")
	fmt.Println("  ║      Eyes on every customer.              ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /score                - Score a customer batch")
	fmt.Println("    GET  /runs/{id}            - Get run summary")
	fmt.Println("    GET  /runs/{id}/report     - Get aggregate report")
	fmt.Println("    GET  /runs/{id}/customers  - List scored customers")
	fmt.Println("    GET  /runs/{id}/export     - Export priority rows")
	fmt.Println("    GET  /factors              - List factor rules")
	fmt.Println("    POST /factors              - Create a factor rule")
	fmt.Println("    POST /factors/reload       - Hot-reload factor rules")
	fmt.Println("    GET  /tiers                - Get tier bands")
	fmt.Println("    PUT  /tiers                - Replace tier bands")
	fmt.Println("    GET  /health               - Health check")
	fmt.Println()
}
