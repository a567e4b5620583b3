// Kestrel - Payment fraud decisions in a single round trip.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/detect"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file (default $"+config.EnvConfigPath+")")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"failure_policy", cfg.Detection.FailurePolicy,
	)

	if err := run(cfg); err != nil {
		slog.Error("kestrel stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("kestrel shutdown complete")
}

func setupLogger(cfg *domain.Config) {
	opts := &slog.HandlerOptions{Level: config.LogLevel(cfg)}
	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func run(cfg *domain.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	store, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	ruleCache := cache.NewRuleCache(store).WithRecorder(collector)
	defer ruleCache.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type, "enabled", ruleCache.Enabled())

	eventBus, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer eventBus.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	engine := rules.NewEngine(repo, ruleCache, cfg.Detection.RuleCacheTTL()).WithRecorder(collector)
	manager := rules.NewManager(repo, ruleCache, engine)

	if cfg.Detection.SeedDefaultRules {
		if _, err := rules.SeedDefaults(ctx, manager); err != nil {
			return err
		}
	}
	if active, err := engine.ActiveRules(ctx); err != nil {
		slog.Warn("failed to preload active rules", "error", err)
	} else {
		slog.Info("rule engine initialized", "active_rules", len(active))
	}

	scorer, err := model.NewScorer(cfg.Model)
	if err != nil {
		return fmt.Errorf("failed to initialize anomaly scorer: %w", err)
	}
	slog.Info("anomaly scorer initialized",
		"available", scorer.Available(),
		"version", scorer.Version(),
		"threshold", scorer.Threshold(),
	)

	orchestrator := detect.New(engine, scorer, detect.OptionsFromConfig(cfg.Detection)).
		WithSink(detect.NewStoreSink(repo, eventBus)).
		WithRecorder(collector)

	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		workerCfg := worker.Config{
			Concurrency:   cfg.Worker.Concurrency,
			ServeRequests: cfg.Worker.ServeRequests,
		}
		asyncWorker = worker.NewWorker(eventBus, orchestrator, workerCfg)
		if err := asyncWorker.Start(workerCfg); err != nil {
			return fmt.Errorf("failed to start async worker: %w", err)
		}
	}

	srv := api.NewServer(api.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}, api.Deps{
		Detector:  orchestrator,
		Explainer: engine,
		Features:  features.Options{HighAmountThreshold: cfg.Detection.HighAmountThreshold},
		Rules:     manager,
		Repo:      repo,
		Cache:     ruleCache,
		Bus:       eventBus,
		Metrics:   collector,
		Version:   Version,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case serveErr = <-errCh:
		slog.Error("server failed", "error", serveErr)
	}

	// Stop consuming before closing the listener.
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	return serveErr
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL  fraud decision service")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /detect          - Decide on one transaction")
	fmt.Println("    POST   /detect/batch    - Decide on up to 1000 transactions")
	fmt.Println("    GET    /verdicts/{id}   - Stored verdict for a transaction")
	fmt.Println("    POST   /fraud-reports   - Confirm a transaction as fraud")
	fmt.Println("    GET    /rules           - List rules")
	fmt.Println("    POST   /rules           - Create a rule")
	fmt.Println("    PUT    /rules/{id}      - Replace a rule")
	fmt.Println("    DELETE /rules/{id}      - Delete a rule")
	fmt.Println("    GET    /health, /ready  - Health checks")
	fmt.Println("    GET    /metrics         - Prometheus metrics")
	fmt.Println()
}
