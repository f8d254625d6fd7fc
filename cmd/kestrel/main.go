// Kestrel - risk scoring and case generation for corporate card spend.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/app"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

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
		"timezone", cfg.Scoring.Location,
		"tracing", cfg.Tracing.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	var asyncWorker *worker.Worker
	if cfg.Pipeline.AsyncWorker {
		asyncWorker = worker.NewWorker(a.Bus, a.Runner)
		if err := asyncWorker.Start(worker.Config{TenantIDs: cfg.Pipeline.Tenants}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(cfg.Pipeline.Tenants))
		}
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:     a.Repo,
		Cache:    a.Cache,
		Bus:      a.Bus,
		Engine:   a.Engine,
		Scorer:   a.Scorer,
		Detector: a.Detector,
		Runner:   a.Runner,
		Evals:    a.Evals,
		Reports:  a.Reports,
		Cases:    a.Cases,
		Location: a.Location,
		Version:  Version,
	})

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

	<-ctx.Done()
	slog.Info("shutting down...")

	// In-flight runs finish before the server goes away.
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

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL - Risk Scoring & Case Generation")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /pipeline/run              - Score, detect, recompute, evaluate")
	fmt.Println("    GET  /transactions/{id}         - Transaction with live score breakdown")
	fmt.Println("    POST /scores/recompute          - Rescore every transaction")
	fmt.Println("    POST /cases/detect              - Detect violations and file cases")
	fmt.Println("    GET  /cases                     - List cases")
	fmt.Println("    POST /cases/{id}/actions        - Approve, reject or request receipt")
	fmt.Println("    GET  /evals                     - Latest metrics snapshot")
	fmt.Println("    GET  /reports/{monthly,quarterly,rules,trends}")
	fmt.Println("    GET  /rules                     - List loaded rules")
	fmt.Println("    POST /rules/reload              - Hot-reload rules from database")
	fmt.Println("    POST /reference/seed            - Load the MCC and tax rule catalog")
	fmt.Println("    GET  /health                    - Health check")
	fmt.Println()
}
