// Package app wires the Kestrel services from a configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/casework"
	"github.com/opensource-finance/kestrel/internal/detection"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/evals"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/refdata"
	"github.com/opensource-finance/kestrel/internal/reporting"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// App holds the initialized infrastructure and services.
type App struct {
	Config   *domain.Config
	Location *time.Location

	Repo  domain.Repository
	Cache domain.Cache
	Bus   domain.EventBus

	Engine   *rules.Engine
	Scorer   *scoring.Service
	Detector *detection.Detector
	Runner   *pipeline.Runner
	Evals    *evals.Service
	Reports  *reporting.Service
	Cases    *casework.Service
}

// New connects the repository, cache and event bus, checks each is
// reachable, seeds the default rules when none are stored and loads them.
// Any failure is returned; callers treat it as fatal.
func New(ctx context.Context, cfg *domain.Config) (*App, error) {
	a := &App{Config: cfg}

	loc, err := time.LoadLocation(cfg.Scoring.Location)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Scoring.Location, err)
	}
	a.Location = loc

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}
	a.Repo = repo
	if err := repo.Ping(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("repository unreachable: %w", err)
	}
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	c, err := cache.New(cfg.Cache)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	a.Cache = c
	if err := c.Ping(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("cache unreachable: %w", err)
	}
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	b, err := bus.New(cfg.EventBus)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize event bus: %w", err)
	}
	a.Bus = b
	if err := b.Ping(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("event bus unreachable: %w", err)
	}
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	velocitySvc := velocity.NewService(repo, c)
	engine, err := rules.NewEngine(velocitySvc.Getter(), cfg.Detection.Workers, loc)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	a.Engine = engine

	if n, err := refdata.SeedDefaultRules(ctx, repo); err != nil {
		a.Close()
		return nil, err
	} else if n > 0 {
		slog.Info("no stored rules, defaults seeded", "count", n)
	}
	if _, err := engine.ReloadFrom(ctx, repo); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	scorer := scoring.NewEngine(loc)
	a.Scorer = scoring.NewService(repo, scorer, cfg.Scoring.Workers)
	a.Detector = detection.NewDetector(repo, engine, scorer, detection.Options{
		Workers:       cfg.Detection.Workers,
		FlagThreshold: cfg.Detection.FlagThreshold,
		CitationTTL:   cfg.Detection.CitationTTL,
		Cache:         c,
		Bus:           b,
	})
	a.Evals = evals.NewService(repo, cfg.Pipeline.SnapshotPath)
	a.Runner = pipeline.NewRunner(repo, a.Scorer, a.Detector, a.Evals, pipeline.Options{
		Cache: c,
		Bus:   b,
		Lease: cfg.Pipeline.RunLease,
	})
	a.Reports = reporting.NewService(repo, loc)
	a.Cases = casework.NewService(repo, b)

	return a, nil
}

// Close releases everything New opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	if a.Engine != nil {
		errs = append(errs, a.Engine.Close())
	}
	if a.Bus != nil {
		errs = append(errs, a.Bus.Close())
	}
	if a.Cache != nil {
		errs = append(errs, a.Cache.Close())
	}
	if a.Repo != nil {
		errs = append(errs, a.Repo.Close())
	}
	return errors.Join(errs...)
}
