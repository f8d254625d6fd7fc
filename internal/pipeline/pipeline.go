// Package pipeline runs the batch passes for a tenant in order: score every
// transaction, detect and file cases, recompute employee risk, then compute
// and persist the metrics snapshot.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/detection"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/evals"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// ErrRunInProgress is returned when another run holds the tenant's lease.
var ErrRunInProgress = errors.New("pipeline run already in progress")

const leaseKey = "pipeline:lease"

// Pass names used for spans and the pass duration histogram.
const (
	PassScore     = "score"
	PassDetect    = "detect"
	PassEmployees = "employees"
	PassMetrics   = "metrics"
)

var tracer = otel.Tracer("kestrel-pipeline")

// Options configures a Runner.
type Options struct {
	// Cache holds the run lease. Defaults to a process-local LRU, which
	// only guards runs inside this process.
	Cache domain.Cache
	// Bus receives completion events. Optional.
	Bus domain.EventBus
	// Lease bounds how long a crashed run can block the tenant.
	Lease time.Duration
}

// RunSummary reports one pipeline run.
type RunSummary struct {
	RunID            string                  `json:"runId"`
	TenantID         string                  `json:"tenantId"`
	StartedAt        time.Time               `json:"startedAt"`
	FinishedAt       time.Time               `json:"finishedAt"`
	Scoring          scoring.BatchSummary    `json:"scoring"`
	Detection        detection.FilingSummary `json:"detection"`
	EmployeesUpdated int64                   `json:"employeesUpdated"`
	Metrics          *domain.MetricsSnapshot `json:"metrics,omitempty"`
	Duration         time.Duration           `json:"duration"`
}

// Runner executes pipeline runs.
type Runner struct {
	repo     domain.Repository
	scorer   *scoring.Service
	detector *detection.Detector
	evals    *evals.Service
	cache    domain.Cache
	bus      domain.EventBus
	lease    time.Duration
	now      func() time.Time
}

// NewRunner wires the pass services into a runner.
func NewRunner(repo domain.Repository, scorer *scoring.Service, detector *detection.Detector, evalSvc *evals.Service, opts Options) *Runner {
	if opts.Cache == nil {
		opts.Cache = cache.NewLRUCache(1000)
	}
	if opts.Lease <= 0 {
		opts.Lease = 30 * time.Minute
	}
	return &Runner{
		repo:     repo,
		scorer:   scorer,
		detector: detector,
		evals:    evalSvc,
		cache:    opts.Cache,
		bus:      opts.Bus,
		lease:    opts.Lease,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run executes a run under a fresh run id.
func (r *Runner) Run(ctx context.Context, tenantID string) (*RunSummary, error) {
	return r.RunWithID(ctx, tenantID, uuid.New().String())
}

// RunWithID executes a run for the tenant. It returns ErrRunInProgress
// without doing any work when another run holds the lease.
func (r *Runner) RunWithID(ctx context.Context, tenantID, runID string) (*RunSummary, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	if runID == "" {
		runID = uuid.New().String()
	}

	acquired, err := r.cache.SetIfAbsent(ctx, tenantID, leaseKey, []byte(runID), r.lease)
	if err != nil {
		RunsTotal.WithLabelValues(resultFailed).Inc()
		return nil, fmt.Errorf("failed to acquire run lease: %w", err)
	}
	if !acquired {
		RunsTotal.WithLabelValues(resultRejected).Inc()
		return nil, ErrRunInProgress
	}
	defer r.release(ctx, tenantID, runID)

	ctx, span := tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("run.id", runID),
		),
	)
	defer span.End()

	summary := &RunSummary{
		RunID:     runID,
		TenantID:  tenantID,
		StartedAt: r.now(),
	}
	slog.Info("pipeline run started", "tenant", tenantID, "runId", runID)

	if err := r.execute(ctx, tenantID, summary); err != nil {
		RunsTotal.WithLabelValues(resultFailed).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("pipeline run failed", "tenant", tenantID, "runId", runID, "error", err)
		return summary, err
	}

	summary.FinishedAt = r.now()
	summary.Duration = summary.FinishedAt.Sub(summary.StartedAt)
	RunsTotal.WithLabelValues(resultCompleted).Inc()

	if err := bus.PublishJSON(ctx, r.bus, tenantID, domain.TopicPipelineCompleted, summary); err != nil {
		slog.Warn("failed to publish run completion", "tenant", tenantID, "runId", runID, "error", err)
	}

	slog.Info("pipeline run complete",
		"tenant", tenantID,
		"runId", runID,
		"scored", summary.Scoring.Processed,
		"casesCreated", summary.Detection.Created,
		"employeesUpdated", summary.EmployeesUpdated,
		"duration", summary.Duration,
	)
	return summary, nil
}

func (r *Runner) execute(ctx context.Context, tenantID string, summary *RunSummary) error {
	err := r.pass(ctx, PassScore, func(ctx context.Context) error {
		s, err := r.scorer.RecomputeAll(ctx, tenantID)
		summary.Scoring = s
		TransactionsScored.Add(float64(s.Processed))
		TransactionsSkipped.Add(float64(s.Skipped))
		return err
	})
	if err != nil {
		return fmt.Errorf("score pass: %w", err)
	}

	err = r.pass(ctx, PassDetect, func(ctx context.Context) error {
		s, err := r.detector.DetectAndFile(ctx, tenantID)
		summary.Detection = s
		for caseType, n := range s.ByCaseType {
			CasesFiled.WithLabelValues(caseType).Add(float64(n))
		}
		CasesDuplicate.Add(float64(s.Duplicates))
		return err
	})
	if err != nil {
		return fmt.Errorf("detect pass: %w", err)
	}

	err = r.pass(ctx, PassEmployees, func(ctx context.Context) error {
		n, err := r.repo.RecomputeEmployeeRisk(ctx, tenantID)
		summary.EmployeesUpdated = n
		return err
	})
	if err != nil {
		return fmt.Errorf("employee pass: %w", err)
	}

	err = r.pass(ctx, PassMetrics, func(ctx context.Context) error {
		snap, err := r.evals.ComputeMetrics(ctx, tenantID)
		if err != nil {
			return err
		}
		if err := r.evals.Save(ctx, tenantID, snap); err != nil {
			return err
		}
		summary.Metrics = snap
		if err := bus.PublishJSON(ctx, r.bus, tenantID, domain.TopicMetricsComputed, snap); err != nil {
			slog.Warn("failed to publish metrics", "tenant", tenantID, "error", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("metrics pass: %w", err)
	}
	return nil
}

// pass runs fn inside its own span and records its duration.
func (r *Runner) pass(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	PassDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// release drops the lease if this run still holds it. It runs even when
// the caller's context is already cancelled.
func (r *Runner) release(ctx context.Context, tenantID, runID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	released, err := r.cache.CompareAndDelete(ctx, tenantID, leaseKey, []byte(runID))
	if err != nil {
		slog.Warn("failed to release run lease", "tenant", tenantID, "runId", runID, "error", err)
		return
	}
	if !released {
		slog.Warn("run lease expired before release", "tenant", tenantID, "runId", runID)
	}
}
