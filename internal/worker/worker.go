// Package worker runs pipeline requests received from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

// Runner executes one pipeline run.
type Runner interface {
	RunWithID(ctx context.Context, tenantID, runID string) (*pipeline.RunSummary, error)
}

// Worker consumes pipeline requests.
type Worker struct {
	bus    domain.EventBus
	runner Runner

	mu            sync.Mutex
	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs limits the worker to these tenants. Empty subscribes
	// across all tenants.
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, runner Runner) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		runner: runner,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to pipeline requests for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		if err := w.subscribe(domain.AllTenants); err != nil {
			return err
		}
		slog.Info("global worker started", "topic", domain.TopicPipelineRequested)
		return nil
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.subscribe(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant", tenantID,
				"error", err,
			)
			continue
		}
		slog.Info("tenant worker started",
			"tenant", tenantID,
			"topic", domain.TopicPipelineRequested,
		)
	}

	slog.Info("workers started", "tenantCount", len(cfg.TenantIDs))
	return nil
}

func (w *Worker) subscribe(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicPipelineRequested, w.handleMessage)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	w.wg.Add(1)
	defer w.wg.Done()

	start := time.Now()

	var req domain.PipelineRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse pipeline request",
			"messageId", msg.ID,
			"error", err,
		)
		return err
	}

	// The message envelope is authoritative for the tenant.
	tenantID := msg.TenantID
	if tenantID == "" || tenantID == domain.AllTenants {
		tenantID = req.TenantID
	}
	runID := req.RunID
	if runID == "" {
		runID = msg.ID
	}

	slog.Debug("processing pipeline request",
		"tenant", tenantID,
		"runId", runID,
		"requestedBy", req.RequestedBy,
	)

	summary, err := w.runner.RunWithID(ctx, tenantID, runID)
	if errors.Is(err, pipeline.ErrRunInProgress) {
		slog.Info("pipeline request dropped, run in progress", "tenant", tenantID, "runId", runID)
		return nil
	}
	if err != nil {
		slog.Error("pipeline request failed",
			"tenant", tenantID,
			"runId", runID,
			"error", err,
		)
		return err
	}

	slog.Info("pipeline request processed",
		"tenant", tenantID,
		"runId", runID,
		"casesCreated", summary.Detection.Created,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop unsubscribes and waits for in-flight runs to return.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

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
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
