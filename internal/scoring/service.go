package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// BatchSummary reports the outcome of a recompute pass.
type BatchSummary struct {
	Total     int           `json:"total"`
	Processed int           `json:"processed"`
	Skipped   int           `json:"skipped"`
	Errored   int           `json:"errored"`
	Duration  time.Duration `json:"duration"`
}

// Service persists scores through the repository.
type Service struct {
	repo       domain.Repository
	engine     *Engine
	maxWorkers int
	now        func() time.Time
}

// NewService creates a scoring service with a bounded worker pool.
func NewService(repo domain.Repository, engine *Engine, maxWorkers int) *Service {
	if maxWorkers <= 0 {
		maxWorkers = 8
	}
	if engine == nil {
		engine = NewEngine(nil)
	}
	return &Service{
		repo:       repo,
		engine:     engine,
		maxWorkers: maxWorkers,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Engine returns the underlying scoring engine.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Explain loads a transaction and scores it without persisting.
func (s *Service) Explain(ctx context.Context, tenantID, txID string) (*domain.TransactionContext, Breakdown, error) {
	tc, err := s.repo.LoadTransactionContext(ctx, tenantID, txID)
	if err != nil {
		return nil, Breakdown{}, err
	}
	b, err := s.engine.Score(tc)
	return tc, b, err
}

// Persist scores one transaction and stores risk_score and scored_at in a
// single write. Repeated calls store the same value.
func (s *Service) Persist(ctx context.Context, tenantID, txID string) (int, error) {
	tc, b, err := s.Explain(ctx, tenantID, txID)
	if err != nil {
		return 0, err
	}
	if _, err := s.repo.SetRiskScore(ctx, tenantID, tc.Transaction.ID, b.Total, s.now()); err != nil {
		return 0, fmt.Errorf("failed to store score for %s: %w", txID, err)
	}
	return b.Total, nil
}

// RecomputeAll rescores every transaction for a tenant. Per-item failures
// are counted and logged; they never abort the pass.
func (s *Service) RecomputeAll(ctx context.Context, tenantID string) (BatchSummary, error) {
	start := time.Now()

	ids, err := s.repo.ListTransactionIDs(ctx, tenantID)
	if err != nil {
		return BatchSummary{}, fmt.Errorf("failed to list transactions: %w", err)
	}

	var processed, skipped, errored atomic.Int64
	sem := make(chan struct{}, s.maxWorkers)
	var wg sync.WaitGroup

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(txID string) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			_, err := s.Persist(ctx, tenantID, txID)
			switch {
			case err == nil:
				processed.Add(1)
			case errors.Is(err, domain.ErrIncompleteContext):
				skipped.Add(1)
				slog.Debug("score skipped, missing link", "tenant", tenantID, "txId", txID)
			default:
				errored.Add(1)
				slog.Warn("score failed", "tenant", tenantID, "txId", txID, "error", err)
			}
		}(id)
	}

	wg.Wait()

	summary := BatchSummary{
		Total:     len(ids),
		Processed: int(processed.Load()),
		Skipped:   int(skipped.Load()),
		Errored:   int(errored.Load()),
		Duration:  time.Since(start),
	}

	slog.Info("scores recomputed",
		"tenant", tenantID,
		"total", summary.Total,
		"processed", summary.Processed,
		"skipped", summary.Skipped,
		"errored", summary.Errored,
		"duration", summary.Duration,
	)

	return summary, ctx.Err()
}
