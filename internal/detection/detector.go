// Package detection evaluates violation rules over stored transactions and
// files deduplicated investigation cases.
package detection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// FilingSummary reports the outcome of a detect-and-file pass.
type FilingSummary struct {
	Candidates int            `json:"candidates"`
	Created    int            `json:"created"`
	Duplicates int            `json:"duplicates"`
	Skipped    int            `json:"skipped"`
	Errored    int            `json:"errored"`
	ByCaseType map[string]int `json:"byCaseType"`
	Duration   time.Duration  `json:"duration"`
}

// Options configures a Detector. Zero values pick defaults; Cache and Bus
// are optional.
type Options struct {
	Workers       int
	FlagThreshold int
	CitationTTL   time.Duration
	Cache         domain.Cache
	Bus           domain.EventBus
}

// Detector runs violation rules and files cases.
type Detector struct {
	repo       domain.Repository
	engine     *rules.Engine
	scorer     *scoring.Engine
	bus        domain.EventBus
	citer      *citer
	maxWorkers int
	threshold  int
	now        func() time.Time
}

// NewDetector creates a detector over the given rule and scoring engines.
func NewDetector(repo domain.Repository, engine *rules.Engine, scorer *scoring.Engine, opts Options) *Detector {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.FlagThreshold <= 0 {
		opts.FlagThreshold = domain.FlagThreshold
	}
	if opts.CitationTTL <= 0 {
		opts.CitationTTL = 10 * time.Minute
	}
	if scorer == nil {
		scorer = scoring.NewEngine(nil)
	}

	return &Detector{
		repo:       repo,
		engine:     engine,
		scorer:     scorer,
		bus:        opts.Bus,
		citer:      &citer{repo: repo, cache: opts.Cache, ttl: opts.CitationTTL},
		maxWorkers: opts.Workers,
		threshold:  opts.FlagThreshold,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// outcome of filing one candidate
type outcome struct {
	skipped    bool
	errored    bool
	created    []string
	duplicates int
}

// DetectAndFile evaluates every transaction of a tenant against the loaded
// rules and files one case per fired rule. Re-running is safe: an existing
// (transaction, case type) pair is counted as a duplicate and left alone.
func (d *Detector) DetectAndFile(ctx context.Context, tenantID string) (FilingSummary, error) {
	start := time.Now()
	runClock := d.now()

	ids, err := d.repo.ListTransactionIDs(ctx, tenantID)
	if err != nil {
		return FilingSummary{}, fmt.Errorf("failed to list transactions: %w", err)
	}

	summary := FilingSummary{
		Candidates: len(ids),
		ByCaseType: make(map[string]int),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, d.maxWorkers)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(txID string) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			out := d.fileCandidate(ctx, tenantID, txID, runClock)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case out.skipped:
				summary.Skipped++
			case out.errored:
				summary.Errored++
			}
			summary.Duplicates += out.duplicates
			for _, caseType := range out.created {
				summary.Created++
				summary.ByCaseType[caseType]++
			}
		}(id)
	}

	wg.Wait()
	summary.Duration = time.Since(start)

	slog.Info("detection pass complete",
		"tenant", tenantID,
		"candidates", summary.Candidates,
		"created", summary.Created,
		"duplicates", summary.Duplicates,
		"skipped", summary.Skipped,
		"errored", summary.Errored,
		"duration", summary.Duration,
	)

	return summary, ctx.Err()
}

func (d *Detector) fileCandidate(ctx context.Context, tenantID, txID string, detectedAt time.Time) outcome {
	tc, err := d.repo.LoadTransactionContext(ctx, tenantID, txID)
	if err != nil {
		slog.Warn("failed to load candidate", "tenant", tenantID, "txId", txID, "error", err)
		return outcome{errored: true}
	}
	if !tc.Complete() {
		return outcome{skipped: true}
	}

	hits, err := d.engine.EvaluateAll(ctx, tenantID, tc)
	if err != nil {
		slog.Warn("rule evaluation failed", "tenant", tenantID, "txId", txID, "error", err)
		return outcome{errored: true}
	}

	var out outcome
	for _, hit := range hits {
		if hit.Err != "" {
			slog.Warn("rule errored", "tenant", tenantID, "txId", txID, "rule", hit.RuleID, "error", hit.Err)
			out.errored = true
			continue
		}
		if !hit.Fired() {
			continue
		}

		created, err := d.file(ctx, tenantID, tc, hit, detectedAt)
		switch {
		case err != nil:
			slog.Error("failed to file case",
				"tenant", tenantID,
				"txId", txID,
				"caseType", hit.CaseType,
				"error", err,
			)
			out.errored = true
		case created:
			out.created = append(out.created, hit.CaseType)
		default:
			out.duplicates++
		}
	}
	return out
}

// file builds and stores one case. It reports false for a duplicate.
func (d *Detector) file(ctx context.Context, tenantID string, tc *domain.TransactionContext, hit domain.RuleHit, detectedAt time.Time) (bool, error) {
	score, err := d.scorer.Score(tc)
	if err != nil {
		return false, err
	}

	c := &domain.Case{
		ID:            uuid.New().String(),
		TransactionID: tc.Transaction.ID,
		CaseType:      hit.CaseType,
		RuleID:        hit.RuleID,
		Severity:      hit.Severity,
		Status:        domain.CaseOpen,
		Reasoning:     BuildReasoning(tc, hit, score.Total, d.threshold),
		CitedRules:    d.citer.cite(ctx, tenantID, tc.MCC.Code, tc.Transaction.Amount),
		DetectedAt:    detectedAt,
	}

	created, err := d.repo.CreateCaseIfAbsent(ctx, tenantID, c)
	if err != nil || !created {
		return false, err
	}

	if err := bus.PublishJSON(ctx, d.bus, tenantID, domain.TopicCaseFiled, c); err != nil {
		slog.Warn("failed to publish case", "tenant", tenantID, "caseId", c.ID, "error", err)
	}

	slog.Debug("case filed",
		"tenant", tenantID,
		"caseId", c.ID,
		"txId", c.TransactionID,
		"caseType", c.CaseType,
		"severity", c.Severity,
	)
	return true, nil
}

// InvalidateCitations drops memoized tax rule lookups for the given MCCs.
func (d *Detector) InvalidateCitations(ctx context.Context, tenantID string, mccCodes []string) error {
	if d.citer.cache == nil {
		return nil
	}
	var errs []error
	for _, code := range mccCodes {
		if err := d.citer.cache.Delete(ctx, tenantID, citationKey(code)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
