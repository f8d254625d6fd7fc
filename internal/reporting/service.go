package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Consolidated bundles every report for one point in time.
type Consolidated struct {
	GeneratedAt       time.Time          `json:"generated_at"`
	Monthly           *PeriodReport      `json:"monthly"`
	Quarterly         *PeriodReport      `json:"quarterly"`
	RuleEffectiveness *RuleEffectiveness `json:"rule_effectiveness"`
	PerformanceTrends *PerformanceTrends `json:"performance_trends"`
}

// Service loads facts from the repository and builds reports.
type Service struct {
	repo domain.Repository
	loc  *time.Location
	now  func() time.Time
}

// NewService creates a report service. Periods are calendar periods in loc;
// nil means UTC.
func NewService(repo domain.Repository, loc *time.Location) *Service {
	loc = locOrUTC(loc)
	return &Service{
		repo: repo,
		loc:  loc,
		now:  func() time.Time { return time.Now().In(loc) },
	}
}

func (s *Service) facts(ctx context.Context, tenantID string, withTransactions bool) ([]*domain.TransactionFact, []*domain.CaseFact, error) {
	cases, err := s.repo.ListCaseFacts(ctx, tenantID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list cases: %w", err)
	}
	if !withTransactions {
		return nil, cases, nil
	}
	txs, err := s.repo.ListTransactionFacts(ctx, tenantID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, cases, nil
}

// Monthly builds the report for one calendar month.
func (s *Service) Monthly(ctx context.Context, tenantID string, year, month int) (*PeriodReport, error) {
	p, err := MonthPeriod(year, month, s.loc)
	if err != nil {
		return nil, err
	}
	txs, cases, err := s.facts(ctx, tenantID, true)
	if err != nil {
		return nil, err
	}
	return BuildPeriodReport(p, txs, cases, s.now()), nil
}

// Quarterly builds the report for one calendar quarter.
func (s *Service) Quarterly(ctx context.Context, tenantID string, year, quarter int) (*PeriodReport, error) {
	p, err := QuarterPeriod(year, quarter, s.loc)
	if err != nil {
		return nil, err
	}
	txs, cases, err := s.facts(ctx, tenantID, true)
	if err != nil {
		return nil, err
	}
	return BuildPeriodReport(p, txs, cases, s.now()), nil
}

// RuleEffectiveness analyses every case on record.
func (s *Service) RuleEffectiveness(ctx context.Context, tenantID string) (*RuleEffectiveness, error) {
	_, cases, err := s.facts(ctx, tenantID, false)
	if err != nil {
		return nil, err
	}
	return BuildRuleEffectiveness(cases, s.now()), nil
}

// Trends builds the six-month performance trend report.
func (s *Service) Trends(ctx context.Context, tenantID string) (*PerformanceTrends, error) {
	txs, cases, err := s.facts(ctx, tenantID, true)
	if err != nil {
		return nil, err
	}
	return BuildPerformanceTrends(txs, cases, s.now()), nil
}

// All builds the current month, current quarter, rule and trend reports
// from a single read of the facts.
func (s *Service) All(ctx context.Context, tenantID string) (*Consolidated, error) {
	txs, cases, err := s.facts(ctx, tenantID, true)
	if err != nil {
		return nil, err
	}

	now := s.now()
	month, _ := MonthPeriod(now.Year(), int(now.Month()), s.loc)
	quarter, _ := QuarterPeriod(now.Year(), (int(now.Month())-1)/3+1, s.loc)

	return &Consolidated{
		GeneratedAt:       now,
		Monthly:           BuildPeriodReport(month, txs, cases, now),
		Quarterly:         BuildPeriodReport(quarter, txs, cases, now),
		RuleEffectiveness: BuildRuleEffectiveness(cases, now),
		PerformanceTrends: BuildPerformanceTrends(txs, cases, now),
	}, nil
}
