package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

// seedGraph stores one employee, one merchant on the given MCC and one
// transaction linking them.
func seedGraph(t *testing.T, repo *SQLRepository, tenantID string, group domain.RiskGroup, amount int64) {
	t.Helper()
	ctx := context.Background()

	if err := repo.SaveMCC(ctx, tenantID, &domain.MCC{Code: "7995", Description: "Gambling", RiskGroup: group, RiskLevel: 100}); err != nil {
		t.Fatalf("SaveMCC failed: %v", err)
	}
	if err := repo.SaveMerchant(ctx, tenantID, &domain.Merchant{ID: "m-1", Name: "Casino", TrustScore: 10, Country: "KR", MCCCode: "7995"}); err != nil {
		t.Fatalf("SaveMerchant failed: %v", err)
	}
	if err := repo.SaveEmployee(ctx, tenantID, &domain.Employee{ID: "e-1", Name: "Kim", Department: "Sales", SpendingLimitDaily: 1000000}); err != nil {
		t.Fatalf("SaveEmployee failed: %v", err)
	}
	if err := repo.SaveTransaction(ctx, tenantID, &domain.Transaction{
		ID:         "tx-1",
		EmployeeID: "e-1",
		MerchantID: "m-1",
		Amount:     amount,
		Currency:   "KRW",
		OccurredAt: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("SaveTransaction failed: %v", err)
	}
}

func newCase(id, txID, caseType string) *domain.Case {
	return &domain.Case{
		ID:            id,
		TransactionID: txID,
		CaseType:      caseType,
		RuleID:        "mcc-blacklist",
		Severity:      domain.SeverityCritical,
		Status:        domain.CaseOpen,
		DetectedAt:    time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC),
		Reasoning: domain.DetectionReasoning{
			Explanation: "blacklisted category",
			FinalScore:  domain.FinalScore{TotalScore: 100, Threshold: 70, Recommendation: domain.RecommendationFlagged},
		},
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	seedGraph(t, repo, tenantID, domain.RiskGroupBlack, 100000)

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("LoadTransactionContext", func(t *testing.T) {
		tc, err := repo.LoadTransactionContext(ctx, tenantID, "tx-1")
		if err != nil {
			t.Fatalf("LoadTransactionContext failed: %v", err)
		}
		if !tc.Complete() {
			t.Fatalf("expected complete context, got %+v", tc)
		}
		if tc.MCC.RiskGroup != domain.RiskGroupBlack {
			t.Errorf("expected BLACK, got %s", tc.MCC.RiskGroup)
		}
		if tc.Employee.SpendingLimitDaily != 1000000 {
			t.Errorf("expected limit 1000000, got %d", tc.Employee.SpendingLimitDaily)
		}
		if tc.Transaction.RiskScore != nil {
			t.Errorf("expected unscored transaction")
		}
	})

	t.Run("LoadTransactionContextMissingLinks", func(t *testing.T) {
		err := repo.SaveTransaction(ctx, tenantID, &domain.Transaction{
			ID:         "tx-orphan",
			MerchantID: "m-unknown",
			Amount:     500,
			OccurredAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		tc, err := repo.LoadTransactionContext(ctx, tenantID, "tx-orphan")
		if err != nil {
			t.Fatalf("LoadTransactionContext failed: %v", err)
		}
		if tc.Complete() {
			t.Error("expected incomplete context")
		}
		if tc.Employee != nil || tc.Merchant != nil || tc.MCC != nil {
			t.Errorf("expected nil links, got %+v", tc)
		}
	})

	t.Run("LoadTransactionContextNotFound", func(t *testing.T) {
		_, err := repo.LoadTransactionContext(ctx, tenantID, "nope")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("SetRiskScoreIdempotent", func(t *testing.T) {
		at := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
		for i := 0; i < 2; i++ {
			stored, err := repo.SetRiskScore(ctx, tenantID, "tx-1", 100, at)
			if err != nil {
				t.Fatalf("SetRiskScore failed: %v", err)
			}
			if stored != 100 {
				t.Errorf("expected stored 100, got %d", stored)
			}
		}

		tx, err := repo.GetTransaction(ctx, tenantID, "tx-1")
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if tx.RiskScore == nil || *tx.RiskScore != 100 {
			t.Errorf("expected risk score 100, got %v", tx.RiskScore)
		}
	})

	t.Run("SetRiskScoreRejectsOutOfRange", func(t *testing.T) {
		if _, err := repo.SetRiskScore(ctx, tenantID, "tx-1", 101, time.Now()); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := repo.SetRiskScore(ctx, tenantID, "missing", 10, time.Now()); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.GetTransaction(ctx, "tenant-002", "tx-1")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for other tenant, got %v", err)
		}

		ids, err := repo.ListTransactionIDs(ctx, "tenant-002")
		if err != nil {
			t.Fatalf("ListTransactionIDs failed: %v", err)
		}
		if len(ids) != 0 {
			t.Errorf("expected no ids for other tenant, got %v", ids)
		}
	})

	t.Run("EmptyTenantRejected", func(t *testing.T) {
		if _, err := repo.GetTransaction(ctx, "", "tx-1"); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("RecomputeEmployeeRisk", func(t *testing.T) {
		if err := repo.SaveEmployee(ctx, tenantID, &domain.Employee{ID: "e-idle", Name: "Lee", SpendingLimitDaily: 500000}); err != nil {
			t.Fatalf("SaveEmployee failed: %v", err)
		}

		n, err := repo.RecomputeEmployeeRisk(ctx, tenantID)
		if err != nil {
			t.Fatalf("RecomputeEmployeeRisk failed: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 employees updated, got %d", n)
		}

		e, err := repo.GetEmployee(ctx, tenantID, "e-1")
		if err != nil {
			t.Fatalf("GetEmployee failed: %v", err)
		}
		if e.RiskScore != 1.0 {
			t.Errorf("expected employee risk 1.0, got %f", e.RiskScore)
		}

		idle, _ := repo.GetEmployee(ctx, tenantID, "e-idle")
		if idle.RiskScore != 0 {
			t.Errorf("expected idle employee risk 0, got %f", idle.RiskScore)
		}
	})
}

func TestListEmployeeStats(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	seedGraph(t, repo, tenantID, domain.RiskGroupBlack, 100000)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}
	must(repo.SaveEmployee(ctx, tenantID, &domain.Employee{ID: "e-idle", Name: "Lee", Department: "Ops", SpendingLimitDaily: 500000}))
	must(repo.SaveTransaction(ctx, tenantID, &domain.Transaction{
		ID: "tx-2", EmployeeID: "e-1", MerchantID: "m-1", Amount: 5000, Currency: "KRW",
		OccurredAt: time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC),
	}))
	must(repo.SaveTransaction(ctx, tenantID, &domain.Transaction{
		ID: "tx-unscored", EmployeeID: "e-1", MerchantID: "m-1", Amount: 1000, Currency: "KRW",
		OccurredAt: time.Date(2026, 3, 13, 10, 0, 0, 0, time.UTC),
	}))
	at := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	if _, err := repo.SetRiskScore(ctx, tenantID, "tx-1", 100, at); err != nil {
		t.Fatalf("SetRiskScore failed: %v", err)
	}
	if _, err := repo.SetRiskScore(ctx, tenantID, "tx-2", 40, at); err != nil {
		t.Fatalf("SetRiskScore failed: %v", err)
	}
	if _, err := repo.CreateCaseIfAbsent(ctx, tenantID, newCase("case-1", "tx-1", domain.CaseTypeBlacklistMCC)); err != nil {
		t.Fatalf("CreateCaseIfAbsent failed: %v", err)
	}
	if _, err := repo.RecomputeEmployeeRisk(ctx, tenantID); err != nil {
		t.Fatalf("RecomputeEmployeeRisk failed: %v", err)
	}

	stats, err := repo.ListEmployeeStats(ctx, tenantID, domain.FlagThreshold)
	if err != nil {
		t.Fatalf("ListEmployeeStats failed: %v", err)
	}
	if len(stats) != 2 || stats[0].EmployeeID != "e-1" || stats[1].EmployeeID != "e-idle" {
		t.Fatalf("expected e-1 then e-idle, got %+v", stats)
	}

	kim := stats[0]
	if kim.TransactionCount != 3 || kim.FlaggedCount != 1 || kim.CaseCount != 1 {
		t.Errorf("unexpected counts %+v", kim)
	}
	if kim.TotalSpending != 106000 {
		t.Errorf("expected total spending 106000, got %d", kim.TotalSpending)
	}
	if kim.AvgRiskScore != 70 || kim.MaxRiskScore != 100 || kim.RiskScore != 0.7 {
		t.Errorf("unexpected risk figures %+v", kim)
	}

	idle := stats[1]
	if idle.TransactionCount != 0 || idle.TotalSpending != 0 || idle.AvgRiskScore != 0 || idle.CaseCount != 0 {
		t.Errorf("expected empty stats for idle employee, got %+v", idle)
	}

	if other, err := repo.ListEmployeeStats(ctx, "tenant-002", domain.FlagThreshold); err != nil || len(other) != 0 {
		t.Errorf("expected no rows for other tenant, got %v (%v)", other, err)
	}
}

func TestCaseDedup(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	seedGraph(t, repo, tenantID, domain.RiskGroupBlack, 100000)
	if err := repo.SaveTaxRule(ctx, tenantID, &domain.TaxRule{
		ID:              "CIT-27",
		Name:            "법인세법 제27조",
		Category:        "NON_DEDUCTIBLE_EXPENSE",
		RelatedMCCCodes: []string{"7995", "6051"},
	}); err != nil {
		t.Fatalf("SaveTaxRule failed: %v", err)
	}

	t.Run("SecondInsertSuppressed", func(t *testing.T) {
		first := newCase("case-1", "tx-1", domain.CaseTypeBlacklistMCC)
		first.CitedRules = []string{"CIT-27"}

		created, err := repo.CreateCaseIfAbsent(ctx, tenantID, first)
		if err != nil {
			t.Fatalf("CreateCaseIfAbsent failed: %v", err)
		}
		if !created {
			t.Fatal("expected first case to be created")
		}

		created, err = repo.CreateCaseIfAbsent(ctx, tenantID, newCase("case-2", "tx-1", domain.CaseTypeBlacklistMCC))
		if err != nil {
			t.Fatalf("CreateCaseIfAbsent failed: %v", err)
		}
		if created {
			t.Error("expected duplicate to be suppressed")
		}

		n, _ := repo.CountCases(ctx, tenantID, "tx-1", domain.CaseTypeBlacklistMCC)
		if n != 1 {
			t.Errorf("expected 1 case, got %d", n)
		}

		got, err := repo.GetCase(ctx, tenantID, "case-1")
		if err != nil {
			t.Fatalf("GetCase failed: %v", err)
		}
		if len(got.CitedRules) != 1 || got.CitedRules[0] != "CIT-27" {
			t.Errorf("expected citation CIT-27, got %v", got.CitedRules)
		}
		if got.Reasoning.FinalScore.TotalScore != 100 {
			t.Errorf("expected reasoning to round-trip, got %+v", got.Reasoning)
		}
	})

	t.Run("OtherCaseTypeAllowed", func(t *testing.T) {
		created, err := repo.CreateCaseIfAbsent(ctx, tenantID, newCase("case-3", "tx-1", domain.CaseTypeSplitPayment))
		if err != nil {
			t.Fatalf("CreateCaseIfAbsent failed: %v", err)
		}
		if !created {
			t.Error("expected a different case type to be filed")
		}
	})

	t.Run("ConcurrentFilers", func(t *testing.T) {
		const filers = 16
		var wg sync.WaitGroup
		var mu sync.Mutex
		createdCount := 0

		for i := 0; i < filers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				c := newCase(fmt.Sprintf("race-%d", i), "tx-1", domain.CaseTypeGraylistMCC)
				created, err := repo.CreateCaseIfAbsent(ctx, tenantID, c)
				if err != nil {
					t.Errorf("CreateCaseIfAbsent failed: %v", err)
					return
				}
				if created {
					mu.Lock()
					createdCount++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		if createdCount != 1 {
			t.Errorf("expected exactly 1 winner, got %d", createdCount)
		}
		n, _ := repo.CountCases(ctx, tenantID, "tx-1", domain.CaseTypeGraylistMCC)
		if n != 1 {
			t.Errorf("expected 1 stored case, got %d", n)
		}
	})

	t.Run("ApplyCaseAction", func(t *testing.T) {
		at := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)

		c, err := repo.ApplyCaseAction(ctx, tenantID, "case-1", domain.CaseResolution{
			Action:  domain.ActionRequestReceipt,
			Comment: "please attach receipt",
		}, at)
		if err != nil {
			t.Fatalf("request_receipt failed: %v", err)
		}
		if c.Status != domain.CaseUnderReview {
			t.Errorf("expected UNDER_REVIEW, got %s", c.Status)
		}
		if c.ResolvedAt != nil {
			t.Error("expected no resolved_at for non-terminal status")
		}

		c, err = repo.ApplyCaseAction(ctx, tenantID, "case-1", domain.CaseResolution{
			Action: domain.ActionReject,
			Reason: "policy violation",
		}, at.Add(time.Hour))
		if err != nil {
			t.Fatalf("reject failed: %v", err)
		}
		if c.Status != domain.CaseRejected || c.ResolvedAt == nil {
			t.Errorf("expected REJECTED with resolved_at, got %s %v", c.Status, c.ResolvedAt)
		}
		if c.Resolution == nil || c.Resolution.Reason != "policy violation" {
			t.Errorf("expected resolution reason, got %+v", c.Resolution)
		}

		_, err = repo.ApplyCaseAction(ctx, tenantID, "case-1", domain.CaseResolution{Action: domain.ActionApprove}, at.Add(2*time.Hour))
		if !errors.Is(err, domain.ErrTerminalCase) {
			t.Errorf("expected ErrTerminalCase, got %v", err)
		}

		_, err = repo.ApplyCaseAction(ctx, tenantID, "missing", domain.CaseResolution{Action: domain.ActionApprove}, at)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ListCasesFilter", func(t *testing.T) {
		cases, err := repo.ListCases(ctx, tenantID, domain.CaseFilter{Status: domain.CaseOpen})
		if err != nil {
			t.Fatalf("ListCases failed: %v", err)
		}
		for _, c := range cases {
			if c.Status != domain.CaseOpen {
				t.Errorf("unexpected status %s", c.Status)
			}
		}
		if len(cases) != 2 {
			t.Errorf("expected 2 open cases, got %d", len(cases))
		}
	})

	t.Run("ListCaseFacts", func(t *testing.T) {
		facts, err := repo.ListCaseFacts(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListCaseFacts failed: %v", err)
		}
		if len(facts) != 3 {
			t.Fatalf("expected 3 facts, got %d", len(facts))
		}
		for _, f := range facts {
			if f.Amount != 100000 || f.MCCCode != "7995" || f.EmployeeName != "Kim" {
				t.Errorf("unexpected fact %+v", f)
			}
		}
	})
}

func TestTaxRulesAndSnapshots(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	limit := int64(30000)
	rules := []*domain.TaxRule{
		{ID: "CIT-27", Name: "법인세법 제27조", Category: "NON_DEDUCTIBLE_EXPENSE", RelatedMCCCodes: []string{"7995", "5813"}},
		{ID: "CIT-41", Name: "법인세법 시행령 제41조", Category: "ENTERTAINMENT_LIMIT", RelatedMCCCodes: []string{"5812", "5813"}, AmountGreater: &limit},
	}
	for _, r := range rules {
		if err := repo.SaveTaxRule(ctx, tenantID, r); err != nil {
			t.Fatalf("SaveTaxRule failed: %v", err)
		}
	}

	t.Run("TaxRulesForMCC", func(t *testing.T) {
		got, err := repo.TaxRulesForMCC(ctx, tenantID, "5813")
		if err != nil {
			t.Fatalf("TaxRulesForMCC failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 rules, got %d", len(got))
		}
		if got[1].AmountGreater == nil || *got[1].AmountGreater != 30000 {
			t.Errorf("expected amount_gt 30000, got %v", got[1].AmountGreater)
		}

		none, err := repo.TaxRulesForMCC(ctx, tenantID, "4111")
		if err != nil {
			t.Fatalf("TaxRulesForMCC failed: %v", err)
		}
		if len(none) != 0 {
			t.Errorf("expected no rules, got %d", len(none))
		}
	})

	t.Run("SnapshotOverwrite", func(t *testing.T) {
		if _, err := repo.GetMetricsSnapshot(ctx, tenantID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound before first save, got %v", err)
		}

		first := &domain.MetricsSnapshot{Timestamp: time.Now().UTC(), RiskDistribution: domain.RiskDistribution{Total: 5}}
		second := &domain.MetricsSnapshot{Timestamp: time.Now().UTC(), RiskDistribution: domain.RiskDistribution{Total: 9}}
		if err := repo.SaveMetricsSnapshot(ctx, tenantID, first); err != nil {
			t.Fatalf("SaveMetricsSnapshot failed: %v", err)
		}
		if err := repo.SaveMetricsSnapshot(ctx, tenantID, second); err != nil {
			t.Fatalf("SaveMetricsSnapshot failed: %v", err)
		}

		got, err := repo.GetMetricsSnapshot(ctx, tenantID)
		if err != nil {
			t.Fatalf("GetMetricsSnapshot failed: %v", err)
		}
		if got.RiskDistribution.Total != 9 {
			t.Errorf("expected overwritten total 9, got %d", got.RiskDistribution.Total)
		}
	})

	t.Run("ViolationRules", func(t *testing.T) {
		lower := 1.0
		rule := &domain.ViolationRule{
			ID:         "mcc-blacklist",
			Name:       "MCC blacklist",
			CaseType:   domain.CaseTypeBlacklistMCC,
			Expression: `risk_group == "BLACK"`,
			Bands:      []domain.SeverityBand{{LowerLimit: &lower, Severity: domain.SeverityCritical}},
			Enabled:    true,
		}
		if err := repo.SaveViolationRule(ctx, tenantID, rule); err != nil {
			t.Fatalf("SaveViolationRule failed: %v", err)
		}

		got, err := repo.ListViolationRules(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListViolationRules failed: %v", err)
		}
		if len(got) != 1 || got[0].Version != "1.0.0" || len(got[0].Bands) != 1 {
			t.Errorf("unexpected rules %+v", got)
		}
	})
}

func TestCountMerchantVisits(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	seedGraph(t, repo, tenantID, domain.RiskGroupNormal, 1000)
	base := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	for i, offset := range []time.Duration{-2 * time.Hour, -30 * time.Hour, time.Hour} {
		err := repo.SaveTransaction(ctx, tenantID, &domain.Transaction{
			ID:         fmt.Sprintf("tx-v%d", i),
			EmployeeID: "e-1",
			MerchantID: "m-1",
			Amount:     1000,
			OccurredAt: base.Add(offset),
		})
		if err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}
	}

	n, err := repo.CountMerchantVisits(ctx, tenantID, "e-1", "m-1", base.Add(-24*time.Hour), base)
	if err != nil {
		t.Fatalf("CountMerchantVisits failed: %v", err)
	}
	// tx-1 at base and tx-v0 two hours earlier
	if n != 2 {
		t.Errorf("expected 2 visits in window, got %d", n)
	}
}

func TestRebind(t *testing.T) {
	pg := &SQLRepository{driver: "postgres"}
	if got := pg.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Errorf("unexpected rebind: %s", got)
	}
	lite := &SQLRepository{driver: "sqlite"}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite query should be unchanged, got %s", got)
	}
}

func TestPostgresDSN(t *testing.T) {
	t.Run("explicit dsn wins", func(t *testing.T) {
		cfg := domain.RepositoryConfig{PostgresDSN: "postgres://u:p@db/kestrel", PostgresHost: "ignored"}
		if got := postgresDSN(cfg); got != cfg.PostgresDSN {
			t.Errorf("dsn = %s", got)
		}
	})

	t.Run("defaults", func(t *testing.T) {
		want := "host=localhost port=5432 dbname=kestrel sslmode=disable application_name=kestrel"
		if got := postgresDSN(domain.RepositoryConfig{}); got != want {
			t.Errorf("dsn = %s", got)
		}
	})

	t.Run("quoted password", func(t *testing.T) {
		got := postgresDSN(domain.RepositoryConfig{PostgresUser: "audit", PostgresPassword: `it's\secret`})
		want := `host=localhost port=5432 dbname=kestrel sslmode=disable application_name=kestrel user=audit password='it\'s\\secret'`
		if got != want {
			t.Errorf("dsn = %s", got)
		}
	})
}

func TestInMemorySQLite(t *testing.T) {
	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:", MaxOpenConns: 8})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer repo.Close()

	// Schema and data must survive across calls on the pool.
	seedGraph(t, repo, "tenant-mem", domain.RiskGroupBlack, 5000)
	tx, err := repo.GetTransaction(context.Background(), "tenant-mem", "tx-1")
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if tx.Amount != 5000 {
		t.Errorf("amount = %d", tx.Amount)
	}
}

func TestCorruptCasePayload(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	seedGraph(t, repo, tenantID, domain.RiskGroupBlack, 100000)
	if _, err := repo.CreateCaseIfAbsent(ctx, tenantID, newCase("case-1", "tx-1", domain.CaseTypeBlacklistMCC)); err != nil {
		t.Fatalf("CreateCaseIfAbsent failed: %v", err)
	}

	for _, column := range []string{"detection_reasoning", "resolution"} {
		t.Run(column, func(t *testing.T) {
			if _, err := repo.DB().ExecContext(ctx, `UPDATE cases SET `+column+` = '{not json' WHERE id = 'case-1'`); err != nil {
				t.Fatalf("corrupting %s failed: %v", column, err)
			}
			defer repo.DB().ExecContext(ctx, `UPDATE cases SET detection_reasoning = '{}', resolution = NULL WHERE id = 'case-1'`)

			_, err := repo.GetCase(ctx, tenantID, "case-1")
			if err == nil || !strings.Contains(err.Error(), "case-1") {
				t.Errorf("expected decode error naming the case, got %v", err)
			}
			if _, err := repo.ListCases(ctx, tenantID, domain.CaseFilter{}); err == nil {
				t.Error("expected ListCases to surface the decode error")
			}
		})
	}
}
