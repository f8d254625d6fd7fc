package rules

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// 2026-03-14 is a Saturday.
var saturdayNight = time.Date(2026, 3, 14, 23, 30, 0, 0, time.UTC)

func makeContext(group domain.RiskGroup, amount int64, at time.Time) *domain.TransactionContext {
	return &domain.TransactionContext{
		Transaction: &domain.Transaction{ID: "tx-1", EmployeeID: "e-1", MerchantID: "m-1", Amount: amount, OccurredAt: at},
		Employee:    &domain.Employee{ID: "e-1", Department: "Sales", SpendingLimitDaily: 1000000},
		Merchant:    &domain.Merchant{ID: "m-1", Name: "Shop", TrustScore: 40, Country: "KR"},
		MCC:         &domain.MCC{Code: "7995", Description: "Gambling", RiskGroup: group, RiskLevel: 100},
	}
}

func hitFor(hits []domain.RuleHit, ruleID string) (domain.RuleHit, bool) {
	for _, h := range hits {
		if h.RuleID == ruleID {
			return h, true
		}
	}
	return domain.RuleHit{}, false
}

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(nil, 5, nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}
}

func TestDefaultRulesCompile(t *testing.T) {
	engine, _ := NewEngine(nil, 5, nil)
	defer engine.Close()

	for _, rule := range DefaultRules() {
		if err := engine.ValidateRule(rule); err != nil {
			t.Errorf("default rule %s failed validation: %v", rule.ID, err)
		}
	}

	if err := engine.ReloadRules(DefaultRules()); err != nil {
		t.Fatalf("ReloadRules failed: %v", err)
	}
	if engine.RulesCount() != 3 {
		t.Errorf("expected 3 enabled default rules, got %d", engine.RulesCount())
	}
}

func TestValidateRule(t *testing.T) {
	engine, _ := NewEngine(nil, 5, nil)
	defer engine.Close()

	tests := []struct {
		name    string
		rule    *domain.ViolationRule
		wantErr bool
	}{
		{"nil", nil, true},
		{"invalid CEL", &domain.ViolationRule{ID: "r", CaseType: "X", Expression: "this is not valid CEL !!!"}, true},
		{"string output", &domain.ViolationRule{ID: "r", CaseType: "X", Expression: `mcc_code`}, true},
		{"unknown variable", &domain.ViolationRule{ID: "r", CaseType: "X", Expression: `debtor_id == "a"`}, true},
		{"missing case type", &domain.ViolationRule{ID: "r", Expression: `amount > 0`}, true},
		{"bad severity", &domain.ViolationRule{ID: "r", CaseType: "X", Expression: `amount > 0`, Bands: []domain.SeverityBand{{Severity: "SEVERE"}}}, true},
		{"bool output", &domain.ViolationRule{ID: "r", CaseType: "X", Expression: `trust_score < 50 && is_online`}, false},
		{"int output", &domain.ViolationRule{ID: "r", CaseType: "X", Expression: `amount * 2`}, false},
		{"double output", &domain.ViolationRule{ID: "r", CaseType: "X", Expression: `double(amount) / double(spending_limit)`}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := engine.ValidateRule(tt.rule)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRule() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if engine.RulesCount() != 0 {
		t.Error("ValidateRule must not load rules")
	}
}

func TestEvaluateDefaults(t *testing.T) {
	engine, _ := NewEngine(nil, 5, nil)
	defer engine.Close()
	if err := engine.ReloadRules(DefaultRules()); err != nil {
		t.Fatalf("ReloadRules failed: %v", err)
	}
	ctx := context.Background()

	t.Run("Blacklist", func(t *testing.T) {
		hits, err := engine.EvaluateAll(ctx, "tenant-001", makeContext(domain.RiskGroupBlack, 1000, saturdayNight))
		if err != nil {
			t.Fatalf("EvaluateAll failed: %v", err)
		}
		h, _ := hitFor(hits, RuleMCCBlacklist)
		if !h.Fired() || h.Severity != domain.SeverityCritical {
			t.Errorf("expected CRITICAL blacklist hit, got %+v", h)
		}
		if g, _ := hitFor(hits, RuleMCCGraylist); g.Fired() {
			t.Errorf("graylist should not fire for BLACK, got %+v", g)
		}
	})

	t.Run("GraylistBands", func(t *testing.T) {
		tests := []struct {
			amount int64
			want   domain.Severity
		}{
			{99999, ""},
			{100000, domain.SeverityMedium},
			{299999, domain.SeverityMedium},
			{300000, domain.SeverityHigh},
		}
		for _, tt := range tests {
			hits, _ := engine.EvaluateAll(ctx, "tenant-001", makeContext(domain.RiskGroupGray, tt.amount, saturdayNight))
			h, _ := hitFor(hits, RuleMCCGraylist)
			if h.Severity != tt.want {
				t.Errorf("amount %d: expected severity %q, got %q", tt.amount, tt.want, h.Severity)
			}
		}
	})

	t.Run("NormalNoHits", func(t *testing.T) {
		hits, _ := engine.EvaluateAll(ctx, "tenant-001", makeContext(domain.RiskGroupNormal, 1000000, saturdayNight))
		for _, h := range hits {
			if h.Fired() {
				t.Errorf("unexpected hit %+v", h)
			}
		}
	})

	t.Run("IncompleteContext", func(t *testing.T) {
		tc := makeContext(domain.RiskGroupBlack, 1000, saturdayNight)
		tc.Merchant = nil
		if _, err := engine.EvaluateAll(ctx, "tenant-001", tc); !errors.Is(err, domain.ErrIncompleteContext) {
			t.Errorf("expected ErrIncompleteContext, got %v", err)
		}
	})
}

func TestSplitPaymentVelocity(t *testing.T) {
	var calls atomic.Int32
	var gotFrom, gotTo time.Time

	getter := func(ctx context.Context, tenantID, employeeID, merchantID string, from, to time.Time) (int64, error) {
		calls.Add(1)
		gotFrom, gotTo = from, to
		if employeeID != "e-1" || merchantID != "m-1" {
			t.Errorf("unexpected velocity key %s/%s", employeeID, merchantID)
		}
		return 3, nil
	}

	engine, _ := NewEngine(getter, 5, nil)
	defer engine.Close()
	_ = engine.ReloadRules(DefaultRules())

	hits, err := engine.EvaluateAll(context.Background(), "tenant-001", makeContext(domain.RiskGroupNormal, 1000, saturdayNight))
	if err != nil {
		t.Fatalf("EvaluateAll failed: %v", err)
	}

	h, _ := hitFor(hits, RuleSplitPayment)
	if !h.Fired() || h.Severity != domain.SeverityHigh {
		t.Errorf("expected HIGH split-payment hit, got %+v", h)
	}
	if calls.Load() != 1 {
		t.Errorf("expected one velocity lookup, got %d", calls.Load())
	}
	if !gotTo.Equal(saturdayNight) || gotTo.Sub(gotFrom) != 24*time.Hour {
		t.Errorf("unexpected window %s - %s", gotFrom, gotTo)
	}
}

func TestVelocityLookupFailure(t *testing.T) {
	getter := func(ctx context.Context, tenantID, employeeID, merchantID string, from, to time.Time) (int64, error) {
		return 0, errors.New("store down")
	}

	engine, _ := NewEngine(getter, 5, nil)
	defer engine.Close()
	_ = engine.ReloadRules(DefaultRules())

	hits, err := engine.EvaluateAll(context.Background(), "tenant-001", makeContext(domain.RiskGroupBlack, 1000, saturdayNight))
	if err != nil {
		t.Fatalf("EvaluateAll failed: %v", err)
	}

	split, _ := hitFor(hits, RuleSplitPayment)
	if split.Err == "" || split.Fired() {
		t.Errorf("expected split-payment to carry the lookup error, got %+v", split)
	}
	if black, _ := hitFor(hits, RuleMCCBlacklist); black.Err != "" || !black.Fired() {
		t.Errorf("rules without a window must still evaluate, got %+v", black)
	}
}

func TestTimeVariablesUseLocation(t *testing.T) {
	kst := time.FixedZone("KST", 9*3600)
	engine, _ := NewEngine(nil, 2, kst)
	defer engine.Close()

	rule := &domain.ViolationRule{
		ID:         "night",
		CaseType:   domain.CaseTypeOffHours,
		Expression: `is_night && is_weekend && hour == 23`,
		Bands:      []domain.SeverityBand{{LowerLimit: limit(1), Severity: domain.SeverityMedium}},
		Enabled:    true,
	}
	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("LoadRule failed: %v", err)
	}

	// 14:30 UTC Saturday is 23:30 Saturday in Seoul.
	at := time.Date(2026, 3, 14, 14, 30, 0, 0, time.UTC)
	hits, _ := engine.EvaluateAll(context.Background(), "tenant-001", makeContext(domain.RiskGroupNormal, 1000, at))
	if len(hits) != 1 || !hits[0].Fired() {
		t.Errorf("expected night rule to fire in KST, got %+v", hits)
	}
}

func TestReloadKeepsPreviousOnError(t *testing.T) {
	engine, _ := NewEngine(nil, 2, nil)
	defer engine.Close()
	_ = engine.ReloadRules(DefaultRules())

	bad := []*domain.ViolationRule{{ID: "bad", CaseType: "X", Expression: "!!!", Enabled: true}}
	if err := engine.ReloadRules(bad); err == nil {
		t.Fatal("expected reload error")
	}
	if engine.RulesCount() != 3 {
		t.Errorf("expected previous 3 rules to stay loaded, got %d", engine.RulesCount())
	}

	loaded := engine.GetLoadedRules()
	if loaded[0].ID != RuleMCCBlacklist || loaded[2].ID != RuleSplitPayment {
		t.Errorf("expected rules in id order, got %s..%s", loaded[0].ID, loaded[2].ID)
	}
}

func TestMatchBand(t *testing.T) {
	bands := []domain.SeverityBand{
		{UpperLimit: limit(10), Reason: "low"},
		{LowerLimit: limit(10), UpperLimit: limit(20), Severity: domain.SeverityMedium, Reason: "mid"},
		{LowerLimit: limit(20), Severity: domain.SeverityHigh, Reason: "high"},
	}

	tests := []struct {
		score float64
		want  domain.Severity
	}{
		{-5, ""},
		{9.99, ""},
		{10, domain.SeverityMedium},
		{19.99, domain.SeverityMedium},
		{20, domain.SeverityHigh},
		{1e12, domain.SeverityHigh},
	}

	for _, tt := range tests {
		if got, _ := matchBand(tt.score, bands); got != tt.want {
			t.Errorf("matchBand(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}

	if got, _ := matchBand(5, nil); got != "" {
		t.Errorf("expected no violation without bands, got %q", got)
	}
}
