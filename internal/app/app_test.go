package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func testConfig(t *testing.T) *domain.Config {
	t.Helper()
	cfg := domain.DefaultConfig()
	cfg.Repository.SQLitePath = filepath.Join(t.TempDir(), "kestrel.db")
	cfg.Scoring.Location = "Asia/Seoul"
	return cfg
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if a.Location.String() != "Asia/Seoul" {
		t.Errorf("location = %s", a.Location)
	}
	if a.Engine.RulesCount() != 3 {
		t.Errorf("expected 3 enabled default rules, got %d", a.Engine.RulesCount())
	}
	if a.Runner == nil || a.Reports == nil || a.Cases == nil {
		t.Fatal("services not wired")
	}

	stored, err := a.Repo.ListViolationRules(ctx, domain.AllTenants)
	if err != nil {
		t.Fatalf("ListViolationRules failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	t.Run("reopen keeps stored rules", func(t *testing.T) {
		again, err := New(ctx, cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer again.Close()

		rules, _ := again.Repo.ListViolationRules(ctx, domain.AllTenants)
		if len(rules) != len(stored) {
			t.Errorf("rules reseeded: %d then %d", len(stored), len(rules))
		}
	})

	t.Run("pipeline runs on an empty tenant", func(t *testing.T) {
		again, err := New(ctx, cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer again.Close()

		summary, err := again.Runner.Run(ctx, "tenant-empty")
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if summary.Metrics == nil || summary.Metrics.RiskDistribution.Total != 0 {
			t.Errorf("expected zeroed snapshot, got %+v", summary.Metrics)
		}
	})
}

func TestNewRejectsBadConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("timezone", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Scoring.Location = "Nowhere/Land"
		if _, err := New(ctx, cfg); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("driver", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Repository.Driver = "oracle"
		if _, err := New(ctx, cfg); err == nil {
			t.Error("expected error")
		}
	})
}
