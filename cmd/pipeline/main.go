// Kestrel Pipeline - one-shot scoring, detection and evaluation run.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/app"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/refdata"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	defaultTenant := "default"
	if len(cfg.Pipeline.Tenants) > 0 {
		defaultTenant = cfg.Pipeline.Tenants[0]
	}

	tenantID := flag.String("tenant", defaultTenant, "Tenant to run the pipeline for")
	seed := flag.Bool("seed", false, "Load the built-in MCC and tax rule catalog before running")
	reportsDir := flag.String("reports", "", "Directory to write the consolidated report to (optional)")
	flag.Parse()

	slog.SetDefault(config.NewLogger(cfg.Logging, os.Stderr))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *tenantID, *seed, *reportsDir); err != nil {
		slog.Error("pipeline failed", "tenant", *tenantID, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *domain.Config, tenantID string, seed bool, reportsDir string) error {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if seed {
		catalog, err := refdata.Load()
		if err != nil {
			return err
		}
		res, err := refdata.Seed(ctx, a.Repo, tenantID, catalog)
		if err != nil {
			return err
		}
		if err := a.Detector.InvalidateCitations(ctx, tenantID, res.MCCCodes); err != nil {
			slog.Warn("failed to invalidate citations", "tenant", tenantID, "error", err)
		}
		slog.Info("reference data seeded",
			"tenant", tenantID,
			"mcc_codes", len(res.MCCCodes),
			"tax_rules", len(res.TaxRuleIDs),
		)
	}

	summary, err := a.Runner.Run(ctx, tenantID)
	if errors.Is(err, pipeline.ErrRunInProgress) {
		return fmt.Errorf("another run holds the lease for tenant %s: %w", tenantID, err)
	}
	if err != nil {
		return err
	}

	printSummary(summary)

	if reportsDir != "" {
		report, err := a.Reports.All(ctx, tenantID)
		if err != nil {
			return err
		}
		path, err := writeReport(reportsDir, tenantID, report)
		if err != nil {
			return err
		}
		fmt.Printf("\nReport written to %s\n", path)
	}
	return nil
}

func writeReport(dir, tenantID string, report any) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create reports directory: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("report-%s-%s.json", tenantID, time.Now().Format("20060102-150405")))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

func printSummary(s *pipeline.RunSummary) {
	fmt.Println()
	fmt.Println("  KESTREL PIPELINE RUN")
	fmt.Println()
	fmt.Printf("  Run ID:    %s\n", s.RunID)
	fmt.Printf("  Tenant:    %s\n", s.TenantID)
	fmt.Printf("  Duration:  %v\n", s.Duration.Round(time.Millisecond))

	fmt.Println("\n  SCORING")
	fmt.Printf("    Total:      %d\n", s.Scoring.Total)
	fmt.Printf("    Processed:  %d\n", s.Scoring.Processed)
	fmt.Printf("    Skipped:    %d\n", s.Scoring.Skipped)
	fmt.Printf("    Errored:    %d\n", s.Scoring.Errored)

	fmt.Println("\n  CASES")
	fmt.Printf("    Candidates:  %d\n", s.Detection.Candidates)
	fmt.Printf("    Created:     %d\n", s.Detection.Created)
	fmt.Printf("    Duplicates:  %d\n", s.Detection.Duplicates)
	for caseType, n := range s.Detection.ByCaseType {
		fmt.Printf("      %-22s %d\n", caseType, n)
	}
	fmt.Printf("    Employees updated:  %d\n", s.EmployeesUpdated)

	m := s.Metrics
	if m == nil {
		return
	}

	d := m.RiskDistribution
	fmt.Println("\n  RISK DISTRIBUTION")
	fmt.Printf("    Critical:  %d\n", d.Critical)
	fmt.Printf("    High:      %d\n", d.High)
	fmt.Printf("    Medium:    %d\n", d.Medium)
	fmt.Printf("    Low:       %d\n", d.Low)
	fmt.Printf("    Unscored:  %d\n", d.Unscored)

	pr := m.PrecisionRecall
	fmt.Println("\n  CONFUSION MATRIX (BLACK vs NORMAL merchants)")
	fmt.Println("                     Predicted")
	fmt.Println("                  FLAG      PASS")
	fmt.Printf("    Actual  BLACK  %8d  %8d   (TP, FN)\n", pr.TruePositives, pr.FalseNegatives)
	fmt.Printf("           NORMAL  %8d  %8d   (FP, TN)\n", pr.FalsePositives, pr.TrueNegatives)
	fmt.Printf("\n    Precision:  %.4f\n", pr.Precision)
	fmt.Printf("    Recall:     %.4f\n", pr.Recall)
	fmt.Printf("    F1-Score:   %.4f\n", pr.F1Score)
	fmt.Printf("    Accuracy:   %.4f\n", pr.Accuracy)

	rp := m.RecoveryPotential
	fmt.Println("\n  RECOVERY POTENTIAL")
	fmt.Printf("    Critical:   %d\n", rp.CriticalAmount)
	fmt.Printf("    High:       %d\n", rp.HighAmount)
	fmt.Printf("    Medium:     %d\n", rp.MediumAmount)
	fmt.Printf("    Potential:  %d of %d (%.2f%%)\n", rp.PotentialRecovery, rp.TotalAmount, rp.RecoveryRate)
	fmt.Println()
}
