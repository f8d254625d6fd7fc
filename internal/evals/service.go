package evals

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Service reads facts from the repository and persists snapshots.
type Service struct {
	repo         domain.Repository
	snapshotPath string
	now          func() time.Time
}

// NewService creates a metrics service. When snapshotPath is non-empty,
// Save also writes each tenant's snapshot next to it as indented JSON; see
// SnapshotFile.
func NewService(repo domain.Repository, snapshotPath string) *Service {
	return &Service{
		repo:         repo,
		snapshotPath: snapshotPath,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// ComputeMetrics reads the tenant's facts and computes a snapshot.
// It never writes.
func (s *Service) ComputeMetrics(ctx context.Context, tenantID string) (*domain.MetricsSnapshot, error) {
	txs, err := s.repo.ListTransactionFacts(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	cases, err := s.repo.ListCaseFacts(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}
	employees, err := s.repo.ListEmployees(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}

	snap := Compute(Input{
		TenantID:     tenantID,
		Timestamp:    s.now(),
		Transactions: txs,
		Cases:        cases,
		Employees:    employees,
	})
	return &snap, nil
}

// Save overwrites the tenant's stored snapshot.
func (s *Service) Save(ctx context.Context, tenantID string, snap *domain.MetricsSnapshot) error {
	if err := s.repo.SaveMetricsSnapshot(ctx, tenantID, snap); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	if s.snapshotPath == "" {
		return nil
	}
	path, err := SnapshotFile(s.snapshotPath, tenantID)
	if err != nil {
		return err
	}
	if err := writeFile(path, snap); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}
	slog.Debug("metrics snapshot written", "tenant", tenantID, "path", path)
	return nil
}

// SnapshotFile returns the per-tenant file for a configured snapshot path:
// "reports/metrics.json" becomes "reports/metrics.<tenant>.json".
func SnapshotFile(base, tenantID string) (string, error) {
	if tenantID == "" || tenantID == "." || tenantID == ".." || strings.ContainsAny(tenantID, `/\`) {
		return "", fmt.Errorf("tenant %q cannot name a snapshot file", tenantID)
	}
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "." + tenantID + ext, nil
}

// Latest returns the stored snapshot.
func (s *Service) Latest(ctx context.Context, tenantID string) (*domain.MetricsSnapshot, error) {
	return s.repo.GetMetricsSnapshot(ctx, tenantID)
}

// Refresh computes and saves in one step.
func (s *Service) Refresh(ctx context.Context, tenantID string) (*domain.MetricsSnapshot, error) {
	snap, err := s.ComputeMetrics(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if err := s.Save(ctx, tenantID, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func writeFile(path string, snap *domain.MetricsSnapshot) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	// Concurrent writers for one tenant each get their own temp file.
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return err
	}
	if err := os.Chmod(f.Name(), 0o644); err != nil {
		os.Remove(f.Name())
		return err
	}
	return os.Rename(f.Name(), path)
}
