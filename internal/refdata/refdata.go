// Package refdata provisions the built-in reference catalog: merchant
// category codes with their risk classification, the tax rules that apply
// to them, and the default violation rules.
package refdata

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Catalog is the reference data shipped with the binary.
type Catalog struct {
	MCCs     []*domain.MCC     `yaml:"mccs"`
	TaxRules []*domain.TaxRule `yaml:"taxRules"`
}

// SeedResult lists what a seed wrote.
type SeedResult struct {
	MCCCodes    []string `json:"mccCodes"`
	TaxRuleIDs  []string `json:"taxRuleIds"`
	RulesSeeded int      `json:"rulesSeeded"`
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	return Parse(catalogYAML)
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	known := make(map[string]bool, len(c.MCCs))
	for _, m := range c.MCCs {
		if m.Code == "" {
			return nil, fmt.Errorf("catalog mcc without code")
		}
		if !m.RiskGroup.Valid() {
			return nil, fmt.Errorf("catalog mcc %s: unknown risk group %q", m.Code, m.RiskGroup)
		}
		known[m.Code] = true
	}
	for _, r := range c.TaxRules {
		if r.ID == "" {
			return nil, fmt.Errorf("catalog tax rule without id")
		}
		for _, code := range r.RelatedMCCCodes {
			if !known[code] {
				return nil, fmt.Errorf("tax rule %s applies to unknown mcc %s", r.ID, code)
			}
		}
	}
	return &c, nil
}

// Seed upserts the catalog for a tenant. Running it again leaves the
// same state.
func Seed(ctx context.Context, repo domain.Repository, tenantID string, c *Catalog) (*SeedResult, error) {
	res := &SeedResult{MCCCodes: []string{}, TaxRuleIDs: []string{}}

	for _, m := range c.MCCs {
		mcc := *m
		if err := repo.SaveMCC(ctx, tenantID, &mcc); err != nil {
			return res, fmt.Errorf("failed to seed mcc %s: %w", m.Code, err)
		}
		res.MCCCodes = append(res.MCCCodes, m.Code)
	}

	for _, r := range c.TaxRules {
		rule := *r
		if err := repo.SaveTaxRule(ctx, tenantID, &rule); err != nil {
			return res, fmt.Errorf("failed to seed tax rule %s: %w", r.ID, err)
		}
		res.TaxRuleIDs = append(res.TaxRuleIDs, r.ID)
	}

	slog.Info("reference data seeded",
		"tenant", tenantID,
		"mccs", len(res.MCCCodes),
		"taxRules", len(res.TaxRuleIDs),
	)
	return res, nil
}

// SeedDefaultRules stores the default violation rules as global rules when
// no global rule exists yet. It returns how many were written.
func SeedDefaultRules(ctx context.Context, repo domain.Repository) (int, error) {
	existing, err := repo.ListViolationRules(ctx, domain.AllTenants)
	if err != nil {
		return 0, fmt.Errorf("failed to list rules: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}

	n := 0
	for _, r := range rules.DefaultRules() {
		if err := repo.SaveViolationRule(ctx, domain.AllTenants, r); err != nil {
			return n, fmt.Errorf("failed to seed rule %s: %w", r.ID, err)
		}
		n++
	}
	slog.Info("default violation rules seeded", "count", n)
	return n, nil
}
