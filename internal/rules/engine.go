// Package rules provides the CEL-Go based violation rule engine.
package rules

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Engine is the CEL-based violation rule engine.
type Engine struct {
	mu             sync.RWMutex
	env            *cel.Env
	compiledRules  map[string]*CompiledRule
	velocityGetter VelocityGetter
	maxWorkers     int
	loc            *time.Location
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.ViolationRule
	Program cel.Program
}

// VelocityGetter returns how many transactions an employee made at a
// merchant within [from, to].
type VelocityGetter func(ctx context.Context, tenantID, employeeID, merchantID string, from, to time.Time) (int64, error)

// NewEngine creates a new rule engine. Hour and weekday variables are
// evaluated in loc; nil means UTC.
func NewEngine(velocityGetter VelocityGetter, maxWorkers int, loc *time.Location) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	if loc == nil {
		loc = time.UTC
	}

	env, err := cel.NewEnv(
		cel.Variable("tx", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.IntType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("mcc_code", cel.StringType),
		cel.Variable("mcc_description", cel.StringType),
		cel.Variable("risk_group", cel.StringType),
		cel.Variable("risk_level", cel.IntType),
		cel.Variable("merchant_name", cel.StringType),
		cel.Variable("trust_score", cel.IntType),
		cel.Variable("merchant_country", cel.StringType),
		cel.Variable("is_online", cel.BoolType),
		cel.Variable("department", cel.StringType),
		cel.Variable("spending_limit", cel.IntType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("weekday", cel.IntType),
		cel.Variable("is_weekend", cel.BoolType),
		cel.Variable("is_night", cel.BoolType),
		cel.Variable("velocity_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:            env,
		compiledRules:  make(map[string]*CompiledRule),
		velocityGetter: velocityGetter,
		maxWorkers:     maxWorkers,
		loc:            loc,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.ViolationRule) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.ViolationRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled
	return nil
}

// ReloadRules replaces the loaded set with the enabled rules in configs.
// On a compile error the previous set stays loaded.
func (e *Engine) ReloadRules(configs []*domain.ViolationRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules
	return nil
}

// RuleLister is the slice of the repository the engine reloads from.
type RuleLister interface {
	ListViolationRules(ctx context.Context, tenantID string) ([]*domain.ViolationRule, error)
}

// ReloadFrom replaces the loaded set with the global rules stored under
// domain.AllTenants and returns how many are now loaded.
func (e *Engine) ReloadFrom(ctx context.Context, store RuleLister) (int, error) {
	configs, err := store.ListViolationRules(ctx, domain.AllTenants)
	if err != nil {
		return 0, fmt.Errorf("failed to list rules: %w", err)
	}
	if err := e.ReloadRules(configs); err != nil {
		return 0, err
	}
	return e.RulesCount(), nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// GetLoadedRules returns the loaded rule configurations ordered by id.
func (e *Engine) GetLoadedRules() []*domain.ViolationRule {
	rules := e.snapshot()
	out := make([]*domain.ViolationRule, len(rules))
	for i, r := range rules {
		out[i] = r.Config
	}
	return out
}

// EvaluateAll evaluates every loaded rule against a transaction context.
// Hits are returned in rule id order.
func (e *Engine) EvaluateAll(ctx context.Context, tenantID string, tc *domain.TransactionContext) ([]domain.RuleHit, error) {
	if !tc.Complete() {
		return nil, domain.ErrIncompleteContext
	}

	rules := e.snapshot()
	if len(rules) == 0 {
		return nil, nil
	}

	base := e.activation(tc)
	velocity, velocityErrs := e.velocityCounts(ctx, tenantID, tc, rules)

	hits := make([]domain.RuleHit, len(rules))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			vars := base
			if window := r.Config.VelocityWindowSecs; window > 0 {
				if err := velocityErrs[window]; err != nil {
					hits[idx] = domain.RuleHit{
						RuleID:   r.Config.ID,
						RuleName: r.Config.Name,
						CaseType: r.Config.CaseType,
						TxID:     tc.Transaction.ID,
						Err:      fmt.Sprintf("velocity lookup failed: %v", err),
					}
					return
				}
				vars = make(map[string]any, len(base))
				for k, v := range base {
					vars[k] = v
				}
				vars["velocity_count"] = velocity[window]
			}

			hits[idx] = e.evaluateRule(r, vars, tc.Transaction.ID)
		}(i, rule)
	}

	wg.Wait()
	return hits, nil
}

// activation builds the CEL variables for a transaction context.
func (e *Engine) activation(tc *domain.TransactionContext) map[string]any {
	tx := tc.Transaction
	local := tx.OccurredAt.In(e.loc)
	hour := local.Hour()

	return map[string]any{
		"tx": map[string]any{
			"id":          tx.ID,
			"employee_id": tx.EmployeeID,
			"merchant_id": tx.MerchantID,
			"amount":      tx.Amount,
			"currency":    tx.Currency,
			"status":      string(tx.Status),
		},
		"amount":           tx.Amount,
		"currency":         tx.Currency,
		"mcc_code":         tc.MCC.Code,
		"mcc_description":  tc.MCC.Description,
		"risk_group":       string(tc.MCC.RiskGroup),
		"risk_level":       int64(tc.MCC.RiskLevel),
		"merchant_name":    tc.Merchant.Name,
		"trust_score":      int64(tc.Merchant.TrustScore),
		"merchant_country": tc.Merchant.Country,
		"is_online":        tc.Merchant.IsOnline,
		"department":       tc.Employee.Department,
		"spending_limit":   tc.Employee.SpendingLimitDaily,
		"hour":             int64(hour),
		"weekday":          int64(local.Weekday()),
		"is_weekend":       scoring.IsWeekend(local.Weekday()),
		"is_night":         scoring.IsNight(hour),
		"velocity_count":   int64(0),
	}
}

// velocityCounts fetches one count per distinct window among rules. A
// failed lookup is reported per window so only the rules using it error.
func (e *Engine) velocityCounts(ctx context.Context, tenantID string, tc *domain.TransactionContext, rules []*CompiledRule) (map[int]int64, map[int]error) {
	counts := make(map[int]int64)
	errs := make(map[int]error)
	if e.velocityGetter == nil {
		return counts, errs
	}

	to := tc.Transaction.OccurredAt
	for _, r := range rules {
		window := r.Config.VelocityWindowSecs
		if window <= 0 {
			continue
		}
		if _, done := counts[window]; done {
			continue
		}
		if _, failed := errs[window]; failed {
			continue
		}
		from := to.Add(-time.Duration(window) * time.Second)
		n, err := e.velocityGetter(ctx, tenantID, tc.Transaction.EmployeeID, tc.Transaction.MerchantID, from, to)
		if err != nil {
			errs[window] = err
			continue
		}
		counts[window] = n
	}
	return counts, errs
}

func (e *Engine) evaluateRule(rule *CompiledRule, activation map[string]any, txID string) domain.RuleHit {
	start := time.Now()

	hit := domain.RuleHit{
		RuleID:   rule.Config.ID,
		RuleName: rule.Config.Name,
		CaseType: rule.Config.CaseType,
		TxID:     txID,
	}

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		hit.Err = fmt.Sprintf("evaluation error: %v", err)
		hit.ProcessMs = time.Since(start).Milliseconds()
		return hit
	}

	hit.Score = toScore(out)
	hit.Severity, hit.Reason = matchBand(hit.Score, rule.Config.Bands)
	hit.ProcessMs = time.Since(start).Milliseconds()
	return hit
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) snapshot() []*CompiledRule {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	sort.Slice(rules, func(i, j int) bool { return rules[i].Config.ID < rules[j].Config.ID })
	return rules
}

func (e *Engine) compileRule(cfg *domain.ViolationRule) (*CompiledRule, error) {
	if cfg.ID == "" || cfg.CaseType == "" {
		return nil, fmt.Errorf("rule id and case type are required")
	}
	for _, band := range cfg.Bands {
		if band.Severity != "" && !band.Severity.Valid() {
			return nil, fmt.Errorf("rule %s: unknown severity %q", cfg.ID, band.Severity)
		}
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{Config: cfg, Program: program}, nil
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// matchBand returns the severity of the first band containing score.
// Lower bounds are inclusive, upper bounds exclusive, and a nil bound is
// unbounded. No matching band means no violation.
func matchBand(score float64, bands []domain.SeverityBand) (domain.Severity, string) {
	for _, band := range bands {
		lower := math.Inf(-1)
		upper := math.Inf(1)
		if band.LowerLimit != nil {
			lower = *band.LowerLimit
		}
		if band.UpperLimit != nil {
			upper = *band.UpperLimit
		}

		if score >= lower && score < upper {
			return band.Severity, band.Reason
		}
	}
	return "", "no matching band"
}
