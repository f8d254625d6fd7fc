// Package reporting compiles periodic fraud detection reports, rule
// effectiveness analysis and performance trends from case and transaction
// facts. Reports are plain structures; rendering is left to clients.
package reporting

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/evals"
)

// ErrInvalidPeriod is returned for an out-of-range month or quarter.
var ErrInvalidPeriod = errors.New("invalid report period")

const (
	topMCCLimit       = 20
	topEmployeeLimit  = 10
	repeatOffenderMin = 2
	trendMonths       = 6

	// Below this many cases a rule is considered inactive.
	inactiveRuleCases = 5

	blacklistMinAccuracy = 70.0
	graylistMaxAccuracy  = 80.0
)

// Summary is the headline block of a period report.
type Summary struct {
	TotalTransactions int     `json:"total_transactions"`
	TotalCases        int     `json:"total_cases"`
	DetectionRate     float64 `json:"detection_rate"`
	RecoveryPotential int64   `json:"recovery_potential"`
	ApprovedAmount    int64   `json:"approved_amount"`
}

// StatusCount is one row of the case status breakdown.
type StatusCount struct {
	Status domain.CaseStatus `json:"status"`
	Count  int               `json:"count"`
}

// MCCDetection counts cases per merchant category.
type MCCDetection struct {
	MCCCode        string           `json:"mcc_code"`
	MCCDescription string           `json:"mcc_desc"`
	RiskGroup      domain.RiskGroup `json:"risk_group"`
	CaseCount      int              `json:"case_count"`
	TotalAmount    int64            `json:"total_amount"`
}

// EmployeeCases counts cases per employee.
type EmployeeCases struct {
	EmployeeID  string `json:"employee_id"`
	Name        string `json:"name"`
	Department  string `json:"department"`
	CaseCount   int    `json:"case_count"`
	TotalAmount int64  `json:"total_amount"`
}

// MonthCount is the case count of one calendar month.
type MonthCount struct {
	Year      int `json:"year"`
	Month     int `json:"month"`
	CaseCount int `json:"case_count"`
}

// PeriodReport is a monthly or quarterly report.
type PeriodReport struct {
	Period              string          `json:"period"`
	Type                string          `json:"type"`
	GeneratedAt         time.Time       `json:"generated_at"`
	Summary             Summary         `json:"summary"`
	CaseStatusBreakdown []StatusCount   `json:"case_status_breakdown"`
	TopMCCDetections    []MCCDetection  `json:"top_mcc_detections"`
	TopEmployees        []EmployeeCases `json:"top_employees"`
	MonthlyTrend        []MonthCount    `json:"monthly_trend,omitempty"`
}

// Period is a half-open [Start, End) reporting window.
type Period struct {
	Label string
	Type  string
	Start time.Time
	End   time.Time
}

// MonthPeriod returns the calendar month in loc.
func MonthPeriod(year, month int, loc *time.Location) (Period, error) {
	if month < 1 || month > 12 {
		return Period{}, fmt.Errorf("%w: month %d", ErrInvalidPeriod, month)
	}
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, locOrUTC(loc))
	return Period{
		Label: fmt.Sprintf("%d-%02d", year, month),
		Type:  "monthly",
		Start: start,
		End:   start.AddDate(0, 1, 0),
	}, nil
}

// QuarterPeriod returns the calendar quarter in loc.
func QuarterPeriod(year, quarter int, loc *time.Location) (Period, error) {
	if quarter < 1 || quarter > 4 {
		return Period{}, fmt.Errorf("%w: quarter %d", ErrInvalidPeriod, quarter)
	}
	start := time.Date(year, time.Month((quarter-1)*3+1), 1, 0, 0, 0, 0, locOrUTC(loc))
	return Period{
		Label: fmt.Sprintf("%d-Q%d", year, quarter),
		Type:  "quarterly",
		Start: start,
		End:   start.AddDate(0, 3, 0),
	}, nil
}

func (p Period) contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// BuildPeriodReport compiles a report for cases detected and transactions
// made within the period. Quarterly reports carry a monthly trend.
func BuildPeriodReport(p Period, txs []*domain.TransactionFact, cases []*domain.CaseFact, now time.Time) *PeriodReport {
	report := &PeriodReport{
		Period:              p.Label,
		Type:                p.Type,
		GeneratedAt:         now,
		CaseStatusBreakdown: []StatusCount{},
		TopMCCDetections:    []MCCDetection{},
		TopEmployees:        []EmployeeCases{},
	}

	for _, tx := range txs {
		if p.contains(tx.OccurredAt) {
			report.Summary.TotalTransactions++
		}
	}

	var inPeriod []*domain.CaseFact
	for _, c := range cases {
		if p.contains(c.DetectedAt) {
			inPeriod = append(inPeriod, c)
		}
	}

	report.Summary.TotalCases = len(inPeriod)
	report.Summary.DetectionRate = evals.Percent(int64(len(inPeriod)), int64(report.Summary.TotalTransactions))

	statuses := map[domain.CaseStatus]int{}
	for _, c := range inPeriod {
		statuses[c.Status]++
		switch c.Status {
		case domain.CaseOpen, domain.CaseUnderReview:
			report.Summary.RecoveryPotential += c.Amount
		case domain.CaseApproved:
			report.Summary.ApprovedAmount += c.Amount
		}
	}
	for _, s := range []domain.CaseStatus{domain.CaseOpen, domain.CaseUnderReview, domain.CaseApproved, domain.CaseRejected} {
		if n := statuses[s]; n > 0 {
			report.CaseStatusBreakdown = append(report.CaseStatusBreakdown, StatusCount{Status: s, Count: n})
		}
	}

	report.TopMCCDetections = topMCCs(inPeriod, topMCCLimit)
	report.TopEmployees = topEmployees(inPeriod, topEmployeeLimit)

	if p.Type == "quarterly" {
		report.MonthlyTrend = monthlyCounts(inPeriod, p.Start, p.End)
	}
	return report
}

func topMCCs(cases []*domain.CaseFact, limit int) []MCCDetection {
	byCode := map[string]*MCCDetection{}
	for _, c := range cases {
		if c.MCCCode == "" {
			continue
		}
		d, ok := byCode[c.MCCCode]
		if !ok {
			d = &MCCDetection{MCCCode: c.MCCCode, MCCDescription: c.MCCDescription, RiskGroup: c.RiskGroup}
			byCode[c.MCCCode] = d
		}
		d.CaseCount++
		d.TotalAmount += c.Amount
	}

	out := make([]MCCDetection, 0, len(byCode))
	for _, d := range byCode {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CaseCount != out[j].CaseCount {
			return out[i].CaseCount > out[j].CaseCount
		}
		return out[i].MCCCode < out[j].MCCCode
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func topEmployees(cases []*domain.CaseFact, limit int) []EmployeeCases {
	byID := map[string]*EmployeeCases{}
	for _, c := range cases {
		if c.EmployeeID == "" {
			continue
		}
		e, ok := byID[c.EmployeeID]
		if !ok {
			e = &EmployeeCases{EmployeeID: c.EmployeeID, Name: c.EmployeeName, Department: c.Department}
			byID[c.EmployeeID] = e
		}
		e.CaseCount++
		e.TotalAmount += c.Amount
	}

	out := make([]EmployeeCases, 0, len(byID))
	for _, e := range byID {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CaseCount != out[j].CaseCount {
			return out[i].CaseCount > out[j].CaseCount
		}
		return out[i].EmployeeID < out[j].EmployeeID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// monthlyCounts returns one row per calendar month in [start, end),
// including months without cases.
func monthlyCounts(cases []*domain.CaseFact, start, end time.Time) []MonthCount {
	var out []MonthCount
	for m := start; m.Before(end); m = m.AddDate(0, 1, 0) {
		next := m.AddDate(0, 1, 0)
		row := MonthCount{Year: m.Year(), Month: int(m.Month())}
		for _, c := range cases {
			if !c.DetectedAt.Before(m) && c.DetectedAt.Before(next) {
				row.CaseCount++
			}
		}
		out = append(out, row)
	}
	return out
}

// RulePerformance counts the cases one case type generated.
type RulePerformance struct {
	CaseType       string `json:"case_type"`
	CasesGenerated int    `json:"cases_generated"`
}

// ListPerformance measures a category list rule against reviewer outcomes.
// Approved cases count as true positives, rejected as false positives.
type ListPerformance struct {
	TotalCases         int     `json:"total_cases"`
	TruePositives      int     `json:"true_positives"`
	FalsePositives     int     `json:"false_positives"`
	Accuracy           float64 `json:"accuracy"`
	TotalAmountFlagged int64   `json:"total_amount_flagged"`
}

// Recommendation is a rule tuning suggestion.
type Recommendation struct {
	Rule       string `json:"rule"`
	Issue      string `json:"issue"`
	Suggestion string `json:"suggestion"`
}

// RuleEffectiveness is the rule analysis report.
type RuleEffectiveness struct {
	GeneratedAt     time.Time         `json:"generated_at"`
	RulePerformance []RulePerformance `json:"rule_performance"`
	BlacklistRule   ListPerformance   `json:"blacklist_rule"`
	GraylistRule    ListPerformance   `json:"graylist_rule"`
	Recommendations []Recommendation  `json:"recommendations"`
}

// BuildRuleEffectiveness analyses every case on record.
func BuildRuleEffectiveness(cases []*domain.CaseFact, now time.Time) *RuleEffectiveness {
	report := &RuleEffectiveness{
		GeneratedAt:     now,
		RulePerformance: []RulePerformance{},
		Recommendations: []Recommendation{},
	}

	byType := map[string]int{}
	for _, c := range cases {
		byType[c.CaseType]++
	}
	for caseType, n := range byType {
		report.RulePerformance = append(report.RulePerformance, RulePerformance{CaseType: caseType, CasesGenerated: n})
	}
	sort.Slice(report.RulePerformance, func(i, j int) bool {
		a, b := report.RulePerformance[i], report.RulePerformance[j]
		if a.CasesGenerated != b.CasesGenerated {
			return a.CasesGenerated > b.CasesGenerated
		}
		return a.CaseType < b.CaseType
	})

	report.BlacklistRule = listPerformance(cases, domain.RiskGroupBlack)
	report.GraylistRule = listPerformance(cases, domain.RiskGroupGray)

	if report.BlacklistRule.TotalCases > 0 && report.BlacklistRule.Accuracy < blacklistMinAccuracy {
		report.Recommendations = append(report.Recommendations, Recommendation{
			Rule:       "MCC Blacklist",
			Issue:      fmt.Sprintf("낮은 정확도 (%.2f%%)", report.BlacklistRule.Accuracy),
			Suggestion: "블랙리스트 MCC 코드를 재검토하고, False Positive가 많은 MCC를 그레이리스트로 이동",
		})
	}
	if report.GraylistRule.Accuracy > graylistMaxAccuracy {
		report.Recommendations = append(report.Recommendations, Recommendation{
			Rule:       "MCC Graylist",
			Issue:      fmt.Sprintf("높은 정확도 (%.2f%%)", report.GraylistRule.Accuracy),
			Suggestion: "그레이리스트의 고위험 MCC를 블랙리스트로 승격하여 자동 탐지율 향상",
		})
	}
	for _, rp := range report.RulePerformance {
		if rp.CasesGenerated < inactiveRuleCases {
			report.Recommendations = append(report.Recommendations, Recommendation{
				Rule:       "Rule: " + rp.CaseType,
				Issue:      fmt.Sprintf("낮은 탐지율 (%d건)", rp.CasesGenerated),
				Suggestion: "룰 파라미터를 조정하거나 비활성화 고려",
			})
		}
	}
	return report
}

func listPerformance(cases []*domain.CaseFact, group domain.RiskGroup) ListPerformance {
	var lp ListPerformance
	for _, c := range cases {
		if c.RiskGroup != group {
			continue
		}
		lp.TotalCases++
		lp.TotalAmountFlagged += c.Amount
		switch c.Status {
		case domain.CaseApproved:
			lp.TruePositives++
		case domain.CaseRejected:
			lp.FalsePositives++
		}
	}
	lp.Accuracy = evals.Percent(int64(lp.TruePositives), int64(lp.TotalCases))
	return lp
}

// MonthlyTrend is the detection rate of one calendar month.
type MonthlyTrend struct {
	Year          int     `json:"year"`
	Month         int     `json:"month"`
	CaseCount     int     `json:"case_count"`
	TxnCount      int     `json:"txn_count"`
	DetectionRate float64 `json:"detection_rate"`
}

// RepeatOffender is an employee with several approved cases.
type RepeatOffender struct {
	EmployeeID string `json:"employee_id"`
	Name       string `json:"name"`
	FraudCases int    `json:"fraud_cases"`
}

// PerformanceTrends is the trend report.
type PerformanceTrends struct {
	GeneratedAt        time.Time        `json:"generated_at"`
	MonthlyTrends      []MonthlyTrend   `json:"monthly_trends"`
	AvgResolutionHours float64          `json:"avg_resolution_hours"`
	RepeatOffenders    []RepeatOffender `json:"repeat_offenders"`
}

// BuildPerformanceTrends covers the six calendar months ending with the
// month of now, in now's location.
func BuildPerformanceTrends(txs []*domain.TransactionFact, cases []*domain.CaseFact, now time.Time) *PerformanceTrends {
	report := &PerformanceTrends{
		GeneratedAt:     now,
		MonthlyTrends:   []MonthlyTrend{},
		RepeatOffenders: []RepeatOffender{},
	}

	current := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	for m := current.AddDate(0, -(trendMonths - 1), 0); !m.After(current); m = m.AddDate(0, 1, 0) {
		next := m.AddDate(0, 1, 0)
		row := MonthlyTrend{Year: m.Year(), Month: int(m.Month())}
		for _, c := range cases {
			if !c.DetectedAt.Before(m) && c.DetectedAt.Before(next) {
				row.CaseCount++
			}
		}
		for _, tx := range txs {
			if !tx.OccurredAt.Before(m) && tx.OccurredAt.Before(next) {
				row.TxnCount++
			}
		}
		row.DetectionRate = evals.Percent(int64(row.CaseCount), int64(row.TxnCount))
		report.MonthlyTrends = append(report.MonthlyTrends, row)
	}

	report.AvgResolutionHours = avgResolutionHours(cases)
	report.RepeatOffenders = repeatOffenders(cases)
	return report
}

func avgResolutionHours(cases []*domain.CaseFact) float64 {
	total := decimal.Zero
	n := int64(0)
	for _, c := range cases {
		if !c.Status.Terminal() {
			continue
		}
		resolved := c.UpdatedAt
		if c.ResolvedAt != nil {
			resolved = *c.ResolvedAt
		}
		if resolved.Before(c.DetectedAt) {
			continue
		}
		total = total.Add(decimal.NewFromFloat(resolved.Sub(c.DetectedAt).Hours()))
		n++
	}
	if n == 0 {
		return 0
	}
	return total.Div(decimal.NewFromInt(n)).Round(2).InexactFloat64()
}

func repeatOffenders(cases []*domain.CaseFact) []RepeatOffender {
	byID := map[string]*RepeatOffender{}
	for _, c := range cases {
		if c.Status != domain.CaseApproved || c.EmployeeID == "" {
			continue
		}
		o, ok := byID[c.EmployeeID]
		if !ok {
			o = &RepeatOffender{EmployeeID: c.EmployeeID, Name: c.EmployeeName}
			byID[c.EmployeeID] = o
		}
		o.FraudCases++
	}

	out := []RepeatOffender{}
	for _, o := range byID {
		if o.FraudCases >= repeatOffenderMin {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FraudCases != out[j].FraudCases {
			return out[i].FraudCases > out[j].FraudCases
		}
		return out[i].EmployeeID < out[j].EmployeeID
	})
	if len(out) > topEmployeeLimit {
		out = out[:topEmployeeLimit]
	}
	return out
}

func locOrUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
