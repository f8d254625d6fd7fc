// Package evals computes the evaluation snapshot of a tenant's dataset:
// risk distribution, per-group flagging, proxy precision/recall, recovery
// potential, case statistics and employee risk buckets.
package evals

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Input is everything Compute reads. It is never mutated.
type Input struct {
	TenantID     string
	Timestamp    time.Time
	Transactions []*domain.TransactionFact
	Cases        []*domain.CaseFact
	Employees    []*domain.Employee
}

// Compute builds a metrics snapshot from facts. It performs no I/O.
// An empty input yields a zeroed snapshot.
func Compute(in Input) domain.MetricsSnapshot {
	snap := domain.MetricsSnapshot{
		TenantID:  in.TenantID,
		Timestamp: in.Timestamp.UTC(),
		MCCImpact: []domain.MCCImpact{},
	}

	snap.RiskDistribution, snap.RecoveryPotential = distribution(in.Transactions)
	snap.MCCImpact = mccImpact(in.Transactions)
	snap.PrecisionRecall = precisionRecall(in.Transactions)
	snap.CaseStats = caseStats(in.Cases)
	snap.EmployeeRiskStats = employeeStats(in.Employees)

	return snap
}

// Bucket names a transaction score band.
type Bucket string

const (
	BucketCritical Bucket = "CRITICAL"
	BucketHigh     Bucket = "HIGH"
	BucketMedium   Bucket = "MEDIUM"
	BucketLow      Bucket = "LOW"
)

// BucketFor maps a 0-100 score to its band.
func BucketFor(score int) Bucket {
	switch {
	case score >= domain.ThresholdCritical:
		return BucketCritical
	case score >= domain.ThresholdHigh:
		return BucketHigh
	case score >= domain.ThresholdMedium:
		return BucketMedium
	default:
		return BucketLow
	}
}

// Flagged reports whether a stored score is at or above the flag threshold.
// Unscored transactions are never flagged.
func Flagged(score *int) bool {
	return score != nil && *score >= domain.FlagThreshold
}

func distribution(txs []*domain.TransactionFact) (domain.RiskDistribution, domain.RecoveryPotential) {
	var dist domain.RiskDistribution
	var rec domain.RecoveryPotential

	for _, tx := range txs {
		dist.Total++
		rec.TotalAmount += tx.Amount

		if tx.RiskScore == nil {
			dist.Unscored++
			continue
		}

		switch BucketFor(*tx.RiskScore) {
		case BucketCritical:
			dist.Critical++
			rec.CriticalAmount += tx.Amount
		case BucketHigh:
			dist.High++
			rec.HighAmount += tx.Amount
		case BucketMedium:
			dist.Medium++
			rec.MediumAmount += tx.Amount
		default:
			dist.Low++
		}
	}

	rec.PotentialRecovery = rec.CriticalAmount + rec.HighAmount
	rec.RecoveryRate = Percent(rec.PotentialRecovery, rec.TotalAmount)
	return dist, rec
}

// mccImpact groups transactions by their MCC risk group. Only groups that
// have transactions appear, known groups first in severity order.
// Transactions without an MCC link are left out.
func mccImpact(txs []*domain.TransactionFact) []domain.MCCImpact {
	byGroup := make(map[domain.RiskGroup]*domain.MCCImpact)
	for _, tx := range txs {
		if tx.RiskGroup == "" {
			continue
		}
		impact, ok := byGroup[tx.RiskGroup]
		if !ok {
			impact = &domain.MCCImpact{RiskGroup: tx.RiskGroup}
			byGroup[tx.RiskGroup] = impact
		}
		impact.TotalTransactions++
		impact.TotalAmount += tx.Amount
		if Flagged(tx.RiskScore) {
			impact.FlaggedTransactions++
		}
	}

	out := make([]domain.MCCImpact, 0, len(byGroup))
	for _, g := range domain.RiskGroups {
		if impact, ok := byGroup[g]; ok {
			out = append(out, *impact)
			delete(byGroup, g)
		}
	}

	var unknown []domain.MCCImpact
	for _, impact := range byGroup {
		unknown = append(unknown, *impact)
	}
	sort.Slice(unknown, func(i, j int) bool { return unknown[i].RiskGroup < unknown[j].RiskGroup })
	out = append(out, unknown...)

	for i := range out {
		out[i].DetectionRate = Percent(int64(out[i].FlaggedTransactions), int64(out[i].TotalTransactions))
	}
	return out
}

// precisionRecall scores the flag decision against the MCC proxy label.
// Unscored transactions count as not flagged.
func precisionRecall(txs []*domain.TransactionFact) domain.PrecisionRecall {
	var pr domain.PrecisionRecall
	for _, tx := range txs {
		flagged := Flagged(tx.RiskScore)
		switch tx.RiskGroup {
		case domain.RiskGroupBlack:
			if flagged {
				pr.TruePositives++
			} else {
				pr.FalseNegatives++
			}
		case domain.RiskGroupNormal:
			if flagged {
				pr.FalsePositives++
			} else {
				pr.TrueNegatives++
			}
		}
	}

	tp := decimal.NewFromInt(int64(pr.TruePositives))
	precision := ratio(tp, int64(pr.TruePositives+pr.FalsePositives))
	recall := ratio(tp, int64(pr.TruePositives+pr.FalseNegatives))

	f1 := decimal.Zero
	if sum := precision.Add(recall); sum.IsPositive() {
		f1 = decimal.NewFromInt(2).Mul(precision).Mul(recall).Div(sum)
	}

	total := int64(pr.TruePositives + pr.TrueNegatives + pr.FalsePositives + pr.FalseNegatives)
	accuracy := ratio(decimal.NewFromInt(int64(pr.TruePositives+pr.TrueNegatives)), total)

	pr.Precision = round4(precision)
	pr.Recall = round4(recall)
	pr.F1Score = round4(f1)
	pr.Accuracy = round4(accuracy)
	return pr
}

func caseStats(cases []*domain.CaseFact) domain.CaseStats {
	stats := domain.CaseStats{
		ByStatus:   map[string]int{},
		BySeverity: map[string]int{},
		ByCaseType: map[string]int{},
	}

	for _, c := range cases {
		stats.TotalCases++
		stats.ByStatus[string(c.Status)]++
		stats.BySeverity[string(c.Severity)]++
		stats.ByCaseType[c.CaseType]++

		switch c.Status {
		case domain.CaseOpen:
			stats.OpenCases++
		case domain.CaseUnderReview:
			stats.UnderReviewCases++
		case domain.CaseApproved, domain.CaseRejected:
			stats.ResolvedCases++
		}

		switch c.Severity {
		case domain.SeverityCritical:
			stats.CriticalCases++
		case domain.SeverityHigh:
			stats.HighCases++
		}
	}
	return stats
}

func employeeStats(employees []*domain.Employee) domain.EmployeeRiskStats {
	var stats domain.EmployeeRiskStats
	sum := decimal.Zero

	for _, e := range employees {
		stats.TotalEmployees++
		sum = sum.Add(decimal.NewFromFloat(e.RiskScore))

		switch {
		case e.RiskScore >= domain.EmployeeHighRisk:
			stats.HighRisk++
		case e.RiskScore >= domain.EmployeeMediumRisk:
			stats.MediumRisk++
		default:
			stats.LowRisk++
		}
	}

	if stats.TotalEmployees > 0 {
		stats.AverageRiskScore = round4(sum.Div(decimal.NewFromInt(int64(stats.TotalEmployees))))
	}
	return stats
}

// Percent returns part/whole*100 rounded to two places, or 0 when whole is 0.
func Percent(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	return decimal.NewFromInt(part).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(whole)).
		Round(2).
		InexactFloat64()
}

func ratio(num decimal.Decimal, den int64) decimal.Decimal {
	if den == 0 {
		return decimal.Zero
	}
	return num.Div(decimal.NewFromInt(den))
}

func round4(d decimal.Decimal) float64 {
	return d.Round(4).InexactFloat64()
}
