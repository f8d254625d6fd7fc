package domain

import (
	"time"
)

// Score thresholds on the canonical 0-100 transaction scale.
const (
	ThresholdCritical = 80
	ThresholdHigh     = 60
	ThresholdMedium   = 30

	// FlagThreshold marks a transaction as flagged.
	FlagThreshold = 70
)

// Employee risk thresholds on the 0.0-1.0 employee scale.
const (
	EmployeeHighRisk   = 0.7
	EmployeeMediumRisk = 0.3
)

// MetricsSnapshot is the point-in-time evaluation of a tenant's dataset.
// It is persisted as one document and fully overwritten on each run.
type MetricsSnapshot struct {
	TenantID          string            `json:"tenantId,omitempty"`
	Timestamp         time.Time         `json:"timestamp"`
	RiskDistribution  RiskDistribution  `json:"riskDistribution"`
	MCCImpact         []MCCImpact       `json:"mccImpact"`
	PrecisionRecall   PrecisionRecall   `json:"precisionRecall"`
	RecoveryPotential RecoveryPotential `json:"recoveryPotential"`
	CaseStats         CaseStats         `json:"caseStats"`
	EmployeeRiskStats EmployeeRiskStats `json:"employeeRiskStats"`
}

// RiskDistribution buckets transactions by stored risk score.
type RiskDistribution struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Unscored int `json:"unscored"`
	Total    int `json:"total"`
}

// MCCImpact summarizes flagging per risk group.
type MCCImpact struct {
	RiskGroup           RiskGroup `json:"riskGroup"`
	TotalTransactions   int       `json:"totalTransactions"`
	FlaggedTransactions int       `json:"flaggedTransactions"`
	DetectionRate       float64   `json:"detectionRate"` // percent
	TotalAmount         int64     `json:"totalAmount"`
}

// PrecisionRecall is the confusion matrix against the MCC proxy label:
// BLACK is positive, NORMAL is negative, other groups are excluded.
type PrecisionRecall struct {
	TruePositives  int     `json:"truePositives"`
	FalsePositives int     `json:"falsePositives"`
	TrueNegatives  int     `json:"trueNegatives"`
	FalseNegatives int     `json:"falseNegatives"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1Score        float64 `json:"f1Score"`
	Accuracy       float64 `json:"accuracy"`
}

// RecoveryPotential sums amounts of the riskiest buckets.
type RecoveryPotential struct {
	CriticalAmount    int64   `json:"criticalAmount"`
	HighAmount        int64   `json:"highAmount"`
	MediumAmount      int64   `json:"mediumAmount"`
	PotentialRecovery int64   `json:"potentialRecovery"`
	TotalAmount       int64   `json:"totalAmount"`
	RecoveryRate      float64 `json:"recoveryRate"` // percent of total
}

// CaseStats are grouped case counts.
type CaseStats struct {
	TotalCases       int            `json:"totalCases"`
	OpenCases        int            `json:"openCases"`
	UnderReviewCases int            `json:"underReviewCases"`
	ResolvedCases    int            `json:"resolvedCases"`
	CriticalCases    int            `json:"criticalCases"`
	HighCases        int            `json:"highCases"`
	ByStatus         map[string]int `json:"byStatus"`
	BySeverity       map[string]int `json:"bySeverity"`
	ByCaseType       map[string]int `json:"byCaseType"`
}

// EmployeeRiskStats buckets employees by aggregate risk.
type EmployeeRiskStats struct {
	TotalEmployees   int     `json:"totalEmployees"`
	HighRisk         int     `json:"highRisk"`
	MediumRisk       int     `json:"mediumRisk"`
	LowRisk          int     `json:"lowRisk"`
	AverageRiskScore float64 `json:"averageRiskScore"`
}
