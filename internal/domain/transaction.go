package domain

import (
	"errors"
	"time"
)

// ErrIncompleteContext is returned when a transaction cannot be joined to
// its employee, merchant, or merchant category.
var ErrIncompleteContext = errors.New("incomplete transaction context")

// TransactionStatus is the settlement state of a card transaction.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "PENDING"
	TransactionCompleted TransactionStatus = "COMPLETED"
)

// Transaction is a corporate card transaction made by an employee at a merchant.
type Transaction struct {
	// Core identifiers
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	// Links (MADE_BY, BELONGS_TO)
	EmployeeID string `json:"employeeId"`
	MerchantID string `json:"merchantId"`

	// Financial details, whole currency units
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`

	Status     TransactionStatus `json:"status"`
	OccurredAt time.Time         `json:"occurredAt"`
	CreatedAt  time.Time         `json:"createdAt"`

	// RiskScore is nil until the scoring engine has run.
	RiskScore *int       `json:"riskScore,omitempty"`
	ScoredAt  *time.Time `json:"scoredAt,omitempty"`
}

// Merchant is a card acceptor. Each merchant is classified under one MCC.
type Merchant struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenantId"`
	Name       string `json:"name"`
	TrustScore int    `json:"trustScore"` // 0-100, lower is less trusted
	Country    string `json:"country"`
	IsOnline   bool   `json:"isOnline"`
	MCCCode    string `json:"mccCode"`
}

// RiskGroup is the coarse risk bucket assigned to a merchant category code.
type RiskGroup string

const (
	RiskGroupBlack      RiskGroup = "BLACK"
	RiskGroupHighRisk   RiskGroup = "HIGH_RISK"
	RiskGroupMediumRisk RiskGroup = "MEDIUM_RISK"
	RiskGroupLowRisk    RiskGroup = "LOW_RISK"
	RiskGroupGray       RiskGroup = "GRAY"
	RiskGroupNormal     RiskGroup = "NORMAL"
	RiskGroupTrusted    RiskGroup = "TRUSTED"
)

// RiskGroups lists every known risk group, most severe first.
var RiskGroups = []RiskGroup{
	RiskGroupBlack,
	RiskGroupHighRisk,
	RiskGroupGray,
	RiskGroupMediumRisk,
	RiskGroupLowRisk,
	RiskGroupNormal,
	RiskGroupTrusted,
}

// Valid reports whether g is a known risk group.
func (g RiskGroup) Valid() bool {
	for _, known := range RiskGroups {
		if g == known {
			return true
		}
	}
	return false
}

// MCC is a merchant category code with its risk classification.
type MCC struct {
	Code        string    `json:"code" yaml:"code"`
	TenantID    string    `json:"tenantId" yaml:"-"`
	Description string    `json:"description" yaml:"description"`
	RiskGroup   RiskGroup `json:"riskGroup" yaml:"riskGroup"`
	RiskLevel   int       `json:"riskLevel" yaml:"riskLevel"` // baseline, may be negative for TRUSTED
}

// Employee is a cardholder. RiskScore is the mean of the employee's
// transaction scores on a 0.0-1.0 scale and is only ever recomputed.
type Employee struct {
	ID                 string  `json:"id"`
	TenantID           string  `json:"tenantId"`
	Name               string  `json:"name"`
	Department         string  `json:"department"`
	SpendingLimitDaily int64   `json:"spendingLimitDaily"`
	RiskScore          float64 `json:"riskScore"`
}

// EmployeeStats summarizes one employee's spend and transaction risk.
// Averages cover scored transactions only.
type EmployeeStats struct {
	EmployeeID       string  `json:"employeeId"`
	Name             string  `json:"name"`
	Department       string  `json:"department"`
	RiskScore        float64 `json:"riskScore"`
	TransactionCount int     `json:"totalTransactions"`
	FlaggedCount     int     `json:"flaggedTransactions"`
	TotalSpending    int64   `json:"totalSpending"`
	AvgRiskScore     float64 `json:"avgRiskScore"`
	MaxRiskScore     int     `json:"maxRiskScore"`
	CaseCount        int     `json:"caseCount"`
}

// TaxRule is a regulation that applies to a set of merchant categories.
type TaxRule struct {
	ID              string   `json:"id" yaml:"id"`
	TenantID        string   `json:"tenantId" yaml:"-"`
	Name            string   `json:"name" yaml:"name"`
	Category        string   `json:"category" yaml:"category"`
	Description     string   `json:"description,omitempty" yaml:"description"`
	RelatedMCCCodes []string `json:"relatedMccCodes" yaml:"relatedMccCodes"`
	AmountGreater   *int64   `json:"amountGt,omitempty" yaml:"amountGt,omitempty"`
}

// TransactionContext is the read-only join of a transaction with the
// entities it links to. Employee, Merchant or MCC are nil when the link
// is absent.
type TransactionContext struct {
	Transaction *Transaction `json:"transaction"`
	Employee    *Employee    `json:"employee,omitempty"`
	Merchant    *Merchant    `json:"merchant,omitempty"`
	MCC         *MCC         `json:"mcc,omitempty"`
}

// Complete reports whether every link needed for scoring is present.
func (c *TransactionContext) Complete() bool {
	return c != nil && c.Transaction != nil && c.Employee != nil && c.Merchant != nil && c.MCC != nil
}

// TransactionFact is a flattened transaction row used by aggregation passes.
// Link fields are empty when the corresponding entity is missing.
type TransactionFact struct {
	ID           string    `json:"id"`
	Amount       int64     `json:"amount"`
	OccurredAt   time.Time `json:"occurredAt"`
	RiskScore    *int      `json:"riskScore,omitempty"`
	EmployeeID   string    `json:"employeeId"`
	MerchantID   string    `json:"merchantId"`
	TrustScore   int       `json:"trustScore"`
	MCCCode      string    `json:"mccCode"`
	RiskGroup    RiskGroup `json:"riskGroup"`
	MerchantName string    `json:"merchantName"`
}
