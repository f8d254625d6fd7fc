package domain

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrTerminalCase is returned when an action targets an APPROVED or REJECTED case.
	ErrTerminalCase = errors.New("case is in a terminal status")

	// ErrInvalidAction is returned for an unknown case action.
	ErrInvalidAction = errors.New("invalid case action")
)

// Severity ranks how urgently a case needs review.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// CaseStatus is the review state of a case.
type CaseStatus string

const (
	CaseOpen        CaseStatus = "OPEN"
	CaseUnderReview CaseStatus = "UNDER_REVIEW"
	CaseApproved    CaseStatus = "APPROVED"
	CaseRejected    CaseStatus = "REJECTED"
)

// Terminal reports whether no further action may change the status.
func (s CaseStatus) Terminal() bool {
	return s == CaseApproved || s == CaseRejected
}

// Built-in case types.
const (
	CaseTypeBlacklistMCC = "BLACKLIST_MCC"
	CaseTypeGraylistMCC  = "GRAYLIST_MCC"
	CaseTypeSplitPayment = "SPLIT_PAYMENT"
	CaseTypeOffHours     = "OFF_HOURS"
	CaseTypeWeekend      = "WEEKEND_TRANSACTION"
)

// Case is an investigation record for one transaction and one violation type.
type Case struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"tenantId"`
	TransactionID   string     `json:"transactionId"`
	CaseType        string     `json:"caseType"`
	RuleID          string     `json:"ruleId"`
	Severity        Severity   `json:"severity"`
	Status          CaseStatus `json:"status"`
	AmountRecovered int64      `json:"amountRecovered"`

	// Reasoning is the audit payload explaining why the case was filed.
	Reasoning DetectionReasoning `json:"detectionReasoning"`

	// CitedRules holds the ids of the tax rules the case CITES.
	CitedRules []string `json:"citedRules,omitempty"`

	Resolution *CaseResolution `json:"resolution,omitempty"`

	DetectedAt time.Time  `json:"detectedAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// CaseResolution records the reviewer's last action on a case.
type CaseResolution struct {
	Action   CaseAction        `json:"action"`
	Comment  string            `json:"comment,omitempty"`
	Reason   string            `json:"reason,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// DetectionReasoning is the structured justification stored with a case.
type DetectionReasoning struct {
	MatchedRules []MatchedRule `json:"matched_rules"`
	RiskFactors  RiskFactors   `json:"risk_factors"`
	FinalScore   FinalScore    `json:"final_score"`
	Explanation  string        `json:"explanation"`
}

// MatchedRule describes the violation rule that fired.
type MatchedRule struct {
	RuleID         string `json:"rule_id"`
	RuleType       string `json:"rule_type"`
	RuleName       string `json:"rule_name"`
	MCCCode        string `json:"mcc_code"`
	MCCDescription string `json:"mcc_description"`
	RiskLevel      string `json:"risk_level"`
	Weight         int    `json:"weight"`
	Detail         string `json:"detail"`
}

// RiskFactors are the inputs that matched.
type RiskFactors struct {
	MCCRisk            string `json:"mcc_risk"`
	Amount             int64  `json:"amount"`
	MerchantTrustScore int    `json:"merchant_trust_score"`
	EmployeeDepartment string `json:"employee_department,omitempty"`
}

// FinalScore records the score at filing time against the flag threshold.
type FinalScore struct {
	TotalScore     int    `json:"total_score"`
	Threshold      int    `json:"threshold"`
	Recommendation string `json:"recommendation"`
}

// Recommendations written into FinalScore.
const (
	RecommendationFlagged = "FLAGGED"
	RecommendationReview  = "REVIEW"
)

// MarshalReasoning encodes the reasoning payload for storage.
func MarshalReasoning(r DetectionReasoning) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// CaseAction is a reviewer action on a case.
type CaseAction string

const (
	ActionApprove        CaseAction = "approve"
	ActionReject         CaseAction = "reject"
	ActionRequestReceipt CaseAction = "request_receipt"
)

// TargetStatus returns the status an action moves a case into.
func (a CaseAction) TargetStatus() (CaseStatus, error) {
	switch a {
	case ActionApprove:
		return CaseApproved, nil
	case ActionReject:
		return CaseRejected, nil
	case ActionRequestReceipt:
		return CaseUnderReview, nil
	}
	return "", ErrInvalidAction
}

// CaseFilter narrows case listings. Empty fields match everything.
type CaseFilter struct {
	Status   CaseStatus
	Severity Severity
	CaseType string
	Limit    int
}

// CaseFact is a case joined with its transaction, employee and MCC, used
// by reporting.
type CaseFact struct {
	CaseID         string     `json:"caseId"`
	CaseType       string     `json:"caseType"`
	Severity       Severity   `json:"severity"`
	Status         CaseStatus `json:"status"`
	DetectedAt     time.Time  `json:"detectedAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
	TransactionID  string     `json:"transactionId"`
	Amount         int64      `json:"amount"`
	EmployeeID     string     `json:"employeeId"`
	EmployeeName   string     `json:"employeeName"`
	Department     string     `json:"department"`
	MCCCode        string     `json:"mccCode"`
	MCCDescription string     `json:"mccDescription"`
	RiskGroup      RiskGroup  `json:"riskGroup"`
}
