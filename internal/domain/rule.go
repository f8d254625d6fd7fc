package domain

// ViolationRule defines a detection predicate that files cases.
type ViolationRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CaseType names the violation; at most one case per transaction per type.
	CaseType string `json:"caseType"`

	// CEL expression over the transaction join, returning bool, int or double
	Expression string `json:"expression"`

	// Severity bands for score-to-severity mapping
	Bands []SeverityBand `json:"bands"`

	// VelocityWindowSecs enables velocity_count for this rule (0 = off)
	VelocityWindowSecs int `json:"velocityWindowSecs,omitempty"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// SeverityBand maps a score range to a case severity. An empty Severity
// means the range is not a violation.
type SeverityBand struct {
	LowerLimit *float64 `json:"lowerLimit,omitempty"`
	UpperLimit *float64 `json:"upperLimit,omitempty"`
	Severity   Severity `json:"severity,omitempty"`
	Reason     string   `json:"reason"`
}

// RuleHit is the output of evaluating one rule against one transaction.
type RuleHit struct {
	RuleID    string   `json:"ruleId"`
	RuleName  string   `json:"ruleName"`
	CaseType  string   `json:"caseType"`
	TxID      string   `json:"txId"`
	Score     float64  `json:"score"`
	Severity  Severity `json:"severity,omitempty"`
	Reason    string   `json:"reason"`
	Err       string   `json:"error,omitempty"`
	ProcessMs int64    `json:"processMs"`
}

// Fired reports whether the rule produced a violation.
func (h RuleHit) Fired() bool {
	return h.Err == "" && h.Severity != ""
}
