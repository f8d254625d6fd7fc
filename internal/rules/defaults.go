package rules

import "github.com/opensource-finance/kestrel/internal/domain"

// Default rule ids.
const (
	RuleMCCBlacklist = "mcc-blacklist"
	RuleMCCGraylist  = "mcc-graylist"
	RuleSplitPayment = "split-payment"
	RuleOffHours     = "off-hours"
	RuleWeekend      = "weekend"
)

// SplitPaymentWindowSecs is the same-merchant lookback for split payments.
const SplitPaymentWindowSecs = 24 * 60 * 60

func limit(v float64) *float64 { return &v }

// DefaultRules returns the rule set seeded for new tenants. Off-hours and
// weekend rules ship disabled.
func DefaultRules() []*domain.ViolationRule {
	return []*domain.ViolationRule{
		{
			ID:          RuleMCCBlacklist,
			Name:        "MCC 블랙리스트 위반",
			Description: "Transaction at a merchant whose category is blacklisted",
			Version:     "1.0.0",
			CaseType:    domain.CaseTypeBlacklistMCC,
			Expression:  `risk_group == "BLACK"`,
			Bands: []domain.SeverityBand{
				{LowerLimit: limit(1), Severity: domain.SeverityCritical, Reason: "blacklisted merchant category"},
			},
			Enabled: true,
		},
		{
			ID:          RuleMCCGraylist,
			Name:        "MCC 그레이리스트 고액 거래",
			Description: "Large transaction at a graylisted merchant category",
			Version:     "1.0.0",
			CaseType:    domain.CaseTypeGraylistMCC,
			Expression:  `risk_group == "GRAY" ? amount : 0`,
			Bands: []domain.SeverityBand{
				{UpperLimit: limit(100000), Reason: "below graylist threshold"},
				{LowerLimit: limit(100000), UpperLimit: limit(300000), Severity: domain.SeverityMedium, Reason: "graylist amount 100,000 or more"},
				{LowerLimit: limit(300000), Severity: domain.SeverityHigh, Reason: "graylist amount 300,000 or more"},
			},
			Enabled: true,
		},
		{
			ID:                 RuleSplitPayment,
			Name:               "분할 결제 의심",
			Description:        "Three or more payments at one merchant within 24 hours",
			Version:            "1.0.0",
			CaseType:           domain.CaseTypeSplitPayment,
			Expression:         `velocity_count >= 3`,
			VelocityWindowSecs: SplitPaymentWindowSecs,
			Bands: []domain.SeverityBand{
				{LowerLimit: limit(1), Severity: domain.SeverityHigh, Reason: "repeated same-merchant payments"},
			},
			Enabled: true,
		},
		{
			ID:          RuleOffHours,
			Name:        "업무 외 시간 거래",
			Description: "Night-time transaction of 50,000 or more",
			Version:     "1.0.0",
			CaseType:    domain.CaseTypeOffHours,
			Expression:  `is_night && amount >= 50000`,
			Bands: []domain.SeverityBand{
				{LowerLimit: limit(1), Severity: domain.SeverityMedium, Reason: "night-time spend"},
			},
			Enabled: false,
		},
		{
			ID:          RuleWeekend,
			Name:        "주말 거래",
			Description: "Weekend transaction of 50,000 or more",
			Version:     "1.0.0",
			CaseType:    domain.CaseTypeWeekend,
			Expression:  `is_weekend && amount >= 50000`,
			Bands: []domain.SeverityBand{
				{LowerLimit: limit(1), Severity: domain.SeverityLow, Reason: "weekend spend"},
			},
			Enabled: false,
		},
	}
}
