package detection

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ruleTypes maps case types to the rule_type label stored in reasoning.
var ruleTypes = map[string]string{
	domain.CaseTypeBlacklistMCC: "MCC_BLACKLIST",
	domain.CaseTypeGraylistMCC:  "MCC_GRAYLIST",
	domain.CaseTypeSplitPayment: "SPLIT_PAYMENT",
	domain.CaseTypeOffHours:     "OFF_HOURS",
	domain.CaseTypeWeekend:      "WEEKEND_TRANSACTION",
}

var details = map[string]string{
	domain.CaseTypeBlacklistMCC: "블랙리스트 MCC 코드로 분류된 가맹점에서 거래 발생",
	domain.CaseTypeGraylistMCC:  "그레이리스트 MCC 코드로 분류된 가맹점에서 고액 거래 발생",
	domain.CaseTypeSplitPayment: "동일 가맹점에서 24시간 내 3회 이상 결제 발생",
	domain.CaseTypeOffHours:     "심야 시간대 고액 거래 발생",
	domain.CaseTypeWeekend:      "주말 고액 거래 발생",
}

var explanations = map[string]string{
	domain.CaseTypeBlacklistMCC: "이 거래는 블랙리스트로 지정된 MCC 코드를 사용하는 가맹점에서 발생했습니다. 블랙리스트 MCC는 법인카드 사용이 금지된 업종입니다.",
	domain.CaseTypeGraylistMCC:  "이 거래는 그레이리스트로 지정된 MCC 업종에서 발생한 고액 거래입니다. 접대비 또는 복지비 해당 여부 확인이 필요합니다.",
	domain.CaseTypeSplitPayment: "이 거래는 동일 가맹점에서 짧은 기간에 반복된 결제 중 하나입니다. 한도 회피 목적의 분할 결제가 의심됩니다.",
	domain.CaseTypeOffHours:     "이 거래는 업무 외 시간대에 발생했습니다. 개인 사용 여부 확인이 필요합니다.",
	domain.CaseTypeWeekend:      "이 거래는 주말에 발생했습니다. 업무 목적 확인이 필요합니다.",
}

// severityWeights is the weight recorded for a matched rule.
var severityWeights = map[domain.Severity]int{
	domain.SeverityCritical: 100,
	domain.SeverityHigh:     75,
	domain.SeverityMedium:   50,
	domain.SeverityLow:      25,
}

// BuildReasoning assembles the audit payload for a fired rule. The output
// depends only on its inputs.
func BuildReasoning(tc *domain.TransactionContext, hit domain.RuleHit, totalScore, threshold int) domain.DetectionReasoning {
	ruleType, ok := ruleTypes[hit.CaseType]
	if !ok {
		ruleType = hit.CaseType
	}
	detail, ok := details[hit.CaseType]
	if !ok {
		detail = hit.Reason
	}
	explanation, ok := explanations[hit.CaseType]
	if !ok {
		explanation = hit.Reason
	}

	recommendation := domain.RecommendationReview
	if totalScore >= threshold {
		recommendation = domain.RecommendationFlagged
	}

	return domain.DetectionReasoning{
		MatchedRules: []domain.MatchedRule{{
			RuleID:         hit.RuleID,
			RuleType:       ruleType,
			RuleName:       hit.RuleName,
			MCCCode:        tc.MCC.Code,
			MCCDescription: tc.MCC.Description,
			RiskLevel:      string(tc.MCC.RiskGroup),
			Weight:         severityWeights[hit.Severity],
			Detail:         detail,
		}},
		RiskFactors: domain.RiskFactors{
			MCCRisk:            string(tc.MCC.RiskGroup),
			Amount:             tc.Transaction.Amount,
			MerchantTrustScore: tc.Merchant.TrustScore,
			EmployeeDepartment: tc.Employee.Department,
		},
		FinalScore: domain.FinalScore{
			TotalScore:     totalScore,
			Threshold:      threshold,
			Recommendation: recommendation,
		},
		Explanation: explanation,
	}
}
