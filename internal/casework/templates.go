package casework

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Follow-up actions a reject template can prescribe.
const (
	FollowUpNotifyEmployee       = "notify_employee"
	FollowUpEscalateManager      = "escalate_manager"
	FollowUpRequestJustification = "request_justification"
)

// RejectTemplate is the canned rejection for one case type.
type RejectTemplate struct {
	CaseType        string `json:"caseType"`
	Reason          string `json:"reason"`
	Action          string `json:"action"`
	PolicyReference string `json:"policyReference"`
	Notes           string `json:"notes"`
}

var rejectTemplates = map[string]RejectTemplate{
	domain.CaseTypeSplitPayment: {
		Reason:          "법인카드 운영규정 제27조 위반 (한도 회피 목적 분할 결제 금지)",
		Action:          FollowUpNotifyEmployee,
		PolicyReference: "법인카드 운영규정 제27조",
		Notes:           "반복 위반 시 카드 사용 정지 조치",
	},
	domain.CaseTypeBlacklistMCC: {
		Reason:          "고위험 MCC 거래 (블랙리스트 가맹점 - 유흥/도박 등)",
		Action:          FollowUpEscalateManager,
		PolicyReference: "법인카드 운영규정 제15조",
		Notes:           "부서장 승인 필수",
	},
	domain.CaseTypeOffHours: {
		Reason:          "업무 외 시간대 거래로 개인 사용 의심",
		Action:          FollowUpRequestJustification,
		PolicyReference: "법인카드 운영규정 제12조",
		Notes:           "영수증 및 업무 연관성 증빙 필요",
	},
	domain.CaseTypeWeekend: {
		Reason:          "주말 거래로 업무 목적 확인 필요",
		Action:          FollowUpRequestJustification,
		PolicyReference: "법인카드 운영규정 제12조",
		Notes:           "출장 기안서 또는 업무 증빙 필요",
	},
	domain.CaseTypeGraylistMCC: {
		Reason:          "준고위험 MCC 거래 (엔터테인먼트/레저 등)",
		Action:          FollowUpRequestJustification,
		PolicyReference: "법인카드 운영규정 제16조",
		Notes:           "접대비 또는 복지비 항목 확인 필요",
	},
}

// TemplateFor returns the reject template for a case type.
func TemplateFor(caseType string) (RejectTemplate, bool) {
	t, ok := rejectTemplates[caseType]
	if !ok {
		return RejectTemplate{}, false
	}
	t.CaseType = caseType
	return t, true
}

// Message renders the template as the text sent to the employee.
func (t RejectTemplate) Message() string {
	return fmt.Sprintf("거부 사유: %s\n근거: %s\n참고: %s", t.Reason, t.PolicyReference, t.Notes)
}

// Metadata is the resolution metadata recorded when the template is used.
func (t RejectTemplate) Metadata() map[string]string {
	return map[string]string{
		"action_type":      t.Action,
		"policy_reference": t.PolicyReference,
	}
}
