package metadata

import "github.com/mohitkumar/loanflow/model"

const (
	ROLE_LOAN_OFFICER     model.Role = "LoanOfficer"
	ROLE_BRANCH_MANAGER   model.Role = "BranchManager"
	ROLE_CREDIT_ANALYST   model.Role = "CreditAnalyst"
	ROLE_RISK_MANAGER     model.Role = "RiskManager"
	ROLE_CREDIT_COMMITTEE model.Role = "CreditCommittee"
)

const (
	STATUS_DRAFT            model.Status = "Draft"
	STATUS_BRANCH_REVIEW    model.Status = "BranchReview"
	STATUS_CREDIT_ANALYSIS  model.Status = "CreditAnalysis"
	STATUS_RISK_REVIEW      model.Status = "RiskReview"
	STATUS_COMMITTEE_REVIEW model.Status = "CommitteeReview"
	STATUS_APPROVED         model.Status = "Approved"
	STATUS_REJECTED         model.Status = "Rejected"
)

const DEFAULT_DEFINITION_ID = "corporate-loan"
const DEFAULT_APPLICATION_TYPE = "CorporateLoan"

// Large exposures may skip credit analysis.
const largeExposureGuard = "$.amount !== undefined && $.amount >= 10000000"

var defaultStages = []model.WorkflowStage{
	{Status: STATUS_DRAFT, DisplayName: "Draft", AssignedRole: ROLE_LOAN_OFFICER},
	{Status: STATUS_BRANCH_REVIEW, DisplayName: "Branch review", AssignedRole: ROLE_BRANCH_MANAGER, SlaHours: 24},
	{Status: STATUS_CREDIT_ANALYSIS, DisplayName: "Credit analysis", AssignedRole: ROLE_CREDIT_ANALYST, SlaHours: 48},
	{Status: STATUS_RISK_REVIEW, DisplayName: "Risk review", AssignedRole: ROLE_RISK_MANAGER, SlaHours: 24},
	{Status: STATUS_COMMITTEE_REVIEW, DisplayName: "Credit committee", AssignedRole: ROLE_CREDIT_COMMITTEE, SlaHours: 72},
	{Status: STATUS_APPROVED, DisplayName: "Approved", IsTerminal: true},
	{Status: STATUS_REJECTED, DisplayName: "Rejected", IsTerminal: true},
}

var defaultForward = []model.WorkflowTransition{
	{FromStatus: STATUS_DRAFT, ToStatus: STATUS_BRANCH_REVIEW, Action: model.ACTION_SUBMIT, RequiredRole: ROLE_LOAN_OFFICER},
	{FromStatus: STATUS_BRANCH_REVIEW, ToStatus: STATUS_CREDIT_ANALYSIS, Action: model.ACTION_APPROVE, RequiredRole: ROLE_BRANCH_MANAGER},
	{FromStatus: STATUS_BRANCH_REVIEW, ToStatus: STATUS_RISK_REVIEW, Action: model.ACTION_ESCALATE, RequiredRole: ROLE_BRANCH_MANAGER, RequiresComment: true, Guard: largeExposureGuard},
	{FromStatus: STATUS_CREDIT_ANALYSIS, ToStatus: STATUS_RISK_REVIEW, Action: model.ACTION_APPROVE, RequiredRole: ROLE_CREDIT_ANALYST},
	{FromStatus: STATUS_CREDIT_ANALYSIS, ToStatus: STATUS_RISK_REVIEW, Action: model.ACTION_ESCALATE, RequiredRole: ROLE_CREDIT_ANALYST, RequiresComment: true},
	{FromStatus: STATUS_RISK_REVIEW, ToStatus: STATUS_COMMITTEE_REVIEW, Action: model.ACTION_APPROVE, RequiredRole: ROLE_RISK_MANAGER},
	{FromStatus: STATUS_COMMITTEE_REVIEW, ToStatus: STATUS_APPROVED, Action: model.ACTION_APPROVE, RequiredRole: ROLE_CREDIT_COMMITTEE},
}

// DefaultReturnTargets maps a review stage to the stage a Return sends it back to.
var DefaultReturnTargets = map[model.Status]model.Status{
	STATUS_BRANCH_REVIEW:    STATUS_DRAFT,
	STATUS_CREDIT_ANALYSIS:  STATUS_BRANCH_REVIEW,
	STATUS_RISK_REVIEW:      STATUS_CREDIT_ANALYSIS,
	STATUS_COMMITTEE_REVIEW: STATUS_RISK_REVIEW,
}

// DefaultDefinition builds the corporate loan pipeline. Every non-terminal
// review stage gets a Reject edge to Rejected and a Return edge taken from
// DefaultReturnTargets, both owned by the stage role.
func DefaultDefinition() model.WorkflowDefinition {
	def := model.WorkflowDefinition{
		Id:              DEFAULT_DEFINITION_ID,
		ApplicationType: DEFAULT_APPLICATION_TYPE,
		InitialStatus:   STATUS_DRAFT,
	}
	for i, st := range defaultStages {
		st.SortOrder = i
		def.Stages = append(def.Stages, st)
	}
	def.Transitions = append(def.Transitions, defaultForward...)
	for _, st := range def.Stages {
		if st.IsTerminal || st.Status == def.InitialStatus {
			continue
		}
		def.Transitions = append(def.Transitions, model.WorkflowTransition{
			FromStatus:      st.Status,
			ToStatus:        STATUS_REJECTED,
			Action:          model.ACTION_REJECT,
			RequiredRole:    st.AssignedRole,
			RequiresComment: true,
		})
		if target, ok := DefaultReturnTargets[st.Status]; ok {
			def.Transitions = append(def.Transitions, model.WorkflowTransition{
				FromStatus:      st.Status,
				ToStatus:        target,
				Action:          model.ACTION_RETURN,
				RequiredRole:    st.AssignedRole,
				RequiresComment: true,
			})
		}
	}
	return def
}
