package domain

import "time"

// Priority of the business action an email calls for.
type Priority string

const (
	PriorityCritical Priority = "Critical"
	PriorityHigh     Priority = "High"
	PriorityMedium   Priority = "Medium"
	PriorityLow      Priority = "Low"
)

// WorkflowType is the closed set of business workflows an email can belong to.
// Enumeration order matters: classification ties break toward the earlier kind.
type WorkflowType string

const (
	WorkflowQuoteRequest     WorkflowType = "quote_request"
	WorkflowOrderProcessing  WorkflowType = "order_processing"
	WorkflowSupportTicket    WorkflowType = "support_ticket"
	WorkflowShipmentTracking WorkflowType = "shipment_tracking"
	WorkflowInvoice          WorkflowType = "invoice"
	WorkflowPricingAgreement WorkflowType = "pricing_agreement"
	WorkflowDealRegistration WorkflowType = "deal_registration"
	WorkflowReturnMerch      WorkflowType = "return_merchandise"
	WorkflowEscalation       WorkflowType = "escalation"
	WorkflowGeneralInquiry   WorkflowType = "general_inquiry"
)

// WorkflowTypes lists the closed set in tie-break order.
func WorkflowTypes() []WorkflowType {
	return []WorkflowType{
		WorkflowQuoteRequest,
		WorkflowOrderProcessing,
		WorkflowSupportTicket,
		WorkflowShipmentTracking,
		WorkflowInvoice,
		WorkflowPricingAgreement,
		WorkflowDealRegistration,
		WorkflowReturnMerch,
		WorkflowEscalation,
		WorkflowGeneralInquiry,
	}
}

// WorkflowState places an email within its workflow lifecycle.
type WorkflowState string

const (
	StateStartPoint WorkflowState = "START_POINT"
	StateInProgress WorkflowState = "IN_PROGRESS"
	StateCompletion WorkflowState = "COMPLETION"
)

// Level grades opportunity and risk.
type Level string

const (
	LevelHigh   Level = "High"
	LevelMedium Level = "Medium"
	LevelLow    Level = "Low"
	LevelNone   Level = "None"
)

// ActionItem is a concrete task surfaced by analysis.
type ActionItem struct {
	Task     string `json:"task"`
	Owner    string `json:"owner,omitempty"`
	Deadline string `json:"deadline,omitempty"`
	Impact   string `json:"impact,omitempty"`
}

// Financial summarizes the money angle of an email.
type Financial struct {
	EstimatedValue  float64 `json:"estimated_value"`
	Opportunity     Level   `json:"opportunity"`
	RiskLevel       Level   `json:"risk_level"`
	BudgetMentioned bool    `json:"budget_mentioned"`
}

// Stakeholders groups the people referenced by role.
type Stakeholders struct {
	DecisionMakers      []string `json:"decision_makers,omitempty"`
	TechnicalContacts   []string `json:"technical_contacts,omitempty"`
	ProcurementContacts []string `json:"procurement_contacts,omitempty"`
}

// AnalysisResult is the persisted outcome of analyzing one email.
type AnalysisResult struct {
	EmailID   string `json:"email_id"`
	ChainID   string `json:"chain_id,omitempty"`
	PhaseUsed int    `json:"phase_used"`
	Method    string `json:"method"` // provenance tag, e.g. phase2_llm, phase2_fallback

	Priority      Priority      `json:"priority"`
	WorkflowType  WorkflowType  `json:"workflow_type"`
	WorkflowState WorkflowState `json:"workflow_state"`
	Confidence    float64       `json:"confidence"`

	Entities        Entities     `json:"entities"`
	ActionableItems []ActionItem `json:"actionable_items,omitempty"`
	Financial       Financial    `json:"financial"`
	Stakeholders    Stakeholders `json:"stakeholders"`
	Summary         string       `json:"summary"`

	// Phase 3 extensions for broken chains.
	MissingContext   []string `json:"missing_context,omitempty"`
	RequiredActions  []string `json:"required_actions,omitempty"`
	EscalationNeeded bool     `json:"escalation_needed,omitempty"`

	ProcessingTimeMS int64     `json:"processing_time_ms"`
	ProcessedAt      time.Time `json:"processed_at"`
}

// ClampConfidence forces confidence into [0,1].
func (r *AnalysisResult) ClampConfidence() {
	if r.Confidence < 0 {
		r.Confidence = 0
	}
	if r.Confidence > 1 {
		r.Confidence = 1
	}
}

// QualityReport is the quality monitor's rolling aggregate over a window.
type QualityReport struct {
	WindowHours         int       `json:"window_hours"`
	SampleSize          int       `json:"sample_size"`
	AvgSummaryLen       float64   `json:"avg_summary_len"`
	AvgConfidence       float64   `json:"avg_confidence"`
	AvgActionsPerEmail  float64   `json:"avg_actions_per_email"`
	AvgEntitiesPerEmail float64   `json:"avg_entities_per_email"`
	HighPriorityRate    float64   `json:"high_priority_rate"`
	BusinessValueRate   float64   `json:"business_value_rate"`
	ErrorRate           float64   `json:"error_rate"`
	AvgProcessingMS     float64   `json:"avg_processing_ms"`
	GeneratedAt         time.Time `json:"generated_at"`
}

// QualityAlert is raised when a report metric breaches its threshold.
type QualityAlert struct {
	ID        string    `json:"id"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Message   string    `json:"message"`
	RaisedAt  time.Time `json:"raised_at"`
}
