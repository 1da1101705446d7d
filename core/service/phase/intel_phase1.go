package phase

import (
	"fmt"
	"strings"

	"mailintel_server/core/domain"
	"mailintel_server/core/service/classify"
	"mailintel_server/core/service/extract"
)

// RuleAnalyzer is the phase-1 analyzer for complete chains. The full
// conversation is available, so regex extraction plus keyword rules give
// a reliable result without touching a model.
type RuleAnalyzer struct {
	extractor  *extract.Extractor
	classifier *classify.Classifier
	priority   classify.PriorityKeywords
	resolution []string
}

// NewRuleAnalyzer builds a RuleAnalyzer with the default keyword tables.
func NewRuleAnalyzer() *RuleAnalyzer {
	return &RuleAnalyzer{
		extractor:  extract.NewExtractor(),
		classifier: classify.NewClassifier(nil),
		priority:   classify.DefaultPriorityKeywords(),
		resolution: classify.DefaultResolutionIndicators(),
	}
}

// Analyze produces a deterministic result for one email. chain may be nil
// when the email was never grouped; the state rule then cannot see chain
// position and falls back to the text signals alone.
func (a *RuleAnalyzer) Analyze(rec *domain.EmailRecord, chain *domain.EmailChain) *domain.AnalysisResult {
	text := rec.Text()
	lower := strings.ToLower(text)
	entities := a.extractor.Extract(&rec.Email)

	res := &domain.AnalysisResult{
		EmailID:   rec.ID,
		ChainID:   rec.ChainID,
		PhaseUsed: domain.PhaseRuleBased,
		Method:    "phase1_rules",
		Entities:  *entities,
	}

	res.Priority = a.priorityFor(lower)
	res.WorkflowType, _ = a.classifier.ClassifyScored(lower)
	res.WorkflowState = a.stateFor(rec, chain, lower)

	res.Confidence = 0.7
	if !entities.IsEmpty() {
		res.Confidence += 0.1
	}

	res.Financial = a.financialFor(entities, lower)
	res.Stakeholders = stakeholdersFor(rec, entities)
	res.ActionableItems = a.actionsFor(res.WorkflowType, res.WorkflowState, entities)
	res.Summary = a.summaryFor(rec, res, entities)
	return res
}

// priorityFor applies the keyword ladder: urgent beats quote beats support.
func (a *RuleAnalyzer) priorityFor(lower string) domain.Priority {
	switch {
	case classify.HasAny(lower, a.priority.Urgent):
		return domain.PriorityCritical
	case classify.HasAny(lower, a.priority.Quote):
		return domain.PriorityHigh
	case classify.HasAny(lower, a.priority.Support):
		return domain.PriorityMedium
	}
	return domain.PriorityLow
}

func (a *RuleAnalyzer) stateFor(rec *domain.EmailRecord, chain *domain.EmailChain, lower string) domain.WorkflowState {
	if classify.CountResolutionIndicators(lower, a.resolution) > 0 {
		return domain.StateCompletion
	}
	if chain != nil && chain.IsFirstMember(rec.ID) {
		return domain.StateStartPoint
	}
	return domain.StateInProgress
}

func (a *RuleAnalyzer) financialFor(entities *domain.Entities, lower string) domain.Financial {
	value := entities.MaxAmount()
	fin := domain.Financial{
		EstimatedValue:  value,
		Opportunity:     domain.LevelNone,
		RiskLevel:       domain.LevelNone,
		BudgetMentioned: len(entities.Amounts) > 0 || strings.Contains(lower, "budget"),
	}
	switch {
	case value > 10000:
		fin.Opportunity = domain.LevelHigh
	case value > 1000:
		fin.Opportunity = domain.LevelMedium
	case value > 0:
		fin.Opportunity = domain.LevelLow
	}
	if classify.HasAny(lower, a.priority.Urgent) {
		fin.RiskLevel = domain.LevelHigh
	} else if classify.HasAny(lower, a.priority.Support) {
		fin.RiskLevel = domain.LevelLow
	}
	return fin
}

// stakeholdersFor sorts extracted addresses into roles by mailbox hints.
// The sender always counts as a decision maker for their side of the thread.
func stakeholdersFor(rec *domain.EmailRecord, entities *domain.Entities) domain.Stakeholders {
	st := domain.Stakeholders{}
	if rec.Sender != "" {
		st.DecisionMakers = append(st.DecisionMakers, rec.Sender)
	}
	for _, c := range entities.Contacts {
		if c.Kind != domain.ContactEmail || strings.EqualFold(c.Value, rec.Sender) {
			continue
		}
		lower := strings.ToLower(c.Value)
		switch {
		case strings.Contains(lower, "purchas") || strings.Contains(lower, "procure") || strings.Contains(lower, "buy"):
			st.ProcurementContacts = append(st.ProcurementContacts, c.Value)
		default:
			st.TechnicalContacts = append(st.TechnicalContacts, c.Value)
		}
	}
	return st
}

func (a *RuleAnalyzer) actionsFor(wt domain.WorkflowType, ws domain.WorkflowState, entities *domain.Entities) []domain.ActionItem {
	if ws == domain.StateCompletion {
		return nil
	}
	var items []domain.ActionItem
	switch wt {
	case domain.WorkflowQuoteRequest:
		items = append(items, domain.ActionItem{Task: "Prepare and send quote response", Impact: "revenue"})
	case domain.WorkflowOrderProcessing:
		items = append(items, domain.ActionItem{Task: "Confirm order and schedule fulfillment", Impact: "revenue"})
	case domain.WorkflowSupportTicket, domain.WorkflowEscalation:
		items = append(items, domain.ActionItem{Task: "Respond to open support request", Impact: "customer satisfaction"})
	case domain.WorkflowShipmentTracking:
		items = append(items, domain.ActionItem{Task: "Provide shipment status update", Impact: "customer satisfaction"})
	case domain.WorkflowInvoice:
		items = append(items, domain.ActionItem{Task: "Verify invoice against order records", Impact: "cash flow"})
	case domain.WorkflowReturnMerch:
		items = append(items, domain.ActionItem{Task: "Issue RMA and return instructions", Impact: "customer satisfaction"})
	}
	if len(entities.QuoteNumbers) > 0 && wt != domain.WorkflowQuoteRequest {
		items = append(items, domain.ActionItem{Task: "Cross-check referenced quote " + entities.QuoteNumbers[0], Impact: "accuracy"})
	}
	return items
}

func (a *RuleAnalyzer) summaryFor(rec *domain.EmailRecord, res *domain.AnalysisResult, entities *domain.Entities) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s email from %s", res.WorkflowType, rec.Sender)
	if n := entities.Count(); n > 0 {
		fmt.Fprintf(&sb, " referencing %d extracted identifiers", n)
	}
	if v := entities.MaxAmount(); v > 0 {
		fmt.Fprintf(&sb, " worth up to $%.2f", v)
	}
	fmt.Fprintf(&sb, "; state %s, priority %s.", res.WorkflowState, res.Priority)
	return sb.String()
}
