package phase

import (
	"math"
	"strings"
	"testing"
	"time"

	"mailintel_server/core/domain"
)

func closeTo(got, want float64) bool {
	return math.Abs(got-want) < 1e-9
}

func ruleRecord(id, subject, body, sender string) *domain.EmailRecord {
	return &domain.EmailRecord{
		Email: domain.Email{
			ID:         id,
			Subject:    subject,
			Body:       body,
			Sender:     sender,
			ReceivedAt: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		},
	}
}

func TestRuleAnalyzerQuoteThread(t *testing.T) {
	a := NewRuleAnalyzer()
	rec := ruleRecord("e1", "Quote 5015509 for Dell XPS-9320-NB units",
		"Please send pricing for 12 units, total budget $12,500.00. Contact purchasing@acme.com.",
		"jane@acme.com")

	res := a.Analyze(rec, nil)

	if res.PhaseUsed != domain.PhaseRuleBased {
		t.Errorf("phase = %d, want 1", res.PhaseUsed)
	}
	if res.Method != "phase1_rules" {
		t.Errorf("method = %q", res.Method)
	}
	if res.WorkflowType != domain.WorkflowQuoteRequest {
		t.Errorf("workflow_type = %s, want quote_request", res.WorkflowType)
	}
	if res.Priority != domain.PriorityHigh {
		t.Errorf("priority = %s, want High (quote keyword, no urgency)", res.Priority)
	}
	if !closeTo(res.Confidence, 0.8) {
		t.Errorf("confidence = %v, want 0.8 (0.7 base + 0.1 entities)", res.Confidence)
	}
	if res.Financial.EstimatedValue != 12500 {
		t.Errorf("estimated_value = %v, want 12500", res.Financial.EstimatedValue)
	}
	if res.Financial.Opportunity != domain.LevelHigh {
		t.Errorf("opportunity = %s, want High", res.Financial.Opportunity)
	}
	if !res.Financial.BudgetMentioned {
		t.Error("budget_mentioned should be true")
	}
	if len(res.Stakeholders.ProcurementContacts) != 1 || res.Stakeholders.ProcurementContacts[0] != "purchasing@acme.com" {
		t.Errorf("procurement_contacts = %v", res.Stakeholders.ProcurementContacts)
	}
	if len(res.ActionableItems) == 0 {
		t.Fatal("expected an actionable item for an open quote request")
	}
	if !strings.Contains(res.Summary, "quote_request") {
		t.Errorf("summary = %q", res.Summary)
	}
}

func TestRuleAnalyzerPriorityLadder(t *testing.T) {
	a := NewRuleAnalyzer()
	tests := []struct {
		name string
		body string
		want domain.Priority
	}{
		{"urgent wins", "URGENT: need the quote today", domain.PriorityCritical},
		{"quote keyword", "please send a quote for 5 units", domain.PriorityHigh},
		{"support keyword", "we have an issue with the last delivery", domain.PriorityMedium},
		{"nothing", "see you at the conference next month", domain.PriorityLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := a.Analyze(ruleRecord("e1", "hello", tt.body, "a@b.com"), nil)
			if res.Priority != tt.want {
				t.Errorf("priority = %s, want %s", res.Priority, tt.want)
			}
		})
	}
}

func TestRuleAnalyzerWorkflowState(t *testing.T) {
	a := NewRuleAnalyzer()
	chain := &domain.EmailChain{ChainID: "chain-x", MemberIDs: []string{"e1", "e2", "e3"}}

	first := a.Analyze(ruleRecord("e1", "new order", "requesting a purchase order setup", "a@b.com"), chain)
	if first.WorkflowState != domain.StateStartPoint {
		t.Errorf("first member state = %s, want START_POINT", first.WorkflowState)
	}

	mid := a.Analyze(ruleRecord("e2", "re: new order", "any update on this?", "a@b.com"), chain)
	if mid.WorkflowState != domain.StateInProgress {
		t.Errorf("mid member state = %s, want IN_PROGRESS", mid.WorkflowState)
	}

	// Resolution language beats chain position, even on the first member.
	done := a.Analyze(ruleRecord("e1", "new order", "order shipped, thank you", "a@b.com"), chain)
	if done.WorkflowState != domain.StateCompletion {
		t.Errorf("resolved state = %s, want COMPLETION", done.WorkflowState)
	}
	if len(done.ActionableItems) != 0 {
		t.Errorf("completed workflow should carry no open actions, got %v", done.ActionableItems)
	}
}

func TestRuleAnalyzerNoEntitiesBaseConfidence(t *testing.T) {
	a := NewRuleAnalyzer()
	res := a.Analyze(ruleRecord("e1", "hello", "just checking in", "a@b.com"), nil)
	if !closeTo(res.Confidence, 0.7) {
		t.Errorf("confidence = %v, want 0.7 base", res.Confidence)
	}
	if res.WorkflowType != domain.WorkflowGeneralInquiry {
		t.Errorf("workflow_type = %s, want general_inquiry", res.WorkflowType)
	}
}
