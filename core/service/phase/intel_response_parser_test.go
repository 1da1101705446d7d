package phase

import (
	"strings"
	"testing"

	"mailintel_server/core/domain"
	"mailintel_server/pkg/apperr"
)

const wellFormedOutput = `{
  "priority": "High",
  "workflow_type": "quote_request",
  "workflow_state": "IN_PROGRESS",
  "confidence": 0.85,
  "entities": {"po_numbers": ["0505915850"], "quote_numbers": [], "spa_codes": [], "case_numbers": [], "part_numbers": [], "amounts": [{"value": 12500, "currency": "USD"}]},
  "actionable_items": [{"task": "Send revised quote", "owner": "sales", "deadline": "", "impact": "revenue"}],
  "financial": {"estimated_value": 12500, "opportunity": "High", "risk_level": "Low", "budget_mentioned": true},
  "stakeholders": {"decision_makers": ["jane@acme.com"], "technical_contacts": [], "procurement_contacts": []},
  "summary": "Customer requests a revised quote for 12 units."
}`

func TestParseResultWellFormed(t *testing.T) {
	res, defaulted, err := ParseResult(wellFormedOutput, 0.7)
	if err != nil {
		t.Fatalf("ParseResult: %v", err)
	}
	if defaulted {
		t.Error("well-formed output should not default any field")
	}
	if res.Priority != domain.PriorityHigh {
		t.Errorf("priority = %s, want High", res.Priority)
	}
	if res.WorkflowType != domain.WorkflowQuoteRequest {
		t.Errorf("workflow_type = %s, want quote_request", res.WorkflowType)
	}
	if !closeTo(res.Confidence, 0.7) {
		t.Errorf("confidence = %v, want the 0.7 baseline", res.Confidence)
	}
	if len(res.Entities.PONumbers) != 1 || res.Entities.PONumbers[0] != "0505915850" {
		t.Errorf("po_numbers = %v", res.Entities.PONumbers)
	}
	if len(res.ActionableItems) != 1 || res.ActionableItems[0].Task != "Send revised quote" {
		t.Errorf("actionable_items = %v", res.ActionableItems)
	}
	if res.Financial.Opportunity != domain.LevelHigh {
		t.Errorf("opportunity = %s, want High", res.Financial.Opportunity)
	}
}

func TestParseResultIgnoresSurroundingProse(t *testing.T) {
	raw := "Sure! Here is the analysis:\n```json\n" + wellFormedOutput + "\n```\nLet me know if you need anything else."
	res, _, err := ParseResult(raw, 0.7)
	if err != nil {
		t.Fatalf("ParseResult: %v", err)
	}
	if res.Priority != domain.PriorityHigh {
		t.Errorf("priority = %s, want High", res.Priority)
	}
}

func TestParseResultBracesInsideStrings(t *testing.T) {
	raw := `{"priority": "Low", "workflow_type": "general_inquiry", "workflow_state": "IN_PROGRESS", "confidence": 0.6, "entities": {"po_numbers": [], "quote_numbers": [], "spa_codes": [], "case_numbers": [], "part_numbers": [], "amounts": []}, "financial": {"estimated_value": 0, "opportunity": "None", "risk_level": "None", "budget_mentioned": false}, "stakeholders": {}, "summary": "customer wrote {unbalanced"}`
	res, defaulted, err := ParseResult(raw, 0.7)
	if err != nil {
		t.Fatalf("ParseResult: %v", err)
	}
	if defaulted {
		t.Error("all fields present, nothing should default")
	}
	if !strings.Contains(res.Summary, "{unbalanced") {
		t.Errorf("summary = %q", res.Summary)
	}
}

func TestParseResultDefaultsWithPenalty(t *testing.T) {
	// Missing state, confidence out of range, unknown workflow kind.
	raw := `{"priority": "High", "workflow_type": "something_new", "confidence": 1.7, "entities": {"po_numbers": []}, "financial": {"estimated_value": 0, "opportunity": "None", "risk_level": "None", "budget_mentioned": false}, "summary": "short note"}`
	res, defaulted, err := ParseResult(raw, 0.7)
	if err != nil {
		t.Fatalf("ParseResult: %v", err)
	}
	if !defaulted {
		t.Fatal("expected defaulted fields to be reported")
	}
	if res.WorkflowType != domain.WorkflowGeneralInquiry {
		t.Errorf("workflow_type = %s, want general_inquiry fallback", res.WorkflowType)
	}
	if res.WorkflowState != domain.StateInProgress {
		t.Errorf("workflow_state = %s, want IN_PROGRESS fallback", res.WorkflowState)
	}
	// Baseline minus the defaulting penalty.
	if !closeTo(res.Confidence, 0.5) {
		t.Errorf("confidence = %v, want 0.5", res.Confidence)
	}
}

func TestParseResultEmptyObject(t *testing.T) {
	_, _, err := ParseResult("Here is my analysis: {}", 0.7)
	if !apperr.IsCode(err, apperr.CodeParseError) {
		t.Fatalf("err = %v, want parse error for field-free object", err)
	}
}

func TestParseResultNoObject(t *testing.T) {
	_, _, err := ParseResult("I could not analyze this email, sorry.", 0.7)
	if !apperr.IsCode(err, apperr.CodeParseError) {
		t.Fatalf("err = %v, want parse error", err)
	}
}

func TestParseResultMalformedJSON(t *testing.T) {
	_, _, err := ParseResult(`{"priority": "High", "confidence": }`, 0.7)
	if !apperr.IsCode(err, apperr.CodeParseError) {
		t.Fatalf("err = %v, want parse error", err)
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`, true},
		{"prose around", `noise {"a": {"b": 2}} tail`, `{"a": {"b": 2}}`, true},
		{"brace in string", `{"a": "}"}`, `{"a": "}"}`, true},
		{"escaped quote", `{"a": "\"}"}`, `{"a": "\"}"}`, true},
		{"unbalanced", `{"a": 1`, "", false},
		{"no object", "plain text", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractJSONObject(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Errorf("extractJSONObject(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}
