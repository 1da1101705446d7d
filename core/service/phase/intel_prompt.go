// Package phase implements the three-tier analysis: rule-based for
// complete chains, medium-model for partial chains, large-model for broken
// chains, with routing, response parsing and quality gating around them.
package phase

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"mailintel_server/core/domain"
)

// resultSchema is the closed output contract sent to the model. Prose
// outside the JSON object is forbidden; the parser tolerates it anyway.
const resultSchema = `{
  "priority": "Critical|High|Medium|Low",
  "workflow_type": "quote_request|order_processing|support_ticket|shipment_tracking|invoice|pricing_agreement|deal_registration|return_merchandise|escalation|general_inquiry",
  "workflow_state": "START_POINT|IN_PROGRESS|COMPLETION",
  "confidence": 0.0,
  "entities": {
    "po_numbers": [], "quote_numbers": [], "spa_codes": [],
    "case_numbers": [], "part_numbers": [],
    "amounts": [{"value": 0.0, "currency": "USD"}]
  },
  "actionable_items": [{"task": "", "owner": "", "deadline": "", "impact": ""}],
  "financial": {"estimated_value": 0.0, "opportunity": "High|Medium|Low|None", "risk_level": "High|Medium|Low|None", "budget_mentioned": false},
  "stakeholders": {"decision_makers": [], "technical_contacts": [], "procurement_contacts": []},
  "summary": ""
}`

const phase2System = `You are a business email analyst for a hardware distributor.
Analyze the email and respond with a single JSON object exactly matching this schema:
` + resultSchema + `
Rules:
- Output JSON only. No prose, no markdown fences, nothing outside the object.
- Use null or empty values when information is absent; never invent identifiers.
- Amounts are numeric, without currency symbols or thousands separators.`

const phase3System = phase2System + `
This email belongs to an incomplete conversation; most context is missing.
Additionally fill these fields in the same JSON object:
- "missing_context": list of context you infer is missing,
- "required_actions": actions required to complete the workflow,
- "escalation_needed": true when a human should take over.`

// PromptBuilder renders the user section of each inference call.
type PromptBuilder struct {
	truncateAt int
}

// NewPromptBuilder creates a PromptBuilder with the given body budget.
func NewPromptBuilder(truncateAt int) *PromptBuilder {
	if truncateAt <= 0 {
		truncateAt = 1000
	}
	return &PromptBuilder{truncateAt: truncateAt}
}

// System returns the system instruction for the given phase.
func (b *PromptBuilder) System(phase int) string {
	if phase == domain.PhaseLargeLLM {
		return phase3System
	}
	return phase2System
}

// User renders the focused user prompt: subject, sender, truncated body
// and the chain completeness score.
func (b *PromptBuilder) User(rec *domain.EmailRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Subject: %s\n", rec.Subject)
	fmt.Fprintf(&sb, "From: %s\n", rec.Sender)
	fmt.Fprintf(&sb, "Chain completeness: %.2f (%s)\n", rec.ChainScore, rec.ChainBucket)
	fmt.Fprintf(&sb, "Body:\n%s\n", truncateBody(rec.Body, b.truncateAt))
	return sb.String()
}

// truncateBody cuts the body at maxLen bytes, appending an ellipsis when
// anything was dropped. The cut backs up to a rune boundary so a multi-byte
// character is never split.
func truncateBody(body string, maxLen int) string {
	if len(body) <= maxLen {
		return body
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut] + "..."
}
