package phase

import (
	"strings"

	json "github.com/goccy/go-json"

	"mailintel_server/core/domain"
	"mailintel_server/pkg/apperr"
)

// llmResult mirrors the model's output schema. Pointer fields distinguish
// "absent" from zero so defaulting can be tracked per field.
type llmResult struct {
	Priority      *string       `json:"priority"`
	WorkflowType  *string       `json:"workflow_type"`
	WorkflowState *string       `json:"workflow_state"`
	Confidence    *float64      `json:"confidence"`
	Entities      *llmEntities  `json:"entities"`
	Items         []llmItem     `json:"actionable_items"`
	Financial     *llmFinancial `json:"financial"`
	Stakeholders  *llmPeople    `json:"stakeholders"`
	Summary       *string       `json:"summary"`
	MissingCtx    []string      `json:"missing_context"`
	RequiredActs  []string      `json:"required_actions"`
	Escalation    *bool         `json:"escalation_needed"`
}

type llmEntities struct {
	PONumbers    []string    `json:"po_numbers"`
	QuoteNumbers []string    `json:"quote_numbers"`
	SPACodes     []string    `json:"spa_codes"`
	CaseNumbers  []string    `json:"case_numbers"`
	PartNumbers  []string    `json:"part_numbers"`
	Amounts      []llmAmount `json:"amounts"`
}

type llmAmount struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
}

type llmItem struct {
	Task     string `json:"task"`
	Owner    string `json:"owner"`
	Deadline string `json:"deadline"`
	Impact   string `json:"impact"`
}

type llmFinancial struct {
	EstimatedValue  *float64 `json:"estimated_value"`
	Opportunity     *string  `json:"opportunity"`
	RiskLevel       *string  `json:"risk_level"`
	BudgetMentioned *bool    `json:"budget_mentioned"`
}

type llmPeople struct {
	DecisionMakers      []string `json:"decision_makers"`
	TechnicalContacts   []string `json:"technical_contacts"`
	ProcurementContacts []string `json:"procurement_contacts"`
}

// defaultConfidencePenalty is subtracted once when any field had to be
// defaulted because the model omitted or garbled it.
const defaultConfidencePenalty = 0.2

// ParseResult turns raw model output into an AnalysisResult. Models wrap
// JSON in prose or fences often enough that the first balanced object is
// extracted before decoding. Fields that fail validation fall back to
// conservative defaults; defaulted reports whether any did.
//
// Confidence is not taken from the model: a clean parse scores the
// phase's baseline, one penalty off when anything was defaulted. The
// model's confidence field only counts toward the defaulted flag.
func ParseResult(raw string, baseline float64) (res *domain.AnalysisResult, defaulted bool, err error) {
	obj, ok := extractJSONObject(raw)
	if !ok {
		return nil, false, apperr.ParseError("no JSON object in model output", nil)
	}
	var lr llmResult
	if uerr := json.Unmarshal([]byte(obj), &lr); uerr != nil {
		return nil, false, apperr.ParseError("model output is not valid JSON", uerr)
	}
	// An object with none of the schema's fields is indistinguishable from
	// the model ignoring the prompt; treat it as unparseable rather than
	// defaulting everything.
	if lr.Priority == nil && lr.WorkflowType == nil && lr.WorkflowState == nil &&
		lr.Confidence == nil && lr.Entities == nil && lr.Summary == nil &&
		len(lr.Items) == 0 && lr.Financial == nil && lr.Stakeholders == nil {
		return nil, false, apperr.ParseError("model output object carries no analysis fields", nil)
	}

	res = &domain.AnalysisResult{}

	res.Priority, ok = parsePriority(lr.Priority)
	defaulted = defaulted || !ok

	res.WorkflowType, ok = parseWorkflowType(lr.WorkflowType)
	defaulted = defaulted || !ok

	res.WorkflowState, ok = parseWorkflowState(lr.WorkflowState)
	defaulted = defaulted || !ok

	if lr.Confidence == nil || *lr.Confidence < 0 || *lr.Confidence > 1 {
		defaulted = true
	}

	if lr.Entities != nil {
		res.Entities = convertEntities(lr.Entities)
	} else {
		defaulted = true
	}

	for _, it := range lr.Items {
		if strings.TrimSpace(it.Task) == "" {
			continue
		}
		res.ActionableItems = append(res.ActionableItems, domain.ActionItem{
			Task: it.Task, Owner: it.Owner, Deadline: it.Deadline, Impact: it.Impact,
		})
	}

	if lr.Financial != nil {
		res.Financial = convertFinancial(lr.Financial)
	} else {
		res.Financial = domain.Financial{Opportunity: domain.LevelNone, RiskLevel: domain.LevelNone}
		defaulted = true
	}

	if lr.Stakeholders != nil {
		res.Stakeholders = domain.Stakeholders{
			DecisionMakers:      lr.Stakeholders.DecisionMakers,
			TechnicalContacts:   lr.Stakeholders.TechnicalContacts,
			ProcurementContacts: lr.Stakeholders.ProcurementContacts,
		}
	}

	if lr.Summary != nil && strings.TrimSpace(*lr.Summary) != "" {
		res.Summary = strings.TrimSpace(*lr.Summary)
	} else {
		res.Summary = "analysis summary unavailable"
		defaulted = true
	}

	res.MissingContext = lr.MissingCtx
	res.RequiredActions = lr.RequiredActs
	if lr.Escalation != nil {
		res.EscalationNeeded = *lr.Escalation
	}

	res.Confidence = baseline
	if defaulted {
		res.Confidence -= defaultConfidencePenalty
	}
	res.ClampConfidence()
	return res, defaulted, nil
}

func parsePriority(s *string) (domain.Priority, bool) {
	if s != nil {
		switch p := domain.Priority(strings.TrimSpace(*s)); p {
		case domain.PriorityCritical, domain.PriorityHigh, domain.PriorityMedium, domain.PriorityLow:
			return p, true
		}
	}
	return domain.PriorityMedium, false
}

func parseWorkflowType(s *string) (domain.WorkflowType, bool) {
	if s != nil {
		want := domain.WorkflowType(strings.ToLower(strings.TrimSpace(*s)))
		for _, wt := range domain.WorkflowTypes() {
			if wt == want {
				return wt, true
			}
		}
	}
	return domain.WorkflowGeneralInquiry, false
}

func parseWorkflowState(s *string) (domain.WorkflowState, bool) {
	if s != nil {
		switch ws := domain.WorkflowState(strings.ToUpper(strings.TrimSpace(*s))); ws {
		case domain.StateStartPoint, domain.StateInProgress, domain.StateCompletion:
			return ws, true
		}
	}
	return domain.StateInProgress, false
}

func convertEntities(e *llmEntities) domain.Entities {
	out := domain.Entities{
		PONumbers:    e.PONumbers,
		QuoteNumbers: e.QuoteNumbers,
		SPACodes:     e.SPACodes,
		CaseNumbers:  e.CaseNumbers,
		PartNumbers:  e.PartNumbers,
	}
	for _, a := range e.Amounts {
		if a.Value <= 0 {
			continue
		}
		cur := a.Currency
		if cur == "" {
			cur = "USD"
		}
		out.Amounts = append(out.Amounts, domain.Amount{Value: a.Value, Currency: cur})
	}
	return out
}

func convertFinancial(f *llmFinancial) domain.Financial {
	out := domain.Financial{Opportunity: domain.LevelNone, RiskLevel: domain.LevelNone}
	if f.EstimatedValue != nil && *f.EstimatedValue > 0 {
		out.EstimatedValue = *f.EstimatedValue
	}
	if f.Opportunity != nil {
		if lv, ok := parseLevel(*f.Opportunity); ok {
			out.Opportunity = lv
		}
	}
	if f.RiskLevel != nil {
		if lv, ok := parseLevel(*f.RiskLevel); ok {
			out.RiskLevel = lv
		}
	}
	if f.BudgetMentioned != nil {
		out.BudgetMentioned = *f.BudgetMentioned
	}
	return out
}

func parseLevel(s string) (domain.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return domain.LevelHigh, true
	case "medium":
		return domain.LevelMedium, true
	case "low":
		return domain.LevelLow, true
	case "none":
		return domain.LevelNone, true
	}
	return domain.LevelNone, false
}

// extractJSONObject returns the first balanced top-level JSON object in s,
// skipping braces inside string literals.
func extractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
