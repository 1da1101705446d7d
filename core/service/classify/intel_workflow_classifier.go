// Package classify maps email text onto the closed workflow taxonomy
// using keyword scoring. Pure and stateless.
package classify

import (
	"strings"

	"mailintel_server/core/domain"
)

// Keywords maps each workflow kind to its scoring keyword list. The lists
// are configuration: callers may replace them wholesale.
type Keywords map[domain.WorkflowType][]string

// DefaultKeywords returns the standard keyword tables.
func DefaultKeywords() Keywords {
	return Keywords{
		domain.WorkflowQuoteRequest: {
			"quote", "rfq", "quotation", "pricing request", "price request",
			"how much", "estimate", "proposal",
		},
		domain.WorkflowOrderProcessing: {
			"purchase order", "po number", "order confirmation", "order status",
			"place an order", "processing your order", "sales order",
		},
		domain.WorkflowSupportTicket: {
			"support", "ticket", "issue", "problem", "not working", "error",
			"troubleshoot", "defective", "help with",
		},
		domain.WorkflowShipmentTracking: {
			"tracking", "shipment", "shipped", "delivery", "carrier",
			"in transit", "eta", "arrived",
		},
		domain.WorkflowInvoice: {
			"invoice", "payment", "billing", "remittance", "past due",
			"net 30", "statement",
		},
		domain.WorkflowPricingAgreement: {
			"spa", "special pricing", "pricing agreement", "cas-",
			"contract pricing", "discount approval",
		},
		domain.WorkflowDealRegistration: {
			"deal registration", "deal reg", "opportunity registration",
			"register the deal", "registration approved",
		},
		domain.WorkflowReturnMerch: {
			"rma", "return", "refund", "exchange", "credit memo",
			"return authorization",
		},
		domain.WorkflowEscalation: {
			"escalate", "escalation", "urgent", "asap", "critical",
			"immediately", "manager", "complaint",
		},
	}
}

// PriorityKeywords drive the phase-1 priority rule.
type PriorityKeywords struct {
	Urgent  []string
	Quote   []string
	Support []string
}

// DefaultPriorityKeywords returns the standard priority keyword lists.
func DefaultPriorityKeywords() PriorityKeywords {
	return PriorityKeywords{
		Urgent:  []string{"urgent", "asap", "critical", "immediately", "escalate", "emergency"},
		Quote:   []string{"quote", "rfq", "po ", "purchase order", "pricing"},
		Support: []string{"support", "ticket", "issue", "problem", "error"},
	}
}

// DefaultResolutionIndicators are the textual signals that a workflow
// reached its end. Shared by the chain analyzer and phase-1 state rule.
func DefaultResolutionIndicators() []string {
	return []string{
		"resolved", "closed", "completed", "shipped", "delivered",
		"approved", "confirmed", "thank you", "thanks for your help",
		"all set", "received the order",
	}
}

// Classifier scores text against the workflow keyword tables.
type Classifier struct {
	keywords Keywords
}

// NewClassifier creates a Classifier with the given keyword tables; nil
// selects the defaults.
func NewClassifier(kw Keywords) *Classifier {
	if kw == nil {
		kw = DefaultKeywords()
	}
	return &Classifier{keywords: kw}
}

// Classify returns the argmax workflow kind for the text, falling back to
// general_inquiry when no keyword matches. Ties break toward the earlier
// kind in the closed set's enumeration order.
func (c *Classifier) Classify(text string) domain.WorkflowType {
	kind, _ := c.ClassifyScored(text)
	return kind
}

// ClassifyScored additionally returns the winning keyword hit count.
func (c *Classifier) ClassifyScored(text string) (domain.WorkflowType, int) {
	lower := strings.ToLower(text)

	best := domain.WorkflowGeneralInquiry
	bestScore := 0
	for _, kind := range domain.WorkflowTypes() {
		score := 0
		for _, kw := range c.keywords[kind] {
			score += strings.Count(lower, kw)
		}
		if score > bestScore {
			best = kind
			bestScore = score
		}
	}
	return best, bestScore
}

// CountResolutionIndicators counts resolution signals in the text.
func CountResolutionIndicators(text string, indicators []string) int {
	lower := strings.ToLower(text)
	count := 0
	for _, ind := range indicators {
		count += strings.Count(lower, ind)
	}
	return count
}

// HasAny reports whether text contains any of the keywords.
func HasAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
