package chain

import (
	"reflect"
	"testing"
	"time"

	"mailintel_server/core/domain"
)

func mail(id, subject, body, sender string, received time.Time, recipients ...string) *domain.Email {
	return &domain.Email{
		ID:         id,
		Subject:    subject,
		Body:       body,
		Sender:     sender,
		Recipients: recipients,
		ReceivedAt: received,
	}
}

func TestNormalizeSubject(t *testing.T) {
	tests := []struct {
		name     string
		subject  string
		expected string
	}{
		{"plain", "Quote for servers", "quote for servers"},
		{"reply prefix", "RE: Quote for servers", "quote for servers"},
		{"stacked prefixes", "Fwd: RE: re: Quote for servers", "quote for servers"},
		{"bracketed tokens", "[EXTERNAL] Quote [urgent] for servers", "quote for servers"},
		{"whitespace collapse", "Quote   for \t servers ", "quote for servers"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeSubject(tt.subject); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestChainIDDeterministic(t *testing.T) {
	a := ChainID("quote for servers", "conv-1")
	b := ChainID("quote for servers", "conv-1")
	if a != b {
		t.Errorf("chain id not deterministic: %s vs %s", a, b)
	}
	if a == ChainID("quote for servers", "conv-2") {
		t.Error("different conversation ids must produce different chain ids")
	}
	if a == ChainID("other subject", "conv-1") {
		t.Error("different subjects must produce different chain ids")
	}
}

func TestBuildChainsCompleteQuoteThread(t *testing.T) {
	// Three-message RFQ thread ending in approval: one chain, complete,
	// phase 1, quote_request, amount captured.
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	emails := []*domain.Email{
		mail("e1", "RFQ 500 units Surface Pro", "requesting a quote for 500 units",
			"buyer@corp.example", base, "sales@dist.example"),
		mail("e2", "RE: RFQ 500 units Surface Pro", "working on your quote now",
			"sales@dist.example", base.Add(24*time.Hour), "buyer@corp.example"),
		mail("e3", "RE: RFQ 500 units Surface Pro", "quote approved and confirmed, total $12,500.00, thank you",
			"buyer@corp.example", base.Add(8*24*time.Hour), "sales@dist.example", "manager@corp.example"),
	}

	chains := NewAnalyzer(domain.ChainBuckets{}).BuildChains(emails)
	if len(chains) != 1 {
		t.Fatalf("expected 1 chain, got %d", len(chains))
	}
	c := chains[0]

	if !reflect.DeepEqual(c.MemberIDs, []string{"e1", "e2", "e3"}) {
		t.Errorf("unexpected member order: %v", c.MemberIDs)
	}
	if c.CompletenessScore < 0.7 {
		t.Errorf("expected score >= 0.7, got %v", c.CompletenessScore)
	}
	if c.Completeness != domain.ChainComplete {
		t.Errorf("expected complete, got %s", c.Completeness)
	}
	if c.RecommendedPhase != domain.PhaseRuleBased {
		t.Errorf("expected phase 1, got %d", c.RecommendedPhase)
	}
	if c.WorkflowType != domain.WorkflowQuoteRequest {
		t.Errorf("expected quote_request, got %s", c.WorkflowType)
	}
	if c.EstimatedValue == 0 {
		t.Error("expected non-zero business value estimate")
	}
}

func TestBuildChainsPartialPair(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	emails := []*domain.Email{
		mail("e1", "PO 0505915850 with SPA", "order per CAS-107073-B4P8K8",
			"buyer@corp.example", base, "orders@dist.example"),
		mail("e2", "RE: PO 0505915850 with SPA", "order confirmed, will update on the rest",
			"orders@dist.example", base.Add(24*time.Hour), "buyer@corp.example"),
	}

	chains := NewAnalyzer(domain.ChainBuckets{}).BuildChains(emails)
	if len(chains) != 1 {
		t.Fatalf("expected 1 chain, got %d", len(chains))
	}
	c := chains[0]
	if c.CompletenessScore < 0.3 || c.CompletenessScore >= 0.7 {
		t.Errorf("expected partial-range score, got %v", c.CompletenessScore)
	}
	if c.Completeness != domain.ChainPartial || c.RecommendedPhase != domain.PhaseMediumLLM {
		t.Errorf("expected partial/phase 2, got %s/%d", c.Completeness, c.RecommendedPhase)
	}
}

func TestBuildChainsSingletonBroken(t *testing.T) {
	emails := []*domain.Email{
		mail("e1", "where order?", "hasn't arrived yet, urgent",
			"buyer@corp.example", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)),
	}

	chains := NewAnalyzer(domain.ChainBuckets{}).BuildChains(emails)
	if len(chains) != 1 {
		t.Fatalf("expected 1 chain, got %d", len(chains))
	}
	c := chains[0]
	if c.CompletenessScore >= 0.3 {
		t.Errorf("expected broken-range score, got %v", c.CompletenessScore)
	}
	if c.Completeness != domain.ChainBroken || c.RecommendedPhase != domain.PhaseLargeLLM {
		t.Errorf("expected broken/phase 3, got %s/%d", c.Completeness, c.RecommendedPhase)
	}
}

func TestBuildChainsGroupingRules(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	emails := []*domain.Email{
		// Shared conversation id, different subjects.
		mail("a1", "Order update", "x", "s@x.example", base),
		mail("a2", "Totally different", "x", "s@x.example", base.Add(time.Hour)),
		// No conversation id, matching normalized subjects.
		mail("b1", "Invoice 9913", "x", "s@x.example", base),
		mail("b2", "RE: Invoice 9913", "x", "s@x.example", base.Add(time.Hour)),
		// Neither subject nor conversation id: singleton.
		mail("c1", "", "orphan body", "s@x.example", base),
	}
	emails[0].ConversationID = "conv-7"
	emails[1].ConversationID = "conv-7"

	chains := NewAnalyzer(domain.ChainBuckets{}).BuildChains(emails)
	if len(chains) != 3 {
		t.Fatalf("expected 3 chains, got %d", len(chains))
	}

	total := 0
	byEmail := make(map[string]int)
	for _, c := range chains {
		total += c.Size()
		for _, id := range c.MemberIDs {
			byEmail[id]++
		}
	}
	if total != len(emails) {
		t.Errorf("expected %d member slots, got %d", len(emails), total)
	}
	for id, n := range byEmail {
		if n != 1 {
			t.Errorf("email %s is in %d chains, want exactly 1", id, n)
		}
	}
}

func TestBuildChainsIdempotent(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	emails := []*domain.Email{
		mail("e1", "RFQ 500 units Surface Pro", "requesting a quote", "a@x.example", base, "b@x.example"),
		mail("e2", "RE: RFQ 500 units Surface Pro", "quote approved, thank you", "b@x.example", base.Add(24*time.Hour), "a@x.example"),
		mail("e3", "where order?", "urgent", "c@x.example", base),
	}

	a := NewAnalyzer(domain.ChainBuckets{})
	first := a.BuildChains(emails)

	// Shuffle input order; output must be identical.
	shuffled := []*domain.Email{emails[2], emails[0], emails[1]}
	second := a.BuildChains(shuffled)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("chain analysis is not idempotent across input orderings:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}
