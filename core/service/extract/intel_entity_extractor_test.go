package extract

import (
	"reflect"
	"testing"
	"time"

	"mailintel_server/core/domain"
)

func extractText(t *testing.T, subject, body string) *domain.Entities {
	t.Helper()
	return NewExtractor().Extract(&domain.Email{Subject: subject, Body: body})
}

func TestExtractPONumbers(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected []string
	}{
		{
			name:     "plain PO",
			body:     "please process PO 0505915850 today",
			expected: []string{"0505915850"},
		},
		{
			name:     "dotted prefix",
			body:     "reference P.O. 1234567",
			expected: []string{"1234567"},
		},
		{
			name:     "purchase order phrase",
			body:     "new Purchase Order #88990011 attached",
			expected: []string{"88990011"},
		},
		{
			name:     "too short",
			body:     "PO 1234 is not a real PO number",
			expected: nil,
		},
		{
			name:     "duplicates collapse",
			body:     "PO 5556667 confirmed. Again: PO 5556667.",
			expected: []string{"5556667"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractText(t, "", tt.body)
			if !reflect.DeepEqual(got.PONumbers, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, got.PONumbers)
			}
		})
	}
}

func TestExtractQuoteAndSPA(t *testing.T) {
	e := extractText(t, "RE: Quote 7788990", "pricing per CAS-107073-B4P8K8 and RFQ 4455667")

	if !reflect.DeepEqual(e.QuoteNumbers, []string{"7788990", "4455667"}) {
		t.Errorf("unexpected quote numbers: %v", e.QuoteNumbers)
	}
	if !reflect.DeepEqual(e.SPACodes, []string{"CAS-107073-B4P8K8"}) {
		t.Errorf("unexpected spa codes: %v", e.SPACodes)
	}
}

func TestExtractCaseNumbers(t *testing.T) {
	e := extractText(t, "", "see Case 40012, also TS-99821 and INC000777")
	expected := []string{"40012", "99821", "000777"}
	if !reflect.DeepEqual(e.CaseNumbers, expected) {
		t.Errorf("expected %v, got %v", expected, e.CaseNumbers)
	}
}

func TestExtractAmounts(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected []float64
	}{
		{
			name:     "dollar with commas",
			body:     "total comes to $12,500.00 net 30",
			expected: []float64{12500.00},
		},
		{
			name:     "usd suffix",
			body:     "budget approved for 45000 USD next quarter",
			expected: []float64{45000},
		},
		{
			name:     "dollars word",
			body:     "roughly 1,200 dollars all in",
			expected: []float64{1200},
		},
		{
			name:     "multiple deduplicated",
			body:     "$500.00 now, $500.00 later, then $750.25",
			expected: []float64{500, 750.25},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractText(t, "", tt.body)
			if len(got.Amounts) != len(tt.expected) {
				t.Fatalf("expected %d amounts, got %d (%v)", len(tt.expected), len(got.Amounts), got.Amounts)
			}
			for i, want := range tt.expected {
				if got.Amounts[i].Value != want {
					t.Errorf("amount %d: expected %v, got %v", i, want, got.Amounts[i].Value)
				}
				if got.Amounts[i].Currency != "USD" {
					t.Errorf("amount %d: expected USD, got %s", i, got.Amounts[i].Currency)
				}
			}
		})
	}
}

func TestExtractPartNumbersFromSubject(t *testing.T) {
	tests := []struct {
		name     string
		subject  string
		expected []string
	}{
		{
			name:     "hyphenated part",
			subject:  "availability of XPS-9320-NB",
			expected: []string{"XPS-9320-NB"},
		},
		{
			name:     "alnum part",
			subject:  "need 10x SM863A",
			expected: []string{"SM863A"},
		},
		{
			name:     "plain words skipped",
			subject:  "where is my order",
			expected: nil,
		},
		{
			name:     "pure number skipped",
			subject:  "order 123456 missing",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractText(t, tt.subject, "")
			if !reflect.DeepEqual(got.PartNumbers, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, got.PartNumbers)
			}
		})
	}
}

func TestExtractContactsAndDates(t *testing.T) {
	e := extractText(t, "", "ping jane.doe@acme.com or 555-201-3344 before 03/15/2026 delivery")

	if len(e.Contacts) != 2 {
		t.Fatalf("expected 2 contacts, got %d (%v)", len(e.Contacts), e.Contacts)
	}
	if e.Contacts[0].Value != "jane.doe@acme.com" || e.Contacts[0].Kind != domain.ContactEmail {
		t.Errorf("unexpected email contact: %+v", e.Contacts[0])
	}
	if e.Contacts[1].Kind != domain.ContactPhone {
		t.Errorf("expected phone contact, got %+v", e.Contacts[1])
	}

	if len(e.Dates) != 1 {
		t.Fatalf("expected 1 date, got %d", len(e.Dates))
	}
	want := time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC)
	if !e.Dates[0].Value.Equal(want) {
		t.Errorf("expected %v, got %v", want, e.Dates[0].Value)
	}
	if e.Dates[0].Context == "" {
		t.Error("expected non-empty date context")
	}
}

func TestExtractDeterministic(t *testing.T) {
	email := &domain.Email{
		Subject: "RE: PO 0505915850 / XPS-9320-NB",
		Body:    "quote approved for $9,999.00, contact buyer@corp.example on 12/01/2026",
	}
	x := NewExtractor()
	first := x.Extract(email)
	second := x.Extract(email)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("extraction is not deterministic:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestExtractNoOverlappingSpans(t *testing.T) {
	// The PO digits must not also surface as a quote number or amount.
	e := extractText(t, "", "PO 5051234 needs review")
	if len(e.QuoteNumbers) != 0 {
		t.Errorf("PO span leaked into quote numbers: %v", e.QuoteNumbers)
	}
	if len(e.Amounts) != 0 {
		t.Errorf("PO span leaked into amounts: %v", e.Amounts)
	}
}
