package domain

import "time"

// ContactKind distinguishes extracted contact tokens.
type ContactKind string

const (
	ContactEmail ContactKind = "email"
	ContactPhone ContactKind = "phone"
)

// Amount is a monetary value found in email text.
type Amount struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
}

// DateRef is a date found in email text together with the words around it.
type DateRef struct {
	Value   time.Time `json:"value"`
	Context string    `json:"context,omitempty"`
}

// Contact is an address or phone number found in email text.
type Contact struct {
	Value string      `json:"value"`
	Kind  ContactKind `json:"kind"`
}

// Entities holds every business token extracted from a single email.
// Extraction is a pure function of the text: same input, same output,
// first-occurrence order, no duplicates.
type Entities struct {
	PONumbers    []string  `json:"po_numbers"`
	QuoteNumbers []string  `json:"quote_numbers"`
	SPACodes     []string  `json:"spa_codes"`
	CaseNumbers  []string  `json:"case_numbers"`
	PartNumbers  []string  `json:"part_numbers"`
	Amounts      []Amount  `json:"amounts"`
	Dates        []DateRef `json:"dates"`
	Contacts     []Contact `json:"contacts"`
}

// Count returns the total number of extracted tokens across all kinds.
func (e *Entities) Count() int {
	return len(e.PONumbers) + len(e.QuoteNumbers) + len(e.SPACodes) +
		len(e.CaseNumbers) + len(e.PartNumbers) + len(e.Amounts) +
		len(e.Dates) + len(e.Contacts)
}

// IsEmpty reports whether nothing was extracted.
func (e *Entities) IsEmpty() bool {
	return e.Count() == 0
}

// MaxAmount returns the largest amount value, or 0 when none were found.
func (e *Entities) MaxAmount() float64 {
	var max float64
	for _, a := range e.Amounts {
		if a.Value > max {
			max = a.Value
		}
	}
	return max
}

// Merge unions other into e, preserving e's ordering and dedup guarantees.
// Used to apply the regex floor on top of LLM-provided entities.
func (e *Entities) Merge(other *Entities) {
	if other == nil {
		return
	}
	e.PONumbers = unionStrings(e.PONumbers, other.PONumbers)
	e.QuoteNumbers = unionStrings(e.QuoteNumbers, other.QuoteNumbers)
	e.SPACodes = unionStrings(e.SPACodes, other.SPACodes)
	e.CaseNumbers = unionStrings(e.CaseNumbers, other.CaseNumbers)
	e.PartNumbers = unionStrings(e.PartNumbers, other.PartNumbers)
	e.Amounts = unionAmounts(e.Amounts, other.Amounts)
	e.Dates = append(e.Dates, missingDates(e.Dates, other.Dates)...)
	e.Contacts = unionContacts(e.Contacts, other.Contacts)
}

func unionStrings(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base))
	for _, s := range base {
		seen[s] = struct{}{}
	}
	for _, s := range extra {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			base = append(base, s)
		}
	}
	return base
}

func unionAmounts(base, extra []Amount) []Amount {
	seen := make(map[float64]struct{}, len(base))
	for _, a := range base {
		seen[a.Value] = struct{}{}
	}
	for _, a := range extra {
		if _, ok := seen[a.Value]; !ok {
			seen[a.Value] = struct{}{}
			base = append(base, a)
		}
	}
	return base
}

func missingDates(base, extra []DateRef) []DateRef {
	seen := make(map[time.Time]struct{}, len(base))
	for _, d := range base {
		seen[d.Value] = struct{}{}
	}
	var out []DateRef
	for _, d := range extra {
		if _, ok := seen[d.Value]; !ok {
			seen[d.Value] = struct{}{}
			out = append(out, d)
		}
	}
	return out
}

func unionContacts(base, extra []Contact) []Contact {
	seen := make(map[string]struct{}, len(base))
	for _, c := range base {
		seen[c.Value] = struct{}{}
	}
	for _, c := range extra {
		if _, ok := seen[c.Value]; !ok {
			seen[c.Value] = struct{}{}
			base = append(base, c)
		}
	}
	return base
}
