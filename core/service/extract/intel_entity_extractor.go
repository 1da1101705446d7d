// Package extract implements regex-based business entity extraction.
// Extraction is a pure function: same text and pattern set, same output.
package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"mailintel_server/core/domain"
)

// Patterns are applied in declaration order; a span claimed by an earlier
// pattern is not retained by a later one.
var (
	poPattern     = regexp.MustCompile(`(?i)\b(?:P\.?O\.?|Purchase\s+Order)[\s#:.-]*(\d{5,12})\b`)
	quotePattern  = regexp.MustCompile(`(?i)\b(?:Quote|RFQ|Q)[\s#:.-]*(\d{5,12})\b`)
	spaPattern    = regexp.MustCompile(`(?i)\b(CAS-[A-Z0-9][A-Z0-9-]{5,})\b`)
	casePattern   = regexp.MustCompile(`(?i)\b(?:Case|Ticket|TS-|SR-|INC)[\s#:.-]*(\d+)\b`)
	partPattern   = regexp.MustCompile(`\b[A-Z0-9]{2,}-?[A-Z0-9]{2,}-?[A-Z0-9]*\b`)
	amountPattern = regexp.MustCompile(`\$\s*(\d{1,3}(?:,\d{3})+(?:\.\d{2})?|\d+(?:\.\d{2})?)|\b(\d+(?:,\d{3})*(?:\.\d+)?)\s*(?:USD|dollars)\b`)
	emailPattern  = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phonePattern  = regexp.MustCompile(`\(?\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`)
	datePattern   = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})[/-](\d{4})\b`)
)

// Extractor extracts Entities from email text. Stateless and safe for
// concurrent use.
type Extractor struct{}

// NewExtractor creates a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// span marks a claimed byte range on the scanned text.
type span struct{ start, end int }

func overlaps(claimed []span, start, end int) bool {
	for _, s := range claimed {
		if start < s.end && end > s.start {
			return true
		}
	}
	return false
}

// Extract scans the email's subject and body for business tokens.
// Part-number candidates are taken from the uppercased subject only.
func (x *Extractor) Extract(email *domain.Email) *domain.Entities {
	text := email.Text()
	entities := &domain.Entities{}
	var claimed []span

	claimed = x.collect(text, poPattern, 1, claimed, &entities.PONumbers)
	claimed = x.collect(text, quotePattern, 1, claimed, &entities.QuoteNumbers)
	claimed = x.collectUpper(text, spaPattern, 1, claimed, &entities.SPACodes)
	claimed = x.collect(text, casePattern, 1, claimed, &entities.CaseNumbers)
	claimed = x.collectParts(email.Subject, claimed, &entities.PartNumbers)
	claimed = x.collectAmounts(text, claimed, entities)
	claimed = x.collectContacts(text, claimed, entities)
	x.collectDates(text, claimed, entities)

	return entities
}

// collect appends the capture group of each non-overlapping match.
func (x *Extractor) collect(text string, re *regexp.Regexp, group int, claimed []span, out *[]string) []span {
	seen := make(map[string]struct{})
	for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
		if overlaps(claimed, m[0], m[1]) {
			continue
		}
		value := text[m[2*group]:m[2*group+1]]
		claimed = append(claimed, span{m[0], m[1]})
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		*out = append(*out, value)
	}
	return claimed
}

func (x *Extractor) collectUpper(text string, re *regexp.Regexp, group int, claimed []span, out *[]string) []span {
	var raw []string
	claimed = x.collect(text, re, group, claimed, &raw)
	seen := make(map[string]struct{})
	for _, v := range raw {
		u := strings.ToUpper(v)
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		*out = append(*out, u)
	}
	return claimed
}

// collectParts runs the part-number pattern over the uppercased subject.
// Candidates without a digit or hyphen are ordinary words, not part
// numbers; pure-numeric candidates belong to other patterns.
func (x *Extractor) collectParts(subject string, claimed []span, out *[]string) []span {
	upper := strings.ToUpper(subject)
	seen := make(map[string]struct{})
	for _, m := range partPattern.FindAllStringIndex(upper, -1) {
		if overlaps(claimed, m[0], m[1]) {
			continue
		}
		value := upper[m[0]:m[1]]
		if !isPartCandidate(value) {
			continue
		}
		claimed = append(claimed, span{m[0], m[1]})
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		*out = append(*out, value)
	}
	return claimed
}

func isPartCandidate(s string) bool {
	hasDigit, hasAlpha, hasHyphen := false, false, false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r == '-':
			hasHyphen = true
		default:
			hasAlpha = true
		}
	}
	if !hasAlpha {
		return false // pure numbers are POs, quotes or dates
	}
	return hasDigit || hasHyphen
}

func (x *Extractor) collectAmounts(text string, claimed []span, entities *domain.Entities) []span {
	seen := make(map[float64]struct{})
	for _, m := range amountPattern.FindAllStringSubmatchIndex(text, -1) {
		if overlaps(claimed, m[0], m[1]) {
			continue
		}
		var numeric string
		if m[2] >= 0 {
			numeric = text[m[2]:m[3]]
		} else if m[4] >= 0 {
			numeric = text[m[4]:m[5]]
		}
		value, err := strconv.ParseFloat(strings.ReplaceAll(numeric, ",", ""), 64)
		if err != nil {
			continue
		}
		claimed = append(claimed, span{m[0], m[1]})
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		entities.Amounts = append(entities.Amounts, domain.Amount{Value: value, Currency: "USD"})
	}
	return claimed
}

func (x *Extractor) collectContacts(text string, claimed []span, entities *domain.Entities) []span {
	seen := make(map[string]struct{})
	for _, m := range emailPattern.FindAllStringIndex(text, -1) {
		if overlaps(claimed, m[0], m[1]) {
			continue
		}
		value := strings.ToLower(text[m[0]:m[1]])
		claimed = append(claimed, span{m[0], m[1]})
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		entities.Contacts = append(entities.Contacts, domain.Contact{Value: value, Kind: domain.ContactEmail})
	}
	for _, m := range phonePattern.FindAllStringIndex(text, -1) {
		if overlaps(claimed, m[0], m[1]) {
			continue
		}
		value := text[m[0]:m[1]]
		claimed = append(claimed, span{m[0], m[1]})
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		entities.Contacts = append(entities.Contacts, domain.Contact{Value: value, Kind: domain.ContactPhone})
	}
	return claimed
}

func (x *Extractor) collectDates(text string, claimed []span, entities *domain.Entities) {
	seen := make(map[time.Time]struct{})
	for _, m := range datePattern.FindAllStringSubmatchIndex(text, -1) {
		if overlaps(claimed, m[0], m[1]) {
			continue
		}
		month, _ := strconv.Atoi(text[m[2]:m[3]])
		day, _ := strconv.Atoi(text[m[4]:m[5]])
		year, _ := strconv.Atoi(text[m[6]:m[7]])
		if month < 1 || month > 12 || day < 1 || day > 31 {
			continue
		}
		value := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		claimed = append(claimed, span{m[0], m[1]})
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		entities.Dates = append(entities.Dates, domain.DateRef{
			Value:   value,
			Context: dateContext(text, m[0], m[1]),
		})
	}
}

// dateContext returns up to 30 characters of text around a date match.
func dateContext(text string, start, end int) string {
	lo := start - 15
	if lo < 0 {
		lo = 0
	}
	hi := end + 15
	if hi > len(text) {
		hi = len(text)
	}
	return strings.TrimSpace(strings.Join(strings.Fields(text[lo:hi]), " "))
}

// AmountsContain reports whether value appears in the amount list.
func AmountsContain(amounts []domain.Amount, value float64) bool {
	for _, a := range amounts {
		if a.Value == value {
			return true
		}
	}
	return false
}
