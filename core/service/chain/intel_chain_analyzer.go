// Package chain groups raw emails into conversation chains, scores each
// chain's completeness and assigns the recommended analysis phase.
package chain

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"sort"
	"strings"

	"mailintel_server/core/domain"
	"mailintel_server/core/service/classify"
	"mailintel_server/core/service/extract"
)

var (
	replyPrefixPattern = regexp.MustCompile(`(?i)^(?:(?:re|fw|fwd|aw)\s*:\s*)+`)
	bracketPattern     = regexp.MustCompile(`\[[^\]]*\]`)
	whitespacePattern  = regexp.MustCompile(`\s+`)
)

// NormalizeSubject strips reply/forward prefixes and bracketed tokens,
// collapses whitespace and lowercases. Deterministic; chain identity
// depends on it.
func NormalizeSubject(subject string) string {
	s := replyPrefixPattern.ReplaceAllString(subject, "")
	s = bracketPattern.ReplaceAllString(s, " ")
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

// ChainID derives the stable chain id from the normalized subject and the
// conversation id. FNV-1a, no salt, so re-runs produce identical ids.
func ChainID(normalizedSubject, conversationID string) string {
	h := fnv.New64a()
	h.Write([]byte(normalizedSubject))
	h.Write([]byte{0})
	h.Write([]byte(conversationID))
	return fmt.Sprintf("chain-%016x", h.Sum64())
}

// ScoreWeights are the completeness scoring caps and increments.
type ScoreWeights struct {
	ParticipantCap  float64
	ParticipantStep float64
	VolumeCap       float64
	VolumeStep      float64
	SpanCap         float64
	SpanStep        float64
	ResolutionCap   float64
	ResolutionStep  float64
}

// DefaultScoreWeights returns the standard weights.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		ParticipantCap: 0.15, ParticipantStep: 0.15,
		VolumeCap: 0.25, VolumeStep: 0.05,
		SpanCap: 0.15, SpanStep: 0.02,
		ResolutionCap: 0.30, ResolutionStep: 0.10,
	}
}

// ValueMultipliers scale the business value estimate.
type ValueMultipliers struct {
	Workflow     map[domain.WorkflowType]float64
	Completeness map[domain.Completeness]float64
}

// DefaultValueMultipliers returns the standard multiplier tables.
func DefaultValueMultipliers() ValueMultipliers {
	return ValueMultipliers{
		Workflow: map[domain.WorkflowType]float64{
			domain.WorkflowQuoteRequest:     1.2,
			domain.WorkflowOrderProcessing:  1.5,
			domain.WorkflowPricingAgreement: 1.3,
			domain.WorkflowDealRegistration: 1.4,
			domain.WorkflowInvoice:          1.0,
			domain.WorkflowGeneralInquiry:   0.8,
		},
		Completeness: map[domain.Completeness]float64{
			domain.ChainComplete: 1.0,
			domain.ChainPartial:  0.7,
			domain.ChainBroken:   0.4,
		},
	}
}

// Analyzer groups emails and computes chain completeness. Pure given its
// configuration; safe for concurrent use.
type Analyzer struct {
	buckets     domain.ChainBuckets
	weights     ScoreWeights
	multipliers ValueMultipliers
	indicators  []string
	classifier  *classify.Classifier
	extractor   *extract.Extractor
}

// NewAnalyzer creates an Analyzer. Zero-value buckets select the defaults.
func NewAnalyzer(buckets domain.ChainBuckets) *Analyzer {
	if buckets.Complete == 0 && buckets.Partial == 0 {
		buckets = domain.DefaultChainBuckets()
	}
	return &Analyzer{
		buckets:     buckets,
		weights:     DefaultScoreWeights(),
		multipliers: DefaultValueMultipliers(),
		indicators:  classify.DefaultResolutionIndicators(),
		classifier:  classify.NewClassifier(nil),
		extractor:   extract.NewExtractor(),
	}
}

// BuildChains groups the emails into chains and scores each one. Every
// input email lands in exactly one chain; the result is ordered by chain id
// so repeated runs over the same inputs are byte-identical.
func (a *Analyzer) BuildChains(emails []*domain.Email) []*domain.EmailChain {
	groups := a.group(emails)

	chains := make([]*domain.EmailChain, 0, len(groups))
	for _, members := range groups {
		chains = append(chains, a.analyzeGroup(members))
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i].ChainID < chains[j].ChainID })
	return chains
}

// group buckets emails by conversation id, merging buckets that share a
// normalized subject. Emails carrying neither form singleton chains.
func (a *Analyzer) group(emails []*domain.Email) [][]*domain.Email {
	// Stable input order regardless of caller.
	sorted := make([]*domain.Email, len(emails))
	copy(sorted, emails)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].ReceivedAt.Equal(sorted[j].ReceivedAt) {
			return sorted[i].ReceivedAt.Before(sorted[j].ReceivedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	keyOf := make(map[string]int)   // bucket key -> group index
	var groups [][]*domain.Email

	assign := func(email *domain.Email, keys []string) {
		idx := -1
		for _, k := range keys {
			if g, ok := keyOf[k]; ok {
				idx = g
				break
			}
		}
		if idx == -1 {
			idx = len(groups)
			groups = append(groups, nil)
		}
		groups[idx] = append(groups[idx], email)
		for _, k := range keys {
			keyOf[k] = idx
		}
	}

	for _, email := range sorted {
		var keys []string
		if email.ConversationID != "" {
			keys = append(keys, "conv:"+email.ConversationID)
		}
		if norm := NormalizeSubject(email.Subject); norm != "" {
			keys = append(keys, "subj:"+norm)
		}
		if len(keys) == 0 {
			keys = []string{"solo:" + email.ID}
		}
		assign(email, keys)
	}
	return groups
}

// analyzeGroup scores one member group. Members arrive time-ordered.
func (a *Analyzer) analyzeGroup(members []*domain.Email) *domain.EmailChain {
	first := members[0]
	last := members[len(members)-1]

	chain := &domain.EmailChain{
		ChainID:        ChainID(NormalizeSubject(first.Subject), first.ConversationID),
		FirstMessageAt: first.ReceivedAt,
		LastMessageAt:  last.ReceivedAt,
	}

	participants := make(map[string]struct{})
	resolutions := 0
	var combined strings.Builder
	var maxAmount float64
	for _, e := range members {
		chain.MemberIDs = append(chain.MemberIDs, e.ID)
		participants[strings.ToLower(e.Sender)] = struct{}{}
		for _, r := range e.Recipients {
			participants[strings.ToLower(r)] = struct{}{}
		}
		resolutions += classify.CountResolutionIndicators(e.Text(), a.indicators)
		combined.WriteString(e.Text())
		combined.WriteString("\n")
		if m := a.extractor.Extract(e).MaxAmount(); m > maxAmount {
			maxAmount = m
		}
	}
	for p := range participants {
		chain.Participants = append(chain.Participants, p)
	}
	sort.Strings(chain.Participants)

	chain.CompletenessScore = a.score(len(participants), len(members), chain.TimeSpanDays(), resolutions)
	chain.Completeness = a.buckets.Bucket(chain.CompletenessScore)
	chain.RecommendedPhase = domain.PhaseFor(chain.Completeness)
	chain.WorkflowType = a.classifier.Classify(combined.String())
	chain.EstimatedValue = a.estimateValue(maxAmount, chain.WorkflowType, chain.Completeness)
	return chain
}

// score implements the bounded completeness formula.
func (a *Analyzer) score(participants, volume int, spanDays float64, resolutions int) float64 {
	w := a.weights
	score := capped(w.ParticipantStep*float64(participants-1), w.ParticipantCap) +
		capped(w.VolumeStep*float64(volume), w.VolumeCap) +
		capped(w.SpanStep*spanDays, w.SpanCap) +
		capped(w.ResolutionStep*float64(resolutions), w.ResolutionCap)
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

func capped(v, limit float64) float64 {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}

func (a *Analyzer) estimateValue(maxAmount float64, wt domain.WorkflowType, c domain.Completeness) float64 {
	if maxAmount == 0 {
		return 0
	}
	wm, ok := a.multipliers.Workflow[wt]
	if !ok {
		wm = 1.0
	}
	cm, ok := a.multipliers.Completeness[c]
	if !ok {
		cm = 1.0
	}
	return maxAmount * wm * cm
}
