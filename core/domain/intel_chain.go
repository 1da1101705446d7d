package domain

import "time"

// Completeness buckets a chain by how much of an end-to-end business
// workflow it represents.
type Completeness string

const (
	ChainComplete Completeness = "complete"
	ChainPartial  Completeness = "partial"
	ChainBroken   Completeness = "broken"
)

// Analysis phase tiers. Complete chains are cheap to analyze with rules;
// the less context a chain carries the heavier the model it is routed to.
const (
	PhaseRuleBased = 1
	PhaseMediumLLM = 2
	PhaseLargeLLM  = 3
)

// ChainBuckets holds the completeness thresholds. score >= Complete maps
// to complete, score >= Partial to partial, anything below to broken.
type ChainBuckets struct {
	Complete float64
	Partial  float64
}

// DefaultChainBuckets are the standard thresholds.
func DefaultChainBuckets() ChainBuckets {
	return ChainBuckets{Complete: 0.7, Partial: 0.3}
}

// Bucket maps a completeness score into its bucket.
func (b ChainBuckets) Bucket(score float64) Completeness {
	switch {
	case score >= b.Complete:
		return ChainComplete
	case score >= b.Partial:
		return ChainPartial
	default:
		return ChainBroken
	}
}

// PhaseFor maps a bucket to its recommended analysis phase.
func PhaseFor(c Completeness) int {
	switch c {
	case ChainComplete:
		return PhaseRuleBased
	case ChainPartial:
		return PhaseMediumLLM
	default:
		return PhaseLargeLLM
	}
}

// EmailChain is a conversation derived from one or more emails that share
// a conversation id or a normalized subject.
type EmailChain struct {
	ChainID           string       `json:"chain_id"`
	MemberIDs         []string     `json:"member_ids"` // ordered by received time
	Participants      []string     `json:"participants"`
	Completeness      Completeness `json:"completeness"`
	CompletenessScore float64      `json:"completeness_score"`
	WorkflowType      WorkflowType `json:"workflow_type"`
	RecommendedPhase  int          `json:"recommended_phase"`
	FirstMessageAt    time.Time    `json:"first_message_at"`
	LastMessageAt     time.Time    `json:"last_message_at"`
	EstimatedValue    float64      `json:"estimated_value,omitempty"`
}

// IsFirstMember reports whether emailID opened the chain.
func (c *EmailChain) IsFirstMember(emailID string) bool {
	return len(c.MemberIDs) > 0 && c.MemberIDs[0] == emailID
}

// Size returns the number of member emails.
func (c *EmailChain) Size() int {
	return len(c.MemberIDs)
}

// TimeSpanDays returns the spread between first and last message in days.
func (c *EmailChain) TimeSpanDays() float64 {
	if c.LastMessageAt.Before(c.FirstMessageAt) {
		return 0
	}
	return c.LastMessageAt.Sub(c.FirstMessageAt).Hours() / 24
}
