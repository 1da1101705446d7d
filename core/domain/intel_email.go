package domain

import "time"

// RecordState tracks an email through the analysis pipeline.
// pending → processing → (analyzed | failed | timeout); failed and timeout
// rows are claimed again by the next run.
type RecordState string

const (
	StatePending    RecordState = "pending"
	StateProcessing RecordState = "processing"
	StateAnalyzed   RecordState = "analyzed"
	StateFailed     RecordState = "failed"
	StateTimeout    RecordState = "timeout"
)

// Importance is the advisory flag carried over from the mail provider.
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceNormal Importance = "normal"
	ImportanceHigh   Importance = "high"
)

// Email is a raw ingested message. Immutable within a run.
type Email struct {
	ID             string     `json:"id"`
	Subject        string     `json:"subject"`
	Body           string     `json:"body"`
	Sender         string     `json:"sender"`
	Recipients     []string   `json:"recipients"`
	ReceivedAt     time.Time  `json:"received_at"`
	ConversationID string     `json:"conversation_id,omitempty"`
	HasAttachments bool       `json:"has_attachments"`
	Importance     Importance `json:"importance,omitempty"`
}

// Text returns the concatenation of subject and body, the input surface
// for entity extraction and classification.
func (e *Email) Text() string {
	if e.Subject == "" {
		return e.Body
	}
	return e.Subject + "\n" + e.Body
}

// EmailRecord is an Email plus its persisted pipeline state.
type EmailRecord struct {
	Email

	State            RecordState  `json:"state"`
	ChainID          string       `json:"chain_id,omitempty"`
	ChainScore       float64      `json:"chain_completeness_score"`
	ChainBucket      Completeness `json:"chain_bucket,omitempty"`
	RecommendedPhase int          `json:"recommended_phase"`
	PhaseUsed        int          `json:"phase_used,omitempty"`
	WorkerID         string       `json:"worker_id,omitempty"`
	AnalyzedAt       *time.Time   `json:"analyzed_at,omitempty"`
	ClaimedAt        *time.Time   `json:"claimed_at,omitempty"`
}
