package voting

import (
	"time"

	"github.com/google/uuid"
)

// Vote kinds. The wire format is a plain string validated against this
// closed set.
const (
	VoteHelpful = "helpful"
	VoteHarmful = "harmful"
)

// VoteRequest is the wire DTO for casting a vote.
type VoteRequest struct {
	Vote    string `json:"vote" validate:"required,oneof=helpful harmful"`
	AgentID string `json:"agent_id,omitempty" validate:"max=128"`
	Reason  string `json:"reason,omitempty" validate:"max=1024"`
}

// VoteRecord is an immutable row in memory_votes; votes are never retracted.
type VoteRecord struct {
	ID        uuid.UUID `json:"id"`
	MemoryID  uuid.UUID `json:"memory_id"`
	ProjectID string    `json:"project_id"`
	AgentID   string    `json:"agent_id,omitempty"`
	Vote      string    `json:"vote"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// VoteResult returns the post-vote counters and the recomputed score.
type VoteResult struct {
	MemoryID      uuid.UUID `json:"memory_id"`
	BulletHelpful int64     `json:"bullet_helpful"`
	BulletHarmful int64     `json:"bullet_harmful"`
	Effectiveness float64   `json:"effectiveness"`
}

// Curation advice values.
const (
	AdviceKeep         = "keep"
	AdviceReview       = "review"
	AdviceInsufficient = "insufficient_data"
)

// CurationEntry is one voted-on memory in the curation report.
type CurationEntry struct {
	MemoryID      uuid.UUID `json:"memory_id"`
	MemoryType    string    `json:"memory_type"`
	AgentID       string    `json:"agent_id,omitempty"`
	Scope         string    `json:"scope"`
	Helpful       int64     `json:"helpful"`
	Harmful       int64     `json:"harmful"`
	Samples       int64     `json:"samples"`
	Effectiveness float64   `json:"effectiveness"`
	SmoothedScore float64   `json:"smoothed_score"`
	Advice        string    `json:"advice"`
}

// CurationReport is advisory only: nothing is deprecated automatically.
type CurationReport struct {
	Entries      []CurationEntry `json:"entries"`
	TotalVoted   int             `json:"total_voted"`
	ReviewCount  int             `json:"review_count"`
	KeepCount    int             `json:"keep_count"`
	Insufficient int             `json:"insufficient_count"`
}
