package memory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Scope is the visibility tier of a memory. Closed enum: exactly three
// variants.
type Scope string

const (
	ScopeAgentPrivate Scope = "agent-private"
	ScopeAgentShared  Scope = "agent-shared"
	ScopeGlobal       Scope = "global"
)

// ParseScope validates a wire-format scope string. Empty input is not an
// error here; it means "infer".
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeAgentPrivate, ScopeAgentShared, ScopeGlobal:
		return Scope(s), nil
	case "":
		return "", nil
	}
	return "", fmt.Errorf("invalid scope %q", s)
}

// MemoryType is an open, validated string enum. The constants below are the
// types the system knows how to treat specially; unknown lowercase tokens
// are accepted so deployments can extend the set without a redeploy.
type MemoryType string

const (
	TypeStandard   MemoryType = "standard"
	TypeReflection MemoryType = "reflection"
	TypeStrategy   MemoryType = "strategy"
	TypeEpisodic   MemoryType = "episodic"
	TypeSemantic   MemoryType = "semantic"
	TypeProcedural MemoryType = "procedural"
	TypeControl    MemoryType = "control"
)

// ParseMemoryType validates a memory type token. Empty defaults to standard.
func ParseMemoryType(s string) (MemoryType, error) {
	if s == "" {
		return TypeStandard, nil
	}
	if len(s) > 64 {
		return "", fmt.Errorf("memory type too long: %q", s)
	}
	for _, c := range s {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '_' && c != '-' {
			return "", fmt.Errorf("invalid memory type %q", s)
		}
	}
	return MemoryType(s), nil
}

// Memory is a row in the memories table. Content and embedding are
// immutable after creation; corrections go through deprecate+supersede.
type Memory struct {
	ID        uuid.UUID `json:"id"`
	ProjectID string    `json:"project_id"`
	Namespace string    `json:"namespace"`

	// AgentID and UserID are the owner key; empty string means unset.
	AgentID string `json:"agent_id,omitempty"`
	UserID  string `json:"user_id,omitempty"`

	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	Embedding   []float32 `json:"embedding,omitempty"`

	MemoryType MemoryType `json:"memory_type"`
	Scope      Scope      `json:"scope"`

	SharedWithAgents  []string        `json:"shared_with_agents,omitempty"`
	DerivedFromAgents []string        `json:"derived_from_agents,omitempty"`
	CoordinationMeta  json.RawMessage `json:"coordination_metadata,omitempty"`

	SourceTrajectoryID string `json:"source_trajectory_id,omitempty"`
	ErrorPattern       string `json:"error_pattern,omitempty"`

	BulletHelpful int64 `json:"bullet_helpful"`
	BulletHarmful int64 `json:"bullet_harmful"`

	IsDeprecated bool       `json:"is_deprecated"`
	DeprecatedAt *time.Time `json:"deprecated_at,omitempty"`
	DeprecatedBy string     `json:"deprecated_by,omitempty"`
	SupersededBy *uuid.UUID `json:"superseded_by,omitempty"`

	SessionID      string `json:"session_id,omitempty"`
	SequenceNumber *int64 `json:"sequence_number,omitempty"`
	EntityID       string `json:"entity_id,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Effectiveness is (helpful - harmful) / (helpful + harmful + 1), bounded
// in (-1, 1). Always recomputed from the counters, never persisted.
func (m *Memory) Effectiveness() float64 {
	return EffectivenessScore(m.BulletHelpful, m.BulletHarmful)
}

func EffectivenessScore(helpful, harmful int64) float64 {
	return float64(helpful-harmful) / float64(helpful+harmful+1)
}

// AddRequest is the write-path DTO for a single memory.
type AddRequest struct {
	Content   string `json:"content" validate:"required,min=1,max=100000"`
	Namespace string `json:"namespace" validate:"required,min=1,max=128"`
	AgentID   string `json:"agent_id,omitempty" validate:"max=128"`
	UserID    string `json:"user_id,omitempty" validate:"max=128"`

	MemoryType string `json:"memory_type,omitempty"`
	Scope      string `json:"scope,omitempty"`

	SharedWithAgents  []string        `json:"shared_with_agents,omitempty" validate:"max=64,dive,min=1,max=128"`
	DerivedFromAgents []string        `json:"derived_from_agents,omitempty" validate:"max=64,dive,min=1,max=128"`
	CoordinationMeta  json.RawMessage `json:"coordination_metadata,omitempty"`

	SourceTrajectoryID string `json:"source_trajectory_id,omitempty" validate:"max=256"`
	ErrorPattern       string `json:"error_pattern,omitempty" validate:"max=1024"`

	SessionID      string `json:"session_id,omitempty" validate:"max=128"`
	SequenceNumber *int64 `json:"sequence_number,omitempty"`
	EntityID       string `json:"entity_id,omitempty" validate:"max=128"`

	// TTLSeconds is converted once, at write time, into an absolute
	// expires_at timestamp.
	TTLSeconds int64 `json:"ttl_seconds,omitempty" validate:"min=0"`
}

// AddResult reports the outcome of a single add. DedupedFrom is set when
// identical content already existed for the same owner key.
type AddResult struct {
	ID            uuid.UUID  `json:"id"`
	DedupedFrom   *uuid.UUID `json:"deduped_from,omitempty"`
	InferredScope Scope      `json:"inferred_scope,omitempty"`
}

// BatchAddRequest caps at 100 items; per-item failures do not abort the
// batch.
type BatchAddRequest struct {
	Items []AddRequest `json:"items" validate:"required,min=1,max=100"`
}

type BatchItemResult struct {
	Index       int        `json:"index"`
	ID          *uuid.UUID `json:"id,omitempty"`
	DedupedFrom *uuid.UUID `json:"deduped_from,omitempty"`
	Error       string     `json:"error,omitempty"`
}

type BatchAddResult struct {
	Results   []BatchItemResult `json:"results"`
	CacheHits int               `json:"cache_hits"`
	ElapsedMs int64             `json:"elapsed_ms"`
}

// QueryRequest is the semantic-search DTO.
type QueryRequest struct {
	Query     string `json:"query" validate:"required,min=1,max=100000"`
	Namespace string `json:"namespace" validate:"required,min=1,max=128"`
	AgentID   string `json:"agent_id,omitempty" validate:"max=128"`

	TopK     int     `json:"top_k,omitempty" validate:"min=0,max=100"`
	MinScore float64 `json:"min_score,omitempty"`

	MemoryTypes       []string `json:"memory_types,omitempty" validate:"max=16"`
	IncludeDeprecated bool     `json:"include_deprecated,omitempty"`
}

// CrossAgentQueryRequest fans a query out across explicitly named peers;
// access control still applies on top of the target restriction.
type CrossAgentQueryRequest struct {
	QueryRequest
	RequestingAgentID string   `json:"requesting_agent_id" validate:"required,min=1,max=128"`
	TargetAgentIDs    []string `json:"target_agent_ids,omitempty" validate:"max=64,dive,min=1,max=128"`
}

// SearchResult pairs a memory with its cosine similarity score.
type SearchResult struct {
	Memory Memory  `json:"memory"`
	Score  float64 `json:"score"`
}

// DeprecateRequest soft-deletes a memory, optionally pointing at its
// replacement.
type DeprecateRequest struct {
	DeprecatedBy string     `json:"deprecated_by,omitempty" validate:"max=128"`
	SupersededBy *uuid.UUID `json:"superseded_by,omitempty"`
	Reason       string     `json:"reason,omitempty" validate:"max=1024"`
}

// Delta ops. Each op is independent; a failed op reports its error in its
// slot and the rest proceed.
const (
	DeltaOpAdd       = "add"
	DeltaOpUpdate    = "update"
	DeltaOpDeprecate = "deprecate"
)

type DeltaOp struct {
	Op        string            `json:"op" validate:"required,oneof=add update deprecate"`
	Add       *AddRequest       `json:"add,omitempty"`
	Update    *UpdateOp         `json:"update,omitempty"`
	Deprecate *DeprecateDeltaOp `json:"deprecate,omitempty"`
}

// UpdateOp patches mutable metadata. Content and embedding are not
// patchable.
type UpdateOp struct {
	ID               uuid.UUID       `json:"id" validate:"required"`
	CoordinationMeta json.RawMessage `json:"coordination_metadata,omitempty"`
	SharedWithAgents []string        `json:"shared_with_agents,omitempty" validate:"max=64,dive,min=1,max=128"`
}

type DeprecateDeltaOp struct {
	ID           uuid.UUID  `json:"id" validate:"required"`
	DeprecatedBy string     `json:"deprecated_by,omitempty" validate:"max=128"`
	SupersededBy *uuid.UUID `json:"superseded_by,omitempty"`
	Reason       string     `json:"reason,omitempty" validate:"max=1024"`
}

type DeltaRequest struct {
	Ops []DeltaOp `json:"ops" validate:"required,min=1,max=100"`
}

type DeltaOpResult struct {
	Index int        `json:"index"`
	Op    string     `json:"op"`
	ID    *uuid.UUID `json:"id,omitempty"`
	Error string     `json:"error,omitempty"`
}

// ExportParams filter the export stream.
type ExportParams struct {
	Namespace         string
	AgentID           string
	IncludeEmbeddings bool
}
