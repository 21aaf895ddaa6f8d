package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FetchTimeout is the default timeout for batch fetching messages from the
// durable consumer.
const FetchTimeout = 2 * time.Second

// Stream and subject constants.
const (
	StreamEvents       = "RECALL_EVENTS"
	SubjectMemoryEvent = "recall.events.memory"
)

// EventType enumerates memory lifecycle and query events.
type EventType string

const (
	EventCreated    EventType = "created"
	EventQueried    EventType = "queried"
	EventVoted      EventType = "voted"
	EventDeprecated EventType = "deprecated"
	EventDeleted    EventType = "deleted"
)

// Event is one append-only timeline entry. Purely observational: nothing
// reads it back to derive memory state.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	ProjectID string          `json:"project_id"`
	EventType EventType       `json:"event_type"`
	MemoryID  *uuid.UUID      `json:"memory_id,omitempty"`
	AgentID   string          `json:"agent_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Recorder appends events to the timeline. Implementations must never fail
// the request path: errors are logged and swallowed.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// ListParams filter the timeline listing.
type ListParams struct {
	EventType EventType
	MemoryID  *uuid.UUID
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}
