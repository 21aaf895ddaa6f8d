package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventSerializationRoundTrip(t *testing.T) {
	memID := uuid.New()
	ev := Event{
		ID:        uuid.New(),
		ProjectID: "proj-a",
		EventType: EventCreated,
		MemoryID:  &memID,
		AgentID:   "agent-1",
		Payload:   Payload(map[string]any{"namespace": "ops", "scope": "global"}),
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, ev.ID, decoded.ID)
	assert.Equal(t, ev.ProjectID, decoded.ProjectID)
	assert.Equal(t, EventCreated, decoded.EventType)
	require.NotNil(t, decoded.MemoryID)
	assert.Equal(t, memID, *decoded.MemoryID)
	assert.Equal(t, "agent-1", decoded.AgentID)
	assert.True(t, ev.CreatedAt.Equal(decoded.CreatedAt))

	var payload map[string]string
	require.NoError(t, json.Unmarshal(decoded.Payload, &payload))
	assert.Equal(t, "ops", payload["namespace"])
}

func TestEventOmitsEmptyFields(t *testing.T) {
	ev := Event{ID: uuid.New(), ProjectID: "proj-a", EventType: EventQueried, CreatedAt: time.Now()}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	assert.NotContains(t, string(data), "memory_id")
	assert.NotContains(t, string(data), "agent_id")
}

func TestFillAssignsIDAndTimestamp(t *testing.T) {
	ev := Event{ProjectID: "proj-a", EventType: EventDeleted}
	fill(&ev)
	assert.NotEqual(t, uuid.Nil, ev.ID)
	assert.False(t, ev.CreatedAt.IsZero())

	// Existing values are preserved.
	fixed := ev
	fill(&fixed)
	assert.Equal(t, ev.ID, fixed.ID)
	assert.Equal(t, ev.CreatedAt, fixed.CreatedAt)
}

func TestPayloadMarshalsPairs(t *testing.T) {
	p := Payload(map[string]any{"top_k": 10, "results": 3})
	var decoded map[string]int
	require.NoError(t, json.Unmarshal(p, &decoded))
	assert.Equal(t, 10, decoded["top_k"])
	assert.Equal(t, 3, decoded["results"])
}
