package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSRecorder publishes events to JetStream; a durable consumer persists
// them to the database out of the request path.
type NATSRecorder struct {
	js jetstream.JetStream
}

func NewNATSRecorder(js jetstream.JetStream) *NATSRecorder {
	return &NATSRecorder{js: js}
}

func (r *NATSRecorder) Record(ctx context.Context, ev Event) {
	fill(&ev)
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshaling event", "error", err, "event_type", ev.EventType)
		return
	}
	if _, err := r.js.Publish(ctx, SubjectMemoryEvent, payload); err != nil {
		slog.Error("publishing event", "error", err, "event_type", ev.EventType)
	}
}

// DirectRecorder writes events straight to the database. Used when NATS is
// not configured.
type DirectRecorder struct {
	repo *Repository
}

func NewDirectRecorder(repo *Repository) *DirectRecorder {
	return &DirectRecorder{repo: repo}
}

func (r *DirectRecorder) Record(ctx context.Context, ev Event) {
	fill(&ev)
	if err := r.repo.Insert(ctx, &ev); err != nil {
		slog.Error("persisting event", "error", err, "event_type", ev.EventType)
	}
}

func fill(ev *Event) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
}

// Payload builds the jsonb payload for an event from key/value pairs.
func Payload(pairs map[string]any) json.RawMessage {
	data, err := json.Marshal(pairs)
	if err != nil {
		return json.RawMessage(fmt.Sprintf(`{"marshal_error":%q}`, err.Error()))
	}
	return data
}
