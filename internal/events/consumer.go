package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"
)

// Consumer listens on the memory event subject and persists entries to the
// database. Blocks until ctx is cancelled.
type Consumer struct {
	repo *Repository
	js   jetstream.JetStream
}

func NewConsumer(repo *Repository, js jetstream.JetStream) *Consumer {
	return &Consumer{repo: repo, js: js}
}

func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, StreamEvents, jetstream.ConsumerConfig{
		Durable:       "event-persister",
		FilterSubject: SubjectMemoryEvent,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("ensuring consumer event-persister on %s: %w", StreamEvents, err)
	}

	slog.Info("event consumer started", "consumer", "event-persister")

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("event consumer: fetching events", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleEvent(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) handleEvent(ctx context.Context, msg jetstream.Msg) {
	var ev Event
	if err := json.Unmarshal(msg.Data(), &ev); err != nil {
		slog.Error("event consumer: unmarshaling event", "error", err)
		_ = msg.Nak()
		return
	}

	if err := c.repo.Insert(ctx, &ev); err != nil {
		slog.Error("event consumer: persisting event", "error", err, "event_type", ev.EventType)
		_ = msg.Nak()
		return
	}

	_ = msg.Ack()

	slog.Debug("event consumer: persisted event",
		"event_type", ev.EventType,
		"project_id", ev.ProjectID,
		"memory_id", ev.MemoryID,
	)
}
