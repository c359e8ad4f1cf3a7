package streaming

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
)

const eventSource = "kernel"

// LogPublisher writes events to the process log. Used in development and
// wherever no substrate is wired.
type LogPublisher struct {
	logger *log.Logger
}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{
		logger: log.Default(),
	}
}

func (p *LogPublisher) Publish(ctx context.Context, topic string, payload interface{}) error {
	event, err := newEvent(topic, payload)
	if err != nil {
		return err
	}
	eventBytes, _ := json.Marshal(event)
	p.logger.Printf("[STREAMING] PUBLISH %s: %s", topic, string(eventBytes))
	return nil
}

func (p *LogPublisher) Close() error {
	p.logger.Println("[STREAMING] Closed LogPublisher")
	return nil
}

func newEvent(topic string, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   data,
		Timestamp: time.Now(),
		Source:    eventSource,
	}, nil
}
