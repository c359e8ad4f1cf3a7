package streaming

import (
	"context"
	"time"
)

// Event is one published kernel event.
type Event struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Payload   []byte    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Publisher fans kernel events out to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
	Close() error
}
