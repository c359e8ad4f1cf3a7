package streaming

import (
	"context"
	"encoding/json"

	"github.com/rewindlabs/rewind/kernel/store"
)

// SubstratePublisher pushes events through the KV substrate's pub/sub,
// so other processes (and the WS relay) can consume them.
type SubstratePublisher struct {
	store store.Store
}

func NewSubstratePublisher(s store.Store) *SubstratePublisher {
	return &SubstratePublisher{store: s}
}

func (p *SubstratePublisher) Publish(ctx context.Context, topic string, payload interface{}) error {
	event, err := newEvent(topic, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.store.Publish(ctx, topic, string(data))
}

func (p *SubstratePublisher) Close() error {
	return nil
}
