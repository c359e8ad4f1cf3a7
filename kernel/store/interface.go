package store

import (
	"context"
	"time"

	"github.com/rewindlabs/rewind/kernel/model"
)

// Store is the KV substrate shared by every subsystem. Task records route
// through the buffer; non-task keys have single well-defined writers.
// Redis backs production; MemoryStore backs tests.
type Store interface {
	// Task records (hash of task fields at task:<id>)
	SaveTask(ctx context.Context, t *model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error) // nil, nil when missing
	DeleteTask(ctx context.Context, id string) error

	// Index sets (status indexes, buckets, pending drafts)
	AddToSet(ctx context.Context, key string, members ...string) error
	RemoveFromSet(ctx context.Context, key string, members ...string) error
	SetMembers(ctx context.Context, key string) ([]string, error)

	// Plain values with optional TTL (0 = no expiry)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error) // "" when missing

	// Time-ordered records, newest first, capped at max entries
	PushRecord(ctx context.Context, key string, value string, max int64) error
	RecentRecords(ctx context.Context, key string, count int64) ([]string, error)

	// Pub/sub. The returned channel closes when ctx is cancelled.
	Publish(ctx context.Context, channel string, payload string) error
	Subscribe(ctx context.Context, channel string) (<-chan string, error)

	Close() error
}
