package store

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rewindlabs/rewind/kernel/model"
	"github.com/rewindlabs/rewind/kernel/observability"
)

// RedisStore implements the Store interface using Redis. Tasks are stored
// as hashes so single fields stay inspectable from the CLI.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func observe(start time.Time) {
	observability.StoreLatency.Observe(time.Since(start).Seconds())
}

// --- Task Records ---

func taskToFields(t *model.Task) map[string]interface{} {
	fields := map[string]interface{}{
		"id":                 t.ID,
		"title":              t.Title,
		"description":        t.Description,
		"priority":           int(t.Priority),
		"energy_cost":        t.EnergyCost,
		"estimated_duration": t.EstimatedDuration,
		"cognitive_load":     t.CognitiveLoad,
		"task_type":          t.TaskType,
		"status":             string(t.Status),
		"progress_notes":     t.ProgressNotes,
		"created_at":         t.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":         t.UpdatedAt.Format(time.RFC3339Nano),
		"deadline":           "",
		"preferred_start":    "",
	}
	if t.Deadline != nil {
		fields["deadline"] = t.Deadline.Format(time.RFC3339Nano)
	}
	if t.PreferredStart != nil {
		fields["preferred_start"] = t.PreferredStart.Format(time.RFC3339Nano)
	}
	return fields
}

func taskFromFields(fields map[string]string) (*model.Task, error) {
	if fields["id"] == "" {
		return nil, errors.New("task hash missing id field")
	}

	atoi := func(key string) int {
		n, _ := strconv.Atoi(fields[key])
		return n
	}
	parseTime := func(key string) *time.Time {
		if fields[key] == "" {
			return nil
		}
		ts, err := time.Parse(time.RFC3339Nano, fields[key])
		if err != nil {
			return nil
		}
		return &ts
	}

	t := &model.Task{
		ID:                fields["id"],
		Title:             fields["title"],
		Description:       fields["description"],
		Priority:          model.Priority(atoi("priority")),
		EnergyCost:        atoi("energy_cost"),
		EstimatedDuration: atoi("estimated_duration"),
		CognitiveLoad:     atoi("cognitive_load"),
		TaskType:          fields["task_type"],
		Status:            model.Status(fields["status"]),
		ProgressNotes:     fields["progress_notes"],
		Deadline:          parseTime("deadline"),
		PreferredStart:    parseTime("preferred_start"),
	}
	if created := parseTime("created_at"); created != nil {
		t.CreatedAt = *created
	}
	if updated := parseTime("updated_at"); updated != nil {
		t.UpdatedAt = *updated
	}
	return t, nil
}

func (s *RedisStore) SaveTask(ctx context.Context, t *model.Task) error {
	defer observe(time.Now())
	return s.client.HSet(ctx, TaskKey(t.ID), taskToFields(t)).Err()
}

func (s *RedisStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	defer observe(time.Now())
	fields, err := s.client.HGetAll(ctx, TaskKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil // Not found
	}
	return taskFromFields(fields)
}

func (s *RedisStore) DeleteTask(ctx context.Context, id string) error {
	defer observe(time.Now())
	return s.client.Del(ctx, TaskKey(id)).Err()
}

// --- Index Sets ---

func (s *RedisStore) AddToSet(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	defer observe(time.Now())
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.SAdd(ctx, key, args...).Err()
}

func (s *RedisStore) RemoveFromSet(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	defer observe(time.Now())
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.SRem(ctx, key, args...).Err()
}

func (s *RedisStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	defer observe(time.Now())
	return s.client.SMembers(ctx, key).Result()
}

// --- Plain Values ---

func (s *RedisStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	defer observe(time.Now())
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	defer observe(time.Now())
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil // Not found
	}
	return val, err
}

// --- Time-Ordered Records ---

func (s *RedisStore) PushRecord(ctx context.Context, key string, value string, max int64) error {
	defer observe(time.Now())
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, value)
	if max > 0 {
		pipe.LTrim(ctx, key, 0, max-1)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) RecentRecords(ctx context.Context, key string, count int64) ([]string, error) {
	defer observe(time.Now())
	if count <= 0 {
		count = -1
	}
	return s.client.LRange(ctx, key, 0, count-1).Result()
}

// --- Pub/Sub ---

func (s *RedisStore) Publish(ctx context.Context, channel string, payload string) error {
	defer observe(time.Now())
	return s.client.Publish(ctx, channel, payload).Err()
}

// Subscribe returns a channel of raw message payloads. The subscription
// is torn down when ctx is cancelled.
func (s *RedisStore) Subscribe(ctx context.Context, channel string) (<-chan string, error) {
	sub := s.client.Subscribe(ctx, channel)

	// Force the subscription to establish before we return
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}

	out := make(chan string, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				default:
					log.Printf("SUBSCRIBE %s: dropping message, consumer too slow", channel)
				}
			}
		}
	}()
	return out, nil
}
