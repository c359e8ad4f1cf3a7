package store

import (
	"context"
	"sync"
	"time"

	"github.com/rewindlabs/rewind/kernel/model"
)

// MemoryStore implements the Store interface in process memory.
// Used by tests and single-node dev mode.
type MemoryStore struct {
	mu      sync.RWMutex
	tasks   map[string]*model.Task
	sets    map[string]map[string]bool
	values  map[string]memValue
	lists   map[string][]string
	subs    map[string][]chan string
	subLock sync.Mutex
}

type memValue struct {
	data      string
	expiresAt time.Time // zero = no expiry
}

// NewMemoryStore initializes a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:  make(map[string]*model.Task),
		sets:   make(map[string]map[string]bool),
		values: make(map[string]memValue),
		lists:  make(map[string][]string),
		subs:   make(map[string][]chan string),
	}
}

func (s *MemoryStore) Close() error { return nil }

// --- Task Records ---

func (s *MemoryStore) SaveTask(ctx context.Context, t *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	taskCopy := *t
	s.tasks[t.ID] = &taskCopy
	return nil
}

func (s *MemoryStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	taskCopy := *t
	return &taskCopy, nil
}

func (s *MemoryStore) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

// --- Index Sets ---

func (s *MemoryStore) AddToSet(ctx context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]bool)
		s.sets[key] = set
	}
	for _, m := range members {
		set[m] = true
	}
	return nil
}

func (s *MemoryStore) RemoveFromSet(ctx context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(set, m)
	}
	return nil
}

func (s *MemoryStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.sets[key]
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	return members, nil
}

// --- Plain Values ---

func (s *MemoryStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := memValue{data: value}
	if ttl > 0 {
		v.expiresAt = time.Now().Add(ttl)
	}
	s.values[key] = v
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return "", nil
	}
	if !v.expiresAt.IsZero() && time.Now().After(v.expiresAt) {
		delete(s.values, key)
		return "", nil
	}
	return v.data, nil
}

// --- Time-Ordered Records ---

func (s *MemoryStore) PushRecord(ctx context.Context, key string, value string, max int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append([]string{value}, s.lists[key]...)
	if max > 0 && int64(len(list)) > max {
		list = list[:max]
	}
	s.lists[key] = list
	return nil
}

func (s *MemoryStore) RecentRecords(ctx context.Context, key string, count int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.lists[key]
	if count > 0 && int64(len(list)) > count {
		list = list[:count]
	}
	out := make([]string, len(list))
	copy(out, list)
	return out, nil
}

// --- Pub/Sub ---

func (s *MemoryStore) Publish(ctx context.Context, channel string, payload string) error {
	s.subLock.Lock()
	defer s.subLock.Unlock()
	for _, ch := range s.subs[channel] {
		select {
		case ch <- payload:
		default:
			// Slow subscriber: drop rather than block the publisher
		}
	}
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, channel string) (<-chan string, error) {
	ch := make(chan string, 16)
	s.subLock.Lock()
	s.subs[channel] = append(s.subs[channel], ch)
	s.subLock.Unlock()

	go func() {
		<-ctx.Done()
		s.subLock.Lock()
		defer s.subLock.Unlock()
		remaining := s.subs[channel][:0]
		for _, sub := range s.subs[channel] {
			if sub != ch {
				remaining = append(remaining, sub)
			}
		}
		s.subs[channel] = remaining
		close(ch)
	}()
	return ch, nil
}
