// Package idempotency caches responses to mutating kernel requests so a
// retried X-Idempotency-Key replays the original outcome instead of
// re-running the operation.
package idempotency

import (
	"sync"
	"time"
)

// DefaultTTL bounds how long a replay window stays open.
const DefaultTTL = time.Hour

// Response is the captured HTTP outcome to replay.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    map[string][]string
}

type entry struct {
	resp      Response
	expiresAt time.Time
}

// Store is an in-memory replay cache keyed by idempotency key. Expired
// entries are dropped lazily on lookup.
type Store struct {
	cache sync.Map
	ttl   time.Duration
	now   func() time.Time
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{ttl: ttl, now: time.Now}
}

// NewStoreWithClock pins the clock for deterministic tests.
func NewStoreWithClock(ttl time.Duration, now func() time.Time) *Store {
	s := NewStore(ttl)
	s.now = now
	return s
}

// Get returns the cached response for the key, if still inside the
// replay window.
func (s *Store) Get(key string) (Response, bool) {
	val, ok := s.cache.Load(key)
	if !ok {
		return Response{}, false
	}
	e := val.(entry)
	if s.now().After(e.expiresAt) {
		s.cache.Delete(key)
		return Response{}, false
	}
	return e.resp, true
}

// Set records the response for later replays of the same key.
func (s *Store) Set(key string, resp Response) {
	s.cache.Store(key, entry{
		resp:      resp,
		expiresAt: s.now().Add(s.ttl),
	})
}
