package bucket

import (
	"context"
	"sync"
	"time"

	"corebank/internal/ratelimit/models"
)

// InMemoryBucketStore counts requests per key in fixed windows. Buckets from
// past windows are dropped when the key is next touched or by Sweep.
type InMemoryBucketStore struct {
	mu      sync.Mutex
	buckets map[string]*window
	now     func() time.Time
}

type window struct {
	start time.Time
	count int
}

func NewInMemoryBucketStore() *InMemoryBucketStore {
	return &InMemoryBucketStore{
		buckets: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow counts one request against key and reports whether it fits in limit.
func (s *InMemoryBucketStore) Allow(_ context.Context, key string, limit int, size time.Duration) (*models.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	start := models.WindowStart(now, size)
	w := s.buckets[key]
	if w == nil || !w.start.Equal(start) {
		w = &window{start: start}
		s.buckets[key] = w
	}
	w.count++
	return models.NewResult(w.count, limit, start, size, now), nil
}

// Sweep drops buckets whose window ended before now.
func (s *InMemoryBucketStore) Sweep(size time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := models.WindowStart(s.now(), size)
	dropped := 0
	for key, w := range s.buckets {
		if w.start.Before(current) {
			delete(s.buckets, key)
			dropped++
		}
	}
	return dropped
}
