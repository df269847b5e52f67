package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrInFlight is returned by Begin when another request holds the key.
var ErrInFlight = errors.New("idempotent request in flight")

// Record is a completed response kept for replay.
type Record struct {
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

func (r *Record) completed() bool { return r.Status != 0 }

// Store reserves keys and keeps completed responses.
type Store interface {
	// Begin reserves key for the caller. It returns the stored record when the
	// key already completed, or ErrInFlight while another request holds it.
	Begin(ctx context.Context, key, fingerprint string, ttl time.Duration) (*Record, error)
	Complete(ctx context.Context, key string, rec Record, ttl time.Duration) error
	Abort(ctx context.Context, key string) error
}

type memoryEntry struct {
	rec       Record
	expiresAt time.Time
}

type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Begin(_ context.Context, key, fingerprint string, ttl time.Duration) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		if !e.rec.completed() {
			return nil, ErrInFlight
		}
		rec := e.rec
		return &rec, nil
	}
	s.entries[key] = memoryEntry{rec: Record{Fingerprint: fingerprint}, expiresAt: now.Add(ttl)}
	return nil, nil
}

func (s *MemoryStore) Complete(_ context.Context, key string, rec Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{rec: rec, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Abort(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Sweep drops expired keys and reports how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	dropped := 0
	for key, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, key)
			dropped++
		}
	}
	return dropped
}
